package appclient

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/g960059/qsyspanel/internal/api"
)

type Client struct {
	baseURL      string
	client       *http.Client
	unaryTimeout time.Duration
}

const (
	watchScannerInitialBuffer = 64 * 1024
	watchScannerMaxBuffer     = 10 * 1024 * 1024
	defaultUnaryTimeout       = 10 * time.Second
)

func New(socketPath string) *Client {
	transport := &http.Transport{
		DialContext: func(ctx context.Context, _, _ string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "unix", socketPath)
		},
	}
	return NewWithClient("http://unix", &http.Client{Transport: transport})
}

func NewWithClient(baseURL string, client *http.Client) *Client {
	if client == nil {
		client = &http.Client{}
	}
	return &Client{
		baseURL:      strings.TrimRight(baseURL, "/"),
		client:       client,
		unaryTimeout: defaultUnaryTimeout,
	}
}

func (c *Client) WithUnaryTimeout(timeout time.Duration) *Client {
	if c == nil {
		return nil
	}
	clone := *c
	clone.unaryTimeout = timeout
	return &clone
}

type WatchOptions struct {
	Cursor string
}

type WatchLoopOptions struct {
	Cursor          string
	RetryMinBackoff time.Duration
	RetryMaxBackoff time.Duration
	Once            bool
}

type JournalOptions struct {
	Component string
	Limit     int
}

type RequestError struct {
	StatusCode int
	Code       string
	Message    string
}

var ErrWatchPayloadInvalid = errors.New("watch payload invalid")

func (e *RequestError) Error() string {
	if e == nil {
		return ""
	}
	code := strings.TrimSpace(e.Code)
	message := strings.TrimSpace(e.Message)
	if code != "" && message != "" {
		return fmt.Sprintf("%s: %s", code, message)
	}
	if code != "" {
		if e.StatusCode > 0 {
			return fmt.Sprintf("http %d: %s", e.StatusCode, code)
		}
		return code
	}
	if message != "" {
		if e.StatusCode > 0 {
			return fmt.Sprintf("http %d: %s", e.StatusCode, message)
		}
		return message
	}
	if e.StatusCode > 0 {
		return fmt.Sprintf("http %d", e.StatusCode)
	}
	return "http error"
}

func (e *RequestError) Retryable() bool {
	if e == nil {
		return false
	}
	if e.StatusCode == http.StatusTooManyRequests || e.StatusCode == http.StatusRequestTimeout {
		return true
	}
	return e.StatusCode >= 500
}

// WatchOnce asks for a single snapshot line. With a current cursor the
// daemon holds the request until the panels change.
func (c *Client) WatchOnce(ctx context.Context, opts WatchOptions) ([]api.WatchLine, string, error) {
	query := url.Values{}
	query.Set("once", "1")
	if cursor := strings.TrimSpace(opts.Cursor); cursor != "" {
		query.Set("cursor", cursor)
	}
	body, err := c.request(ctx, http.MethodGet, "/v1/watch", query, nil, true)
	if err != nil {
		return nil, "", err
	}
	lines, nextCursor, err := decodeWatchLines(body)
	if err != nil {
		return nil, "", err
	}
	return lines, nextCursor, nil
}

func (c *Client) WatchLoop(ctx context.Context, opts WatchLoopOptions, onLine func(api.WatchLine) error) error {
	minBackoff := opts.RetryMinBackoff
	if minBackoff <= 0 {
		minBackoff = 250 * time.Millisecond
	}
	maxBackoff := opts.RetryMaxBackoff
	if maxBackoff <= 0 {
		maxBackoff = 4 * time.Second
	}
	if maxBackoff < minBackoff {
		maxBackoff = minBackoff
	}
	cursor := strings.TrimSpace(opts.Cursor)
	backoff := minBackoff

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		lines, nextCursor, err := c.WatchOnce(ctx, WatchOptions{Cursor: cursor})
		if err != nil {
			if opts.Once {
				return err
			}
			if errors.Is(err, ErrWatchPayloadInvalid) {
				return err
			}
			var reqErr *RequestError
			if errors.As(err, &reqErr) && !reqErr.Retryable() {
				return err
			}
			if waitErr := sleepWithContext(ctx, backoff); waitErr != nil {
				return waitErr
			}
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = minBackoff
		if nextCursor != "" {
			cursor = nextCursor
		}
		for _, line := range lines {
			if onLine == nil {
				continue
			}
			if err := onLine(line); err != nil {
				return err
			}
		}
		if opts.Once {
			return nil
		}
	}
}

func (c *Client) Health(ctx context.Context) (api.HealthResponse, error) {
	var resp api.HealthResponse
	err := c.getJSON(ctx, "/v1/health", nil, &resp, "health response")
	return resp, err
}

func (c *Client) Connection(ctx context.Context) (api.ConnectionResponse, error) {
	var resp api.ConnectionResponse
	err := c.getJSON(ctx, "/v1/connection", nil, &resp, "connection response")
	return resp, err
}

func (c *Client) Reconnect(ctx context.Context) (api.ConnectionResponse, error) {
	body, err := c.request(ctx, http.MethodPost, "/v1/connection/reconnect", nil, nil, false)
	if err != nil {
		return api.ConnectionResponse{}, err
	}
	var resp api.ConnectionResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return api.ConnectionResponse{}, fmt.Errorf("decode connection response: %w", err)
	}
	return resp, nil
}

func (c *Client) Panels(ctx context.Context) (api.PanelsResponse, error) {
	var resp api.PanelsResponse
	err := c.getJSON(ctx, "/v1/panels", nil, &resp, "panels response")
	return resp, err
}

func (c *Client) Panel(ctx context.Context, name string) (api.PanelResponse, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return api.PanelResponse{}, fmt.Errorf("panel name is required")
	}
	var resp api.PanelResponse
	err := c.getJSON(ctx, "/v1/panels/"+url.PathEscape(name), nil, &resp, "panel response")
	return resp, err
}

// Post sends a write to a panel route such as "eq/bands/2" or "gain/mute".
func (c *Client) Post(ctx context.Context, route string, req any) (api.PanelResponse, error) {
	route = strings.Trim(strings.TrimSpace(route), "/")
	if route == "" {
		return api.PanelResponse{}, fmt.Errorf("panel route is required")
	}
	body, err := c.request(ctx, http.MethodPost, "/v1/panels/"+route, nil, req, false)
	if err != nil {
		return api.PanelResponse{}, err
	}
	var resp api.PanelResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return api.PanelResponse{}, fmt.Errorf("decode panel response: %w", err)
	}
	return resp, nil
}

func (c *Client) SetEQBand(ctx context.Context, band int, req api.BandWriteRequest) (api.PanelResponse, error) {
	return c.Post(ctx, "eq/bands/"+strconv.Itoa(band), req)
}

// SetBypass toggles when bypass is nil. panel is eq, compressor or limiter.
func (c *Client) SetBypass(ctx context.Context, panel string, bypass *bool) (api.PanelResponse, error) {
	return c.Post(ctx, panel+"/bypass", api.BypassRequest{Bypass: bypass})
}

func (c *Client) SetParam(ctx context.Context, panel string, req api.ParamWriteRequest) (api.PanelResponse, error) {
	return c.Post(ctx, panel+"/params", req)
}

func (c *Client) SetDelay(ctx context.Context, req api.ValueRequest) (api.PanelResponse, error) {
	return c.Post(ctx, "delay", req)
}

func (c *Client) SetGain(ctx context.Context, req api.ValueRequest) (api.PanelResponse, error) {
	return c.Post(ctx, "gain", req)
}

func (c *Client) SetMute(ctx context.Context, muted *bool) (api.PanelResponse, error) {
	return c.Post(ctx, "gain/mute", api.MuteRequest{Muted: muted})
}

func (c *Client) SelectCamera(ctx context.Context, camera int) (api.PanelResponse, error) {
	return c.Post(ctx, "camera/select", api.CameraSelectRequest{Camera: camera})
}

func (c *Client) MovePTZ(ctx context.Context, pan, tilt float64) (api.PanelResponse, error) {
	return c.Post(ctx, "ptz/move", api.PTZMoveRequest{Pan: pan, Tilt: tilt})
}

func (c *Client) StopPTZ(ctx context.Context) (api.PanelResponse, error) {
	return c.Post(ctx, "ptz/stop", nil)
}

func (c *Client) ZoomPTZ(ctx context.Context, direction string, pressed bool) (api.PanelResponse, error) {
	return c.Post(ctx, "ptz/zoom", api.PTZZoomRequest{Direction: direction, Pressed: pressed})
}

func (c *Client) AssignVideo(ctx context.Context, display, source int) (api.PanelResponse, error) {
	return c.Post(ctx, "video/assign", api.VideoAssignRequest{Display: display, Source: source})
}

func (c *Client) ResetVideo(ctx context.Context, display int) (api.PanelResponse, error) {
	return c.Post(ctx, "video/reset", api.VideoResetRequest{Display: display})
}

// Preview returns the last JPEG frame the camera preview published.
func (c *Client) Preview(ctx context.Context) ([]byte, error) {
	return c.request(ctx, http.MethodGet, "/v1/camera/preview", nil, nil, false)
}

func (c *Client) JournalWrites(ctx context.Context, opts JournalOptions) (api.WritesEnvelope, error) {
	query := url.Values{}
	if component := strings.TrimSpace(opts.Component); component != "" {
		query.Set("component", component)
	}
	if opts.Limit > 0 {
		query.Set("limit", strconv.Itoa(opts.Limit))
	}
	var env api.WritesEnvelope
	err := c.getJSON(ctx, "/v1/journal/writes", query, &env, "writes envelope")
	return env, err
}

func (c *Client) JournalConnection(ctx context.Context, limit int) (api.ConnectionEventsEnvelope, error) {
	query := url.Values{}
	if limit > 0 {
		query.Set("limit", strconv.Itoa(limit))
	}
	var env api.ConnectionEventsEnvelope
	err := c.getJSON(ctx, "/v1/journal/connection", query, &env, "connection events envelope")
	return env, err
}

func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any, what string) error {
	body, err := c.request(ctx, http.MethodGet, path, query, nil, false)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", what, err)
	}
	return nil
}

func (c *Client) request(ctx context.Context, method, path string, query url.Values, body any, longLived bool) ([]byte, error) {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	reqCtx := ctx
	if !longLived && c.unaryTimeout > 0 {
		if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > c.unaryTimeout {
			var cancel context.CancelFunc
			reqCtx, cancel = context.WithTimeout(ctx, c.unaryTimeout)
			defer cancel()
		}
	}
	var reqBody io.Reader
	if body != nil {
		buf := &bytes.Buffer{}
		if err := json.NewEncoder(buf).Encode(body); err != nil {
			return nil, fmt.Errorf("encode request body: %w", err)
		}
		reqBody = buf
	}
	req, err := http.NewRequestWithContext(reqCtx, method, u, reqBody)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close() //nolint:errcheck

	payload, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		var er api.ErrorResponse
		if err := json.Unmarshal(payload, &er); err == nil && er.Error.Code != "" {
			return nil, &RequestError{
				StatusCode: resp.StatusCode,
				Code:       er.Error.Code,
				Message:    er.Error.Message,
			}
		}
		return nil, &RequestError{
			StatusCode: resp.StatusCode,
			Code:       fmt.Sprintf("HTTP_%d", resp.StatusCode),
			Message:    strings.TrimSpace(string(payload)),
		}
	}
	return payload, nil
}

func decodeWatchLines(body []byte) ([]api.WatchLine, string, error) {
	scanner := bufio.NewScanner(bytes.NewReader(body))
	scanner.Buffer(make([]byte, watchScannerInitialBuffer), watchScannerMaxBuffer)
	lines := make([]api.WatchLine, 0)
	nextCursor := ""
	for scanner.Scan() {
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var line api.WatchLine
		if err := json.Unmarshal([]byte(raw), &line); err != nil {
			return nil, "", fmt.Errorf("%w: decode watch line: %v", ErrWatchPayloadInvalid, err)
		}
		if strings.TrimSpace(line.Cursor) != "" {
			nextCursor = strings.TrimSpace(line.Cursor)
		}
		lines = append(lines, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, "", fmt.Errorf("%w: scan watch lines: %v", ErrWatchPayloadInvalid, err)
	}
	return lines, nextCursor, nil
}

func sleepWithContext(ctx context.Context, wait time.Duration) error {
	if wait <= 0 {
		return nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
