package qrwc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/g960059/qsyspanel/internal/logging"
)

// DefaultPath is the core's websocket control endpoint.
const DefaultPath = "/qrc-public-api/v0"

type Options struct {
	PollingInterval time.Duration
	RequestTimeout  time.Duration
	WriteTimeout    time.Duration
	KeepAlive       time.Duration
	// Components limits negotiation to these names; empty means all.
	Components []string
	Dialer     *websocket.Dialer
	Logger     *log.Entry
}

func (o Options) withDefaults() Options {
	if o.PollingInterval <= 0 {
		o.PollingInterval = 100 * time.Millisecond
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = 5 * time.Second
	}
	if o.WriteTimeout <= 0 {
		o.WriteTimeout = 5 * time.Second
	}
	if o.Dialer == nil {
		o.Dialer = websocket.DefaultDialer
	}
	if o.Logger == nil {
		o.Logger = logging.Discard()
	}
	return o
}

func (o Options) wants(name string) bool {
	if len(o.Components) == 0 {
		return true
	}
	for _, c := range o.Components {
		if c == name {
			return true
		}
	}
	return false
}

// Endpoint builds the websocket URL for a core host.
func Endpoint(host string) string {
	host = strings.TrimSpace(host)
	host = strings.TrimPrefix(host, "ws://")
	host = strings.TrimSuffix(host, "/")
	return "ws://" + host + DefaultPath
}

// Client is a negotiated session with one core.
type Client struct {
	conn    *websocket.Conn
	opts    Options
	log     *log.Entry
	groupID string

	writeMu sync.Mutex
	nextID  atomic.Int64

	mu             sync.Mutex
	pending        map[int64]chan message
	components     map[string]*component
	onDisconnected []func()
	onError        []func(error)
	closed         bool
	disconnected   bool

	done chan struct{}
}

var _ Session = (*Client)(nil)

// Dial connects to endpoint, discovers components and their controls, and
// registers every control in an auto-polled change group.
func Dial(ctx context.Context, endpoint string, opts Options) (*Client, error) {
	opts = opts.withDefaults()
	conn, _, err := opts.Dialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", endpoint, err)
	}
	c := &Client{
		conn:       conn,
		opts:       opts,
		log:        opts.Logger,
		groupID:    uuid.NewString(),
		pending:    map[int64]chan message{},
		components: map[string]*component{},
		done:       make(chan struct{}),
	}
	go c.readLoop()

	if err := c.negotiate(ctx); err != nil {
		_ = c.Close()
		return nil, err
	}
	if opts.KeepAlive > 0 {
		go c.keepAliveLoop(opts.KeepAlive)
	}
	return c, nil
}

func (c *Client) negotiate(ctx context.Context) error {
	var comps []componentWire
	if err := c.call(ctx, methodGetComponents, nil, &comps); err != nil {
		return fmt.Errorf("list components: %w", err)
	}
	for _, info := range comps {
		if !c.opts.wants(info.Name) {
			continue
		}
		var res getControlsResult
		if err := c.call(ctx, methodGetControls, getControlsParams{Name: info.Name}, &res); err != nil {
			return fmt.Errorf("get controls %s: %w", info.Name, err)
		}
		comp := newComponent(c, info.Name, res.Controls)
		c.mu.Lock()
		c.components[info.Name] = comp
		c.mu.Unlock()
		if len(res.Controls) == 0 {
			continue
		}
		names := make([]controlName, 0, len(res.Controls))
		for _, ctl := range res.Controls {
			names = append(names, controlName{Name: ctl.Name})
		}
		params := addControlsParams{
			ID:        c.groupID,
			Component: changeGroupComponent{Name: info.Name, Controls: names},
		}
		if err := c.call(ctx, methodAddControls, params, nil); err != nil {
			return fmt.Errorf("watch controls %s: %w", info.Name, err)
		}
	}
	rate := autoPollParams{ID: c.groupID, Rate: c.opts.PollingInterval.Seconds()}
	if err := c.call(ctx, methodAutoPoll, rate, nil); err != nil {
		return fmt.Errorf("start auto poll: %w", err)
	}
	c.log.WithField("components", len(c.components)).Debug("qrwc session negotiated")
	return nil
}

func (c *Client) Component(name string) (ComponentHandle, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	comp, ok := c.components[name]
	if !ok {
		return nil, false
	}
	return comp, true
}

func (c *Client) ComponentNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.components))
	for name := range c.components {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (c *Client) OnDisconnected(fn func()) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	if c.disconnected && !c.closed {
		c.mu.Unlock()
		fn()
		return
	}
	c.onDisconnected = append(c.onDisconnected, fn)
	c.mu.Unlock()
}

func (c *Client) OnError(fn func(error)) {
	if fn == nil {
		return
	}
	c.mu.Lock()
	c.onError = append(c.onError, fn)
	c.mu.Unlock()
}

// Close ends the session without firing disconnect observers. Safe to call twice.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	deadline := time.Now().Add(time.Second)
	_ = c.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
	_ = c.conn.Close()
	return nil
}

// Done is closed once the read loop has exited.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

func (c *Client) call(ctx context.Context, method string, params any, out any) error {
	id := c.nextID.Add(1)
	ch := make(chan message, 1)
	c.mu.Lock()
	if c.closed || c.disconnected {
		c.mu.Unlock()
		return ErrClosed
	}
	c.pending[id] = ch
	c.mu.Unlock()
	defer func() {
		c.mu.Lock()
		delete(c.pending, id)
		c.mu.Unlock()
	}()

	if err := c.send(request{JSONRPC: jsonRPCVersion, ID: id, Method: method, Params: params}); err != nil {
		return fmt.Errorf("send %s: %w", method, err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.opts.RequestTimeout)
	defer cancel()
	select {
	case <-ctx.Done():
		return fmt.Errorf("%s: %w", method, ctx.Err())
	case <-c.done:
		return ErrClosed
	case msg := <-ch:
		if msg.Error != nil {
			return msg.Error
		}
		if out != nil && len(msg.Result) > 0 {
			if err := json.Unmarshal(msg.Result, out); err != nil {
				return fmt.Errorf("decode %s result: %w", method, err)
			}
		}
		return nil
	}
}

func (c *Client) send(req request) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteTimeout)); err != nil {
		return err
	}
	return c.conn.WriteJSON(req)
}

func (c *Client) readLoop() {
	defer c.finish()
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if !c.isClosed() && websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.WithError(err).Debug("qrwc read loop ended")
			}
			return
		}
		c.dispatch(data)
	}
}

func (c *Client) dispatch(data []byte) {
	var msg message
	if err := json.Unmarshal(data, &msg); err != nil {
		c.emitError(fmt.Errorf("decode frame: %w", err))
		return
	}
	if msg.ID != nil && msg.Method == "" {
		c.mu.Lock()
		ch, ok := c.pending[*msg.ID]
		c.mu.Unlock()
		if ok {
			select {
			case ch <- msg:
			default:
			}
		}
		return
	}
	if msg.Error != nil {
		c.emitError(msg.Error)
		return
	}
	switch msg.Method {
	case methodChangeGroupPoll:
		var params pollParams
		if err := json.Unmarshal(msg.Params, &params); err != nil {
			c.emitError(fmt.Errorf("decode poll: %w", err))
			return
		}
		if params.ID != "" && params.ID != c.groupID {
			return
		}
		c.applyChanges(params.Changes)
	case methodEngineStatus:
	default:
		c.log.WithField("method", msg.Method).Debug("ignoring notification")
	}
}

func (c *Client) applyChanges(changes []changeWire) {
	for _, change := range changes {
		c.mu.Lock()
		comp := c.components[change.Component]
		c.mu.Unlock()
		if comp == nil {
			continue
		}
		comp.apply(change)
	}
}

func (c *Client) emitError(err error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	handlers := append(([]func(error))(nil), c.onError...)
	c.mu.Unlock()
	c.log.WithError(err).Warn("qrwc protocol error")
	for _, fn := range handlers {
		fn(err)
	}
}

func (c *Client) finish() {
	c.mu.Lock()
	c.disconnected = true
	local := c.closed
	handlers := append(([]func())(nil), c.onDisconnected...)
	c.onDisconnected = nil
	c.mu.Unlock()

	close(c.done)
	_ = c.conn.Close()
	if local {
		return
	}
	for _, fn := range handlers {
		fn()
	}
}

func (c *Client) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

func (c *Client) keepAliveLoop(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			err := c.call(context.Background(), methodNoOp, struct{}{}, nil)
			if err != nil && !errors.Is(err, ErrClosed) {
				c.emitError(fmt.Errorf("keep-alive: %w", err))
			}
		}
	}
}
