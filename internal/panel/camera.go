package panel

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/g960059/qsyspanel/internal/model"
	"github.com/g960059/qsyspanel/internal/qrwc"
)

const (
	cameraSelectControl = "select.1"
	previewControl      = "jpeg"
)

type CameraSnapshot struct {
	Component string `json:"component"`
	Available bool   `json:"available"`
	Count     int    `json:"count"`
	// Active is the 0-based camera id, or -1 when none is routed.
	Active int `json:"active"`
}

// CameraRouter mirrors which camera feeds the router output. The core
// reports 1-based inputs.
type CameraRouter struct {
	base
	fallbackCount int
	count         int
	active        int
}

func NewCameraRouter(component string, count int, deps Deps) *CameraRouter {
	return &CameraRouter{
		base:          newBase(component, deps),
		fallbackCount: count,
		count:         count,
		active:        -1,
	}
}

func (c *CameraRouter) Bind(sess qrwc.Session) {
	c.mu.Lock()
	comp := c.bindLocked(sess, c.applyLocked)
	c.count = c.fallbackCount
	if comp != nil {
		if info, ok := comp.Control(cameraSelectControl); ok && info.HasRange() && info.ValueMax >= 1 {
			c.count = int(math.Round(info.ValueMax))
		}
	}
	c.mu.Unlock()
	c.deps.Changed()
}

func (c *CameraRouter) applyLocked(control string, st model.ControlState) {
	if control == cameraSelectControl {
		c.active = int(math.Round(st.Value)) - 1
	}
}

// Select routes the 0-based camera id.
func (c *CameraRouter) Select(cameraID int) error {
	c.mu.Lock()
	if cameraID < 0 || (c.count > 0 && cameraID >= c.count) {
		count := c.count
		c.mu.Unlock()
		return fmt.Errorf("%w: camera %d of %d", ErrOutOfRange, cameraID, count)
	}
	c.active = cameraID
	comp := c.comp
	c.mu.Unlock()
	c.submit(comp, cameraSelectControl, cameraID+1)
	c.deps.Changed()
	return nil
}

func (c *CameraRouter) Snapshot() CameraSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return CameraSnapshot{
		Component: c.component,
		Available: c.comp != nil,
		Count:     c.count,
		Active:    c.active,
	}
}

type PreviewSnapshot struct {
	Component string     `json:"component"`
	Available bool       `json:"available"`
	HasFrame  bool       `json:"has_frame"`
	Bytes     int        `json:"bytes"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// Preview mirrors the latest JPEG frame a bridge publishes on its jpeg control.
type Preview struct {
	base
	frame     []byte
	updatedAt time.Time
	now       func() time.Time
}

func NewPreview(component string, deps Deps) *Preview {
	return &Preview{
		base: newBase(component, deps),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

func (p *Preview) Bind(sess qrwc.Session) {
	p.mu.Lock()
	p.bindLocked(sess, p.applyLocked)
	p.mu.Unlock()
	p.deps.Changed()
}

func (p *Preview) applyLocked(control string, st model.ControlState) {
	if control != previewControl || strings.TrimSpace(st.String) == "" {
		return
	}
	frame, err := DecodeFrame(st.String)
	if err != nil {
		p.deps.Log.WithError(err).WithField("component", p.component).Debug("ignoring preview frame")
		return
	}
	p.frame = frame
	p.updatedAt = p.now()
}

// Frame returns a copy of the latest frame.
func (p *Preview) Frame() ([]byte, time.Time, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.frame) == 0 {
		return nil, time.Time{}, false
	}
	return append([]byte(nil), p.frame...), p.updatedAt, true
}

func (p *Preview) Snapshot() PreviewSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	snap := PreviewSnapshot{
		Component: p.component,
		Available: p.comp != nil,
		HasFrame:  len(p.frame) > 0,
		Bytes:     len(p.frame),
	}
	if snap.HasFrame {
		t := p.updatedAt
		snap.UpdatedAt = &t
	}
	return snap
}

// DecodeFrame accepts raw base64, a data URL, or a JSON object carrying the
// image under IconData.
func DecodeFrame(raw string) ([]byte, error) {
	s := strings.TrimSpace(raw)
	if strings.HasPrefix(s, "{") {
		var payload struct {
			IconData string `json:"IconData"`
		}
		if err := json.Unmarshal([]byte(s), &payload); err != nil {
			return nil, fmt.Errorf("decode frame json: %w", err)
		}
		s = strings.TrimSpace(payload.IconData)
	}
	if i := strings.Index(s, ";base64,"); strings.HasPrefix(s, "data:") && i >= 0 {
		s = s[i+len(";base64,"):]
	}
	if s == "" {
		return nil, fmt.Errorf("empty frame")
	}
	frame, err := base64.StdEncoding.DecodeString(s)
	if err != nil {
		frame, err = base64.RawStdEncoding.DecodeString(s)
	}
	if err != nil {
		return nil, fmt.Errorf("decode frame base64: %w", err)
	}
	return frame, nil
}
