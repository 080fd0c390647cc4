package panel

import (
	"fmt"
	"math"

	"github.com/g960059/qsyspanel/internal/model"
	"github.com/g960059/qsyspanel/internal/qrwc"
)

// Button is one momentary PTZ direction control.
type Button string

const (
	PanLeft          Button = "pan.left"
	PanRight         Button = "pan.right"
	TiltUp           Button = "tilt.up"
	TiltDown         Button = "tilt.down"
	PanLeftTiltUp    Button = "pan.left.tilt.up"
	PanLeftTiltDown  Button = "pan.left.tilt.down"
	PanRightTiltUp   Button = "pan.right.tilt.up"
	PanRightTiltDown Button = "pan.right.tilt.down"
)

const (
	ptzDeadzone     = 0.1
	ptzToleranceDeg = 30.0
	ptzDominance    = 2.0

	panSpeedControl  = "panSpeed"
	tiltSpeedControl = "tiltSpeed"
)

// Vocabulary is every direction button, in release order.
var Vocabulary = []Button{
	PanLeft, PanRight, TiltUp, TiltDown,
	PanLeftTiltUp, PanLeftTiltDown, PanRightTiltUp, PanRightTiltDown,
}

var diagonalButtons = []Button{PanLeftTiltUp, PanLeftTiltDown, PanRightTiltUp, PanRightTiltDown}

var zoomCandidates = map[string][]string{
	"in":  {"zoom.in", "zoomIn", "zoom_plus", "zoom+"},
	"out": {"zoom.out", "zoomOut", "zoom_minus", "zoom-"},
}

// Desired picks the buttons to hold for a joystick vector. Positive tilt is up.
func Desired(pan, tilt float64, hasDiagonals bool) []Button {
	magnitude := math.Hypot(pan, tilt)
	if magnitude <= ptzDeadzone {
		return nil
	}
	angle := math.Atan2(tilt, pan) * 180 / math.Pi
	if angle < 0 {
		angle += 360
	}
	horizontal := angle <= ptzToleranceDeg || angle >= 360-ptzToleranceDeg ||
		(angle >= 180-ptzToleranceDeg && angle <= 180+ptzToleranceDeg)
	vertical := (angle >= 90-ptzToleranceDeg && angle <= 90+ptzToleranceDeg) ||
		(angle >= 270-ptzToleranceDeg && angle <= 270+ptzToleranceDeg)

	switch {
	case horizontal && math.Abs(pan) >= ptzDominance*math.Abs(tilt):
		return []Button{panButton(pan)}
	case vertical && math.Abs(tilt) >= ptzDominance*math.Abs(pan):
		return []Button{tiltButton(tilt)}
	case hasDiagonals:
		return []Button{diagonalButton(pan, tilt)}
	default:
		return []Button{panButton(pan), tiltButton(tilt)}
	}
}

func panButton(pan float64) Button {
	if pan < 0 {
		return PanLeft
	}
	return PanRight
}

func tiltButton(tilt float64) Button {
	if tilt < 0 {
		return TiltDown
	}
	return TiltUp
}

func diagonalButton(pan, tilt float64) Button {
	switch {
	case pan < 0 && tilt >= 0:
		return PanLeftTiltUp
	case pan < 0:
		return PanLeftTiltDown
	case tilt >= 0:
		return PanRightTiltUp
	default:
		return PanRightTiltDown
	}
}

// ButtonWrite is one press (1) or release (0) of a button.
type ButtonWrite struct {
	Button  Button `json:"button"`
	Pressed bool   `json:"pressed"`
}

// Reconcile releases every present button outside desired, then presses the
// desired ones that are present. Releases are emitted on every call.
func Reconcile(present, desired []Button) []ButtonWrite {
	has := make(map[Button]bool, len(present))
	for _, b := range present {
		has[b] = true
	}
	want := make(map[Button]bool, len(desired))
	for _, b := range desired {
		want[b] = true
	}
	out := make([]ButtonWrite, 0, len(Vocabulary))
	for _, b := range Vocabulary {
		if has[b] && !want[b] {
			out = append(out, ButtonWrite{Button: b})
		}
	}
	for _, b := range desired {
		if has[b] {
			out = append(out, ButtonWrite{Button: b, Pressed: true})
		}
	}
	return out
}

// ClampVector scales (x, y) back onto the unit circle when it lies outside.
func ClampVector(x, y float64) (float64, float64) {
	m := math.Hypot(x, y)
	if m <= 1 {
		return x, y
	}
	return x / m, y / m
}

type PTZSnapshot struct {
	Component    string   `json:"component"`
	Available    bool     `json:"available"`
	Pan          float64  `json:"pan"`
	Tilt         float64  `json:"tilt"`
	Pressed      []Button `json:"pressed"`
	HasDiagonals bool     `json:"has_diagonals"`
	HasSpeed     bool     `json:"has_speed"`
	Zoom         string   `json:"zoom,omitempty"`
}

type MoveResult struct {
	Desired []Button      `json:"desired"`
	Writes  []ButtonWrite `json:"writes"`
}

// PTZ drives the first configured camera-control component that is present.
type PTZ struct {
	base
	candidates []string
	present    []qrwc.ComponentHandle
	pressed    map[Button]bool
	pan, tilt  float64
	zoom       string
}

func NewPTZ(candidates []string, deps Deps) *PTZ {
	return &PTZ{
		base:       newBase("", deps),
		candidates: append([]string(nil), candidates...),
		pressed:    map[Button]bool{},
	}
}

func (p *PTZ) Bind(sess qrwc.Session) {
	p.mu.Lock()
	p.component = ""
	p.present = nil
	if sess != nil {
		for _, name := range p.candidates {
			comp, ok := sess.Component(name)
			if !ok {
				continue
			}
			if p.component == "" {
				p.component = name
			}
			p.present = append(p.present, comp)
		}
	}
	p.pressed = map[Button]bool{}
	p.bindLocked(sess, p.applyLocked)
	p.mu.Unlock()
	p.deps.Changed()
}

func (p *PTZ) Unbind() {
	p.mu.Lock()
	p.present = nil
	p.unbindLocked()
	p.mu.Unlock()
	p.deps.Changed()
}

func (p *PTZ) applyLocked(control string, st model.ControlState) {
	for _, b := range Vocabulary {
		if string(b) == control {
			p.pressed[b] = isOn(st)
			return
		}
	}
}

func (p *PTZ) presentButtonsLocked() []Button {
	out := make([]Button, 0, len(Vocabulary))
	for _, b := range Vocabulary {
		if p.hasControlLocked(string(b)) {
			out = append(out, b)
		}
	}
	return out
}

func (p *PTZ) hasDiagonalsLocked() bool {
	for _, b := range diagonalButtons {
		if p.hasControlLocked(string(b)) {
			return true
		}
	}
	return false
}

// Move applies a joystick vector in [-1,1]² and sends the button and speed writes.
func (p *PTZ) Move(pan, tilt float64) (MoveResult, error) {
	if math.IsNaN(pan) || math.IsNaN(tilt) || math.IsInf(pan, 0) || math.IsInf(tilt, 0) {
		return MoveResult{}, fmt.Errorf("%w: pan %v tilt %v", ErrOutOfRange, pan, tilt)
	}
	pan, tilt = ClampVector(pan, tilt)

	p.mu.Lock()
	desired := Desired(pan, tilt, p.hasDiagonalsLocked())
	writes := Reconcile(p.presentButtonsLocked(), desired)
	for _, w := range writes {
		p.pressed[w.Button] = w.Pressed
	}
	p.pan, p.tilt = pan, tilt
	comp := p.comp
	hasPanSpeed := p.hasControlLocked(panSpeedControl)
	hasTiltSpeed := p.hasControlLocked(tiltSpeedControl)
	p.mu.Unlock()

	for _, w := range writes {
		v := 0
		if w.Pressed {
			v = 1
		}
		p.submit(comp, string(w.Button), v)
	}
	if hasPanSpeed {
		p.submit(comp, panSpeedControl, int(math.Round(pan*100)))
	}
	if hasTiltSpeed {
		p.submit(comp, tiltSpeedControl, int(math.Round(tilt*100)))
	}
	p.deps.Changed()
	return MoveResult{Desired: desired, Writes: writes}, nil
}

// Stop releases every direction button.
func (p *PTZ) Stop() {
	_, _ = p.Move(0, 0)
}

// Zoom presses or releases the zoom button for direction "in" or "out". Zoom
// searches present components in reverse config order, so a trailing USB
// bridge wins over the camera-control component that moves use.
func (p *PTZ) Zoom(direction string, pressed bool) error {
	candidates, ok := zoomCandidates[direction]
	if !ok {
		return fmt.Errorf("%w: zoom direction %q", ErrUnknownParam, direction)
	}
	p.mu.Lock()
	var (
		target  qrwc.ComponentHandle
		control string
	)
	for i := len(p.present) - 1; i >= 0; i-- {
		if name := firstControl(p.present[i], candidates); name != "" {
			target, control = p.present[i], name
			break
		}
	}
	if pressed {
		p.zoom = direction
	} else if p.zoom == direction {
		p.zoom = ""
	}
	p.mu.Unlock()

	if target == nil {
		p.deps.Log.WithField("direction", direction).Debug("no zoom control present")
	} else {
		v := 0
		if pressed {
			v = 1
		}
		p.submit(target, control, v)
	}
	p.deps.Changed()
	return nil
}

func firstControl(comp qrwc.ComponentHandle, names []string) string {
	for _, name := range names {
		if _, ok := comp.Control(name); ok {
			return name
		}
	}
	return ""
}

func (p *PTZ) Snapshot() PTZSnapshot {
	p.mu.Lock()
	defer p.mu.Unlock()
	pressed := make([]Button, 0, len(Vocabulary))
	for _, b := range Vocabulary {
		if p.pressed[b] {
			pressed = append(pressed, b)
		}
	}
	return PTZSnapshot{
		Component:    p.component,
		Available:    p.comp != nil,
		Pan:          p.pan,
		Tilt:         p.tilt,
		Pressed:      pressed,
		HasDiagonals: p.hasDiagonalsLocked(),
		HasSpeed:     p.hasControlLocked(panSpeedControl) || p.hasControlLocked(tiltSpeedControl),
		Zoom:         p.zoom,
	}
}
