package panel

import (
	"github.com/g960059/qsyspanel/internal/curve"
	"github.com/g960059/qsyspanel/internal/model"
	"github.com/g960059/qsyspanel/internal/qrwc"
)

const delayControl = "delay.1"

type DelaySnapshot struct {
	Component string  `json:"component"`
	Available bool    `json:"available"`
	Seconds   float64 `json:"seconds"`
	Millis    int     `json:"millis"`
}

// Delay mirrors a single delay time in seconds.
type Delay struct {
	base
	seconds float64
}

func NewDelay(component string, deps Deps) *Delay {
	return &Delay{base: newBase(component, deps)}
}

func (d *Delay) Bind(sess qrwc.Session) {
	d.mu.Lock()
	d.bindLocked(sess, d.applyLocked)
	d.mu.Unlock()
	d.deps.Changed()
}

func (d *Delay) applyLocked(control string, st model.ControlState) {
	if control == delayControl {
		d.seconds = st.Value
	}
}

func (d *Delay) Set(seconds float64) float64 {
	seconds = curve.DelayFader.Normalize(seconds)
	d.mu.Lock()
	d.seconds = seconds
	comp := d.comp
	d.mu.Unlock()
	d.submit(comp, delayControl, seconds)
	d.deps.Changed()
	return seconds
}

func (d *Delay) Snapshot() DelaySnapshot {
	d.mu.Lock()
	defer d.mu.Unlock()
	return DelaySnapshot{
		Component: d.component,
		Available: d.comp != nil,
		Seconds:   d.seconds,
		Millis:    int(d.seconds*1000 + 0.5),
	}
}

type GainSnapshot struct {
	Component string  `json:"component"`
	Available bool    `json:"available"`
	Gain      float64 `json:"gain"`
	Muted     bool    `json:"muted"`
}

// Gain mirrors a volume level in dB and its mute switch.
type Gain struct {
	base
	gain  float64
	muted bool
}

func NewGain(component string, deps Deps) *Gain {
	return &Gain{base: newBase(component, deps)}
}

func (g *Gain) Bind(sess qrwc.Session) {
	g.mu.Lock()
	g.bindLocked(sess, g.applyLocked)
	g.mu.Unlock()
	g.deps.Changed()
}

func (g *Gain) applyLocked(control string, st model.ControlState) {
	switch control {
	case "gain":
		g.gain = st.Value
	case "mute":
		g.muted = isOn(st)
	}
}

func (g *Gain) SetGain(db float64) float64 {
	db = curve.GainFader.Normalize(db)
	g.mu.Lock()
	g.gain = db
	comp := g.comp
	g.mu.Unlock()
	g.submit(comp, "gain", db)
	g.deps.Changed()
	return db
}

func (g *Gain) SetMute(muted bool) {
	g.mu.Lock()
	g.muted = muted
	comp := g.comp
	g.mu.Unlock()
	g.submit(comp, "mute", muted)
	g.deps.Changed()
}

func (g *Gain) ToggleMute() bool {
	g.mu.Lock()
	g.muted = !g.muted
	muted := g.muted
	comp := g.comp
	g.mu.Unlock()
	g.submit(comp, "mute", muted)
	g.deps.Changed()
	return muted
}

func (g *Gain) Snapshot() GainSnapshot {
	g.mu.Lock()
	defer g.mu.Unlock()
	return GainSnapshot{
		Component: g.component,
		Available: g.comp != nil,
		Gain:      g.gain,
		Muted:     g.muted,
	}
}
