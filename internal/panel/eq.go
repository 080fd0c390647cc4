package panel

import (
	"fmt"

	"github.com/g960059/qsyspanel/internal/curve"
	"github.com/g960059/qsyspanel/internal/model"
	"github.com/g960059/qsyspanel/internal/qrwc"
)

const defaultEQBands = 4

// BandField names one parameter of an EQ band.
type BandField string

const (
	FieldFrequency BandField = "frequency"
	FieldGain      BandField = "gain"
	FieldBandwidth BandField = "bandwidth"
)

func ParseBandField(s string) (BandField, error) {
	switch BandField(s) {
	case FieldFrequency, FieldGain, FieldBandwidth:
		return BandField(s), nil
	default:
		return "", fmt.Errorf("%w: band field %q", ErrUnknownParam, s)
	}
}

// Fader is the input range for the field.
func (f BandField) Fader() curve.Fader {
	switch f {
	case FieldFrequency:
		return curve.EQFrequencyFader
	case FieldGain:
		return curve.EQGainFader
	default:
		return curve.EQBandwidthFader
	}
}

type BandView struct {
	Index     int     `json:"index"`
	Frequency float64 `json:"frequency"`
	Gain      float64 `json:"gain"`
	Bandwidth float64 `json:"bandwidth"`
	Q         float64 `json:"q"`
	Label     string  `json:"label"`
}

type EQSnapshot struct {
	Component string        `json:"component"`
	Available bool          `json:"available"`
	Bypass    bool          `json:"bypass"`
	Bands     []BandView    `json:"bands"`
	Response  []curve.Point `json:"response"`
}

// EQ mirrors a parametric equalizer: bypass plus frequency/gain/bandwidth per band.
type EQ struct {
	base
	bands  []curve.Band
	bypass bool
}

func NewEQ(component string, deps Deps) *EQ {
	eq := &EQ{base: newBase(component, deps)}
	eq.bands = resizeBands(nil, defaultEQBands)
	return eq
}

// Bind discovers the band count from frequency.<N> controls and mirrors the component.
func (e *EQ) Bind(sess qrwc.Session) {
	e.mu.Lock()
	if sess != nil {
		if comp, ok := sess.Component(e.component); ok {
			if n := discoverBandCount(comp.ControlNames()); n > 0 {
				e.bands = resizeBands(e.bands, n)
			}
		}
	}
	e.bindLocked(sess, e.applyLocked)
	e.mu.Unlock()
	e.deps.Changed()
}

// discoverBandCount is the highest N among frequency.<N> names.
func discoverBandCount(names []string) int {
	highest := 0
	for _, name := range names {
		ref, err := ParseControlName(name)
		if err != nil || ref.Kind != KindBandParam || ref.Param != string(FieldFrequency) {
			continue
		}
		if ref.Index > highest {
			highest = ref.Index
		}
	}
	return highest
}

// resizeBands keeps existing bands by index and fills new slots with defaults.
func resizeBands(bands []curve.Band, n int) []curve.Band {
	out := make([]curve.Band, n)
	for i := range out {
		if i < len(bands) {
			out[i] = bands[i]
		} else {
			out[i] = curve.DefaultBand()
		}
	}
	return out
}

func (e *EQ) applyLocked(control string, st model.ControlState) {
	ref, err := ParseControlName(control)
	if err != nil {
		e.deps.Log.WithError(err).WithField("component", e.component).Debug("ignoring control")
		return
	}
	switch ref.Kind {
	case KindBypass:
		e.bypass = isOn(st)
	case KindBandParam:
		if ref.Index > len(e.bands) {
			return
		}
		band := &e.bands[ref.Index-1]
		switch BandField(ref.Param) {
		case FieldFrequency:
			band.Frequency = st.Value
		case FieldGain:
			band.Gain = st.Value
		case FieldBandwidth:
			band.Bandwidth = st.Value
		}
	}
}

// SetBand updates one field of a 1-based band and writes it to the core.
func (e *EQ) SetBand(band int, field BandField, value float64) error {
	if _, err := ParseBandField(string(field)); err != nil {
		return err
	}
	e.mu.Lock()
	if band < 1 || band > len(e.bands) {
		n := len(e.bands)
		e.mu.Unlock()
		return fmt.Errorf("%w: band %d of %d", ErrOutOfRange, band, n)
	}
	value = field.Fader().Normalize(value)
	b := &e.bands[band-1]
	switch field {
	case FieldFrequency:
		b.Frequency = value
	case FieldGain:
		b.Gain = value
	case FieldBandwidth:
		b.Bandwidth = value
	}
	comp := e.comp
	e.mu.Unlock()

	e.submit(comp, ControlRef{Kind: KindBandParam, Param: string(field), Index: band}.Name(), value)
	e.deps.Changed()
	return nil
}

func (e *EQ) SetBypass(on bool) {
	e.mu.Lock()
	e.bypass = on
	comp := e.comp
	e.mu.Unlock()
	e.submit(comp, "bypass", on)
	e.deps.Changed()
}

// ToggleBypass flips bypass and returns the new value.
func (e *EQ) ToggleBypass() bool {
	e.mu.Lock()
	e.bypass = !e.bypass
	on := e.bypass
	comp := e.comp
	e.mu.Unlock()
	e.submit(comp, "bypass", on)
	e.deps.Changed()
	return on
}

func (e *EQ) Bands() []curve.Band {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]curve.Band(nil), e.bands...)
}

func (e *EQ) Snapshot() EQSnapshot {
	e.mu.Lock()
	bands := append([]curve.Band(nil), e.bands...)
	snap := EQSnapshot{
		Component: e.component,
		Available: e.comp != nil,
		Bypass:    e.bypass,
	}
	e.mu.Unlock()

	snap.Bands = make([]BandView, len(bands))
	for i, b := range bands {
		snap.Bands[i] = BandView{
			Index:     i + 1,
			Frequency: b.Frequency,
			Gain:      b.Gain,
			Bandwidth: b.Bandwidth,
			Q:         b.Q(),
			Label:     curve.FormatFrequency(b.Frequency),
		}
	}
	snap.Response = curve.EQResponse(bands, snap.Bypass)
	return snap
}
