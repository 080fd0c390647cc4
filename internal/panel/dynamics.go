package panel

import (
	"fmt"

	"github.com/g960059/qsyspanel/internal/curve"
	"github.com/g960059/qsyspanel/internal/model"
	"github.com/g960059/qsyspanel/internal/qrwc"
)

// Param is one scalar parameter exposed by a dynamics panel.
type Param struct {
	Name    string
	Control string
	Fader   curve.Fader
	Default float64
}

var compressorParams = []Param{
	{Name: "threshold", Control: "threshold.level", Fader: curve.ThresholdFader, Default: -20},
	{Name: "ratio", Control: "ratio", Fader: curve.RatioFader, Default: 4},
	{Name: "depth", Control: "depth", Fader: curve.DepthFader, Default: 10},
	{Name: "knee", Control: "soft.knee", Fader: curve.KneeFader, Default: 0},
}

var limiterParams = []Param{
	{Name: "threshold", Control: "threshold.level", Fader: curve.ThresholdFader, Default: -20},
	{Name: "attack", Control: "attack", Fader: curve.AttackFader, Default: 0.01},
	{Name: "release", Control: "release", Fader: curve.ReleaseFader, Default: 0.1},
}

// scalars mirrors a fixed parameter table plus a bypass switch.
type scalars struct {
	base
	params []Param
	values map[string]float64
	bypass bool
}

func (s *scalars) init(component string, params []Param, deps Deps) {
	s.base = newBase(component, deps)
	s.params = params
	s.values = make(map[string]float64, len(params))
	for _, p := range params {
		s.values[p.Name] = p.Default
	}
}

func (s *scalars) Bind(sess qrwc.Session) {
	s.mu.Lock()
	s.bindLocked(sess, s.applyLocked)
	s.mu.Unlock()
	s.deps.Changed()
}

func (s *scalars) applyLocked(control string, st model.ControlState) {
	ref, err := ParseControlName(control)
	if err != nil {
		return
	}
	if ref.Kind == KindBypass {
		s.bypass = isOn(st)
		return
	}
	for _, p := range s.params {
		if p.Control == ref.Name() {
			s.values[p.Name] = st.Value
			return
		}
	}
}

// Lookup finds a parameter by its API name.
func (s *scalars) Lookup(name string) (Param, error) {
	for _, p := range s.params {
		if p.Name == name {
			return p, nil
		}
	}
	return Param{}, fmt.Errorf("%w: %q", ErrUnknownParam, name)
}

// Set clamps value to the parameter's range, stores it and writes it.
func (s *scalars) Set(name string, value float64) (float64, error) {
	p, err := s.Lookup(name)
	if err != nil {
		return 0, err
	}
	value = p.Fader.Normalize(value)
	s.mu.Lock()
	s.values[p.Name] = value
	comp := s.comp
	s.mu.Unlock()
	s.submit(comp, p.Control, value)
	s.deps.Changed()
	return value, nil
}

func (s *scalars) SetBypass(on bool) {
	s.mu.Lock()
	s.bypass = on
	comp := s.comp
	s.mu.Unlock()
	s.submit(comp, "bypass", on)
	s.deps.Changed()
}

func (s *scalars) ToggleBypass() bool {
	s.mu.Lock()
	s.bypass = !s.bypass
	on := s.bypass
	comp := s.comp
	s.mu.Unlock()
	s.submit(comp, "bypass", on)
	s.deps.Changed()
	return on
}

func (s *scalars) state() (map[string]float64, bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	values := make(map[string]float64, len(s.values))
	for k, v := range s.values {
		values[k] = v
	}
	return values, s.bypass, s.comp != nil
}

type CompressorSnapshot struct {
	Component string        `json:"component"`
	Available bool          `json:"available"`
	Bypass    bool          `json:"bypass"`
	Threshold float64       `json:"threshold"`
	Ratio     float64       `json:"ratio"`
	Depth     float64       `json:"depth"`
	Knee      float64       `json:"knee"`
	Curve     []curve.Point `json:"curve"`
	Unity     []curve.Point `json:"unity"`
}

type Compressor struct {
	scalars
}

func NewCompressor(component string, deps Deps) *Compressor {
	c := &Compressor{}
	c.init(component, compressorParams, deps)
	return c
}

func (c *Compressor) Snapshot() CompressorSnapshot {
	values, bypass, available := c.state()
	p := curve.CompressorParams{
		Threshold: values["threshold"],
		Ratio:     values["ratio"],
		Knee:      values["knee"],
	}
	return CompressorSnapshot{
		Component: c.component,
		Available: available,
		Bypass:    bypass,
		Threshold: p.Threshold,
		Ratio:     p.Ratio,
		Depth:     values["depth"],
		Knee:      p.Knee,
		Curve:     curve.Compressor(p, bypass),
		Unity:     curve.Unity(curve.CompressorPoints, curve.DynamicsMinDB, curve.DynamicsMaxDB),
	}
}

type LimiterSnapshot struct {
	Component string        `json:"component"`
	Available bool          `json:"available"`
	Bypass    bool          `json:"bypass"`
	Threshold float64       `json:"threshold"`
	Attack    float64       `json:"attack"`
	Release   float64       `json:"release"`
	Curve     []curve.Point `json:"curve"`
}

type Limiter struct {
	scalars
}

func NewLimiter(component string, deps Deps) *Limiter {
	l := &Limiter{}
	l.init(component, limiterParams, deps)
	return l
}

func (l *Limiter) Snapshot() LimiterSnapshot {
	values, bypass, available := l.state()
	return LimiterSnapshot{
		Component: l.component,
		Available: available,
		Bypass:    bypass,
		Threshold: values["threshold"],
		Attack:    values["attack"],
		Release:   values["release"],
		Curve:     curve.Limiter(values["threshold"], bypass),
	}
}
