package curve

import "math"

// Fader maps between a normalized slider position in [0,1] and a value range.
type Fader struct {
	Min  float64
	Max  float64
	Step float64
	Log  bool
}

var (
	EQFrequencyFader = Fader{Min: 10, Max: 20000, Log: true}
	EQGainFader      = Fader{Min: -30, Max: 30, Step: 0.5}
	EQBandwidthFader = Fader{Min: 0.1, Max: 4, Step: 0.05}
	ThresholdFader   = Fader{Min: -60, Max: 0, Step: 0.5}
	RatioFader       = Fader{Min: 1, Max: 20, Step: 0.1}
	DepthFader       = Fader{Min: 0, Max: 60, Step: 0.5}
	KneeFader        = Fader{Min: 0, Max: 24, Step: 0.5}
	AttackFader      = Fader{Min: 0.001, Max: 0.1, Step: 0.001}
	ReleaseFader     = Fader{Min: 0.01, Max: 2, Step: 0.01}
	DelayFader       = Fader{Min: 0, Max: 0.5, Step: 0.01}
	GainFader        = Fader{Min: -100, Max: 20, Step: 0.5}
)

// FromPosition maps a slider position to a quantized, in-range value.
func (f Fader) FromPosition(t float64) float64 {
	t = clamp(t, 0, 1)
	var v float64
	if f.Log && f.Min > 0 && f.Max > 0 {
		lo, hi := math.Log(f.Min), math.Log(f.Max)
		v = math.Exp(lo + (hi-lo)*t)
	} else {
		v = f.Min + (f.Max-f.Min)*t
	}
	return f.Clamp(f.Quantize(v))
}

// ToPosition is the inverse of FromPosition, ignoring quantization.
func (f Fader) ToPosition(v float64) float64 {
	v = f.Clamp(v)
	if f.Max == f.Min {
		return 0
	}
	if f.Log && f.Min > 0 && f.Max > 0 {
		lo, hi := math.Log(f.Min), math.Log(f.Max)
		return (math.Log(v) - lo) / (hi - lo)
	}
	return (v - f.Min) / (f.Max - f.Min)
}

// Quantize rounds v to the nearest step, trimming float noise to 6 places.
func (f Fader) Quantize(v float64) float64 {
	if f.Step <= 0 {
		return v
	}
	q := math.Round(v/f.Step) * f.Step
	return math.Round(q*1e6) / 1e6
}

func (f Fader) Clamp(v float64) float64 {
	return clamp(v, f.Min, f.Max)
}

// Normalize clamps and quantizes a raw value.
func (f Fader) Normalize(v float64) float64 {
	return f.Clamp(f.Quantize(f.Clamp(v)))
}
