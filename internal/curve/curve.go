// Package curve computes the visualization curves derived from panel
// parameters. Every function is pure.
package curve

import (
	"fmt"
	"math"
)

const (
	EQPoints      = 256
	EQMinHz       = 10.0
	EQMaxHz       = 20000.0
	EQClampDB     = 30.0
	DynamicsMinDB = -60.0
	DynamicsMaxDB = 0.0

	CompressorPoints = 180
	LimiterPoints    = 4

	minBandwidthOct = 0.05
	fwhmToSigma     = 2.355
)

type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Band is one parametric EQ band. Bandwidth is an octave FWHM.
type Band struct {
	Frequency float64 `json:"frequency"`
	Gain      float64 `json:"gain"`
	Bandwidth float64 `json:"bandwidth"`
}

// DefaultBand is used for band slots the core has not reported yet.
func DefaultBand() Band {
	return Band{Frequency: 1000, Gain: 0, Bandwidth: 1}
}

// Q approximates the filter quality factor for display.
func (b Band) Q() float64 {
	bw := b.Bandwidth
	if bw <= 0 {
		bw = minBandwidthOct
	}
	return 1.44 / bw
}

// EQFrequencies returns the log-spaced sample frequencies.
func EQFrequencies() []float64 {
	out := make([]float64, EQPoints)
	lo, hi := math.Log10(EQMinHz), math.Log10(EQMaxHz)
	for i := range out {
		t := float64(i) / float64(EQPoints-1)
		out[i] = math.Pow(10, lo+(hi-lo)*t)
	}
	return out
}

// EQResponse sums Gaussian band contributions in log-frequency space and
// clamps to ±30 dB. Bypass yields a flat 0 dB line.
func EQResponse(bands []Band, bypass bool) []Point {
	freqs := EQFrequencies()
	out := make([]Point, len(freqs))
	for i, f := range freqs {
		out[i] = Point{X: f}
		if bypass {
			continue
		}
		out[i].Y = EQGainAt(bands, f)
	}
	return out
}

// EQGainAt evaluates the summed response at a single frequency.
func EQGainAt(bands []Band, f float64) float64 {
	total := 0.0
	for _, b := range bands {
		f0 := math.Max(EQMinHz, b.Frequency)
		bw := math.Max(minBandwidthOct, b.Bandwidth)
		sigma := math.Ln2 * bw / fwhmToSigma
		d := math.Log(f/f0) / sigma
		total += b.Gain * math.Exp(-0.5*d*d)
	}
	return clamp(total, -EQClampDB, EQClampDB)
}

type CompressorParams struct {
	Threshold float64 `json:"threshold"`
	Ratio     float64 `json:"ratio"`
	Knee      float64 `json:"knee"`
}

// Compressor is the static gain-computer transfer curve over -60..0 dB.
func Compressor(p CompressorParams, bypass bool) []Point {
	out := Unity(CompressorPoints, DynamicsMinDB, DynamicsMaxDB)
	if bypass {
		return out
	}
	for i := range out {
		out[i].Y = CompressorOutput(p, out[i].X)
	}
	return out
}

// CompressorOutput applies the gain-computer law with a quadratic soft knee.
func CompressorOutput(p CompressorParams, x float64) float64 {
	ratio := p.Ratio
	if ratio < 1 {
		ratio = 1
	}
	t, k := p.Threshold, math.Max(0, p.Knee)
	lower, upper := t-k/2, t+k/2
	switch {
	case k > 0 && x > lower && x < upper:
		xk := x - lower
		return x + (1/ratio-1)*xk*xk/(2*k)
	case x >= upper:
		return t + (x-t)/ratio
	default:
		return x
	}
}

// Limiter is the brick-wall ceiling curve over -60..0 dB.
func Limiter(threshold float64, bypass bool) []Point {
	out := Unity(LimiterPoints, DynamicsMinDB, DynamicsMaxDB)
	if bypass {
		return out
	}
	for i := range out {
		out[i].Y = math.Min(out[i].X, threshold)
	}
	return out
}

// Unity returns n evenly spaced points on y = x between min and max.
func Unity(n int, min, max float64) []Point {
	if n <= 0 {
		return nil
	}
	out := make([]Point, n)
	for i := range out {
		x := min
		if n > 1 {
			x = min + (max-min)*float64(i)/float64(n-1)
		}
		out[i] = Point{X: x, Y: x}
	}
	return out
}

// FormatFrequency renders an axis label: "500Hz" or "1.2k".
func FormatFrequency(f float64) string {
	if f < 1000 {
		return fmt.Sprintf("%dHz", int(math.Round(f)))
	}
	return fmt.Sprintf("%.1fk", f/1000)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
