package curve

import (
	"math"
	"testing"
)

const eps = 1e-9

func TestEQBypassIsFlat(t *testing.T) {
	bands := []Band{
		{Frequency: 100, Gain: 12, Bandwidth: 0.5},
		{Frequency: 8000, Gain: -18, Bandwidth: 2},
	}
	points := EQResponse(bands, true)
	if len(points) != EQPoints {
		t.Fatalf("expected %d points, got %d", EQPoints, len(points))
	}
	for i, p := range points {
		if p.Y != 0 {
			t.Fatalf("point %d: expected 0 dB while bypassed, got %v", i, p.Y)
		}
	}
}

func TestEQFrequenciesSpanRange(t *testing.T) {
	freqs := EQFrequencies()
	if math.Abs(freqs[0]-EQMinHz) > 1e-6 || math.Abs(freqs[len(freqs)-1]-EQMaxHz) > 1e-6 {
		t.Fatalf("unexpected range %v..%v", freqs[0], freqs[len(freqs)-1])
	}
	for i := 1; i < len(freqs); i++ {
		if freqs[i] <= freqs[i-1] {
			t.Fatalf("frequencies not increasing at %d", i)
		}
	}
}

func TestEQSingleBandPeakAndDecay(t *testing.T) {
	bands := []Band{{Frequency: 1000, Gain: 6, Bandwidth: 1}}
	if got := EQGainAt(bands, 1000); math.Abs(got-6) > eps {
		t.Fatalf("expected 6 dB at center, got %v", got)
	}

	prev := EQGainAt(bands, 1000)
	for f := 1100.0; f <= 20000; f *= 1.1 {
		got := EQGainAt(bands, f)
		if got > prev {
			t.Fatalf("response rose above center at %v Hz: %v > %v", f, got, prev)
		}
		prev = got
	}
	prev = EQGainAt(bands, 1000)
	for f := 900.0; f >= 10; f /= 1.1 {
		got := EQGainAt(bands, f)
		if got > prev {
			t.Fatalf("response rose below center at %v Hz: %v > %v", f, got, prev)
		}
		prev = got
	}

	// Half gain one half-bandwidth away from the center.
	half := EQGainAt(bands, 1000*math.Pow(2, 0.5))
	if math.Abs(half-3) > 0.05 {
		t.Fatalf("expected ~3 dB at half-bandwidth, got %v", half)
	}
}

func TestEQClampsSum(t *testing.T) {
	bands := []Band{
		{Frequency: 1000, Gain: 30, Bandwidth: 1},
		{Frequency: 1000, Gain: 30, Bandwidth: 1},
	}
	if got := EQGainAt(bands, 1000); got != EQClampDB {
		t.Fatalf("expected clamp at %v, got %v", EQClampDB, got)
	}
	bands[0].Gain, bands[1].Gain = -30, -30
	if got := EQGainAt(bands, 1000); got != -EQClampDB {
		t.Fatalf("expected clamp at %v, got %v", -EQClampDB, got)
	}
}

func TestEQGuardsDegenerateBands(t *testing.T) {
	bands := []Band{{Frequency: 0, Gain: 6, Bandwidth: 0}}
	got := EQGainAt(bands, EQMinHz)
	if math.IsNaN(got) || math.IsInf(got, 0) {
		t.Fatalf("expected finite response, got %v", got)
	}
	if math.Abs(got-6) > eps {
		t.Fatalf("expected center clamped to %v Hz, got %v", EQMinHz, got)
	}
}

func TestBandQ(t *testing.T) {
	if q := (Band{Bandwidth: 1}).Q(); math.Abs(q-1.44) > eps {
		t.Fatalf("expected Q 1.44, got %v", q)
	}
}

func TestCompressorHardKnee(t *testing.T) {
	p := CompressorParams{Threshold: -20, Ratio: 4, Knee: 0}
	if got := CompressorOutput(p, -10); math.Abs(got-(-17.5)) > eps {
		t.Fatalf("expected -17.5, got %v", got)
	}
	for _, pt := range Compressor(p, false) {
		want := pt.X
		if pt.X > p.Threshold {
			want = p.Threshold + (pt.X-p.Threshold)/p.Ratio
		}
		if math.Abs(pt.Y-want) > eps {
			t.Fatalf("hard knee mismatch at %v: got %v want %v", pt.X, pt.Y, want)
		}
	}
}

func TestCompressorSoftKneeIsContinuous(t *testing.T) {
	p := CompressorParams{Threshold: -20, Ratio: 4, Knee: 10}
	lower, upper := p.Threshold-p.Knee/2, p.Threshold+p.Knee/2
	if got := CompressorOutput(p, lower); math.Abs(got-lower) > eps {
		t.Fatalf("expected unity at knee start, got %v", got)
	}
	wantUpper := p.Threshold + (upper-p.Threshold)/p.Ratio
	if got := CompressorOutput(p, upper-1e-9); math.Abs(got-wantUpper) > 1e-6 {
		t.Fatalf("expected %v approaching knee end, got %v", wantUpper, got)
	}
	if got := CompressorOutput(p, upper); math.Abs(got-wantUpper) > eps {
		t.Fatalf("expected %v at knee end, got %v", wantUpper, got)
	}
	mid := CompressorOutput(p, p.Threshold)
	if mid >= p.Threshold || mid <= wantUpper-p.Knee {
		t.Fatalf("unexpected mid-knee output %v", mid)
	}
}

func TestCompressorBypassIsUnity(t *testing.T) {
	points := Compressor(CompressorParams{Threshold: -40, Ratio: 10, Knee: 6}, true)
	if len(points) != CompressorPoints {
		t.Fatalf("expected %d points, got %d", CompressorPoints, len(points))
	}
	if points[0].X != DynamicsMinDB || points[len(points)-1].X != DynamicsMaxDB {
		t.Fatalf("unexpected input range %v..%v", points[0].X, points[len(points)-1].X)
	}
	for _, p := range points {
		if p.X != p.Y {
			t.Fatalf("expected unity at %v, got %v", p.X, p.Y)
		}
	}
}

func TestLimiterBrickWall(t *testing.T) {
	points := Limiter(-20, false)
	if len(points) != LimiterPoints {
		t.Fatalf("expected %d points, got %d", LimiterPoints, len(points))
	}
	for _, p := range points {
		if p.X <= -20 && p.Y != p.X {
			t.Fatalf("expected passthrough at %v, got %v", p.X, p.Y)
		}
		if p.X > -20 && p.Y != -20 {
			t.Fatalf("expected ceiling at %v, got %v", p.X, p.Y)
		}
	}
	for _, p := range Limiter(-20, true) {
		if p.X != p.Y {
			t.Fatalf("expected unity while bypassed at %v", p.X)
		}
	}
}

func TestFormatFrequency(t *testing.T) {
	cases := map[float64]string{
		10:    "10Hz",
		499.6: "500Hz",
		1000:  "1.0k",
		1240:  "1.2k",
		20000: "20.0k",
	}
	for in, want := range cases {
		if got := FormatFrequency(in); got != want {
			t.Fatalf("FormatFrequency(%v) = %q, want %q", in, got, want)
		}
	}
}
