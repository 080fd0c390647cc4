package panel_test

import (
	"errors"
	"testing"

	"github.com/g960059/qsyspanel/internal/panel"
	"github.com/g960059/qsyspanel/internal/testutil"
)

func TestCompressorMirrorsAndClampsWrites(t *testing.T) {
	deps, d := newDeps(t)
	sess := testutil.NewFakeSession()
	comp := sess.AddComponent("testCompressor",
		boolControl("bypass", false),
		floatControl("threshold.level", -30),
		floatControl("ratio", 2),
		floatControl("depth", 20),
		floatControl("soft.knee", 6),
	)
	c := panel.NewCompressor("testCompressor", deps)
	c.Bind(sess)

	snap := c.Snapshot()
	if snap.Threshold != -30 || snap.Ratio != 2 || snap.Depth != 20 || snap.Knee != 6 {
		t.Fatalf("unexpected seeded state: %+v", snap)
	}
	if len(snap.Curve) != 180 || len(snap.Unity) != 180 {
		t.Fatalf("expected 180-point curves, got %d/%d", len(snap.Curve), len(snap.Unity))
	}

	got, err := c.Set("ratio", 25)
	if err != nil || got != 20 {
		t.Fatalf("expected ratio clamped to 20, got %v err=%v", got, err)
	}
	if _, err := c.Set("attack", 1); !errors.Is(err, panel.ErrUnknownParam) {
		t.Fatalf("compressor has no attack, got %v", err)
	}
	d.Wait()
	if w := comp.WritesTo("ratio"); len(w) != 1 || w[0] != 20.0 {
		t.Fatalf("unexpected ratio writes: %v", w)
	}

	comp.Emit("threshold.level", -12, "")
	if got := c.Snapshot().Threshold; got != -12 {
		t.Fatalf("expected threshold update, got %v", got)
	}
}

func TestCompressorBypassGivesUnityCurve(t *testing.T) {
	deps, _ := newDeps(t)
	c := panel.NewCompressor("testCompressor", deps)
	c.SetBypass(true)
	snap := c.Snapshot()
	for i := range snap.Curve {
		if snap.Curve[i] != snap.Unity[i] {
			t.Fatalf("bypassed curve should be unity at %d: %+v vs %+v", i, snap.Curve[i], snap.Unity[i])
		}
	}
}

func TestLimiterDefaultsAndWrites(t *testing.T) {
	deps, d := newDeps(t)
	sess := testutil.NewFakeSession()
	comp := sess.AddComponent("testLimiter", floatControl("threshold.level", -20), floatControl("attack", 0.01), floatControl("release", 0.1))
	l := panel.NewLimiter("testLimiter", deps)
	l.Bind(sess)

	got, err := l.Set("attack", 0.0004)
	if err != nil || got != 0.001 {
		t.Fatalf("expected attack clamped to 0.001, got %v err=%v", got, err)
	}
	snap := l.Snapshot()
	if len(snap.Curve) != 4 || snap.Attack != 0.001 || snap.Release != 0.1 {
		t.Fatalf("unexpected limiter snapshot: %+v", snap)
	}
	if on := l.ToggleBypass(); !on {
		t.Fatalf("expected bypass on")
	}
	d.Wait()
	if w := comp.WritesTo("attack"); len(w) != 1 || w[0] != 0.001 {
		t.Fatalf("unexpected attack writes: %v", w)
	}
	if w := comp.WritesTo("bypass"); len(w) != 0 {
		t.Fatalf("bypass control is absent; write should be skipped, got %v", w)
	}
}

func TestUnboundDynamicsStartFromDefaults(t *testing.T) {
	deps, _ := newDeps(t)
	c := panel.NewCompressor("testCompressor", deps)
	snap := c.Snapshot()
	if snap.Available || snap.Component != "testCompressor" {
		t.Fatalf("unbound compressor should be unavailable: %+v", snap)
	}
	if snap.Threshold != -20 || snap.Ratio != 4 || snap.Depth != 10 || snap.Knee != 0 {
		t.Fatalf("unexpected compressor defaults: %+v", snap)
	}

	l := panel.NewLimiter("testLimiter", deps)
	if got := l.Snapshot(); got.Threshold != -20 || got.Component != "testLimiter" {
		t.Fatalf("unexpected limiter defaults: %+v", got)
	}
	if _, err := l.Lookup("release"); err != nil {
		t.Fatalf("limiter should expose release: %v", err)
	}
	if _, err := c.Lookup("release"); !errors.Is(err, panel.ErrUnknownParam) {
		t.Fatalf("compressor tables must stay separate, got %v", err)
	}
}
