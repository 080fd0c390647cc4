package panel_test

import (
	"errors"
	"reflect"
	"testing"

	"github.com/g960059/qsyspanel/internal/config"
	"github.com/g960059/qsyspanel/internal/panel"
	"github.com/g960059/qsyspanel/internal/testutil"
)

func TestParseDisplayControl(t *testing.T) {
	if n, ok := panel.ParseDisplayControl("hdmi.out.2.select.index"); !ok || n != 2 {
		t.Fatalf("expected display 2, got %d ok=%v", n, ok)
	}
	for _, name := range []string{"hdmi.out.0.select.index", "hdmi.out.x.select.index", "hdmi.out..select.index", "hdmi.in.1.select.index", "select.1"} {
		if _, ok := panel.ParseDisplayControl(name); ok {
			t.Fatalf("%q should not parse", name)
		}
	}
	if got := panel.DisplayControl(3); got != "hdmi.out.3.select.index" {
		t.Fatalf("unexpected control name %q", got)
	}
}

func videoRouter(t *testing.T, displays int) (*panel.VideoRouter, *testutil.FakeComponent, *panel.Dispatcher) {
	t.Helper()
	deps, d := newDeps(t)
	sess := testutil.NewFakeSession()
	controls := make([]testutil.FakeControl, 0, displays)
	for i := 1; i <= displays; i++ {
		controls = append(controls, testutil.FakeControl{Name: panel.DisplayControl(i), Value: 0, ValueMin: 0, ValueMax: 4})
	}
	comp := sess.AddComponent("videoDecoder", controls...)
	v := panel.NewVideoRouter("videoDecoder", config.DefaultConfig().Video, deps)
	v.Bind(sess)
	return v, comp, d
}

func TestVideoSingleDisplayAvailability(t *testing.T) {
	v, comp, d := videoRouter(t, 1)
	if got := v.Available(); !reflect.DeepEqual(got, []int{0, 1, 2, 3}) {
		t.Fatalf("expected all 4 sources available, got %v", got)
	}
	if err := v.Assign(1, 2); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if got := v.Available(); !reflect.DeepEqual(got, []int{0, 1, 3}) {
		t.Fatalf("source on the only display must not be draggable, got %v", got)
	}
	if err := v.Reset(1); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if got := v.Available(); !reflect.DeepEqual(got, []int{0, 1, 2, 3}) {
		t.Fatalf("reset must restore the source, got %v", got)
	}
	d.Wait()
	w := comp.WritesTo("hdmi.out.1.select.index")
	if len(w) != 2 || w[0] != 3 || w[1] != 0 {
		t.Fatalf("expected writes [3 0], got %v", w)
	}
}

func TestVideoTwoDisplayAvailability(t *testing.T) {
	v, _, _ := videoRouter(t, 2)
	if err := v.Assign(1, 2); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if got := v.Available(); !reflect.DeepEqual(got, []int{0, 1, 2, 3}) {
		t.Fatalf("source on one of two displays stays draggable, got %v", got)
	}
	if err := v.Assign(2, 2); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if got := v.Available(); !reflect.DeepEqual(got, []int{0, 1, 3}) {
		t.Fatalf("source on both displays must be excluded, got %v", got)
	}
	if err := v.Reset(1); err != nil {
		t.Fatalf("reset: %v", err)
	}
	if got := v.Available(); !reflect.DeepEqual(got, []int{0, 1, 2, 3}) {
		t.Fatalf("source back on one display is draggable again, got %v", got)
	}
}

func TestVideoMirrorsUpdatesAndValidates(t *testing.T) {
	v, comp, _ := videoRouter(t, 2)
	comp.Emit("hdmi.out.2.select.index", 2, "")
	snap := v.Snapshot()
	if snap.SourceCount != 4 || len(snap.Displays) != 2 {
		t.Fatalf("unexpected snapshot: %+v", snap)
	}
	if snap.Displays[0].Source != nil {
		t.Fatalf("display 1 should show nothing, got %v", *snap.Displays[0].Source)
	}
	if snap.Displays[1].Source == nil || *snap.Displays[1].Source != 1 {
		t.Fatalf("display 2 should show source 1, got %+v", snap.Displays[1])
	}
	if err := v.Assign(3, 0); !errors.Is(err, panel.ErrOutOfRange) {
		t.Fatalf("unknown display should fail, got %v", err)
	}
	if err := v.Assign(1, 4); !errors.Is(err, panel.ErrOutOfRange) {
		t.Fatalf("source past count should fail, got %v", err)
	}
}
