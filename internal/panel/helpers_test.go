package panel_test

import (
	"testing"
	"time"

	"github.com/g960059/qsyspanel/internal/model"
	"github.com/g960059/qsyspanel/internal/panel"
	"github.com/g960059/qsyspanel/internal/testutil"
)

func newDeps(t *testing.T) (panel.Deps, *panel.Dispatcher) {
	t.Helper()
	d := panel.NewDispatcher(time.Second, nil, nil)
	t.Cleanup(d.Close)
	return panel.Deps{Dispatcher: d}, d
}

func boolControl(name string, on bool) testutil.FakeControl {
	v := 0.0
	if on {
		v = 1
	}
	return testutil.FakeControl{Name: name, Type: model.ControlTypeBoolean, Value: v}
}

func floatControl(name string, v float64) testutil.FakeControl {
	return testutil.FakeControl{Name: name, Value: v}
}
