package qrwc

import (
	"context"
	"errors"

	"github.com/g960059/qsyspanel/internal/model"
)

var (
	ErrClosed         = errors.New("qrwc session closed")
	ErrUnknownControl = errors.New("unknown control")
)

// Session is a live, negotiated connection to a core.
type Session interface {
	Component(name string) (ComponentHandle, bool)
	ComponentNames() []string
	// OnDisconnected fires once when the transport drops without a local Close.
	OnDisconnected(fn func())
	OnError(fn func(error))
	Close() error
}

// ComponentHandle exposes one named component's controls.
type ComponentHandle interface {
	Name() string
	ControlNames() []string
	Control(name string) (ControlInfo, bool)
	State(name string) (model.ControlState, bool)
	// OnUpdate callbacks run in delivery order on the session's read goroutine.
	OnUpdate(fn func(control string, st model.ControlState)) (cancel func())
	Set(ctx context.Context, control string, value any) error
}

type ControlInfo struct {
	Name      string
	Type      model.ControlType
	ValueMin  float64
	ValueMax  float64
	Direction string
}

// HasRange reports whether the core published a usable value range.
func (c ControlInfo) HasRange() bool {
	return c.ValueMax > c.ValueMin
}
