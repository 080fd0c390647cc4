package testutil

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/g960059/qsyspanel/internal/model"
	"github.com/g960059/qsyspanel/internal/qrwc"
)

// FakeControl seeds one control on a FakeComponent.
type FakeControl struct {
	Name     string
	Type     model.ControlType
	Value    float64
	String   string
	ValueMin float64
	ValueMax float64
}

// FakeWrite is one Set call a FakeComponent received.
type FakeWrite struct {
	Control string
	Value   any
}

// FakeSession is an in-memory qrwc.Session.
type FakeSession struct {
	mu             sync.Mutex
	components     map[string]*FakeComponent
	onDisconnected []func()
	onError        []func(error)
	closeCount     int
}

var _ qrwc.Session = (*FakeSession)(nil)

func NewFakeSession() *FakeSession {
	return &FakeSession{components: map[string]*FakeComponent{}}
}

func (s *FakeSession) AddComponent(name string, controls ...FakeControl) *FakeComponent {
	comp := &FakeComponent{
		name:     name,
		controls: map[string]qrwc.ControlInfo{},
		states:   map[string]model.ControlState{},
		failures: map[string]error{},
	}
	for _, ctl := range controls {
		typ := ctl.Type
		if typ == "" {
			typ = model.ControlTypeFloat
		}
		comp.controls[ctl.Name] = qrwc.ControlInfo{Name: ctl.Name, Type: typ, ValueMin: ctl.ValueMin, ValueMax: ctl.ValueMax}
		comp.states[ctl.Name] = model.NewControlState(typ, ctl.Value, ctl.String, 0)
	}
	s.mu.Lock()
	s.components[name] = comp
	s.mu.Unlock()
	return comp
}

func (s *FakeSession) Component(name string) (qrwc.ComponentHandle, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	comp, ok := s.components[name]
	if !ok {
		return nil, false
	}
	return comp, true
}

// Fake returns the concrete component for assertions.
func (s *FakeSession) Fake(name string) *FakeComponent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.components[name]
}

func (s *FakeSession) ComponentNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.components))
	for name := range s.components {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (s *FakeSession) OnDisconnected(fn func()) {
	s.mu.Lock()
	s.onDisconnected = append(s.onDisconnected, fn)
	s.mu.Unlock()
}

func (s *FakeSession) OnError(fn func(error)) {
	s.mu.Lock()
	s.onError = append(s.onError, fn)
	s.mu.Unlock()
}

func (s *FakeSession) Close() error {
	s.mu.Lock()
	s.closeCount++
	s.mu.Unlock()
	return nil
}

func (s *FakeSession) CloseCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closeCount
}

// Disconnect fires every disconnect observer.
func (s *FakeSession) Disconnect() {
	s.mu.Lock()
	handlers := append(([]func())(nil), s.onDisconnected...)
	s.mu.Unlock()
	for _, fn := range handlers {
		fn()
	}
}

// Fail fires every error observer with err.
func (s *FakeSession) Fail(err error) {
	s.mu.Lock()
	handlers := append(([]func(error))(nil), s.onError...)
	s.mu.Unlock()
	for _, fn := range handlers {
		fn(err)
	}
}

type fakeSub struct {
	id int
	fn func(string, model.ControlState)
}

// FakeComponent is an in-memory qrwc.ComponentHandle.
type FakeComponent struct {
	name string

	mu       sync.Mutex
	controls map[string]qrwc.ControlInfo
	states   map[string]model.ControlState
	subs     []fakeSub
	nextSub  int
	writes   []FakeWrite
	failures map[string]error
	echo     bool
}

func (c *FakeComponent) Name() string {
	return c.name
}

func (c *FakeComponent) ControlNames() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, 0, len(c.controls))
	for name := range c.controls {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (c *FakeComponent) Control(name string) (qrwc.ControlInfo, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	info, ok := c.controls[name]
	return info, ok
}

func (c *FakeComponent) State(name string) (model.ControlState, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	st, ok := c.states[name]
	return st, ok
}

func (c *FakeComponent) OnUpdate(fn func(control string, st model.ControlState)) func() {
	c.mu.Lock()
	c.nextSub++
	id := c.nextSub
	c.subs = append(c.subs, fakeSub{id: id, fn: fn})
	c.mu.Unlock()
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		for i, sub := range c.subs {
			if sub.id == id {
				c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
				return
			}
		}
	}
}

func (c *FakeComponent) Set(_ context.Context, control string, value any) error {
	c.mu.Lock()
	if _, ok := c.controls[control]; !ok {
		c.mu.Unlock()
		return fmt.Errorf("%s.%s: %w", c.name, control, qrwc.ErrUnknownControl)
	}
	c.writes = append(c.writes, FakeWrite{Control: control, Value: value})
	err := c.failures[control]
	echo := c.echo
	str := c.states[control].String
	c.mu.Unlock()
	if err != nil {
		return err
	}
	if echo {
		c.Emit(control, toFloat(value), str)
	}
	return nil
}

// Emit simulates a change reported by the core.
func (c *FakeComponent) Emit(control string, value float64, str string) {
	c.mu.Lock()
	info, ok := c.controls[control]
	if !ok {
		c.mu.Unlock()
		return
	}
	st := model.NewControlState(info.Type, value, str, 0)
	c.states[control] = st
	subs := append([]fakeSub(nil), c.subs...)
	c.mu.Unlock()
	for _, sub := range subs {
		sub.fn(control, st)
	}
}

// SetEcho makes successful writes come back as updates.
func (c *FakeComponent) SetEcho(echo bool) {
	c.mu.Lock()
	c.echo = echo
	c.mu.Unlock()
}

func (c *FakeComponent) FailWrites(control string, err error) {
	c.mu.Lock()
	c.failures[control] = err
	c.mu.Unlock()
}

func (c *FakeComponent) Writes() []FakeWrite {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]FakeWrite(nil), c.writes...)
}

// WritesTo filters recorded writes by control name.
func (c *FakeComponent) WritesTo(control string) []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []any
	for _, w := range c.writes {
		if w.Control == control {
			out = append(out, w.Value)
		}
	}
	return out
}

func (c *FakeComponent) ResetWrites() {
	c.mu.Lock()
	c.writes = nil
	c.mu.Unlock()
}

func (c *FakeComponent) Subscribers() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.subs)
}

func toFloat(v any) float64 {
	switch x := v.(type) {
	case float64:
		return x
	case float32:
		return float64(x)
	case int:
		return float64(x)
	case int64:
		return float64(x)
	case bool:
		if x {
			return 1
		}
		return 0
	default:
		return 0
	}
}
