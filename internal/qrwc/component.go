package qrwc

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/g960059/qsyspanel/internal/model"
)

type subscription struct {
	id int
	fn func(string, model.ControlState)
}

type component struct {
	client *Client
	name   string

	mu       sync.RWMutex
	controls map[string]ControlInfo
	states   map[string]model.ControlState
	subs     []subscription
	nextSub  int
}

func newComponent(client *Client, name string, controls []controlWire) *component {
	c := &component{
		client:   client,
		name:     name,
		controls: make(map[string]ControlInfo, len(controls)),
		states:   make(map[string]model.ControlState, len(controls)),
	}
	for _, ctl := range controls {
		info := ControlInfo{
			Name:      ctl.Name,
			Type:      model.ControlType(ctl.Type),
			ValueMin:  ctl.ValueMin,
			ValueMax:  ctl.ValueMax,
			Direction: ctl.Direction,
		}
		c.controls[ctl.Name] = info
		c.states[ctl.Name] = model.NewControlState(info.Type, decodeValue(ctl.Value), ctl.String, ctl.Position)
	}
	return c
}

func (c *component) Name() string {
	return c.name
}

func (c *component) ControlNames() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.controls))
	for name := range c.controls {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func (c *component) Control(name string) (ControlInfo, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	info, ok := c.controls[name]
	return info, ok
}

func (c *component) State(name string) (model.ControlState, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	st, ok := c.states[name]
	return st, ok
}

func (c *component) OnUpdate(fn func(control string, st model.ControlState)) func() {
	if fn == nil {
		return func() {}
	}
	c.mu.Lock()
	c.nextSub++
	id := c.nextSub
	c.subs = append(c.subs, subscription{id: id, fn: fn})
	c.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			for i, sub := range c.subs {
				if sub.id == id {
					c.subs = append(c.subs[:i:i], c.subs[i+1:]...)
					return
				}
			}
		})
	}
}

func (c *component) Set(ctx context.Context, control string, value any) error {
	if _, ok := c.Control(control); !ok {
		return fmt.Errorf("%s.%s: %w", c.name, control, ErrUnknownControl)
	}
	params := setParams{
		Name:     c.name,
		Controls: []setControl{{Name: control, Value: value}},
	}
	if err := c.client.call(ctx, methodComponentSet, params, nil); err != nil {
		return fmt.Errorf("set %s.%s: %w", c.name, control, err)
	}
	return nil
}

// apply records a change and notifies subscribers synchronously.
func (c *component) apply(change changeWire) {
	c.mu.Lock()
	info, ok := c.controls[change.Name]
	if !ok {
		c.mu.Unlock()
		return
	}
	st := model.NewControlState(info.Type, decodeValue(change.Value), change.String, change.Position)
	c.states[change.Name] = st
	subs := append([]subscription(nil), c.subs...)
	c.mu.Unlock()

	for _, sub := range subs {
		sub.fn(change.Name, st)
	}
}
