package panel

import (
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/g960059/qsyspanel/internal/logging"
	"github.com/g960059/qsyspanel/internal/model"
	"github.com/g960059/qsyspanel/internal/qrwc"
)

// Deps are shared by every reflector.
type Deps struct {
	Dispatcher *Dispatcher
	// Changed is called after any state change.
	Changed func()
	Log     *log.Entry
}

func (d Deps) withDefaults() Deps {
	if d.Changed == nil {
		d.Changed = func() {}
	}
	if d.Log == nil {
		d.Log = logging.Discard()
	}
	return d
}

// base holds the binding of one reflector to one component. mu also guards
// the embedding panel's state.
type base struct {
	component string
	deps      Deps

	mu     sync.Mutex
	comp   qrwc.ComponentHandle
	cancel func()
}

func newBase(component string, deps Deps) base {
	deps = deps.withDefaults()
	return base{
		component: component,
		deps:      deps,
	}
}

// bindLocked attaches to the component in sess, subscribes apply for updates
// and then seeds every current control state through apply. Callers hold mu.
func (b *base) bindLocked(sess qrwc.Session, apply func(control string, st model.ControlState)) qrwc.ComponentHandle {
	b.unbindLocked()
	if sess == nil || b.component == "" {
		return nil
	}
	comp, ok := sess.Component(b.component)
	if !ok {
		b.deps.Log.WithField("component", b.component).Debug("component not present; panel disabled")
		return nil
	}
	b.comp = comp
	b.cancel = comp.OnUpdate(func(control string, st model.ControlState) {
		b.mu.Lock()
		if b.comp != comp {
			b.mu.Unlock()
			return
		}
		apply(control, st)
		b.mu.Unlock()
		b.deps.Changed()
	})
	for _, name := range comp.ControlNames() {
		if st, ok := comp.State(name); ok {
			apply(name, st)
		}
	}
	return comp
}

func (b *base) unbindLocked() {
	if b.cancel != nil {
		b.cancel()
	}
	b.cancel = nil
	b.comp = nil
}

// Unbind detaches from the current session. State is kept.
func (b *base) Unbind() {
	b.mu.Lock()
	b.unbindLocked()
	b.mu.Unlock()
	b.deps.Changed()
}

func (b *base) Component() string {
	return b.component
}

// hasControlLocked reports whether the bound component exposes name.
func (b *base) hasControlLocked(name string) bool {
	if b.comp == nil {
		return false
	}
	_, ok := b.comp.Control(name)
	return ok
}

// submit sends a write through the dispatcher. comp may be nil.
func (b *base) submit(comp qrwc.ComponentHandle, control string, value any) {
	if comp == nil {
		return
	}
	b.deps.Dispatcher.Submit(comp, control, value)
}
