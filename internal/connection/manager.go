package connection

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/g960059/qsyspanel/internal/config"
	"github.com/g960059/qsyspanel/internal/logging"
	"github.com/g960059/qsyspanel/internal/model"
	"github.com/g960059/qsyspanel/internal/qrwc"
)

var ErrClosed = errors.New("connection manager closed")

// Dialer opens one negotiated session with the core.
type Dialer func(ctx context.Context) (qrwc.Session, error)

// ScheduleFunc runs fn once after d. The returned func cancels it if it has not run.
type ScheduleFunc func(d time.Duration, fn func()) (cancel func())

// EventRecorder persists connection lifecycle events.
type EventRecorder interface {
	AppendConnectionEvent(ctx context.Context, ev model.ConnectionEvent) (model.ConnectionEvent, error)
}

// Handle is what panels see of the connection at one point in time.
type Handle struct {
	Connected  bool
	Session    qrwc.Session
	Generation uint64
}

type Status struct {
	Connected           bool
	Generation          uint64
	Endpoint            string
	Health              model.ConnectionHealth
	ReconnectPending    bool
	ConsecutiveFailures int
	LastError           string
	LastConnectedAt     *time.Time
	LastDisconnectedAt  *time.Time
}

type Option func(*Manager)

func WithScheduler(fn ScheduleFunc) Option {
	return func(m *Manager) {
		if fn != nil {
			m.schedule = fn
		}
	}
}

func WithRecorder(rec EventRecorder) Option {
	return func(m *Manager) {
		m.recorder = rec
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// Manager owns the single live session with the core. A lost session is
// retried once after ReconnectDelay; a failed dial is logged and left alone.
type Manager struct {
	cfg      config.Config
	dial     Dialer
	log      *log.Entry
	schedule ScheduleFunc
	recorder EventRecorder
	now      func() time.Time

	// connectMu serializes dials so at most one session exists.
	connectMu sync.Mutex
	// notifyMu keeps subscriber deliveries in order.
	notifyMu sync.Mutex

	mu                 sync.Mutex
	session            qrwc.Session
	generation         uint64
	connected          bool
	closed             bool
	retryPending       bool
	retrySeq           uint64
	cancelRetry        func()
	lastError          string
	lastConnectedAt    *time.Time
	lastDisconnectedAt *time.Time
	health             HealthState
	subs               map[int]func(Handle)
	nextSub            int
}

func NewManager(cfg config.Config, dial Dialer, logger *log.Entry, opts ...Option) *Manager {
	if logger == nil {
		logger = logging.Discard()
	}
	m := &Manager{
		cfg:      cfg,
		dial:     dial,
		log:      logger,
		schedule: afterFunc,
		now:      func() time.Time { return time.Now().UTC() },
		subs:     map[int]func(Handle){},
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func afterFunc(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}

// Start performs the initial connection. Failure is logged and the manager
// stays disconnected without scheduling a retry.
func (m *Manager) Start(ctx context.Context) {
	if _, err := m.Connect(ctx); err != nil && !errors.Is(err, ErrClosed) {
		m.log.WithError(err).WithField("endpoint", m.cfg.CoreEndpoint()).Error("initial connection to core failed")
	}
}

// Connect returns the live handle, dialing first if there is none.
func (m *Manager) Connect(ctx context.Context) (Handle, error) {
	m.connectMu.Lock()
	defer m.connectMu.Unlock()

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Handle{}, ErrClosed
	}
	if m.connected && m.session != nil {
		h := m.handleLocked()
		m.mu.Unlock()
		return h, nil
	}
	m.mu.Unlock()

	if m.dial == nil {
		return Handle{}, fmt.Errorf("no dialer configured")
	}
	sess, err := m.dial(ctx)
	if err != nil {
		m.mu.Lock()
		m.lastError = err.Error()
		m.health = NextHealth(m.cfg, m.health, false, m.now())
		gen := m.generation
		m.mu.Unlock()
		m.record(gen, model.ConnectionEventConnectFailed, err.Error())
		return Handle{}, fmt.Errorf("connect core: %w", err)
	}

	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		_ = sess.Close()
		return Handle{}, ErrClosed
	}
	m.generation++
	gen := m.generation
	m.session = sess
	m.connected = true
	m.lastError = ""
	now := m.now()
	m.lastConnectedAt = &now
	m.health = NextHealth(m.cfg, m.health, true, now)
	h := m.handleLocked()
	m.mu.Unlock()

	m.log.WithField("generation", gen).Info("connected to core")
	m.record(gen, model.ConnectionEventConnected, "")
	m.notify()

	sess.OnDisconnected(func() {
		m.handleFailure(gen, model.ConnectionEventDisconnected, "session disconnected")
	})
	sess.OnError(func(err error) {
		m.handleFailure(gen, model.ConnectionEventError, err.Error())
	})
	return h, nil
}

// handleFailure tears down the session of generation gen and schedules one
// retry. Events from an older or already failed session are ignored.
func (m *Manager) handleFailure(gen uint64, kind model.ConnectionEventType, detail string) {
	m.mu.Lock()
	if m.closed || !m.connected || gen != m.generation {
		m.mu.Unlock()
		m.log.WithField("generation", gen).WithField("event", string(kind)).Debug("ignoring event from inactive session")
		return
	}
	sess := m.session
	m.session = nil
	m.connected = false
	m.lastError = detail
	now := m.now()
	m.lastDisconnectedAt = &now
	m.health = NextHealth(m.cfg, m.health, false, now)
	scheduleRetry := !m.retryPending
	var seq uint64
	if scheduleRetry {
		m.retryPending = true
		m.retrySeq++
		seq = m.retrySeq
	}
	m.mu.Unlock()

	if sess != nil {
		_ = sess.Close()
	}
	m.log.WithField("generation", gen).WithField("event", string(kind)).WithField("detail", detail).Warn("core connection lost")
	m.record(gen, kind, detail)
	m.notify()

	if !scheduleRetry {
		return
	}
	delay := m.cfg.ReconnectDelay
	cancel := m.schedule(delay, func() { m.retry(seq) })
	m.mu.Lock()
	// A Reconnect or Close while scheduling supersedes this cycle.
	if m.closed || !m.retryPending || m.retrySeq != seq {
		m.mu.Unlock()
		cancel()
		return
	}
	m.cancelRetry = cancel
	m.mu.Unlock()
	m.log.WithField("delay", delay.String()).Info("reconnect scheduled")
	m.record(gen, model.ConnectionEventReconnectScheduled, delay.String())
}

func (m *Manager) retry(seq uint64) {
	m.mu.Lock()
	if !m.retryPending || m.retrySeq != seq {
		m.mu.Unlock()
		return
	}
	m.retryPending = false
	m.cancelRetry = nil
	closed := m.closed
	m.mu.Unlock()
	if closed {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), m.connectTimeout())
	defer cancel()
	if _, err := m.Connect(ctx); err != nil && !errors.Is(err, ErrClosed) {
		m.log.WithError(err).Error("reconnect to core failed")
	}
}

// Reconnect drops the current session, if any, and dials immediately.
func (m *Manager) Reconnect(ctx context.Context) (Handle, error) {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return Handle{}, ErrClosed
	}
	if m.cancelRetry != nil {
		m.cancelRetry()
	}
	m.cancelRetry = nil
	m.retryPending = false
	sess := m.session
	wasConnected := m.connected
	m.session = nil
	m.connected = false
	if wasConnected {
		now := m.now()
		m.lastDisconnectedAt = &now
	}
	gen := m.generation
	m.mu.Unlock()

	if sess != nil {
		_ = sess.Close()
	}
	if wasConnected {
		m.record(gen, model.ConnectionEventDisconnected, "manual reconnect")
		m.notify()
	}
	return m.Connect(ctx)
}

// Close cancels any pending retry and closes the session. Later calls are no-ops.
func (m *Manager) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	if m.cancelRetry != nil {
		m.cancelRetry()
	}
	m.cancelRetry = nil
	m.retryPending = false
	sess := m.session
	m.session = nil
	m.connected = false
	gen := m.generation
	m.mu.Unlock()

	var err error
	if sess != nil {
		err = sess.Close()
	}
	m.record(gen, model.ConnectionEventClosed, "")
	m.notify()
	return err
}

// Handle returns the current connection handle.
func (m *Manager) Handle() Handle {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handleLocked()
}

func (m *Manager) handleLocked() Handle {
	return Handle{
		Connected:  m.connected,
		Session:    m.session,
		Generation: m.generation,
	}
}

func (m *Manager) Status() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	health := m.health.Current
	if health == "" {
		health = model.ConnectionHealthOK
	}
	return Status{
		Connected:           m.connected,
		Generation:          m.generation,
		Endpoint:            m.cfg.CoreEndpoint(),
		Health:              health,
		ReconnectPending:    m.retryPending,
		ConsecutiveFailures: m.health.ConsecutiveFailures,
		LastError:           m.lastError,
		LastConnectedAt:     copyTime(m.lastConnectedAt),
		LastDisconnectedAt:  copyTime(m.lastDisconnectedAt),
	}
}

// Subscribe registers fn for handle changes and calls it once with the current handle.
func (m *Manager) Subscribe(fn func(Handle)) (cancel func()) {
	m.notifyMu.Lock()
	m.mu.Lock()
	m.nextSub++
	id := m.nextSub
	m.subs[id] = fn
	h := m.handleLocked()
	m.mu.Unlock()
	fn(h)
	m.notifyMu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
		})
	}
}

func (m *Manager) notify() {
	m.notifyMu.Lock()
	defer m.notifyMu.Unlock()
	m.mu.Lock()
	h := m.handleLocked()
	ids := make([]int, 0, len(m.subs))
	for id := range m.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	fns := make([]func(Handle), 0, len(ids))
	for _, id := range ids {
		fns = append(fns, m.subs[id])
	}
	m.mu.Unlock()
	for _, fn := range fns {
		fn(h)
	}
}

func (m *Manager) record(gen uint64, kind model.ConnectionEventType, detail string) {
	if m.recorder == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	ev := model.ConnectionEvent{Generation: gen, EventType: kind, Detail: detail, OccurredAt: m.now()}
	if _, err := m.recorder.AppendConnectionEvent(ctx, ev); err != nil {
		m.log.WithError(err).WithField("event", string(kind)).Warn("journal connection event failed")
	}
}

func (m *Manager) connectTimeout() time.Duration {
	if m.cfg.ConnectTimeout > 0 {
		return m.cfg.ConnectTimeout
	}
	return 5 * time.Second
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
