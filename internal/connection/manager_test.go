package connection_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/g960059/qsyspanel/internal/config"
	"github.com/g960059/qsyspanel/internal/connection"
	"github.com/g960059/qsyspanel/internal/model"
	"github.com/g960059/qsyspanel/internal/qrwc"
	"github.com/g960059/qsyspanel/internal/testutil"
)

type scheduled struct {
	delay     time.Duration
	fn        func()
	cancelled bool
}

type fakeScheduler struct {
	mu    sync.Mutex
	tasks []*scheduled
}

func (f *fakeScheduler) schedule(d time.Duration, fn func()) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	task := &scheduled{delay: d, fn: fn}
	f.tasks = append(f.tasks, task)
	return func() {
		f.mu.Lock()
		task.cancelled = true
		f.mu.Unlock()
	}
}

func (f *fakeScheduler) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tasks)
}

func (f *fakeScheduler) task(i int) *scheduled {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tasks[i]
}

// fire runs task i as the timer would.
func (f *fakeScheduler) fire(t *testing.T, i int) {
	t.Helper()
	task := f.task(i)
	f.mu.Lock()
	cancelled := task.cancelled
	f.mu.Unlock()
	if cancelled {
		t.Fatalf("task %d was cancelled", i)
	}
	task.fn()
}

type scriptedDialer struct {
	mu       sync.Mutex
	sessions []*testutil.FakeSession
	errs     []error
	calls    int
}

func (d *scriptedDialer) push(sess *testutil.FakeSession, err error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sessions = append(d.sessions, sess)
	d.errs = append(d.errs, err)
}

func (d *scriptedDialer) dial(context.Context) (qrwc.Session, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	if len(d.sessions) == 0 {
		return nil, errors.New("no core")
	}
	sess, err := d.sessions[0], d.errs[0]
	d.sessions, d.errs = d.sessions[1:], d.errs[1:]
	if err != nil {
		return nil, err
	}
	return sess, nil
}

func (d *scriptedDialer) callCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

func newManager(t *testing.T, dialer *scriptedDialer, opts ...connection.Option) (*connection.Manager, *fakeScheduler) {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.CoreHost = "10.0.0.5"
	sched := &fakeScheduler{}
	opts = append([]connection.Option{connection.WithScheduler(sched.schedule)}, opts...)
	m := connection.NewManager(cfg, dialer.dial, nil, opts...)
	t.Cleanup(func() { _ = m.Close() })
	return m, sched
}

func TestInitialFailureDoesNotScheduleRetry(t *testing.T) {
	dialer := &scriptedDialer{}
	dialer.push(nil, errors.New("connection refused"))
	m, sched := newManager(t, dialer)

	m.Start(context.Background())

	st := m.Status()
	if st.Connected || st.ReconnectPending {
		t.Fatalf("expected disconnected without retry, got %+v", st)
	}
	if st.Health != model.ConnectionHealthDegraded {
		t.Fatalf("expected degraded health, got %s", st.Health)
	}
	if sched.count() != 0 {
		t.Fatalf("initial failure must not schedule a retry, got %d", sched.count())
	}
	if st.LastError == "" {
		t.Fatalf("expected last error to be recorded")
	}
}

func TestConnectIsIdempotent(t *testing.T) {
	dialer := &scriptedDialer{}
	dialer.push(testutil.NewFakeSession(), nil)
	m, _ := newManager(t, dialer)

	h1, err := m.Connect(context.Background())
	if err != nil {
		t.Fatalf("connect: %v", err)
	}
	h2, err := m.Connect(context.Background())
	if err != nil {
		t.Fatalf("second connect: %v", err)
	}
	if !h1.Connected || h1.Generation != 1 || h2.Generation != 1 || h1.Session != h2.Session {
		t.Fatalf("expected same live handle, got %+v and %+v", h1, h2)
	}
	if dialer.callCount() != 1 {
		t.Fatalf("expected one dial, got %d", dialer.callCount())
	}
}

func TestFailureSchedulesExactlyOneRetry(t *testing.T) {
	first := testutil.NewFakeSession()
	second := testutil.NewFakeSession()
	dialer := &scriptedDialer{}
	dialer.push(first, nil)
	dialer.push(second, nil)
	m, sched := newManager(t, dialer)
	m.Start(context.Background())

	first.Disconnect()
	first.Fail(errors.New("socket reset"))
	first.Disconnect()

	if sched.count() != 1 {
		t.Fatalf("expected exactly one scheduled retry, got %d", sched.count())
	}
	if d := sched.task(0).delay; d < 5000*time.Millisecond {
		t.Fatalf("retry delay must be at least 5000ms, got %s", d)
	}
	if first.CloseCount() != 1 {
		t.Fatalf("expected failed session closed once, got %d", first.CloseCount())
	}
	st := m.Status()
	if st.Connected || !st.ReconnectPending {
		t.Fatalf("expected pending reconnect, got %+v", st)
	}

	sched.fire(t, 0)
	st = m.Status()
	if !st.Connected || st.Generation != 2 || st.ReconnectPending {
		t.Fatalf("expected reconnected generation 2, got %+v", st)
	}
	if h := m.Handle(); h.Session != second {
		t.Fatalf("expected handle to carry the new session")
	}
}

func TestStaleSessionEventsAreIgnored(t *testing.T) {
	first := testutil.NewFakeSession()
	second := testutil.NewFakeSession()
	dialer := &scriptedDialer{}
	dialer.push(first, nil)
	dialer.push(second, nil)
	m, sched := newManager(t, dialer)
	m.Start(context.Background())

	first.Disconnect()
	sched.fire(t, 0)

	first.Fail(errors.New("late error from old socket"))
	first.Disconnect()
	if sched.count() != 1 {
		t.Fatalf("stale events must not schedule retries, got %d", sched.count())
	}
	if st := m.Status(); !st.Connected || st.Generation != 2 {
		t.Fatalf("stale events must not disturb the live session, got %+v", st)
	}
	if second.CloseCount() != 0 {
		t.Fatalf("live session must stay open")
	}
}

func TestFailedRetryDoesNotRescheduleButNextLossDoes(t *testing.T) {
	first := testutil.NewFakeSession()
	dialer := &scriptedDialer{}
	dialer.push(first, nil)
	dialer.push(nil, errors.New("still down"))
	m, sched := newManager(t, dialer)
	m.Start(context.Background())

	first.Disconnect()
	sched.fire(t, 0)
	if sched.count() != 1 {
		t.Fatalf("failed retry must not schedule another, got %d", sched.count())
	}
	if st := m.Status(); st.Connected || st.ReconnectPending {
		t.Fatalf("expected idle disconnected manager, got %+v", st)
	}

	third := testutil.NewFakeSession()
	dialer.push(third, nil)
	if _, err := m.Reconnect(context.Background()); err != nil {
		t.Fatalf("manual reconnect: %v", err)
	}
	third.Disconnect()
	if sched.count() != 2 {
		t.Fatalf("new session loss should schedule again, got %d", sched.count())
	}
}

func TestManualReconnectReplacesSession(t *testing.T) {
	first := testutil.NewFakeSession()
	second := testutil.NewFakeSession()
	dialer := &scriptedDialer{}
	dialer.push(first, nil)
	dialer.push(second, nil)
	m, sched := newManager(t, dialer)
	m.Start(context.Background())

	h, err := m.Reconnect(context.Background())
	if err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if h.Session != second || h.Generation != 2 {
		t.Fatalf("unexpected handle after reconnect %+v", h)
	}
	if first.CloseCount() != 1 {
		t.Fatalf("old session should be closed")
	}
	first.Disconnect()
	if sched.count() != 0 {
		t.Fatalf("old session events must not schedule retries")
	}
}

func TestCloseCancelsPendingRetry(t *testing.T) {
	first := testutil.NewFakeSession()
	dialer := &scriptedDialer{}
	dialer.push(first, nil)
	m, sched := newManager(t, dialer)
	m.Start(context.Background())

	first.Disconnect()
	if err := m.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := m.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
	task := sched.task(0)
	if !task.cancelled {
		t.Fatalf("pending retry should be cancelled on close")
	}
	task.fn()
	if dialer.callCount() != 1 {
		t.Fatalf("no dial may happen after close, got %d", dialer.callCount())
	}
	if _, err := m.Connect(context.Background()); !errors.Is(err, connection.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestSubscribersSeeHandleChanges(t *testing.T) {
	first := testutil.NewFakeSession()
	second := testutil.NewFakeSession()
	dialer := &scriptedDialer{}
	dialer.push(first, nil)
	dialer.push(second, nil)
	m, sched := newManager(t, dialer)

	var (
		mu   sync.Mutex
		seen []connection.Handle
	)
	cancel := m.Subscribe(func(h connection.Handle) {
		mu.Lock()
		seen = append(seen, h)
		mu.Unlock()
	})
	defer cancel()

	m.Start(context.Background())
	first.Disconnect()
	sched.fire(t, 0)

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 4 {
		t.Fatalf("expected initial, connected, disconnected, reconnected; got %d", len(seen))
	}
	if seen[0].Connected || !seen[1].Connected || seen[2].Connected || !seen[3].Connected {
		t.Fatalf("unexpected connected sequence %+v", seen)
	}
	if seen[1].Session != first || seen[3].Session != second || seen[3].Generation != 2 {
		t.Fatalf("unexpected sessions in handle sequence")
	}
}

func TestLifecycleEventsAreJournaled(t *testing.T) {
	store, ctx := testutil.NewJournal(t)
	first := testutil.NewFakeSession()
	dialer := &scriptedDialer{}
	dialer.push(first, nil)
	m, _ := newManager(t, dialer, connection.WithRecorder(store))

	m.Start(ctx)
	first.Disconnect()

	events, err := store.ListConnectionEvents(ctx, 10)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	kinds := map[model.ConnectionEventType]int{}
	for _, ev := range events {
		kinds[ev.EventType]++
	}
	for _, want := range []model.ConnectionEventType{
		model.ConnectionEventConnected,
		model.ConnectionEventDisconnected,
		model.ConnectionEventReconnectScheduled,
	} {
		if kinds[want] != 1 {
			t.Fatalf("expected one %s event, got %v", want, kinds)
		}
	}
}

func TestReconnectWhileSchedulingLeavesOneRetryPending(t *testing.T) {
	first := testutil.NewFakeSession()
	second := testutil.NewFakeSession()
	third := testutil.NewFakeSession()
	dialer := &scriptedDialer{}
	dialer.push(first, nil)
	dialer.push(second, nil)
	dialer.push(third, nil)

	cfg := config.DefaultConfig()
	cfg.CoreHost = "10.0.0.5"
	sched := &fakeScheduler{}
	var (
		m        *connection.Manager
		injected bool
	)
	schedule := func(d time.Duration, fn func()) func() {
		cancel := sched.schedule(d, fn)
		if !injected {
			injected = true
			if _, err := m.Reconnect(context.Background()); err != nil {
				t.Errorf("reconnect during scheduling: %v", err)
			}
		}
		return cancel
	}
	m = connection.NewManager(cfg, dialer.dial, nil, connection.WithScheduler(schedule))
	t.Cleanup(func() { _ = m.Close() })
	m.Start(context.Background())

	first.Disconnect()
	if !sched.task(0).cancelled {
		t.Fatalf("retry superseded by reconnect must be cancelled")
	}
	if h := m.Handle(); h.Session != second {
		t.Fatalf("expected reconnect to install the second session")
	}

	second.Disconnect()
	pending := 0
	for i := 0; i < sched.count(); i++ {
		if !sched.task(i).cancelled {
			pending++
		}
	}
	if pending != 1 {
		t.Fatalf("expected exactly one pending retry, got %d", pending)
	}
	if st := m.Status(); !st.ReconnectPending {
		t.Fatalf("expected reconnect pending, got %+v", st)
	}

	// A superseded timer that fires anyway must not dial or clear the live retry.
	calls := dialer.callCount()
	sched.task(0).fn()
	if dialer.callCount() != calls || !m.Status().ReconnectPending {
		t.Fatalf("stale retry must be a no-op")
	}

	sched.fire(t, 1)
	if h := m.Handle(); !h.Connected || h.Session != third {
		t.Fatalf("expected retry to connect the third session, got %+v", h)
	}
}
