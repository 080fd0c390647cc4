package panel

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/g960059/qsyspanel/internal/logging"
	"github.com/g960059/qsyspanel/internal/model"
	"github.com/g960059/qsyspanel/internal/qrwc"
)

// WriteJournal records outbound writes. *journal.Store satisfies it.
type WriteJournal interface {
	BeginWrite(ctx context.Context, rec model.WriteRecord) (model.WriteRecord, error)
	CompleteWrite(ctx context.Context, writeID string, result model.WriteResult, completedAt time.Time, errMsg *string) error
}

type writeJob struct {
	id      string
	comp    qrwc.ComponentHandle
	control string
	value   any
}

// Dispatcher sends control writes in submission order on one worker
// goroutine. Callers never wait for the core; failures are logged only.
type Dispatcher struct {
	timeout time.Duration
	journal WriteJournal
	log     *log.Entry

	mu      sync.Mutex
	queue   []writeJob
	busy    bool
	closed  bool
	wake    chan struct{}
	idle    *sync.Cond
	stopped chan struct{}
}

func NewDispatcher(timeout time.Duration, journal WriteJournal, logger *log.Entry) *Dispatcher {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = logging.Discard()
	}
	d := &Dispatcher{
		timeout: timeout,
		journal: journal,
		log:     logger,
		wake:    make(chan struct{}, 1),
		stopped: make(chan struct{}),
	}
	d.idle = sync.NewCond(&d.mu)
	go d.run()
	return d
}

// Submit queues a write and returns its id. A nil component is a no-op.
func (d *Dispatcher) Submit(comp qrwc.ComponentHandle, control string, value any) string {
	if comp == nil {
		return ""
	}
	id := uuid.NewString()
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ""
	}
	d.queue = append(d.queue, writeJob{id: id, comp: comp, control: control, value: value})
	select {
	case d.wake <- struct{}{}:
	default:
	}
	d.mu.Unlock()
	return id
}

// Wait blocks until every queued write has been attempted.
func (d *Dispatcher) Wait() {
	d.mu.Lock()
	for len(d.queue) > 0 || d.busy {
		d.idle.Wait()
	}
	d.mu.Unlock()
}

// Close stops the worker. Writes still queued are dropped.
func (d *Dispatcher) Close() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	dropped := len(d.queue)
	d.queue = nil
	d.idle.Broadcast()
	close(d.wake)
	d.mu.Unlock()
	<-d.stopped
	if dropped > 0 {
		d.log.WithField("dropped", dropped).Debug("dispatcher closed with queued writes")
	}
}

func (d *Dispatcher) run() {
	defer close(d.stopped)
	for {
		d.mu.Lock()
		if len(d.queue) == 0 {
			d.busy = false
			d.idle.Broadcast()
			closed := d.closed
			d.mu.Unlock()
			if closed {
				return
			}
			if _, ok := <-d.wake; !ok {
				return
			}
			continue
		}
		job := d.queue[0]
		d.queue = d.queue[1:]
		d.busy = true
		d.mu.Unlock()

		d.send(job)
	}
}

func (d *Dispatcher) send(job writeJob) {
	entry := d.log.WithField("write_id", job.id).WithField("component", job.comp.Name()).WithField("control", job.control)
	d.begin(job)

	if _, ok := job.comp.Control(job.control); !ok {
		entry.Debug("control not present; write skipped")
		d.complete(job.id, model.WriteSkipped, nil)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := job.comp.Set(ctx, job.control, job.value); err != nil {
		entry.WithError(err).Warn("control write failed")
		msg := err.Error()
		d.complete(job.id, model.WriteFailed, &msg)
		return
	}
	d.complete(job.id, model.WriteCompleted, nil)
}

func (d *Dispatcher) begin(job writeJob) {
	if d.journal == nil {
		return
	}
	raw, err := json.Marshal(job.value)
	if err != nil {
		raw = []byte("null")
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	rec := model.WriteRecord{
		WriteID:   job.id,
		Component: job.comp.Name(),
		Control:   job.control,
		ValueJSON: string(raw),
	}
	if _, err := d.journal.BeginWrite(ctx, rec); err != nil {
		d.log.WithError(err).WithField("write_id", job.id).Warn("journal write begin failed")
	}
}

func (d *Dispatcher) complete(id string, result model.WriteResult, errMsg *string) {
	if d.journal == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), d.timeout)
	defer cancel()
	if err := d.journal.CompleteWrite(ctx, id, result, time.Now().UTC(), errMsg); err != nil {
		d.log.WithError(err).WithField("write_id", id).Warn("journal write completion failed")
	}
}
