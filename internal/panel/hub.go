package panel

import (
	"context"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/g960059/qsyspanel/internal/config"
	"github.com/g960059/qsyspanel/internal/connection"
	"github.com/g960059/qsyspanel/internal/logging"
	"github.com/g960059/qsyspanel/internal/qrwc"
)

// HandleSource publishes connection handles. *connection.Manager satisfies it.
type HandleSource interface {
	Subscribe(fn func(connection.Handle)) (cancel func())
}

// Snapshot is every panel's state at one version.
type Snapshot struct {
	Version    uint64             `json:"version"`
	Connected  bool               `json:"connected"`
	Generation uint64             `json:"generation"`
	EQ         EQSnapshot         `json:"eq"`
	Compressor CompressorSnapshot `json:"compressor"`
	Limiter    LimiterSnapshot    `json:"limiter"`
	Delay      DelaySnapshot      `json:"delay"`
	Gain       GainSnapshot       `json:"gain"`
	Camera     CameraSnapshot     `json:"camera"`
	PTZ        PTZSnapshot        `json:"ptz"`
	Preview    PreviewSnapshot    `json:"preview"`
	Video      VideoSnapshot      `json:"video"`
}

type binder interface {
	Bind(sess qrwc.Session)
	Unbind()
}

// Hub owns every reflector and rebinds them whenever the connection changes.
type Hub struct {
	EQ         *EQ
	Compressor *Compressor
	Limiter    *Limiter
	Delay      *Delay
	Gain       *Gain
	Camera     *CameraRouter
	PTZ        *PTZ
	Preview    *Preview
	Video      *VideoRouter

	dispatcher *Dispatcher
	log        *log.Entry
	panels     []binder

	bindMu     sync.Mutex
	session    qrwc.Session
	generation uint64
	connected  bool
	cancel     func()

	mu      sync.Mutex
	version uint64
	changed chan struct{}
	closed  bool
}

func NewHub(cfg config.Config, journal WriteJournal, logger *log.Entry) *Hub {
	if logger == nil {
		logger = logging.Discard()
	}
	h := &Hub{
		log:     logger,
		changed: make(chan struct{}),
	}
	h.dispatcher = NewDispatcher(cfg.WriteTimeout, journal, logger.WithField("role", "dispatcher"))
	deps := Deps{Dispatcher: h.dispatcher, Changed: h.bump, Log: logger}
	c := cfg.Components
	h.EQ = NewEQ(c.EQ, deps)
	h.Compressor = NewCompressor(c.Compressor, deps)
	h.Limiter = NewLimiter(c.Limiter, deps)
	h.Delay = NewDelay(c.Delay, deps)
	h.Gain = NewGain(c.Gain, deps)
	h.Camera = NewCameraRouter(c.CameraRouter, cfg.CameraCount, deps)
	h.PTZ = NewPTZ(c.PTZ, deps)
	h.Preview = NewPreview(c.Preview, deps)
	h.Video = NewVideoRouter(c.VideoDecoder, cfg.Video, deps)
	h.panels = []binder{h.EQ, h.Compressor, h.Limiter, h.Delay, h.Gain, h.Camera, h.PTZ, h.Preview, h.Video}
	return h
}

// Attach follows src until Close.
func (h *Hub) Attach(src HandleSource) {
	cancel := src.Subscribe(h.Follow)
	h.bindMu.Lock()
	if h.cancel != nil {
		h.cancel()
	}
	h.cancel = cancel
	h.bindMu.Unlock()
}

// Follow rebinds every panel to handle's session. A repeat of the current
// session is ignored.
func (h *Hub) Follow(handle connection.Handle) {
	h.bindMu.Lock()
	defer h.bindMu.Unlock()
	sess := handle.Session
	if !handle.Connected {
		sess = nil
	}
	if sess == h.session && handle.Generation == h.generation && handle.Connected == h.connected {
		return
	}
	h.session = sess
	h.generation = handle.Generation
	h.connected = handle.Connected && sess != nil

	entry := h.log.WithField("generation", handle.Generation)
	if sess == nil {
		for _, p := range h.panels {
			p.Unbind()
		}
		entry.Info("panels unbound")
	} else {
		for _, p := range h.panels {
			p.Bind(sess)
		}
		entry.Info("panels bound")
	}
	h.bump()
}

func (h *Hub) bump() {
	h.mu.Lock()
	h.version++
	close(h.changed)
	h.changed = make(chan struct{})
	h.mu.Unlock()
}

func (h *Hub) Version() uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.version
}

func (h *Hub) Snapshot() Snapshot {
	h.mu.Lock()
	version := h.version
	h.mu.Unlock()
	h.bindMu.Lock()
	connected, generation := h.connected, h.generation
	h.bindMu.Unlock()
	return Snapshot{
		Version:    version,
		Connected:  connected,
		Generation: generation,
		EQ:         h.EQ.Snapshot(),
		Compressor: h.Compressor.Snapshot(),
		Limiter:    h.Limiter.Snapshot(),
		Delay:      h.Delay.Snapshot(),
		Gain:       h.Gain.Snapshot(),
		Camera:     h.Camera.Snapshot(),
		PTZ:        h.PTZ.Snapshot(),
		Preview:    h.Preview.Snapshot(),
		Video:      h.Video.Snapshot(),
	}
}

// Wait blocks until the version passes after, then returns a fresh snapshot.
func (h *Hub) Wait(ctx context.Context, after uint64) (Snapshot, error) {
	for {
		h.mu.Lock()
		version, ch := h.version, h.changed
		h.mu.Unlock()
		if version > after {
			return h.Snapshot(), nil
		}
		select {
		case <-ctx.Done():
			return Snapshot{}, ctx.Err()
		case <-ch:
		}
	}
}

// Watch sends a snapshot for every version change until ctx ends. Versions
// that change faster than the consumer reads are coalesced.
func (h *Hub) Watch(ctx context.Context) <-chan Snapshot {
	out := make(chan Snapshot, 1)
	go func() {
		defer close(out)
		var after uint64
		for {
			snap, err := h.Wait(ctx, after)
			if err != nil {
				return
			}
			after = snap.Version
			select {
			case out <- snap:
			case <-ctx.Done():
				return
			}
		}
	}()
	return out
}

// Flush waits for every submitted write to be attempted.
func (h *Hub) Flush() {
	h.dispatcher.Wait()
}

// FlushTimeout is Flush bounded by d; it reports whether the queue drained.
func (h *Hub) FlushTimeout(d time.Duration) bool {
	done := make(chan struct{})
	go func() {
		h.dispatcher.Wait()
		close(done)
	}()
	select {
	case <-done:
		return true
	case <-time.After(d):
		return false
	}
}

// Close detaches from the connection, unbinds every panel and stops the dispatcher.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
	h.closed = true
	h.mu.Unlock()

	h.bindMu.Lock()
	if h.cancel != nil {
		h.cancel()
		h.cancel = nil
	}
	for _, p := range h.panels {
		p.Unbind()
	}
	h.session = nil
	h.connected = false
	h.bindMu.Unlock()
	h.dispatcher.Close()
}
