package daemon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sys/unix"

	"github.com/g960059/qsyspanel/internal/api"
	"github.com/g960059/qsyspanel/internal/config"
	"github.com/g960059/qsyspanel/internal/connection"
	"github.com/g960059/qsyspanel/internal/journal"
	"github.com/g960059/qsyspanel/internal/logging"
	"github.com/g960059/qsyspanel/internal/model"
	"github.com/g960059/qsyspanel/internal/panel"
)

// Connection is the part of the lifecycle manager the API exposes.
type Connection interface {
	Status() connection.Status
	Reconnect(ctx context.Context) (connection.Handle, error)
}

// Journal is the read side of the write/connection journal.
type Journal interface {
	ListWrites(ctx context.Context, filter journal.WriteFilter) ([]model.WriteRecord, error)
	ListConnectionEvents(ctx context.Context, limit int) ([]model.ConnectionEvent, error)
}

type Deps struct {
	Hub        *panel.Hub
	Connection Connection
	Journal    Journal
	Log        *log.Entry
}

type Server struct {
	cfg      config.Config
	hub      *panel.Hub
	conn     Connection
	journal  Journal
	log      *log.Entry
	handler  http.Handler
	streamID string

	mu        sync.Mutex
	servers   []*http.Server
	listeners []net.Listener
	lockFile  *os.File
	shutdown  sync.Once
	shutErr   error
}

func NewServer(cfg config.Config, deps Deps) *Server {
	if deps.Log == nil {
		deps.Log = logging.Discard()
	}
	s := &Server{
		cfg:      cfg,
		hub:      deps.Hub,
		conn:     deps.Connection,
		journal:  deps.Journal,
		log:      deps.Log,
		streamID: uuid.NewString(),
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/health", s.healthHandler)
	mux.HandleFunc("/v1/connection", s.connectionHandler)
	mux.HandleFunc("/v1/connection/reconnect", s.reconnectHandler)
	mux.HandleFunc("/v1/panels", s.panelsHandler)
	mux.HandleFunc("/v1/panels/", s.panelRouteHandler)
	mux.HandleFunc("/v1/camera/preview", s.previewHandler)
	mux.HandleFunc("/v1/watch", s.watchHandler)
	mux.HandleFunc("/v1/journal/writes", s.journalWritesHandler)
	mux.HandleFunc("/v1/journal/connection", s.journalConnectionHandler)
	s.handler = mux
	return s
}

// Handler exposes the routes without a listener.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Start listens on the unix socket and, when configured, the TCP address,
// and serves until ctx ends or a listener fails.
func (s *Server) Start(ctx context.Context) error {
	errCh := make(chan error, 2)
	if s.cfg.SocketPath != "" {
		ln, err := s.listenUnix()
		if err != nil {
			return err
		}
		s.serve(ln, errCh)
	}
	if s.cfg.HTTPAddr != "" {
		ln, err := net.Listen("tcp", s.cfg.HTTPAddr)
		if err != nil {
			_ = s.Shutdown(context.Background())
			return fmt.Errorf("listen tcp: %w", err)
		}
		s.log.WithField("addr", ln.Addr().String()).Info("serving http")
		s.serve(ln, errCh)
	}

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		_ = s.Shutdown(context.Background())
		return err
	}
}

func (s *Server) listenUnix() (net.Listener, error) {
	if err := os.MkdirAll(filepath.Dir(s.cfg.SocketPath), 0o755); err != nil {
		return nil, fmt.Errorf("create socket dir: %w", err)
	}
	if err := s.acquireLock(); err != nil {
		return nil, err
	}
	if st, err := os.Lstat(s.cfg.SocketPath); err == nil {
		if st.Mode()&os.ModeSocket == 0 {
			s.releaseLock() //nolint:errcheck
			return nil, fmt.Errorf("socket path exists and is not unix socket: %s", s.cfg.SocketPath)
		}
		if err := os.Remove(s.cfg.SocketPath); err != nil {
			s.releaseLock() //nolint:errcheck
			return nil, fmt.Errorf("remove stale socket: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		s.releaseLock() //nolint:errcheck
		return nil, fmt.Errorf("stat socket path: %w", err)
	}
	ln, err := net.Listen("unix", s.cfg.SocketPath)
	if err != nil {
		s.releaseLock() //nolint:errcheck
		return nil, fmt.Errorf("listen uds: %w", err)
	}
	if err := os.Chmod(s.cfg.SocketPath, 0o600); err != nil {
		ln.Close()      //nolint:errcheck
		s.releaseLock() //nolint:errcheck
		return nil, fmt.Errorf("chmod socket: %w", err)
	}
	s.log.WithField("socket", s.cfg.SocketPath).Info("serving unix socket")
	return ln, nil
}

func (s *Server) serve(ln net.Listener, errCh chan<- error) {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.mu.Lock()
	s.servers = append(s.servers, srv)
	s.listeners = append(s.listeners, ln)
	s.mu.Unlock()
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("serve %s: %w", ln.Addr().Network(), err)
		}
	}()
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdown.Do(func() {
		var errs []error
		s.mu.Lock()
		servers := s.servers
		s.servers = nil
		s.listeners = nil
		s.mu.Unlock()
		for _, srv := range servers {
			if err := srv.Shutdown(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		if s.cfg.SocketPath != "" {
			if err := os.Remove(s.cfg.SocketPath); err != nil && !errors.Is(err, os.ErrNotExist) {
				errs = append(errs, err)
			}
		}
		if err := s.releaseLock(); err != nil {
			errs = append(errs, err)
		}
		if len(errs) > 0 {
			s.shutErr = fmt.Errorf("shutdown errors: %v", errs)
		}
	})
	return s.shutErr
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	resp := api.HealthResponse{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Status:        "ok",
		Health:        string(model.ConnectionHealthDown),
	}
	if s.conn != nil {
		st := s.conn.Status()
		resp.Connected = st.Connected
		resp.Health = string(st.Health)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) connectionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	if s.conn == nil {
		s.writeError(w, http.StatusServiceUnavailable, model.ErrNotConnected, "no connection manager")
		return
	}
	s.writeJSON(w, http.StatusOK, toConnectionResponse(s.conn.Status()))
}

func (s *Server) reconnectHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}
	if s.conn == nil {
		s.writeError(w, http.StatusServiceUnavailable, model.ErrNotConnected, "no connection manager")
		return
	}
	if _, err := s.conn.Reconnect(r.Context()); err != nil {
		if errors.Is(err, connection.ErrClosed) {
			s.writeError(w, http.StatusServiceUnavailable, model.ErrNotConnected, err.Error())
			return
		}
		s.writeError(w, http.StatusBadGateway, model.ErrCoreUnreachable, err.Error())
		return
	}
	s.writeJSON(w, http.StatusOK, toConnectionResponse(s.conn.Status()))
}

func toConnectionResponse(st connection.Status) api.ConnectionResponse {
	return api.ConnectionResponse{
		SchemaVersion:       api.SchemaVersion,
		GeneratedAt:         time.Now().UTC(),
		Connected:           st.Connected,
		Generation:          st.Generation,
		Endpoint:            st.Endpoint,
		Health:              string(st.Health),
		ReconnectPending:    st.ReconnectPending,
		ConsecutiveFailures: st.ConsecutiveFailures,
		LastError:           st.LastError,
		LastConnectedAt:     st.LastConnectedAt,
		LastDisconnectedAt:  st.LastDisconnectedAt,
	}
}

func (s *Server) previewHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	frame, updatedAt, ok := s.hub.Preview.Frame()
	if !ok {
		s.writeError(w, http.StatusNotFound, model.ErrRefNotFound, "no preview frame")
		return
	}
	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Last-Modified", updatedAt.UTC().Format(http.TimeFormat))
	w.Header().Set("Content-Length", strconv.Itoa(len(frame)))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(frame)
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func (s *Server) writeError(w http.ResponseWriter, status int, code, msg string) {
	resp := api.ErrorResponse{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Error: api.APIError{
			Code:    code,
			Message: msg,
		},
	}
	s.writeJSON(w, status, resp)
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, allow ...string) {
	if len(allow) > 0 {
		w.Header().Set("Allow", strings.Join(allow, ", "))
	}
	s.writeError(w, http.StatusMethodNotAllowed, model.ErrRefInvalid, "method not allowed")
}

func (s *Server) acquireLock() error {
	lockPath := s.cfg.SocketPath + ".lock"
	if err := os.MkdirAll(filepath.Dir(lockPath), 0o755); err != nil {
		return fmt.Errorf("create lock dir: %w", err)
	}
	f, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o600)
	if err != nil {
		return fmt.Errorf("open lock file: %w", err)
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_EX|unix.LOCK_NB); err != nil {
		f.Close() //nolint:errcheck
		return fmt.Errorf("daemon already running")
	}
	s.mu.Lock()
	s.lockFile = f
	s.mu.Unlock()
	return nil
}

func (s *Server) releaseLock() error {
	s.mu.Lock()
	f := s.lockFile
	s.lockFile = nil
	s.mu.Unlock()
	if f == nil {
		return nil
	}
	if err := unix.Flock(int(f.Fd()), unix.LOCK_UN); err != nil {
		f.Close() //nolint:errcheck
		return err
	}
	return f.Close()
}
