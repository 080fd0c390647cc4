package daemon

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/g960059/qsyspanel/internal/api"
	"github.com/g960059/qsyspanel/internal/model"
	"github.com/g960059/qsyspanel/internal/panel"
)

// watchHandler streams NDJSON snapshot lines. The cursor sequence is the hub
// version, so a client resuming at the current version waits for the next
// change, and a stale or foreign cursor gets a reset line first.
func (s *Server) watchHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	q := r.URL.Query()
	cursorStreamID, cursorSeq, hasCursor, err := parseCursor(q.Get("cursor"))
	if err != nil {
		s.writeError(w, http.StatusBadRequest, model.ErrCursorInvalid, "invalid cursor")
		return
	}
	once := q.Get("once") == "1" || q.Get("once") == "true"

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(http.StatusOK)
	enc := json.NewEncoder(w)
	flusher, _ := w.(http.Flusher)
	flush := func() {
		if flusher != nil {
			flusher.Flush()
		}
	}
	generatedAt := time.Now().UTC()
	ctx := r.Context()

	after := s.hub.Version()
	emitNow := !hasCursor
	if hasCursor && (cursorStreamID != s.streamID || uint64(cursorSeq) != after) {
		seq := int64(after)
		_ = enc.Encode(api.WatchLine{
			SchemaVersion: api.SchemaVersion,
			GeneratedAt:   generatedAt,
			EmittedAt:     time.Now().UTC(),
			StreamID:      s.streamID,
			Cursor:        s.cursor(seq),
			Type:          "reset",
			Sequence:      seq,
		})
		flush()
		emitNow = true
	}

	for {
		var snap panel.Snapshot
		if emitNow {
			snap = s.hub.Snapshot()
		} else if snap, err = s.hub.Wait(ctx, after); err != nil {
			return
		}
		seq := int64(snap.Version)
		if err := enc.Encode(api.WatchLine{
			SchemaVersion: api.SchemaVersion,
			GeneratedAt:   generatedAt,
			EmittedAt:     time.Now().UTC(),
			StreamID:      s.streamID,
			Cursor:        s.cursor(seq),
			Type:          "snapshot",
			Sequence:      seq,
			Panels:        &snap,
		}); err != nil {
			return
		}
		flush()
		if once {
			return
		}
		after = snap.Version
		emitNow = false
	}
}

func (s *Server) cursor(seq int64) string {
	return fmt.Sprintf("%s:%d", s.streamID, seq)
}

func parseCursor(raw string) (string, int64, bool, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", 0, false, nil
	}
	parts := strings.SplitN(raw, ":", 2)
	if len(parts) != 2 || strings.TrimSpace(parts[0]) == "" {
		return "", 0, false, fmt.Errorf("invalid cursor format")
	}
	seq, err := strconv.ParseInt(parts[1], 10, 64)
	if err != nil || seq < 0 {
		return "", 0, false, fmt.Errorf("invalid cursor sequence")
	}
	return parts[0], seq, true, nil
}
