package daemon

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/g960059/qsyspanel/internal/api"
	"github.com/g960059/qsyspanel/internal/journal"
	"github.com/g960059/qsyspanel/internal/model"
)

const journalTimeLayout = time.RFC3339Nano

func (s *Server) journalWritesHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	if s.journal == nil {
		s.writeError(w, http.StatusServiceUnavailable, model.ErrPreconditionFailed, "journal disabled")
		return
	}
	limit, ok := s.parseLimit(w, r)
	if !ok {
		return
	}
	filter := journal.WriteFilter{
		Component: strings.TrimSpace(r.URL.Query().Get("component")),
		Limit:     limit,
	}
	recs, err := s.journal.ListWrites(r.Context(), filter)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, model.ErrPreconditionFailed, err.Error())
		return
	}
	items := make([]api.WriteRecordResponse, 0, len(recs))
	for _, rec := range recs {
		items = append(items, toWriteRecordResponse(rec))
	}
	s.writeJSON(w, http.StatusOK, api.WritesEnvelope{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Writes:        items,
	})
}

func (s *Server) journalConnectionHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	if s.journal == nil {
		s.writeError(w, http.StatusServiceUnavailable, model.ErrPreconditionFailed, "journal disabled")
		return
	}
	limit, ok := s.parseLimit(w, r)
	if !ok {
		return
	}
	events, err := s.journal.ListConnectionEvents(r.Context(), limit)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, model.ErrPreconditionFailed, err.Error())
		return
	}
	items := make([]api.ConnectionEventResponse, 0, len(events))
	for _, ev := range events {
		items = append(items, api.ConnectionEventResponse{
			EventID:    ev.EventID,
			Generation: ev.Generation,
			EventType:  string(ev.EventType),
			Detail:     ev.Detail,
			OccurredAt: ev.OccurredAt.UTC().Format(journalTimeLayout),
		})
	}
	s.writeJSON(w, http.StatusOK, api.ConnectionEventsEnvelope{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Events:        items,
	})
}

func (s *Server) parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := strings.TrimSpace(r.URL.Query().Get("limit"))
	if raw == "" {
		return 0, true
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit < 0 {
		s.writeError(w, http.StatusBadRequest, model.ErrRefInvalid, "limit must be a non-negative integer")
		return 0, false
	}
	return limit, true
}

func toWriteRecordResponse(rec model.WriteRecord) api.WriteRecordResponse {
	out := api.WriteRecordResponse{
		WriteID:      rec.WriteID,
		Component:    rec.Component,
		Control:      rec.Control,
		Value:        rec.ValueJSON,
		RequestedAt:  rec.RequestedAt.UTC().Format(journalTimeLayout),
		Result:       string(rec.Result),
		ErrorMessage: rec.ErrorMessage,
	}
	if rec.CompletedAt != nil {
		v := rec.CompletedAt.UTC().Format(journalTimeLayout)
		out.CompletedAt = &v
	}
	return out
}
