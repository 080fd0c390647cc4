package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/g960059/qsyspanel/internal/model"
)

var (
	ErrNotFound  = errors.New("not found")
	ErrDuplicate = errors.New("duplicate")
)

const defaultListLimit = 100

// Fixed-width timestamps keep lexical order equal to time order.
const tsLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store records outbound writes and connection lifecycle events.
type Store struct {
	db *sql.DB
}

func Open(ctx context.Context, path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	if err := os.Chmod(path, 0o600); err != nil && !errors.Is(err, os.ErrNotExist) {
		_ = db.Close()
		return nil, fmt.Errorf("chmod journal path: %w", err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

// BeginWrite stores a pending write. WriteID and RequestedAt are filled when empty.
func (s *Store) BeginWrite(ctx context.Context, rec model.WriteRecord) (model.WriteRecord, error) {
	if strings.TrimSpace(rec.Component) == "" || strings.TrimSpace(rec.Control) == "" {
		return model.WriteRecord{}, fmt.Errorf("component and control are required")
	}
	if rec.WriteID == "" {
		rec.WriteID = uuid.NewString()
	}
	if rec.RequestedAt.IsZero() {
		rec.RequestedAt = time.Now().UTC()
	}
	if rec.ValueJSON == "" {
		rec.ValueJSON = "null"
	}
	rec.Result = model.WritePending
	rec.CompletedAt = nil
	rec.ErrorMessage = nil
	_, err := s.db.ExecContext(ctx, `
INSERT INTO writes(write_id, component, control, value_json, requested_at, result_code)
VALUES (?, ?, ?, ?, ?, ?)
`, rec.WriteID, rec.Component, rec.Control, rec.ValueJSON, ts(rec.RequestedAt), string(rec.Result))
	if err != nil {
		if isUniqueErr(err) {
			return model.WriteRecord{}, ErrDuplicate
		}
		return model.WriteRecord{}, fmt.Errorf("insert write: %w", err)
	}
	return rec, nil
}

// CompleteWrite records the outcome of a pending write.
func (s *Store) CompleteWrite(ctx context.Context, writeID string, result model.WriteResult, completedAt time.Time, errMsg *string) error {
	if completedAt.IsZero() {
		completedAt = time.Now().UTC()
	}
	res, err := s.db.ExecContext(ctx, `
UPDATE writes SET result_code = ?, completed_at = ?, error_message = ?
WHERE write_id = ?
`, string(result), ts(completedAt), nullableStr(errMsg), writeID)
	if err != nil {
		return fmt.Errorf("complete write: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("complete write rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *Store) GetWrite(ctx context.Context, writeID string) (model.WriteRecord, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT write_id, component, control, value_json, requested_at, completed_at, result_code, error_message
FROM writes WHERE write_id = ?
`, writeID)
	rec, err := scanWrite(row)
	if errors.Is(err, sql.ErrNoRows) {
		return model.WriteRecord{}, ErrNotFound
	}
	return rec, err
}

type WriteFilter struct {
	Component string
	Limit     int
}

// ListWrites returns the newest writes first.
func (s *Store) ListWrites(ctx context.Context, filter WriteFilter) ([]model.WriteRecord, error) {
	query := `
SELECT write_id, component, control, value_json, requested_at, completed_at, result_code, error_message
FROM writes`
	args := make([]any, 0, 2)
	if filter.Component != "" {
		query += ` WHERE component = ?`
		args = append(args, filter.Component)
	}
	query += ` ORDER BY requested_at DESC, write_id ASC LIMIT ?`
	args = append(args, clampLimit(filter.Limit))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list writes: %w", err)
	}
	defer rows.Close()

	out := make([]model.WriteRecord, 0)
	for rows.Next() {
		rec, err := scanWrite(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iter writes: %w", err)
	}
	return out, nil
}

func (s *Store) AppendConnectionEvent(ctx context.Context, ev model.ConnectionEvent) (model.ConnectionEvent, error) {
	if ev.EventType == "" {
		return model.ConnectionEvent{}, fmt.Errorf("event_type is required")
	}
	if ev.EventID == "" {
		ev.EventID = uuid.NewString()
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO connection_events(event_id, generation, event_type, detail, occurred_at)
VALUES (?, ?, ?, ?, ?)
`, ev.EventID, int64(ev.Generation), string(ev.EventType), ev.Detail, ts(ev.OccurredAt))
	if err != nil {
		if isUniqueErr(err) {
			return model.ConnectionEvent{}, ErrDuplicate
		}
		return model.ConnectionEvent{}, fmt.Errorf("insert connection event: %w", err)
	}
	return ev, nil
}

// ListConnectionEvents returns the newest events first.
func (s *Store) ListConnectionEvents(ctx context.Context, limit int) ([]model.ConnectionEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
SELECT event_id, generation, event_type, detail, occurred_at
FROM connection_events
ORDER BY occurred_at DESC, event_id ASC
LIMIT ?
`, clampLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("list connection events: %w", err)
	}
	defer rows.Close()

	out := make([]model.ConnectionEvent, 0)
	for rows.Next() {
		var (
			ev         model.ConnectionEvent
			generation int64
			eventType  string
			occurredAt string
		)
		if err := rows.Scan(&ev.EventID, &generation, &eventType, &ev.Detail, &occurredAt); err != nil {
			return nil, fmt.Errorf("scan connection event: %w", err)
		}
		ev.Generation = uint64(generation)
		ev.EventType = model.ConnectionEventType(eventType)
		t, err := parseTS(occurredAt)
		if err != nil {
			return nil, fmt.Errorf("parse occurred_at: %w", err)
		}
		ev.OccurredAt = t
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iter connection events: %w", err)
	}
	return out, nil
}

// PurgeBefore drops finished writes and connection events older than cutoff.
// Pending writes are kept so an in-flight completion still finds its row.
func (s *Store) PurgeBefore(ctx context.Context, cutoff time.Time) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin retention tx: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM writes WHERE requested_at < ? AND result_code != 'pending'`, ts(cutoff)); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("delete old writes: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM connection_events WHERE occurred_at < ?`, ts(cutoff)); err != nil {
		tx.Rollback() //nolint:errcheck
		return fmt.Errorf("delete old connection events: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit retention tx: %w", err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanWrite(row rowScanner) (model.WriteRecord, error) {
	var (
		rec         model.WriteRecord
		requestedAt string
		completedAt sql.NullString
		result      string
		errMsg      sql.NullString
	)
	if err := row.Scan(&rec.WriteID, &rec.Component, &rec.Control, &rec.ValueJSON, &requestedAt, &completedAt, &result, &errMsg); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return model.WriteRecord{}, err
		}
		return model.WriteRecord{}, fmt.Errorf("scan write: %w", err)
	}
	t, err := parseTS(requestedAt)
	if err != nil {
		return model.WriteRecord{}, fmt.Errorf("parse requested_at: %w", err)
	}
	rec.RequestedAt = t
	if completedAt.Valid {
		c, err := parseTS(completedAt.String)
		if err != nil {
			return model.WriteRecord{}, fmt.Errorf("parse completed_at: %w", err)
		}
		rec.CompletedAt = &c
	}
	rec.Result = model.WriteResult(result)
	if errMsg.Valid {
		msg := errMsg.String
		rec.ErrorMessage = &msg
	}
	return rec, nil
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	if limit > 1000 {
		return 1000
	}
	return limit
}

func nullableStr(v *string) any {
	if v == nil {
		return nil
	}
	return *v
}

func ts(t time.Time) string {
	return t.UTC().Format(tsLayout)
}

func parseTS(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, s)
}

func isUniqueErr(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") || strings.Contains(msg, "constraint failed: UNIQUE")
}
