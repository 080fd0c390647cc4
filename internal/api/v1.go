package api

import (
	"encoding/json"
	"time"

	"github.com/g960059/qsyspanel/internal/panel"
)

const SchemaVersion = "v1"

type APIError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	SchemaVersion string    `json:"schema_version"`
	GeneratedAt   time.Time `json:"generated_at"`
	Error         APIError  `json:"error"`
}

type PanelsResponse struct {
	SchemaVersion string         `json:"schema_version"`
	GeneratedAt   time.Time      `json:"generated_at"`
	Panels        panel.Snapshot `json:"panels"`
}

// PanelResponse carries one panel's snapshot. Writes answer with it too,
// reflecting the optimistic state.
type PanelResponse struct {
	SchemaVersion string            `json:"schema_version"`
	GeneratedAt   time.Time         `json:"generated_at"`
	Panel         string            `json:"panel"`
	Version       uint64            `json:"version"`
	State         json.RawMessage   `json:"state"`
	Move          *panel.MoveResult `json:"move,omitempty"`
}

// ValueRequest gives either a raw value or a slider position in [0,1].
type ValueRequest struct {
	Value    *float64 `json:"value,omitempty"`
	Position *float64 `json:"position,omitempty"`
}

type BandWriteRequest struct {
	Field    string   `json:"field"`
	Value    *float64 `json:"value,omitempty"`
	Position *float64 `json:"position,omitempty"`
}

type ParamWriteRequest struct {
	Param    string   `json:"param"`
	Value    *float64 `json:"value,omitempty"`
	Position *float64 `json:"position,omitempty"`
}

// BypassRequest toggles when Bypass is absent.
type BypassRequest struct {
	Bypass *bool `json:"bypass,omitempty"`
}

// MuteRequest toggles when Muted is absent.
type MuteRequest struct {
	Muted *bool `json:"muted,omitempty"`
}

type CameraSelectRequest struct {
	Camera int `json:"camera"`
}

type PTZMoveRequest struct {
	Pan  float64 `json:"pan"`
	Tilt float64 `json:"tilt"`
}

type PTZZoomRequest struct {
	Direction string `json:"direction"`
	Pressed   bool   `json:"pressed"`
}

type VideoAssignRequest struct {
	Display int `json:"display"`
	Source  int `json:"source"`
}

type VideoResetRequest struct {
	Display int `json:"display"`
}

type WatchLine struct {
	SchemaVersion string          `json:"schema_version"`
	GeneratedAt   time.Time       `json:"generated_at"`
	EmittedAt     time.Time       `json:"emitted_at"`
	StreamID      string          `json:"stream_id"`
	Cursor        string          `json:"cursor"`
	Type          string          `json:"type"`
	Sequence      int64           `json:"sequence"`
	Panels        *panel.Snapshot `json:"panels,omitempty"`
}

type WriteRecordResponse struct {
	WriteID      string  `json:"write_id"`
	Component    string  `json:"component"`
	Control      string  `json:"control"`
	Value        string  `json:"value"`
	RequestedAt  string  `json:"requested_at"`
	CompletedAt  *string `json:"completed_at,omitempty"`
	Result       string  `json:"result"`
	ErrorMessage *string `json:"error_message,omitempty"`
}

type WritesEnvelope struct {
	SchemaVersion string                `json:"schema_version"`
	GeneratedAt   time.Time             `json:"generated_at"`
	Writes        []WriteRecordResponse `json:"writes"`
}

type ConnectionEventResponse struct {
	EventID    string `json:"event_id"`
	Generation uint64 `json:"generation"`
	EventType  string `json:"event_type"`
	Detail     string `json:"detail,omitempty"`
	OccurredAt string `json:"occurred_at"`
}

type ConnectionEventsEnvelope struct {
	SchemaVersion string                    `json:"schema_version"`
	GeneratedAt   time.Time                 `json:"generated_at"`
	Events        []ConnectionEventResponse `json:"events"`
}
