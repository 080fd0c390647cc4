package model

import "time"

// ControlType is the type string a core reports for a control.
type ControlType string

const (
	ControlTypeBoolean ControlType = "Boolean"
	ControlTypeFloat   ControlType = "Float"
	ControlTypeInteger ControlType = "Integer"
	ControlTypeText    ControlType = "Text"
	ControlTypeTrigger ControlType = "Trigger"
)

// ControlState is the mirrored value of one remote control point.
type ControlState struct {
	Type     ControlType
	Value    float64
	String   string
	Position float64
	Bool     bool
}

// NewControlState fills Bool for boolean (or untyped) controls.
func NewControlState(typ ControlType, value float64, str string, position float64) ControlState {
	st := ControlState{
		Type:     typ,
		Value:    value,
		String:   str,
		Position: position,
	}
	if typ == ControlTypeBoolean || typ == "" {
		st.Bool = value != 0
	}
	return st
}

// ConnectionHealth summarizes recent connection outcomes.
type ConnectionHealth string

const (
	ConnectionHealthOK       ConnectionHealth = "ok"
	ConnectionHealthDegraded ConnectionHealth = "degraded"
	ConnectionHealthDown     ConnectionHealth = "down"
)

type ConnectionEventType string

const (
	ConnectionEventConnected          ConnectionEventType = "connected"
	ConnectionEventConnectFailed      ConnectionEventType = "connect_failed"
	ConnectionEventDisconnected       ConnectionEventType = "disconnected"
	ConnectionEventError              ConnectionEventType = "error"
	ConnectionEventReconnectScheduled ConnectionEventType = "reconnect_scheduled"
	ConnectionEventClosed             ConnectionEventType = "closed"
)

type ConnectionEvent struct {
	EventID    string
	Generation uint64
	EventType  ConnectionEventType
	Detail     string
	OccurredAt time.Time
}

type WriteResult string

const (
	WritePending   WriteResult = "pending"
	WriteCompleted WriteResult = "completed"
	WriteFailed    WriteResult = "failed"
	WriteSkipped   WriteResult = "skipped"
)

// WriteRecord is one outbound control write as kept in the journal.
type WriteRecord struct {
	WriteID      string
	Component    string
	Control      string
	ValueJSON    string
	RequestedAt  time.Time
	CompletedAt  *time.Time
	Result       WriteResult
	ErrorMessage *string
}

// Error codes defined by API contract.
const (
	ErrRefInvalid         = "E_REF_INVALID"
	ErrRefInvalidEncoding = "E_REF_INVALID_ENCODING"
	ErrRefNotFound        = "E_REF_NOT_FOUND"
	ErrNotConnected       = "E_NOT_CONNECTED"
	ErrPreconditionFailed = "E_PRECONDITION_FAILED"
	ErrCursorInvalid      = "E_CURSOR_INVALID"
	ErrCoreUnreachable    = "E_CORE_UNREACHABLE"
)
