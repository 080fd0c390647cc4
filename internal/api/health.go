package api

import "time"

type HealthResponse struct {
	SchemaVersion string    `json:"schema_version"`
	GeneratedAt   time.Time `json:"generated_at"`
	Status        string    `json:"status"`
	Connected     bool      `json:"connected"`
	Health        string    `json:"health"`
}

type ConnectionResponse struct {
	SchemaVersion       string     `json:"schema_version"`
	GeneratedAt         time.Time  `json:"generated_at"`
	Connected           bool       `json:"connected"`
	Generation          uint64     `json:"generation"`
	Endpoint            string     `json:"endpoint"`
	Health              string     `json:"health"`
	ReconnectPending    bool       `json:"reconnect_pending"`
	ConsecutiveFailures int        `json:"consecutive_failures"`
	LastError           string     `json:"last_error,omitempty"`
	LastConnectedAt     *time.Time `json:"last_connected_at,omitempty"`
	LastDisconnectedAt  *time.Time `json:"last_disconnected_at,omitempty"`
}
