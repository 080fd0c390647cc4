package qrwc

import (
	"bytes"
	"encoding/json"
	"fmt"
)

const (
	methodGetComponents   = "Component.GetComponents"
	methodGetControls     = "Component.GetControls"
	methodComponentSet    = "Component.Set"
	methodAddControls     = "ChangeGroup.AddComponentControl"
	methodAutoPoll        = "ChangeGroup.AutoPoll"
	methodChangeGroupPoll = "ChangeGroup.Poll"
	methodEngineStatus    = "EngineStatus"
	methodNoOp            = "NoOp"

	jsonRPCVersion = "2.0"
)

type request struct {
	JSONRPC string `json:"jsonrpc"`
	ID      int64  `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

// message is any inbound frame: a response (ID set) or a notification.
type message struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *int64          `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *RPCError       `json:"error,omitempty"`
}

// RPCError is a JSON-RPC error object returned by the core.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	if e == nil {
		return ""
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

type componentWire struct {
	Name string `json:"Name"`
	Type string `json:"Type"`
}

type controlWire struct {
	Name      string          `json:"Name"`
	Type      string          `json:"Type"`
	Value     json.RawMessage `json:"Value"`
	ValueMin  float64         `json:"ValueMin"`
	ValueMax  float64         `json:"ValueMax"`
	String    string          `json:"String"`
	Position  float64         `json:"Position"`
	Direction string          `json:"Direction"`
}

type getControlsParams struct {
	Name string `json:"Name"`
}

type getControlsResult struct {
	Name     string        `json:"Name"`
	Controls []controlWire `json:"Controls"`
}

type controlName struct {
	Name string `json:"Name"`
}

type changeGroupComponent struct {
	Name     string        `json:"Name"`
	Controls []controlName `json:"Controls"`
}

type addControlsParams struct {
	ID        string               `json:"Id"`
	Component changeGroupComponent `json:"Component"`
}

type autoPollParams struct {
	ID   string  `json:"Id"`
	Rate float64 `json:"Rate"`
}

type setControl struct {
	Name  string `json:"Name"`
	Value any    `json:"Value"`
}

type setParams struct {
	Name     string       `json:"Name"`
	Controls []setControl `json:"Controls"`
}

type changeWire struct {
	Component string          `json:"Component"`
	Name      string          `json:"Name"`
	Value     json.RawMessage `json:"Value"`
	String    string          `json:"String"`
	Position  float64         `json:"Position"`
}

type pollParams struct {
	ID      string       `json:"Id"`
	Changes []changeWire `json:"Changes"`
}

// decodeValue accepts numeric or boolean values; anything else reads as 0.
func decodeValue(raw json.RawMessage) float64 {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return 0
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return f
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil && b {
		return 1
	}
	return 0
}
