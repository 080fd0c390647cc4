package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

const corePath = "/qrc-public-api/v0"

// CoreControl seeds one control on a CoreServer component.
type CoreControl struct {
	Name     string
	Type     string
	Value    float64
	String   string
	ValueMin float64
	ValueMax float64
}

// CoreSet is a Component.Set the server accepted.
type CoreSet struct {
	Component string
	Control   string
	Value     float64
}

// CoreServer speaks the core's JSON-RPC websocket protocol for tests.
type CoreServer struct {
	srv      *httptest.Server
	upgrader websocket.Upgrader

	mu         sync.Mutex
	writeMu    sync.Mutex
	components map[string]map[string]*CoreControl
	conns      []*websocket.Conn
	sets       []CoreSet
	methods    []string
	failSet    map[string]string
	groupID    string
	echo       bool
	connected  chan struct{}
}

func NewCoreServer(t *testing.T) *CoreServer {
	t.Helper()
	s := &CoreServer{
		components: map[string]map[string]*CoreControl{},
		failSet:    map[string]string{},
		echo:       true,
		connected:  make(chan struct{}, 16),
	}
	mux := http.NewServeMux()
	mux.HandleFunc(corePath, s.handle)
	s.srv = httptest.NewServer(mux)
	t.Cleanup(s.Close)
	return s
}

func (s *CoreServer) AddComponent(name string, controls ...CoreControl) {
	s.mu.Lock()
	defer s.mu.Unlock()
	comp := s.components[name]
	if comp == nil {
		comp = map[string]*CoreControl{}
		s.components[name] = comp
	}
	for i := range controls {
		ctl := controls[i]
		if ctl.Type == "" {
			ctl.Type = "Float"
		}
		comp[ctl.Name] = &ctl
	}
}

// Host is the host:port a client should dial.
func (s *CoreServer) Host() string {
	return strings.TrimPrefix(s.srv.URL, "http://")
}

func (s *CoreServer) Endpoint() string {
	return "ws://" + s.Host() + corePath
}

// SetEcho controls whether accepted writes are echoed as poll changes.
func (s *CoreServer) SetEcho(echo bool) {
	s.mu.Lock()
	s.echo = echo
	s.mu.Unlock()
}

func (s *CoreServer) FailSets(component, control, message string) {
	s.mu.Lock()
	s.failSet[component+"."+control] = message
	s.mu.Unlock()
}

func (s *CoreServer) Sets() []CoreSet {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]CoreSet(nil), s.sets...)
}

func (s *CoreServer) Methods() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.methods...)
}

// WaitConnected blocks until a client finishes negotiation (AutoPoll).
func (s *CoreServer) WaitConnected(timeout time.Duration) bool {
	select {
	case <-s.connected:
		return true
	case <-time.After(timeout):
		return false
	}
}

// Push sends a poll notification for one control to every client.
func (s *CoreServer) Push(component, control string, value float64, str string) error {
	s.mu.Lock()
	if comp := s.components[component]; comp != nil {
		if ctl := comp[control]; ctl != nil {
			ctl.Value = value
			ctl.String = str
		}
	}
	groupID := s.groupID
	conns := append([]*websocket.Conn(nil), s.conns...)
	s.mu.Unlock()
	return s.broadcast(conns, pollFrame(groupID, component, control, value, str))
}

// SendRaw writes an arbitrary text frame to every client.
func (s *CoreServer) SendRaw(frame string) error {
	s.mu.Lock()
	conns := append([]*websocket.Conn(nil), s.conns...)
	s.mu.Unlock()
	return s.broadcast(conns, []byte(frame))
}

// DropConnections closes client sockets without a close handshake.
func (s *CoreServer) DropConnections() {
	s.mu.Lock()
	conns := s.conns
	s.conns = nil
	s.mu.Unlock()
	for _, conn := range conns {
		_ = conn.Close()
	}
}

func (s *CoreServer) Close() {
	s.DropConnections()
	s.srv.Close()
}

func (s *CoreServer) broadcast(conns []*websocket.Conn, frame []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	for _, conn := range conns {
		if err := conn.WriteMessage(websocket.TextMessage, frame); err != nil {
			return err
		}
	}
	return nil
}

type coreRequest struct {
	ID     *int64          `json:"id"`
	Method string          `json:"method"`
	Params json.RawMessage `json:"params"`
}

func (s *CoreServer) handle(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conns = append(s.conns, conn)
	s.mu.Unlock()
	defer conn.Close() //nolint:errcheck

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var req coreRequest
		if err := json.Unmarshal(data, &req); err != nil || req.ID == nil {
			continue
		}
		result, rpcErr, after := s.serve(req)
		resp := map[string]any{"jsonrpc": "2.0", "id": *req.ID}
		if rpcErr != nil {
			resp["error"] = rpcErr
		} else {
			resp["result"] = result
		}
		buf, _ := json.Marshal(resp)
		if err := s.broadcast([]*websocket.Conn{conn}, buf); err != nil {
			return
		}
		if after != nil {
			after(conn)
		}
	}
}

func (s *CoreServer) serve(req coreRequest) (any, map[string]any, func(*websocket.Conn)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.methods = append(s.methods, req.Method)

	switch req.Method {
	case "NoOp":
		return true, nil, nil
	case "Component.GetComponents":
		names := make([]string, 0, len(s.components))
		for name := range s.components {
			names = append(names, name)
		}
		sort.Strings(names)
		out := make([]map[string]any, 0, len(names))
		for _, name := range names {
			out = append(out, map[string]any{"Name": name, "Type": "custom"})
		}
		return out, nil, nil
	case "Component.GetControls":
		var p struct{ Name string }
		_ = json.Unmarshal(req.Params, &p)
		comp, ok := s.components[p.Name]
		if !ok {
			return nil, rpcError(8, "unknown component "+p.Name), nil
		}
		controls := make([]map[string]any, 0, len(comp))
		for _, name := range sortedKeys(comp) {
			ctl := comp[name]
			controls = append(controls, map[string]any{
				"Name":      ctl.Name,
				"Type":      ctl.Type,
				"Value":     ctl.Value,
				"String":    ctl.String,
				"Position":  0,
				"ValueMin":  ctl.ValueMin,
				"ValueMax":  ctl.ValueMax,
				"Direction": "Read/Write",
			})
		}
		return map[string]any{"Name": p.Name, "Controls": controls}, nil, nil
	case "ChangeGroup.AddComponentControl":
		var p struct{ Id string }
		_ = json.Unmarshal(req.Params, &p)
		s.groupID = p.Id
		return true, nil, nil
	case "ChangeGroup.AutoPoll":
		select {
		case s.connected <- struct{}{}:
		default:
		}
		return true, nil, nil
	case "Component.Set":
		return s.applySet(req.Params)
	default:
		return nil, rpcError(-32601, "method not found"), nil
	}
}

func (s *CoreServer) applySet(raw json.RawMessage) (any, map[string]any, func(*websocket.Conn)) {
	var p struct {
		Name     string
		Controls []struct {
			Name  string
			Value json.RawMessage
		}
	}
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, rpcError(-32602, "invalid params"), nil
	}
	comp := s.components[p.Name]
	var frames [][]byte
	for _, c := range p.Controls {
		if msg, ok := s.failSet[p.Name+"."+c.Name]; ok {
			return nil, rpcError(9, msg), nil
		}
		ctl := comp[c.Name]
		if ctl == nil {
			return nil, rpcError(9, fmt.Sprintf("unknown control %s.%s", p.Name, c.Name)), nil
		}
		value := rawNumber(c.Value)
		ctl.Value = value
		s.sets = append(s.sets, CoreSet{Component: p.Name, Control: c.Name, Value: value})
		if s.echo {
			frames = append(frames, pollFrame(s.groupID, p.Name, c.Name, value, ctl.String))
		}
	}
	if len(frames) == 0 {
		return true, nil, nil
	}
	return true, nil, func(conn *websocket.Conn) {
		s.writeMu.Lock()
		defer s.writeMu.Unlock()
		for _, frame := range frames {
			_ = conn.WriteMessage(websocket.TextMessage, frame)
		}
	}
}

func pollFrame(groupID, component, control string, value float64, str string) []byte {
	frame := map[string]any{
		"jsonrpc": "2.0",
		"method":  "ChangeGroup.Poll",
		"params": map[string]any{
			"Id": groupID,
			"Changes": []map[string]any{{
				"Component": component,
				"Name":      control,
				"Value":     value,
				"String":    str,
				"Position":  0,
			}},
		},
	}
	buf, _ := json.Marshal(frame)
	return buf
}

func rpcError(code int, message string) map[string]any {
	return map[string]any{"code": code, "message": message}
}

func rawNumber(raw json.RawMessage) float64 {
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

func sortedKeys(m map[string]*CoreControl) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
