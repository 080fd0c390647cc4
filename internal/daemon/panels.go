package daemon

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/g960059/qsyspanel/internal/api"
	"github.com/g960059/qsyspanel/internal/curve"
	"github.com/g960059/qsyspanel/internal/model"
	"github.com/g960059/qsyspanel/internal/panel"
)

var panelNames = []string{"eq", "compressor", "limiter", "delay", "gain", "camera", "ptz", "preview", "video"}

func (s *Server) panelsHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		s.methodNotAllowed(w, http.MethodGet)
		return
	}
	s.writeJSON(w, http.StatusOK, api.PanelsResponse{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Panels:        s.hub.Snapshot(),
	})
}

func (s *Server) panelRouteHandler(w http.ResponseWriter, r *http.Request) {
	tail := strings.Trim(strings.TrimPrefix(r.URL.Path, "/v1/panels/"), "/")
	parts := strings.Split(tail, "/")
	name := parts[0]
	if !knownPanel(name) {
		s.writeError(w, http.StatusNotFound, model.ErrRefNotFound, "panel not found")
		return
	}
	if len(parts) == 1 && r.Method == http.MethodGet {
		s.writePanel(w, http.StatusOK, name, nil)
		return
	}
	if r.Method != http.MethodPost {
		s.methodNotAllowed(w, http.MethodPost)
		return
	}

	var (
		move *panel.MoveResult
		err  error
	)
	route := strings.Join(parts[1:], "/")
	switch {
	case name == "eq" && len(parts) == 3 && parts[1] == "bands":
		err = s.setEQBand(r, parts[2])
	case route == "bypass" && (name == "eq" || name == "compressor" || name == "limiter"):
		err = s.setBypass(r, name)
	case route == "params" && (name == "compressor" || name == "limiter"):
		err = s.setParam(r, name)
	case name == "delay" && route == "":
		err = s.setDelay(r)
	case name == "gain" && route == "":
		err = s.setGain(r)
	case name == "gain" && route == "mute":
		err = s.setMute(r)
	case name == "camera" && route == "select":
		var req api.CameraSelectRequest
		if err = decodeBody(r, &req, false); err == nil {
			err = s.hub.Camera.Select(req.Camera)
		}
	case name == "ptz" && route == "move":
		var req api.PTZMoveRequest
		if err = decodeBody(r, &req, false); err == nil {
			var res panel.MoveResult
			res, err = s.hub.PTZ.Move(req.Pan, req.Tilt)
			move = &res
		}
	case name == "ptz" && route == "stop":
		s.hub.PTZ.Stop()
	case name == "ptz" && route == "zoom":
		var req api.PTZZoomRequest
		if err = decodeBody(r, &req, false); err == nil {
			err = s.hub.PTZ.Zoom(strings.TrimSpace(req.Direction), req.Pressed)
		}
	case name == "video" && route == "assign":
		var req api.VideoAssignRequest
		if err = decodeBody(r, &req, false); err == nil {
			err = s.hub.Video.Assign(req.Display, req.Source)
		}
	case name == "video" && route == "reset":
		var req api.VideoResetRequest
		if err = decodeBody(r, &req, false); err == nil {
			err = s.hub.Video.Reset(req.Display)
		}
	default:
		s.writeError(w, http.StatusNotFound, model.ErrRefNotFound, "panel route not found")
		return
	}
	if err != nil {
		s.writePanelError(w, err)
		return
	}
	s.writePanel(w, http.StatusAccepted, name, move)
}

func knownPanel(name string) bool {
	for _, n := range panelNames {
		if n == name {
			return true
		}
	}
	return false
}

func (s *Server) setEQBand(r *http.Request, rawBand string) error {
	band, err := strconv.Atoi(rawBand)
	if err != nil {
		return fmt.Errorf("%w: band %q", errBadRequest, rawBand)
	}
	var req api.BandWriteRequest
	if err := decodeBody(r, &req, false); err != nil {
		return err
	}
	field, err := panel.ParseBandField(strings.TrimSpace(req.Field))
	if err != nil {
		return err
	}
	value, err := resolveValue(field.Fader(), req.Value, req.Position)
	if err != nil {
		return err
	}
	return s.hub.EQ.SetBand(band, field, value)
}

type bypasser interface {
	SetBypass(on bool)
	ToggleBypass() bool
}

func (s *Server) setBypass(r *http.Request, name string) error {
	var req api.BypassRequest
	if err := decodeBody(r, &req, true); err != nil {
		return err
	}
	var target bypasser
	switch name {
	case "eq":
		target = s.hub.EQ
	case "compressor":
		target = s.hub.Compressor
	default:
		target = s.hub.Limiter
	}
	if req.Bypass == nil {
		target.ToggleBypass()
	} else {
		target.SetBypass(*req.Bypass)
	}
	return nil
}

type paramSetter interface {
	Lookup(name string) (panel.Param, error)
	Set(name string, value float64) (float64, error)
}

func (s *Server) setParam(r *http.Request, name string) error {
	var req api.ParamWriteRequest
	if err := decodeBody(r, &req, false); err != nil {
		return err
	}
	var target paramSetter = s.hub.Limiter
	if name == "compressor" {
		target = s.hub.Compressor
	}
	p, err := target.Lookup(strings.TrimSpace(req.Param))
	if err != nil {
		return err
	}
	value, err := resolveValue(p.Fader, req.Value, req.Position)
	if err != nil {
		return err
	}
	_, err = target.Set(p.Name, value)
	return err
}

func (s *Server) setDelay(r *http.Request) error {
	var req api.ValueRequest
	if err := decodeBody(r, &req, false); err != nil {
		return err
	}
	value, err := resolveValue(curve.DelayFader, req.Value, req.Position)
	if err != nil {
		return err
	}
	s.hub.Delay.Set(value)
	return nil
}

func (s *Server) setGain(r *http.Request) error {
	var req api.ValueRequest
	if err := decodeBody(r, &req, false); err != nil {
		return err
	}
	value, err := resolveValue(curve.GainFader, req.Value, req.Position)
	if err != nil {
		return err
	}
	s.hub.Gain.SetGain(value)
	return nil
}

func (s *Server) setMute(r *http.Request) error {
	var req api.MuteRequest
	if err := decodeBody(r, &req, true); err != nil {
		return err
	}
	if req.Muted == nil {
		s.hub.Gain.ToggleMute()
	} else {
		s.hub.Gain.SetMute(*req.Muted)
	}
	return nil
}

var errBadRequest = errors.New("invalid request")

// decodeBody rejects unknown fields. allowEmpty accepts a missing body.
func decodeBody(r *http.Request, v any, allowEmpty bool) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if allowEmpty && errors.Is(err, io.EOF) {
			return nil
		}
		return fmt.Errorf("%w: %v", errBadRequest, err)
	}
	return nil
}

// resolveValue prefers a slider position over a raw value.
func resolveValue(f curve.Fader, value, position *float64) (float64, error) {
	switch {
	case position != nil:
		if math.IsNaN(*position) || *position < 0 || *position > 1 {
			return 0, fmt.Errorf("%w: position must be within [0,1]", panel.ErrOutOfRange)
		}
		return f.FromPosition(*position), nil
	case value != nil:
		if math.IsNaN(*value) || math.IsInf(*value, 0) {
			return 0, fmt.Errorf("%w: value must be finite", panel.ErrOutOfRange)
		}
		return *value, nil
	default:
		return 0, fmt.Errorf("%w: value or position is required", errBadRequest)
	}
}

func (s *Server) writePanelError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBadRequest),
		errors.Is(err, panel.ErrOutOfRange),
		errors.Is(err, panel.ErrUnknownParam),
		errors.Is(err, panel.ErrInvalidControlName):
		s.writeError(w, http.StatusBadRequest, model.ErrRefInvalid, err.Error())
	default:
		s.log.WithError(err).Error("panel write failed")
		s.writeError(w, http.StatusInternalServerError, model.ErrPreconditionFailed, err.Error())
	}
}

func (s *Server) writePanel(w http.ResponseWriter, status int, name string, move *panel.MoveResult) {
	version := s.hub.Version()
	var state any
	switch name {
	case "eq":
		state = s.hub.EQ.Snapshot()
	case "compressor":
		state = s.hub.Compressor.Snapshot()
	case "limiter":
		state = s.hub.Limiter.Snapshot()
	case "delay":
		state = s.hub.Delay.Snapshot()
	case "gain":
		state = s.hub.Gain.Snapshot()
	case "camera":
		state = s.hub.Camera.Snapshot()
	case "ptz":
		state = s.hub.PTZ.Snapshot()
	case "preview":
		state = s.hub.Preview.Snapshot()
	case "video":
		state = s.hub.Video.Snapshot()
	}
	raw, err := json.Marshal(state)
	if err != nil {
		s.writeError(w, http.StatusInternalServerError, model.ErrPreconditionFailed, err.Error())
		return
	}
	s.writeJSON(w, status, api.PanelResponse{
		SchemaVersion: api.SchemaVersion,
		GeneratedAt:   time.Now().UTC(),
		Panel:         name,
		Version:       version,
		State:         raw,
		Move:          move,
	})
}
