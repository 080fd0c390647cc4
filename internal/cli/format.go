package cli

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/g960059/qsyspanel/internal/panel"
)

func describePanel(name string, raw json.RawMessage) (string, error) {
	decode := func(v any) error {
		if err := json.Unmarshal(raw, v); err != nil {
			return fmt.Errorf("decode %s state: %w", name, err)
		}
		return nil
	}
	switch name {
	case "eq":
		var s panel.EQSnapshot
		if err := decode(&s); err != nil {
			return "", err
		}
		return formatEQ(s), nil
	case "compressor":
		var s panel.CompressorSnapshot
		if err := decode(&s); err != nil {
			return "", err
		}
		return formatCompressor(s), nil
	case "limiter":
		var s panel.LimiterSnapshot
		if err := decode(&s); err != nil {
			return "", err
		}
		return formatLimiter(s), nil
	case "delay":
		var s panel.DelaySnapshot
		if err := decode(&s); err != nil {
			return "", err
		}
		return formatDelay(s), nil
	case "gain":
		var s panel.GainSnapshot
		if err := decode(&s); err != nil {
			return "", err
		}
		return formatGain(s), nil
	case "camera":
		var s panel.CameraSnapshot
		if err := decode(&s); err != nil {
			return "", err
		}
		return formatCamera(s), nil
	case "ptz":
		var s panel.PTZSnapshot
		if err := decode(&s); err != nil {
			return "", err
		}
		return formatPTZ(s), nil
	case "preview":
		var s panel.PreviewSnapshot
		if err := decode(&s); err != nil {
			return "", err
		}
		return formatPreview(s), nil
	case "video":
		var s panel.VideoSnapshot
		if err := decode(&s); err != nil {
			return "", err
		}
		return formatVideo(s), nil
	default:
		return "", fmt.Errorf("unknown panel %q", name)
	}
}

func header(name, component string, available bool) string {
	if !available {
		return fmt.Sprintf("%s\t%s\tunavailable", name, component)
	}
	return fmt.Sprintf("%s\t%s", name, component)
}

func onOff(v bool) string {
	if v {
		return "on"
	}
	return "off"
}

func formatEQ(s panel.EQSnapshot) string {
	if !s.Available {
		return header("eq", s.Component, false)
	}
	parts := []string{header("eq", s.Component, true), "bypass=" + onOff(s.Bypass)}
	for _, b := range s.Bands {
		parts = append(parts, fmt.Sprintf("band%d=%s/%+.1fdB/Q%.2f", b.Index, b.Label, b.Gain, b.Q))
	}
	return strings.Join(parts, "\t")
}

func formatCompressor(s panel.CompressorSnapshot) string {
	if !s.Available {
		return header("compressor", s.Component, false)
	}
	return fmt.Sprintf("%s\tbypass=%s\tthreshold=%.1fdB\tratio=%.1f:1\tdepth=%.1fdB\tknee=%.1fdB",
		header("compressor", s.Component, true), onOff(s.Bypass), s.Threshold, s.Ratio, s.Depth, s.Knee)
}

func formatLimiter(s panel.LimiterSnapshot) string {
	if !s.Available {
		return header("limiter", s.Component, false)
	}
	return fmt.Sprintf("%s\tbypass=%s\tthreshold=%.1fdB\tattack=%.1fms\trelease=%.1fms",
		header("limiter", s.Component, true), onOff(s.Bypass), s.Threshold, s.Attack, s.Release)
}

func formatDelay(s panel.DelaySnapshot) string {
	if !s.Available {
		return header("delay", s.Component, false)
	}
	return fmt.Sprintf("%s\t%dms", header("delay", s.Component, true), s.Millis)
}

func formatGain(s panel.GainSnapshot) string {
	if !s.Available {
		return header("gain", s.Component, false)
	}
	return fmt.Sprintf("%s\t%+.1fdB\tmute=%s", header("gain", s.Component, true), s.Gain, onOff(s.Muted))
}

func formatCamera(s panel.CameraSnapshot) string {
	if !s.Available {
		return header("camera", s.Component, false)
	}
	active := "none"
	if s.Active >= 0 {
		active = strconv.Itoa(s.Active)
	}
	return fmt.Sprintf("%s\tactive=%s\tcount=%d", header("camera", s.Component, true), active, s.Count)
}

func formatPTZ(s panel.PTZSnapshot) string {
	if !s.Available {
		return header("ptz", s.Component, false)
	}
	pressed := make([]string, 0, len(s.Pressed))
	for _, b := range s.Pressed {
		pressed = append(pressed, string(b))
	}
	line := fmt.Sprintf("%s\tpan=%.2f\ttilt=%.2f\tpressed=[%s]", header("ptz", s.Component, true), s.Pan, s.Tilt, strings.Join(pressed, ","))
	if s.Zoom != "" {
		line += "\tzoom=" + s.Zoom
	}
	return line
}

func formatPreview(s panel.PreviewSnapshot) string {
	if !s.Available {
		return header("preview", s.Component, false)
	}
	if !s.HasFrame {
		return header("preview", s.Component, true) + "\tno frame"
	}
	return fmt.Sprintf("%s\t%d bytes", header("preview", s.Component, true), s.Bytes)
}

func formatVideo(s panel.VideoSnapshot) string {
	if !s.Available {
		return header("video", s.Component, false)
	}
	parts := []string{header("video", s.Component, true), fmt.Sprintf("sources=%d", s.SourceCount)}
	for _, d := range s.Displays {
		src := "none"
		if d.Source != nil {
			src = strconv.Itoa(*d.Source)
		}
		parts = append(parts, fmt.Sprintf("display%d=%s", d.Display, src))
	}
	draggable := make([]string, 0, len(s.Draggable))
	for _, id := range s.Draggable {
		draggable = append(draggable, strconv.Itoa(id))
	}
	parts = append(parts, "draggable=["+strings.Join(draggable, ",")+"]")
	return strings.Join(parts, "\t")
}
