package panel

import (
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/g960059/qsyspanel/internal/config"
	"github.com/g960059/qsyspanel/internal/model"
	"github.com/g960059/qsyspanel/internal/qrwc"
)

const (
	displayPrefix = "hdmi.out."
	displaySuffix = ".select.index"
)

// DisplayControl is the select control of a 1-based display output.
func DisplayControl(display int) string {
	return displayPrefix + strconv.Itoa(display) + displaySuffix
}

// ParseDisplayControl extracts the display id from hdmi.out.<n>.select.index.
func ParseDisplayControl(name string) (int, bool) {
	if !strings.HasPrefix(name, displayPrefix) || !strings.HasSuffix(name, displaySuffix) {
		return 0, false
	}
	mid := strings.TrimSuffix(strings.TrimPrefix(name, displayPrefix), displaySuffix)
	if !allDigits(mid) {
		return 0, false
	}
	n, err := strconv.Atoi(mid)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}

type DisplayView struct {
	Display int `json:"display"`
	// Source is the 0-based source id, or nil when the display shows nothing.
	Source *int `json:"source"`
}

type VideoSnapshot struct {
	Component   string        `json:"component"`
	Available   bool          `json:"available"`
	SourceCount int           `json:"source_count"`
	Displays    []DisplayView `json:"displays"`
	// Draggable lists sources not currently shown on every display.
	Draggable []int `json:"draggable"`
}

// VideoRouter mirrors which source each decoder output shows.
type VideoRouter struct {
	base
	cfg         config.Video
	sourceCount int
	displays    map[int]int
}

func NewVideoRouter(component string, cfg config.Video, deps Deps) *VideoRouter {
	return &VideoRouter{
		base:        newBase(component, deps),
		cfg:         cfg,
		sourceCount: cfg.SourceCount,
		displays:    map[int]int{},
	}
}

// Bind discovers display outputs from their select controls.
func (v *VideoRouter) Bind(sess qrwc.Session) {
	v.mu.Lock()
	v.displays = map[int]int{}
	v.sourceCount = v.cfg.SourceCount
	if sess != nil {
		if comp, ok := sess.Component(v.component); ok {
			for _, name := range comp.ControlNames() {
				display, ok := ParseDisplayControl(name)
				if !ok {
					continue
				}
				v.displays[display] = v.cfg.NoSourceValue
				if info, ok := comp.Control(name); ok && info.HasRange() {
					if n := int(math.Round(info.ValueMax)) - v.cfg.SourceOffset + 1; n > 0 {
						v.sourceCount = n
					}
				}
			}
		}
	}
	v.bindLocked(sess, v.applyLocked)
	v.mu.Unlock()
	v.deps.Changed()
}

func (v *VideoRouter) applyLocked(control string, st model.ControlState) {
	display, ok := ParseDisplayControl(control)
	if !ok {
		return
	}
	v.displays[display] = int(math.Round(st.Value))
}

// sourceOf decodes a select value; ok is false for "no source".
func (v *VideoRouter) sourceOf(value int) (int, bool) {
	if value == v.cfg.NoSourceValue {
		return 0, false
	}
	return value - v.cfg.SourceOffset, true
}

func (v *VideoRouter) checkDisplayLocked(display int) error {
	if _, ok := v.displays[display]; !ok {
		return fmt.Errorf("%w: display %d", ErrOutOfRange, display)
	}
	return nil
}

// Assign routes the 0-based source to a display.
func (v *VideoRouter) Assign(display, source int) error {
	v.mu.Lock()
	if err := v.checkDisplayLocked(display); err != nil {
		v.mu.Unlock()
		return err
	}
	if source < 0 || (v.sourceCount > 0 && source >= v.sourceCount) {
		count := v.sourceCount
		v.mu.Unlock()
		return fmt.Errorf("%w: source %d of %d", ErrOutOfRange, source, count)
	}
	value := source + v.cfg.SourceOffset
	v.displays[display] = value
	comp := v.comp
	v.mu.Unlock()
	v.submit(comp, DisplayControl(display), value)
	v.deps.Changed()
	return nil
}

// Reset clears a display back to "no source".
func (v *VideoRouter) Reset(display int) error {
	v.mu.Lock()
	if err := v.checkDisplayLocked(display); err != nil {
		v.mu.Unlock()
		return err
	}
	v.displays[display] = v.cfg.NoSourceValue
	comp := v.comp
	v.mu.Unlock()
	v.submit(comp, DisplayControl(display), v.cfg.NoSourceValue)
	v.deps.Changed()
	return nil
}

// Available lists the sources that are not shown on every display.
func (v *VideoRouter) Available() []int {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.availableLocked()
}

func (v *VideoRouter) availableLocked() []int {
	onDisplays := make(map[int]int, v.sourceCount)
	for _, value := range v.displays {
		if src, ok := v.sourceOf(value); ok {
			onDisplays[src]++
		}
	}
	out := make([]int, 0, v.sourceCount)
	for src := 0; src < v.sourceCount; src++ {
		if len(v.displays) > 0 && onDisplays[src] == len(v.displays) {
			continue
		}
		out = append(out, src)
	}
	return out
}

func (v *VideoRouter) Snapshot() VideoSnapshot {
	v.mu.Lock()
	defer v.mu.Unlock()
	ids := make([]int, 0, len(v.displays))
	for id := range v.displays {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	views := make([]DisplayView, 0, len(ids))
	for _, id := range ids {
		view := DisplayView{Display: id}
		if src, ok := v.sourceOf(v.displays[id]); ok {
			view.Source = &src
		}
		views = append(views, view)
	}
	return VideoSnapshot{
		Component:   v.component,
		Available:   v.comp != nil,
		SourceCount: v.sourceCount,
		Displays:    views,
		Draggable:   v.availableLocked(),
	}
}
