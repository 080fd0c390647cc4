package panel

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/g960059/qsyspanel/internal/model"
)

var (
	ErrInvalidControlName = errors.New("invalid control name")
	ErrOutOfRange         = errors.New("out of range")
	ErrUnknownParam       = errors.New("unknown parameter")
)

// Kind tags a parsed control name.
type Kind int

const (
	KindBypass Kind = iota + 1
	// KindBandParam is "<param>.<n>" with a 1-based index.
	KindBandParam
	KindScalar
)

func (k Kind) String() string {
	switch k {
	case KindBypass:
		return "bypass"
	case KindBandParam:
		return "band_param"
	case KindScalar:
		return "scalar"
	default:
		return "unknown"
	}
}

// ControlRef is a control name parsed once into a closed set of shapes.
type ControlRef struct {
	Kind  Kind
	Param string
	Index int
}

// ParseControlName classifies raw. A trailing all-digit segment makes a band
// parameter; "bypass" is its own kind; anything else well formed is a scalar.
func ParseControlName(raw string) (ControlRef, error) {
	name := strings.TrimSpace(raw)
	if name == "" {
		return ControlRef{}, fmt.Errorf("%w: empty", ErrInvalidControlName)
	}
	if name == "bypass" {
		return ControlRef{Kind: KindBypass, Param: name}, nil
	}
	segments := strings.Split(name, ".")
	for _, seg := range segments {
		if seg == "" {
			return ControlRef{}, fmt.Errorf("%w: %q", ErrInvalidControlName, raw)
		}
	}
	last := segments[len(segments)-1]
	if len(segments) == 1 || !allDigits(last) {
		return ControlRef{Kind: KindScalar, Param: name}, nil
	}
	param := strings.Join(segments[:len(segments)-1], ".")
	if allDigits(segments[0]) {
		return ControlRef{}, fmt.Errorf("%w: %q", ErrInvalidControlName, raw)
	}
	idx, err := strconv.Atoi(last)
	if err != nil || idx < 1 {
		return ControlRef{}, fmt.Errorf("%w: index %q in %q", ErrInvalidControlName, last, raw)
	}
	return ControlRef{Kind: KindBandParam, Param: param, Index: idx}, nil
}

// Name renders the ref back to its control name.
func (r ControlRef) Name() string {
	if r.Kind == KindBandParam {
		return r.Param + "." + strconv.Itoa(r.Index)
	}
	return r.Param
}

func allDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// isOn reads a control as a switch.
func isOn(st model.ControlState) bool {
	if st.Type == model.ControlTypeBoolean || st.Type == "" {
		return st.Bool
	}
	return st.Value != 0
}
