package stream

import (
	"github.com/aukilabs/go-tooling/pkg/errors"
)

// DefaultLODBreakpoints are the distance thresholds separating detail levels.
// A distance below breakpoint i selects level i, anything beyond the last
// breakpoint selects the coarsest level.
var DefaultLODBreakpoints = []float64{50, 100, 200, 500}

// LODSelector maps a camera-to-tile distance to a discrete detail level,
// 0 being full detail. The mapping is piecewise constant and monotonically
// non-decreasing in distance.
type LODSelector struct {
	breakpoints []float64
}

// NewLODSelector returns a selector for the given ascending breakpoints.
func NewLODSelector(breakpoints ...float64) (LODSelector, error) {
	if len(breakpoints) == 0 {
		return LODSelector{}, errors.New("no lod breakpoints")
	}

	for i := 1; i < len(breakpoints); i++ {
		if breakpoints[i] <= breakpoints[i-1] {
			return LODSelector{}, errors.New("lod breakpoints are not ascending").
				WithTag("breakpoints", breakpoints)
		}
	}

	bp := make([]float64, len(breakpoints))
	copy(bp, breakpoints)
	return LODSelector{breakpoints: bp}, nil
}

// DefaultLODSelector returns a selector with the default breakpoints.
func DefaultLODSelector() LODSelector {
	s, _ := NewLODSelector(DefaultLODBreakpoints...)
	return s
}

// Select returns the detail level for the given distance.
func (s LODSelector) Select(distance float64) int {
	for i, bp := range s.breakpoints {
		if distance < bp {
			return i
		}
	}
	return len(s.breakpoints)
}

// MaxLevel returns the coarsest level the selector can produce.
func (s LODSelector) MaxLevel() int {
	return len(s.breakpoints)
}
