package crossing

import (
	"errors"
	"fmt"
	"math"
)

// Default geometry, in the same units as observation positions (pixels
// for a camera feed).
const (
	DefaultNearPosition = 150.0
	DefaultBoundaryGap  = 50.0
	DefaultTolerance    = 5.0
)

// ErrInvalidBoundary is returned when a boundary configuration cannot be
// used for counting.
var ErrInvalidBoundary = errors.New("invalid boundary configuration")

// Boundary is one reference line with a symmetric detection band.
type Boundary struct {
	Position  float64 `json:"position"`
	Tolerance float64 `json:"tolerance"`
}

// Contains reports whether pos lies inside the closed band
// [Position-Tolerance, Position+Tolerance].
func (b Boundary) Contains(pos float64) bool {
	return pos >= b.Position-b.Tolerance && pos <= b.Position+b.Tolerance
}

// BoundaryConfig holds the near ("red") and far ("blue") boundaries.
// Far.Position is always greater than Near.Position.
type BoundaryConfig struct {
	Near Boundary `json:"near"`
	Far  Boundary `json:"far"`
}

// NewBoundaryConfig builds a configuration from the near line position,
// the gap to the far line and the tolerance shared by both bands.
func NewBoundaryConfig(nearPosition, gap, tolerance float64) (BoundaryConfig, error) {
	cfg := BoundaryConfig{
		Near: Boundary{Position: nearPosition, Tolerance: tolerance},
		Far:  Boundary{Position: nearPosition + gap, Tolerance: tolerance},
	}
	if err := cfg.Validate(); err != nil {
		return BoundaryConfig{}, err
	}
	return cfg, nil
}

// DefaultBoundaryConfig returns boundaries at 150 and 200 with tolerance 5.
func DefaultBoundaryConfig() BoundaryConfig {
	return BoundaryConfig{
		Near: Boundary{Position: DefaultNearPosition, Tolerance: DefaultTolerance},
		Far:  Boundary{Position: DefaultNearPosition + DefaultBoundaryGap, Tolerance: DefaultTolerance},
	}
}

// Validate checks the ordering invariant and rejects non-finite values.
func (c BoundaryConfig) Validate() error {
	for _, v := range []float64{c.Near.Position, c.Near.Tolerance, c.Far.Position, c.Far.Tolerance} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: non-finite value %v", ErrInvalidBoundary, v)
		}
	}
	if c.Near.Tolerance < 0 || c.Far.Tolerance < 0 {
		return fmt.Errorf("%w: tolerance must be non-negative", ErrInvalidBoundary)
	}
	if c.Far.Position <= c.Near.Position {
		return fmt.Errorf("%w: far position %v must be greater than near position %v",
			ErrInvalidBoundary, c.Far.Position, c.Near.Position)
	}
	return nil
}

// Overlapping reports whether the two bands share any position. Counting
// still works in that case, but forward crossings take priority.
func (c BoundaryConfig) Overlapping() bool {
	return c.Near.Position+c.Near.Tolerance >= c.Far.Position-c.Far.Tolerance
}
