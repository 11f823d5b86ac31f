package crossing

import (
	"fmt"
	"math"
	"strings"
)

// Axis is the image axis along which objects travel between the lines.
type Axis string

const (
	AxisX Axis = "x" // vertical lines, horizontal travel
	AxisY Axis = "y" // horizontal lines, vertical travel
)

// ParseAxis accepts "x" or "y" in any case.
func ParseAxis(s string) (Axis, error) {
	switch Axis(strings.ToLower(strings.TrimSpace(s))) {
	case AxisX:
		return AxisX, nil
	case AxisY:
		return AxisY, nil
	}
	return "", fmt.Errorf("axis must be %q or %q, got %q", AxisX, AxisY, s)
}

// Project returns the whole-pixel centroid of bbox along the axis. Each
// corner is truncated toward zero and the sum is floor-divided by two, so
// positions are always integers in pixel units. Non-finite corners yield a
// non-finite position.
func (a Axis) Project(bbox [4]float64) float64 {
	lo, hi := bbox[0], bbox[2]
	if a == AxisY {
		lo, hi = bbox[1], bbox[3]
	}
	return math.Floor((math.Trunc(lo) + math.Trunc(hi)) / 2)
}
