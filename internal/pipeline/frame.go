package pipeline

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/linecount/internal/crossing"
)

// ErrInvalidFrame is returned when a frame cannot be applied. Nothing in
// the pipeline is changed by a rejected frame.
var ErrInvalidFrame = errors.New("invalid frame")

// Detection is one tracker output. TrackID is nil when the tracker could
// not assign an identity; such detections never reach the engine.
type Detection struct {
	TrackID    *int64     `json:"track_id"`
	ClassLabel string     `json:"class"`
	BBox       [4]float64 `json:"bbox"` // x1, y1, x2, y2
}

// Frame is the set of detections reported for one video frame.
type Frame struct {
	StreamID           string      `json:"stream"`
	Index              uint64      `json:"frame"`
	TimestampUnixNanos int64       `json:"ts_unix_nanos,omitempty"`
	Detections         []Detection `json:"detections"`
}

// Axis selects the bbox coordinates projected onto the travel axis.
type Axis = crossing.Axis

const (
	AxisX = crossing.AxisX
	AxisY = crossing.AxisY
)

// validate checks every tracked detection so the frame can be applied
// atomically. Untracked detections are not inspected.
func (f Frame) validate(streamID string, axis Axis) error {
	if f.StreamID != "" && f.StreamID != streamID {
		return fmt.Errorf("%w: frame for stream %q delivered to %q", ErrInvalidFrame, f.StreamID, streamID)
	}
	for i, d := range f.Detections {
		if d.TrackID == nil {
			continue
		}
		pos := axis.Project(d.BBox)
		if math.IsNaN(pos) || math.IsInf(pos, 0) {
			return fmt.Errorf("%w: detection %d (track %d) has non-finite position", ErrInvalidFrame, i, *d.TrackID)
		}
	}
	return nil
}

func (f Frame) timestamp(now func() time.Time) int64 {
	if f.TimestampUnixNanos > 0 {
		return f.TimestampUnixNanos
	}
	return now().UnixNano()
}
