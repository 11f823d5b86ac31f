// Package testutil provides shared fixtures for tests that drive the
// counting pipeline from outside the pipeline package.
package testutil

import (
	"path/filepath"
	"testing"

	"github.com/banshee-data/linecount/internal/pipeline"
)

// Int64 returns a pointer to v, for Detection.TrackID.
func Int64(v int64) *int64 {
	return &v
}

// BoxAt returns a 20px square box whose midpoint on both axes is c.
func BoxAt(c float64) [4]float64 {
	return [4]float64{c - 10, c - 10, c + 10, c + 10}
}

// PathFrames returns one frame per position, each holding a single tracked
// detection. Frame indices start at 0.
func PathFrames(stream string, trackID int64, class string, positions ...float64) []pipeline.Frame {
	frames := make([]pipeline.Frame, 0, len(positions))
	for i, c := range positions {
		frames = append(frames, pipeline.Frame{
			StreamID: stream,
			Index:    uint64(i),
			Detections: []pipeline.Detection{
				{TrackID: Int64(trackID), ClassLabel: class, BBox: BoxAt(c)},
			},
		})
	}
	return frames
}

// ForwardThenBackward is a car crossing forward and a bike crossing
// backward over the default 150/200 boundaries, interleaved.
func ForwardThenBackward(stream string) []pipeline.Frame {
	car := PathFrames(stream, 7, "car", 100, 152, 180, 202, 210)
	bike := PathFrames(stream, 8, "bike", 210, 202, 180, 152)
	for i := range bike {
		car[i].Detections = append(car[i].Detections, bike[i].Detections...)
	}
	return car
}

// TempPath returns name inside a per-test temporary directory.
func TempPath(t testing.TB, name string) string {
	t.Helper()
	return filepath.Join(t.TempDir(), name)
}
