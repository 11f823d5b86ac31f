// Package ingest decodes tracker frames from JSON lines, UDP datagrams and
// pcap captures and hands them to a callback, typically Manager.Submit.
package ingest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/banshee-data/linecount/internal/monitoring"
	"github.com/banshee-data/linecount/internal/pipeline"
)

// ErrMalformedFrame is returned when a payload is not a frame object.
var ErrMalformedFrame = errors.New("malformed frame")

// maxLineSize bounds a single JSON line; large frames carry a few hundred
// detections at most.
const maxLineSize = 1 << 20

// FrameFunc receives each decoded frame. Returning an error stops the
// reader and the error is passed back to the caller.
type FrameFunc func(pipeline.Frame) error

// DecodeFrame parses one wire frame.
func DecodeFrame(data []byte) (pipeline.Frame, error) {
	var f pipeline.Frame
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		return f, fmt.Errorf("%w: expected JSON object", ErrMalformedFrame)
	}
	if err := json.Unmarshal(data, &f); err != nil {
		return pipeline.Frame{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	return f, nil
}

// Stats counts what a reader saw.
type Stats struct {
	Frames  int `json:"frames"`
	Skipped int `json:"skipped"`
}

// ReadFrames reads newline-delimited frames from r until EOF or ctx is
// done. Blank lines are ignored; malformed lines are logged and skipped.
func ReadFrames(ctx context.Context, r io.Reader, fn FrameFunc) (Stats, error) {
	var stats Stats
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)

	line := 0
	for scanner.Scan() {
		line++
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		raw := scanner.Bytes()
		if len(bytes.TrimSpace(raw)) == 0 {
			continue
		}
		f, err := DecodeFrame(raw)
		if err != nil {
			stats.Skipped++
			monitoring.Logf("line %d: %v", line, err)
			continue
		}
		stats.Frames++
		if err := fn(f); err != nil {
			return stats, fmt.Errorf("line %d: %w", line, err)
		}
	}
	return stats, scanner.Err()
}
