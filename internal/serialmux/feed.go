package serialmux

import (
	"context"

	"github.com/banshee-data/linecount/internal/ingest"
	"github.com/banshee-data/linecount/internal/monitoring"
)

// Feed subscribes to src and decodes every line as a frame. Frames that do
// not name a stream are assigned defaultStream. Decode and handler errors
// are logged; Feed returns when ctx is done or the mux closes.
func Feed(ctx context.Context, src LineSource, defaultStream string, fn ingest.FrameFunc) error {
	id, lines := src.Subscribe()
	defer src.Unsubscribe(id)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			f, err := ingest.DecodeFrame([]byte(line))
			if err != nil {
				monitoring.Logf("serial: %v", err)
				continue
			}
			if f.StreamID == "" {
				f.StreamID = defaultStream
			}
			if err := fn(f); err != nil {
				monitoring.Logf("serial: stream %s frame %d: %v", f.StreamID, f.Index, err)
			}
		}
	}
}
