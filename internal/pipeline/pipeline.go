package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/banshee-data/linecount/internal/config"
	"github.com/banshee-data/linecount/internal/counts"
	"github.com/banshee-data/linecount/internal/crossing"
	"github.com/banshee-data/linecount/internal/monitoring"
	"github.com/banshee-data/linecount/internal/timeutil"
)

// CrossingRecord is a crossing event with the context needed to persist it.
type CrossingRecord struct {
	crossing.Event
	EventID            string  `json:"event_id"`
	StreamID           string  `json:"stream_id"`
	FrameIndex         uint64  `json:"frame_index"`
	TimestampUnixNanos int64   `json:"ts_unix_nanos"`
	Position           float64 `json:"position"`
}

// sinkTimeout bounds persisting one frame's crossings.
const sinkTimeout = 5 * time.Second

// eventNamespace scopes the name-based event ids.
var eventNamespace = uuid.MustParse("6f7c2a4e-93d1-4b8e-a9f0-1d2c3b4a5e6f")

// eventID derives a stable id from what identifies a crossing, so
// re-processing the same timestamped frames yields the same ids and the
// event log stores them once. A returning track crosses in a later frame
// and gets a distinct id.
func eventID(streamID string, ev crossing.Event, frame uint64, ts int64) string {
	name := fmt.Sprintf("%s/%d/%s/%d/%d", streamID, ev.TrackID, ev.Direction, frame, ts)
	return uuid.NewSHA1(eventNamespace, []byte(name)).String()
}

// EventSink persists crossing records.
type EventSink interface {
	RecordCrossing(ctx context.Context, rec CrossingRecord) error
}

// Observer receives per-frame statistics. monitoring.Metrics implements it.
type Observer interface {
	ObserveFrame(stream string, observations, untracked, evicted, activeTracks int)
	ObserveRejectedFrame(stream string)
	ObserveCrossing(stream, direction, class string)
}

// Settings configures one pipeline.
type Settings struct {
	Boundaries crossing.BoundaryConfig
	Axis       Axis
	Engine     crossing.Options
}

// SettingsFromConfig resolves the settings for streamID from a loaded Config.
func SettingsFromConfig(cfg *config.Config, streamID string) (Settings, error) {
	s, err := cfg.StreamSettings(streamID)
	if err != nil {
		return Settings{}, err
	}
	return Settings{Boundaries: s.Boundaries, Axis: s.Axis, Engine: s.Engine}, nil
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithSink persists every crossing through sink.
func WithSink(sink EventSink) Option {
	return func(p *Pipeline) { p.sink = sink }
}

// WithObserver reports frame statistics to o.
func WithObserver(o Observer) Option {
	return func(p *Pipeline) { p.observer = o }
}

// WithClock stamps frames that carry no timestamp.
func WithClock(c timeutil.Clock) Option {
	return func(p *Pipeline) { p.clock = c }
}

// WithInitialCounts seeds the aggregator, e.g. from the persisted event log.
func WithInitialCounts(s counts.Snapshot) Option {
	return func(p *Pipeline) { p.initial = &s }
}

// Pipeline owns one stream's Engine and Aggregator.
type Pipeline struct {
	mu       sync.Mutex
	streamID string
	axis     Axis
	engine   *crossing.Engine
	agg      *counts.Aggregator
	sink     EventSink
	observer Observer
	clock    timeutil.Clock
	initial  *counts.Snapshot
	frames   uint64
}

// New builds a pipeline for streamID.
func New(streamID string, s Settings, opts ...Option) (*Pipeline, error) {
	if streamID == "" {
		return nil, fmt.Errorf("stream id is required")
	}
	if s.Axis == "" {
		s.Axis = AxisX
	}
	engine, err := crossing.NewEngine(s.Boundaries, s.Engine)
	if err != nil {
		return nil, fmt.Errorf("stream %s: %w", streamID, err)
	}

	p := &Pipeline{
		streamID: streamID,
		axis:     s.Axis,
		engine:   engine,
		clock:    timeutil.RealClock{},
	}
	for _, opt := range opts {
		opt(p)
	}

	if p.initial != nil {
		p.agg, err = counts.NewAggregatorFrom(*p.initial)
		if err != nil {
			return nil, fmt.Errorf("stream %s: seed counts: %w", streamID, err)
		}
		p.initial = nil
	} else {
		p.agg = counts.NewAggregator()
	}
	return p, nil
}

// StreamID returns the stream this pipeline counts.
func (p *Pipeline) StreamID() string {
	return p.streamID
}

// ProcessFrame runs every tracked detection of f through the engine in
// order, folds resulting events into the tallies and closes the frame.
// Crossings are returned even when the sink fails to persist them; the
// tallies already include them.
func (p *Pipeline) ProcessFrame(ctx context.Context, f Frame) ([]CrossingRecord, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := f.validate(p.streamID, p.axis); err != nil {
		if p.observer != nil {
			p.observer.ObserveRejectedFrame(p.streamID)
		}
		return nil, err
	}

	ts := f.timestamp(p.clock.Now)
	evictedBefore := p.engine.Evicted()

	var records []CrossingRecord
	observed, untracked := 0, 0
	for _, d := range f.Detections {
		if d.TrackID == nil {
			untracked++
			continue
		}
		observed++

		obs := crossing.Observation{
			TrackID:    *d.TrackID,
			ClassLabel: d.ClassLabel,
			Position:   p.axis.Project(d.BBox),
		}
		ev, ok, err := p.engine.Process(obs)
		if err != nil {
			// validate already screened positions; anything here is a bug
			return records, fmt.Errorf("stream %s frame %d: %w", p.streamID, f.Index, err)
		}
		if !ok {
			continue
		}
		p.agg.Record(ev)
		records = append(records, CrossingRecord{
			Event:              ev,
			EventID:            eventID(p.streamID, ev, f.Index, ts),
			StreamID:           p.streamID,
			FrameIndex:         f.Index,
			TimestampUnixNanos: ts,
			Position:           obs.Position,
		})
	}
	p.engine.EndFrame()
	p.frames++

	if p.observer != nil {
		evicted := int(p.engine.Evicted() - evictedBefore)
		p.observer.ObserveFrame(p.streamID, observed, untracked, evicted, p.engine.ActiveTracks())
		for _, rec := range records {
			p.observer.ObserveCrossing(p.streamID, string(rec.Direction), rec.ClassLabel)
		}
	}

	// The tallies already include these crossings, so persisting must not
	// be abandoned when the caller goes away.
	persistCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sinkTimeout)
	defer cancel()

	var errs []error
	for _, rec := range records {
		monitoring.Logf("stream %s: track %d (%s) crossed %s at frame %d", p.streamID, rec.TrackID, rec.ClassLabel, rec.Direction, rec.FrameIndex)
		if p.sink == nil {
			continue
		}
		if err := p.sink.RecordCrossing(persistCtx, rec); err != nil {
			errs = append(errs, fmt.Errorf("persist crossing %s: %w", rec.EventID, err))
		}
	}
	return records, errors.Join(errs...)
}

// View is what the downstream renderer pulls once per frame.
type View struct {
	StreamID     string                  `json:"stream_id"`
	Frames       uint64                  `json:"frames"`
	ActiveTracks int                     `json:"active_tracks"`
	Axis         Axis                    `json:"axis"`
	Boundaries   crossing.BoundaryConfig `json:"boundaries"`
	Counts       counts.Snapshot         `json:"counts"`
}

// Snapshot returns the current boundaries and tallies. It never observes
// a partially applied frame.
func (p *Pipeline) Snapshot() View {
	p.mu.Lock()
	defer p.mu.Unlock()
	return View{
		StreamID:     p.streamID,
		Frames:       p.frames,
		ActiveTracks: p.engine.ActiveTracks(),
		Axis:         p.axis,
		Boundaries:   p.engine.Config(),
		Counts:       p.agg.Snapshot(),
	}
}

// Track returns the engine state for one track, for diagnostics.
func (p *Pipeline) Track(trackID int64) (crossing.TrackState, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.engine.Track(trackID)
}
