package crossing

import (
	"errors"
	"fmt"
	"math"
)

// ErrInvalidObservation is returned by Process for observations that would
// corrupt the track table, such as a non-finite position.
var ErrInvalidObservation = errors.New("invalid observation")

// Direction of travel between the two boundaries.
type Direction string

const (
	Forward  Direction = "forward"  // near → far ("incoming")
	Backward Direction = "backward" // far → near ("outgoing")
)

// Observation is one tracked object's state in one frame.
type Observation struct {
	TrackID    int64
	ClassLabel string
	Position   float64 // projection of the object centroid onto the travel axis
}

// Event signals that a track completed a qualifying crossing.
type Event struct {
	Direction  Direction `json:"direction"`
	ClassLabel string    `json:"class_label"`
	TrackID    int64     `json:"track_id"`
}

// TrackState holds the sticky flags for one track. None of the flags is
// ever reset while the track is held by the engine.
type TrackState struct {
	EverEnteredNear bool `json:"ever_entered_near"`
	EverEnteredFar  bool `json:"ever_entered_far"`
	CountedForward  bool `json:"counted_forward"`
	CountedBackward bool `json:"counted_backward"`
}

// Engine decides, per observation, whether a directional crossing occurred.
// It is not safe for concurrent use; callers serialise access per stream.
type Engine struct {
	cfg    BoundaryConfig
	tracks *trackStore
}

// NewEngine returns an engine for the given boundaries. The configuration
// is validated once here so Process never sees a broken geometry.
func NewEngine(cfg BoundaryConfig, opts Options) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		cfg:    cfg,
		tracks: newTrackStore(opts),
	}, nil
}

// Config returns the engine's boundary configuration.
func (e *Engine) Config() BoundaryConfig {
	return e.cfg
}

// Process updates the observed track and returns the crossing event it
// produced, if any. At most one event is returned per call; when both
// directions qualify at once (overlapping bands) the forward event wins and
// the backward check is left for a later observation.
func (e *Engine) Process(obs Observation) (Event, bool, error) {
	if math.IsNaN(obs.Position) || math.IsInf(obs.Position, 0) {
		return Event{}, false, fmt.Errorf("%w: track %d position %v", ErrInvalidObservation, obs.TrackID, obs.Position)
	}

	state := e.tracks.touch(obs.TrackID)
	inNear := e.cfg.Near.Contains(obs.Position)
	inFar := e.cfg.Far.Contains(obs.Position)

	if inNear {
		state.EverEnteredNear = true
	}
	if inFar {
		state.EverEnteredFar = true
	}

	if state.EverEnteredNear && !state.CountedForward && inFar {
		state.CountedForward = true
		return Event{Direction: Forward, ClassLabel: obs.ClassLabel, TrackID: obs.TrackID}, true, nil
	}
	if state.EverEnteredFar && !state.CountedBackward && inNear {
		state.CountedBackward = true
		return Event{Direction: Backward, ClassLabel: obs.ClassLabel, TrackID: obs.TrackID}, true, nil
	}
	return Event{}, false, nil
}

// EndFrame closes the current frame and evicts tracks that have been idle
// for IdleHorizonFrames. It returns the number of tracks evicted.
func (e *Engine) EndFrame() int {
	return e.tracks.endFrame()
}

// Track returns a copy of the state held for trackID.
func (e *Engine) Track(trackID int64) (TrackState, bool) {
	return e.tracks.get(trackID)
}

// ActiveTracks returns the number of tracks currently held.
func (e *Engine) ActiveTracks() int {
	return e.tracks.len()
}

// Frame returns the index of the frame currently being processed, counted
// from zero by EndFrame calls.
func (e *Engine) Frame() uint64 {
	return e.tracks.frame
}

// Evicted returns the total number of tracks evicted since creation.
func (e *Engine) Evicted() uint64 {
	return e.tracks.evicted
}
