package crossing

import (
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	e, err := NewEngine(DefaultBoundaryConfig(), opts)
	require.NoError(t, err)
	return e
}

// feed runs positions for a single track, one per frame, and returns the
// events keyed by the index of the position that produced them.
func feed(t *testing.T, e *Engine, id int64, class string, positions ...float64) map[int]Event {
	t.Helper()
	events := make(map[int]Event)
	for i, pos := range positions {
		ev, ok, err := e.Process(Observation{TrackID: id, ClassLabel: class, Position: pos})
		require.NoError(t, err)
		if ok {
			events[i] = ev
		}
		e.EndFrame()
	}
	return events
}

func TestEngine_EndToEndScenario(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, Options{})

	car := feed(t, e, 7, "car", 100, 152, 180, 202, 210)
	require.Len(t, car, 1)
	assert.Equal(t, Event{Direction: Forward, ClassLabel: "car", TrackID: 7}, car[3])

	state, ok := e.Track(7)
	require.True(t, ok)
	assert.Equal(t, TrackState{EverEnteredNear: true, EverEnteredFar: true, CountedForward: true}, state)

	bike := feed(t, e, 8, "bike", 210, 202, 180, 152)
	require.Len(t, bike, 1)
	assert.Equal(t, Event{Direction: Backward, ClassLabel: "bike", TrackID: 8}, bike[3])
}

func TestEngine_StickyFlagsWhileLingering(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, Options{})

	events := feed(t, e, 1, "car", 150, 151, 149, 152, 148)
	assert.Empty(t, events)

	state, ok := e.Track(1)
	require.True(t, ok)
	assert.True(t, state.EverEnteredNear)
	assert.False(t, state.EverEnteredFar)
	assert.False(t, state.CountedForward)

	// Lingering in the far band after one forward count never re-triggers.
	events = feed(t, e, 1, "car", 199, 200, 201, 202)
	require.Len(t, events, 1)
	assert.Equal(t, Forward, events[0].Direction)
}

func TestEngine_AtMostOncePerDirection(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, Options{})

	// forward, back past near, forward again
	events := feed(t, e, 3, "truck", 150, 200, 170, 150, 120, 150, 200, 230)

	var forward, backward int
	for _, ev := range events {
		switch ev.Direction {
		case Forward:
			forward++
		case Backward:
			backward++
		}
	}
	assert.Equal(t, 1, forward)
	assert.Equal(t, 1, backward, "returning through near after visiting far is a backward crossing")
}

func TestEngine_DirectionsAreIndependent(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, Options{})

	events := feed(t, e, 4, "car", 150, 200, 150)
	require.Len(t, events, 2)
	assert.Equal(t, Forward, events[1].Direction)
	assert.Equal(t, Backward, events[2].Direction)

	state, _ := e.Track(4)
	assert.True(t, state.CountedForward)
	assert.True(t, state.CountedBackward)
}

func TestEngine_BandEdges(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, Options{})

	_, _, err := e.Process(Observation{TrackID: 1, ClassLabel: "car", Position: 156})
	require.NoError(t, err)
	state, _ := e.Track(1)
	assert.False(t, state.EverEnteredNear, "156 is outside 150±5")

	_, _, err = e.Process(Observation{TrackID: 1, ClassLabel: "car", Position: 155})
	require.NoError(t, err)
	state, _ = e.Track(1)
	assert.True(t, state.EverEnteredNear, "155 is inside 150±5")

	_, ok, err := e.Process(Observation{TrackID: 1, ClassLabel: "car", Position: 194})
	require.NoError(t, err)
	assert.False(t, ok)

	ev, ok, err := e.Process(Observation{TrackID: 1, ClassLabel: "car", Position: 195})
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, Forward, ev.Direction)
}

func TestEngine_NoEventWithoutPriorEntry(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, Options{})

	// Track first seen inside the far band only, so forward never qualifies.
	events := feed(t, e, 9, "bus", 200, 220, 240)
	assert.Empty(t, events)
}

func TestEngine_OverlappingBandsForwardPriority(t *testing.T) {
	t.Parallel()
	cfg, err := NewBoundaryConfig(100, 6, 5)
	require.NoError(t, err)
	e, err := NewEngine(cfg, Options{})
	require.NoError(t, err)

	// 103 is inside both bands: both checks qualify at once.
	ev, ok, err := e.Process(Observation{TrackID: 1, ClassLabel: "car", Position: 103})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Forward, ev.Direction)

	state, _ := e.Track(1)
	assert.False(t, state.CountedBackward, "backward is deferred, not consumed")

	ev, ok, err = e.Process(Observation{TrackID: 1, ClassLabel: "car", Position: 103})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, Backward, ev.Direction)

	_, ok, err = e.Process(Observation{TrackID: 1, ClassLabel: "car", Position: 103})
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestEngine_RejectsNonFinitePosition(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, Options{})

	for _, pos := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		_, ok, err := e.Process(Observation{TrackID: 1, ClassLabel: "car", Position: pos})
		require.Error(t, err)
		assert.True(t, errors.Is(err, ErrInvalidObservation))
		assert.False(t, ok)
	}
	assert.Zero(t, e.ActiveTracks(), "rejected observations must not create state")
}

func TestNewEngine_InvalidConfig(t *testing.T) {
	t.Parallel()

	_, err := NewEngine(BoundaryConfig{
		Near: Boundary{Position: 200, Tolerance: 5},
		Far:  Boundary{Position: 150, Tolerance: 5},
	}, Options{})
	assert.True(t, errors.Is(err, ErrInvalidBoundary))
}

func TestEngine_UnknownLabelsAccepted(t *testing.T) {
	t.Parallel()
	e := newTestEngine(t, Options{})

	events := feed(t, e, 11, "", 150, 200)
	require.Len(t, events, 1)
	assert.Equal(t, "", events[1].ClassLabel)
}
