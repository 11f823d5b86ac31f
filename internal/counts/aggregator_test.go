package counts

import (
	"math/rand"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/linecount/internal/crossing"
)

func TestAggregator_Empty(t *testing.T) {
	t.Parallel()

	s := NewAggregator().Snapshot()
	assert.Empty(t, s.Forward)
	assert.Empty(t, s.Backward)
	assert.Zero(t, s.TotalForward)
	assert.Zero(t, s.TotalBackward)
	assert.NotNil(t, s.Forward)
	assert.NotNil(t, s.Backward)
}

func TestAggregator_Record(t *testing.T) {
	t.Parallel()

	a := NewAggregator()
	a.Record(crossing.Event{Direction: crossing.Forward, ClassLabel: "car", TrackID: 7})
	a.Record(crossing.Event{Direction: crossing.Forward, ClassLabel: "car", TrackID: 9})
	a.Record(crossing.Event{Direction: crossing.Forward, ClassLabel: "truck", TrackID: 10})
	a.Record(crossing.Event{Direction: crossing.Backward, ClassLabel: "bike", TrackID: 8})

	want := Snapshot{
		Forward:       map[string]int{"car": 2, "truck": 1},
		Backward:      map[string]int{"bike": 1},
		TotalForward:  3,
		TotalBackward: 1,
	}
	if diff := cmp.Diff(want, a.Snapshot()); diff != "" {
		t.Errorf("Snapshot() mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, []string{"bike", "car", "truck"}, a.Snapshot().Labels())
}

func TestAggregator_SnapshotIsACopy(t *testing.T) {
	t.Parallel()

	a := NewAggregator()
	a.Record(crossing.Event{Direction: crossing.Forward, ClassLabel: "car"})

	s := a.Snapshot()
	s.Forward["car"] = 100
	s.Forward["ghost"] = 1

	again := a.Snapshot()
	assert.Equal(t, map[string]int{"car": 1}, again.Forward)
}

func TestAggregator_TotalsMatchSums(t *testing.T) {
	t.Parallel()

	labels := []string{"car", "bike", "bus", "truck", "person"}
	rng := rand.New(rand.NewSource(42))
	a := NewAggregator()

	for i := 0; i < 1000; i++ {
		dir := crossing.Forward
		if rng.Intn(2) == 0 {
			dir = crossing.Backward
		}
		a.Record(crossing.Event{Direction: dir, ClassLabel: labels[rng.Intn(len(labels))], TrackID: int64(i)})

		if i%97 == 0 {
			s := a.Snapshot()
			assert.Equal(t, sum(s.Forward), s.TotalForward)
			assert.Equal(t, sum(s.Backward), s.TotalBackward)
		}
	}

	s := a.Snapshot()
	assert.Equal(t, sum(s.Forward), s.TotalForward)
	assert.Equal(t, sum(s.Backward), s.TotalBackward)
	assert.Equal(t, 1000, s.TotalForward+s.TotalBackward)
}

func TestAggregator_IgnoresUnknownDirection(t *testing.T) {
	t.Parallel()

	a := NewAggregator()
	a.Record(crossing.Event{Direction: "sideways", ClassLabel: "car"})
	s := a.Snapshot()
	assert.Zero(t, s.TotalForward+s.TotalBackward)
}

func TestNewAggregatorFrom(t *testing.T) {
	t.Parallel()

	a, err := NewAggregatorFrom(Snapshot{
		Forward:      map[string]int{"car": 4, "bus": 1},
		Backward:     map[string]int{"car": 2},
		TotalForward: 999, // recomputed
	})
	require.NoError(t, err)

	a.Record(crossing.Event{Direction: crossing.Backward, ClassLabel: "car"})
	s := a.Snapshot()
	assert.Equal(t, 5, s.TotalForward)
	assert.Equal(t, 3, s.TotalBackward)
	assert.Equal(t, 3, s.Backward["car"])

	_, err = NewAggregatorFrom(Snapshot{Forward: map[string]int{"car": -1}})
	assert.Error(t, err)
}

func sum(m map[string]int) int {
	n := 0
	for _, v := range m {
		n += v
	}
	return n
}
