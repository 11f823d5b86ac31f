package pipeline

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/linecount/internal/config"
	"github.com/banshee-data/linecount/internal/counts"
	"github.com/banshee-data/linecount/internal/crossing"
	"github.com/banshee-data/linecount/internal/monitoring"
	"github.com/banshee-data/linecount/internal/timeutil"
)

func init() {
	monitoring.SetLogger(nil)
}

type fakeSink struct {
	mu      sync.Mutex
	records []CrossingRecord
	err     error
}

func (s *fakeSink) RecordCrossing(_ context.Context, rec CrossingRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, rec)
	return nil
}

type fakeObserver struct {
	frames, rejected, observations, untracked, evicted int
	crossings                                          []string
}

func (o *fakeObserver) ObserveFrame(_ string, observations, untracked, evicted, _ int) {
	o.frames++
	o.observations += observations
	o.untracked += untracked
	o.evicted += evicted
}
func (o *fakeObserver) ObserveRejectedFrame(string) { o.rejected++ }
func (o *fakeObserver) ObserveCrossing(_, direction, class string) {
	o.crossings = append(o.crossings, direction+"/"+class)
}

func id(v int64) *int64 { return &v }

// box returns a 20px-wide box whose horizontal midpoint is cx.
func box(cx float64) [4]float64 {
	return [4]float64{cx - 10, 300, cx + 10, 340}
}

func defaultSettings() Settings {
	return Settings{Boundaries: crossing.DefaultBoundaryConfig(), Axis: AxisX}
}

func newTestPipeline(t *testing.T, opts ...Option) *Pipeline {
	t.Helper()
	p, err := New("cam-1", defaultSettings(), opts...)
	require.NoError(t, err)
	return p
}

func TestPipeline_FractionalBoxesAtBandEdge(t *testing.T) {
	t.Parallel()
	// Default near band is [145, 155] on whole-pixel centroids.
	tests := []struct {
		name     string
		bbox     [4]float64
		wantNear bool
		wantPos  float64
	}{
		{"fractional corners truncate into band", [4]float64{150.6, 0, 160.8, 9}, true, 155},
		{"upper edge exactly", [4]float64{145, 0, 165, 9}, true, 155},
		{"one pixel beyond upper edge", [4]float64{146, 0, 166, 9}, false, 156},
		{"fraction does not round up past edge", [4]float64{145.9, 0, 166.9, 9}, true, 155},
		{"lower edge from fractional corners", [4]float64{135.2, 0, 155.7, 9}, true, 145},
		{"one pixel below lower edge", [4]float64{134.9, 0, 154.9, 9}, false, 144},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := newTestPipeline(t)
			_, err := p.ProcessFrame(context.Background(), Frame{Detections: []Detection{{TrackID: id(1), ClassLabel: "car", BBox: tt.bbox}}})
			require.NoError(t, err)

			assert.Equal(t, tt.wantPos, AxisX.Project(tt.bbox))
			st, ok := p.Track(1)
			require.True(t, ok)
			assert.Equal(t, tt.wantNear, st.EverEnteredNear)
		})
	}
}

func TestPipeline_EndToEndScenario(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{}
	obs := &fakeObserver{}
	p := newTestPipeline(t, WithSink(sink), WithObserver(obs))
	ctx := context.Background()

	car := []float64{100, 152, 180, 202, 210}
	bike := []float64{210, 202, 180, 152}
	var all []CrossingRecord
	for i := 0; i < len(car); i++ {
		f := Frame{Index: uint64(i), TimestampUnixNanos: int64(1000 + i)}
		f.Detections = append(f.Detections, Detection{TrackID: id(7), ClassLabel: "car", BBox: box(car[i])})
		if i < len(bike) {
			f.Detections = append(f.Detections, Detection{TrackID: id(8), ClassLabel: "bike", BBox: box(bike[i])})
		}
		recs, err := p.ProcessFrame(ctx, f)
		require.NoError(t, err)
		all = append(all, recs...)
	}

	// Both crossings land in frame 3, in detection order.
	require.Len(t, all, 2)
	assert.Equal(t, crossing.Forward, all[0].Direction)
	assert.Equal(t, int64(7), all[0].TrackID)
	assert.Equal(t, 202.0, all[0].Position)
	assert.Equal(t, int64(1003), all[0].TimestampUnixNanos)
	assert.Equal(t, crossing.Backward, all[1].Direction)
	assert.Equal(t, "bike", all[1].ClassLabel)
	assert.Equal(t, uint64(3), all[1].FrameIndex)
	assert.Equal(t, 152.0, all[1].Position)
	assert.NotEmpty(t, all[0].EventID)
	assert.NotEqual(t, all[0].EventID, all[1].EventID)

	view := p.Snapshot()
	want := counts.Snapshot{
		Forward:       map[string]int{"car": 1},
		Backward:      map[string]int{"bike": 1},
		TotalForward:  1,
		TotalBackward: 1,
	}
	if diff := cmp.Diff(want, view.Counts); diff != "" {
		t.Errorf("counts mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, uint64(5), view.Frames)
	assert.Equal(t, crossing.DefaultBoundaryConfig(), view.Boundaries)

	assert.Len(t, sink.records, 2)
	assert.Equal(t, 5, obs.frames)
	assert.Equal(t, 9, obs.observations)
	assert.Equal(t, []string{"forward/car", "backward/bike"}, obs.crossings)
}

func TestPipeline_DropsUntrackedDetections(t *testing.T) {
	t.Parallel()
	obs := &fakeObserver{}
	p := newTestPipeline(t, WithObserver(obs))
	ctx := context.Background()

	for _, cx := range []float64{150, 200} {
		_, err := p.ProcessFrame(ctx, Frame{Detections: []Detection{
			{TrackID: nil, ClassLabel: "car", BBox: box(cx)},
			// untracked boxes are never validated
			{TrackID: nil, ClassLabel: "car", BBox: [4]float64{math.NaN(), 0, 0, 0}},
		}})
		require.NoError(t, err)
	}

	view := p.Snapshot()
	assert.Zero(t, view.Counts.TotalForward)
	assert.Zero(t, view.ActiveTracks)
	assert.Equal(t, 4, obs.untracked)
	assert.Zero(t, obs.observations)
}

func TestPipeline_RejectsFrameAtomically(t *testing.T) {
	t.Parallel()
	obs := &fakeObserver{}
	p := newTestPipeline(t, WithObserver(obs))
	ctx := context.Background()

	_, err := p.ProcessFrame(ctx, Frame{Detections: []Detection{
		{TrackID: id(1), ClassLabel: "car", BBox: box(150)},
		{TrackID: id(2), ClassLabel: "car", BBox: [4]float64{math.Inf(1), 0, 10, 0}},
	}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrInvalidFrame))

	_, ok := p.Track(1)
	assert.False(t, ok, "valid detections in a rejected frame must not be applied")
	assert.Equal(t, 1, obs.rejected)
	assert.Zero(t, obs.frames)
	assert.Zero(t, p.Snapshot().Frames)
}

func TestPipeline_RejectsForeignStream(t *testing.T) {
	t.Parallel()
	p := newTestPipeline(t)

	_, err := p.ProcessFrame(context.Background(), Frame{StreamID: "cam-2"})
	assert.True(t, errors.Is(err, ErrInvalidFrame))

	_, err = p.ProcessFrame(context.Background(), Frame{StreamID: "cam-1"})
	assert.NoError(t, err)
}

func TestPipeline_SinkErrorKeepsCounts(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{err: errors.New("disk full")}
	p := newTestPipeline(t, WithSink(sink))
	ctx := context.Background()

	_, err := p.ProcessFrame(ctx, Frame{Detections: []Detection{{TrackID: id(1), ClassLabel: "car", BBox: box(150)}}})
	require.NoError(t, err)

	recs, err := p.ProcessFrame(ctx, Frame{Detections: []Detection{{TrackID: id(1), ClassLabel: "car", BBox: box(200)}}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")
	require.Len(t, recs, 1)
	assert.Equal(t, 1, p.Snapshot().Counts.TotalForward)
}

// ctxSink records the state of the context each write is made with.
type ctxSink struct {
	errs        []error
	hasDeadline []bool
}

func (s *ctxSink) RecordCrossing(ctx context.Context, _ CrossingRecord) error {
	_, ok := ctx.Deadline()
	s.hasDeadline = append(s.hasDeadline, ok)
	s.errs = append(s.errs, ctx.Err())
	return ctx.Err()
}

func TestPipeline_SinkOutlivesCancelledCaller(t *testing.T) {
	t.Parallel()
	sink := &ctxSink{}
	p := newTestPipeline(t, WithSink(sink))

	_, err := p.ProcessFrame(context.Background(), Frame{Detections: []Detection{{TrackID: id(1), ClassLabel: "car", BBox: box(150)}}})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	recs, err := p.ProcessFrame(ctx, Frame{Index: 1, Detections: []Detection{{TrackID: id(1), ClassLabel: "car", BBox: box(200)}}})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, []error{nil}, sink.errs)
	assert.Equal(t, []bool{true}, sink.hasDeadline)
}

func TestPipeline_EventIDsAreStable(t *testing.T) {
	t.Parallel()
	frames := []Frame{
		{Index: 10, TimestampUnixNanos: 1000, Detections: []Detection{{TrackID: id(1), ClassLabel: "car", BBox: box(150)}}},
		{Index: 11, TimestampUnixNanos: 2000, Detections: []Detection{{TrackID: id(1), ClassLabel: "car", BBox: box(200)}}},
	}
	run := func(frames []Frame) string {
		p := newTestPipeline(t)
		var last []CrossingRecord
		for _, f := range frames {
			recs, err := p.ProcessFrame(context.Background(), f)
			require.NoError(t, err)
			last = append(last, recs...)
		}
		require.Len(t, last, 1)
		return last[0].EventID
	}

	first := run(frames)
	assert.Equal(t, first, run(frames))

	later := []Frame{frames[0], frames[1]}
	later[1].TimestampUnixNanos = 3000
	assert.NotEqual(t, first, run(later))
}

func TestPipeline_ClockStampsFrames(t *testing.T) {
	t.Parallel()
	start := time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC)
	clock := timeutil.NewMockClock(start)
	p := newTestPipeline(t, WithClock(clock))
	ctx := context.Background()

	_, err := p.ProcessFrame(ctx, Frame{Detections: []Detection{{TrackID: id(1), ClassLabel: "car", BBox: box(150)}}})
	require.NoError(t, err)
	clock.Advance(time.Second)
	recs, err := p.ProcessFrame(ctx, Frame{Detections: []Detection{{TrackID: id(1), ClassLabel: "car", BBox: box(200)}}})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, start.Add(time.Second).UnixNano(), recs[0].TimestampUnixNanos)
}

func TestPipeline_InitialCounts(t *testing.T) {
	t.Parallel()
	p := newTestPipeline(t, WithInitialCounts(counts.Snapshot{
		Forward:  map[string]int{"car": 10},
		Backward: map[string]int{"bus": 2},
	}))

	view := p.Snapshot()
	assert.Equal(t, 10, view.Counts.TotalForward)
	assert.Equal(t, 2, view.Counts.TotalBackward)

	_, err := New("cam-1", defaultSettings(), WithInitialCounts(counts.Snapshot{Forward: map[string]int{"car": -3}}))
	assert.Error(t, err)
}

func TestPipeline_AxisY(t *testing.T) {
	t.Parallel()
	p, err := New("cam-1", Settings{Boundaries: crossing.DefaultBoundaryConfig(), Axis: AxisY})
	require.NoError(t, err)
	ctx := context.Background()

	vbox := func(cy float64) [4]float64 { return [4]float64{0, cy - 5, 40, cy + 5} }
	_, err = p.ProcessFrame(ctx, Frame{Detections: []Detection{{TrackID: id(1), ClassLabel: "person", BBox: vbox(150)}}})
	require.NoError(t, err)
	recs, err := p.ProcessFrame(ctx, Frame{Detections: []Detection{{TrackID: id(1), ClassLabel: "person", BBox: vbox(200)}}})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, crossing.Forward, recs[0].Direction)
}

func TestNew_Errors(t *testing.T) {
	t.Parallel()
	_, err := New("", defaultSettings())
	assert.Error(t, err)

	_, err = New("cam-1", Settings{})
	assert.True(t, errors.Is(err, crossing.ErrInvalidBoundary))
}

func TestSettingsFromConfig(t *testing.T) {
	t.Parallel()
	axis := "y"
	near := 400.0
	cfg := &config.Config{Axis: &axis, Streams: []config.StreamConfig{{ID: "dock", NearPosition: &near}}}

	s, err := SettingsFromConfig(cfg, "dock")
	require.NoError(t, err)
	assert.Equal(t, AxisY, s.Axis)
	assert.Equal(t, 400.0, s.Boundaries.Near.Position)
	assert.Equal(t, 450.0, s.Boundaries.Far.Position)
	assert.Equal(t, uint64(900), s.Engine.IdleHorizonFrames)
}
