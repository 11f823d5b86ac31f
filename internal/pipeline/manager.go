package pipeline

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/banshee-data/linecount/internal/monitoring"
)

var (
	// ErrUnknownStream is returned for frames addressed to a stream that
	// has no pipeline.
	ErrUnknownStream = errors.New("unknown stream")
	// ErrManagerRunning is returned by AddStream once Run has started.
	ErrManagerRunning = errors.New("manager already running")
)

// Manager owns one Pipeline per stream and runs a worker for each.
type Manager struct {
	mu        sync.RWMutex
	pipelines map[string]*Pipeline
	queues    map[string]chan Frame
	queueSize int
	running   bool
}

// NewManager creates a manager whose per-stream queues hold queueSize frames.
func NewManager(queueSize int) *Manager {
	if queueSize < 1 {
		queueSize = 1
	}
	return &Manager{
		pipelines: make(map[string]*Pipeline),
		queues:    make(map[string]chan Frame),
		queueSize: queueSize,
	}
}

// AddStream registers p. Streams must be added before Run.
func (m *Manager) AddStream(p *Pipeline) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.running {
		return ErrManagerRunning
	}
	if _, ok := m.pipelines[p.StreamID()]; ok {
		return fmt.Errorf("stream %q already registered", p.StreamID())
	}
	m.pipelines[p.StreamID()] = p
	m.queues[p.StreamID()] = make(chan Frame, m.queueSize)
	return nil
}

// Pipeline returns the pipeline for streamID.
func (m *Manager) Pipeline(streamID string) (*Pipeline, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.pipelines[streamID]
	return p, ok
}

// StreamIDs returns the registered stream ids, sorted.
func (m *Manager) StreamIDs() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := make([]string, 0, len(m.pipelines))
	for id := range m.pipelines {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Submit enqueues f for its stream's worker, blocking while the queue is
// full until ctx is done.
func (m *Manager) Submit(ctx context.Context, f Frame) error {
	m.mu.RLock()
	q, ok := m.queues[f.StreamID]
	m.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownStream, f.StreamID)
	}
	select {
	case q <- f:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Process applies f synchronously on the caller's goroutine. The pipeline
// mutex keeps it ordered with respect to the stream's worker.
func (m *Manager) Process(ctx context.Context, f Frame) ([]CrossingRecord, error) {
	p, ok := m.Pipeline(f.StreamID)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStream, f.StreamID)
	}
	return p.ProcessFrame(ctx, f)
}

// Run starts one worker per stream and blocks until ctx is cancelled.
// Workers stop between frames, so no pipeline is left mid-frame. Frames
// still queued at cancellation are discarded.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrManagerRunning
	}
	m.running = true
	type worker struct {
		p *Pipeline
		q chan Frame
	}
	workers := make([]worker, 0, len(m.pipelines))
	for id, p := range m.pipelines {
		workers = append(workers, worker{p: p, q: m.queues[id]})
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func(p *Pipeline, q <-chan Frame) {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case f := <-q:
					if _, err := p.ProcessFrame(ctx, f); err != nil {
						monitoring.Logf("stream %s: frame %d: %v", p.StreamID(), f.Index, err)
					}
				}
			}
		}(w.p, w.q)
	}
	wg.Wait()
	return ctx.Err()
}
