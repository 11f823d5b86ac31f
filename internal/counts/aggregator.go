// Package counts tallies crossing events per class label and direction.
package counts

import (
	"fmt"
	"sort"

	"github.com/banshee-data/linecount/internal/crossing"
)

// Snapshot is a point-in-time copy of the tallies. Maps are owned by the
// caller and never alias aggregator state.
type Snapshot struct {
	Forward       map[string]int `json:"forward"`
	Backward      map[string]int `json:"backward"`
	TotalForward  int            `json:"total_forward"`
	TotalBackward int            `json:"total_backward"`
}

// Labels returns every class label present in either direction, sorted.
func (s Snapshot) Labels() []string {
	seen := make(map[string]struct{}, len(s.Forward)+len(s.Backward))
	for label := range s.Forward {
		seen[label] = struct{}{}
	}
	for label := range s.Backward {
		seen[label] = struct{}{}
	}
	labels := make([]string, 0, len(seen))
	for label := range seen {
		labels = append(labels, label)
	}
	sort.Strings(labels)
	return labels
}

// Aggregator owns the forward and backward tallies. Counts only grow.
// It is not safe for concurrent use.
type Aggregator struct {
	forward       map[string]int
	backward      map[string]int
	totalForward  int
	totalBackward int
}

// NewAggregator returns an empty aggregator.
func NewAggregator() *Aggregator {
	return &Aggregator{
		forward:  make(map[string]int),
		backward: make(map[string]int),
	}
}

// NewAggregatorFrom seeds an aggregator with previously persisted tallies,
// typically rebuilt from the crossing event log on restart. Totals are
// recomputed from the per-label maps.
func NewAggregatorFrom(s Snapshot) (*Aggregator, error) {
	a := NewAggregator()
	for label, n := range s.Forward {
		if n < 0 {
			return nil, fmt.Errorf("negative forward count %d for %q", n, label)
		}
		a.forward[label] = n
		a.totalForward += n
	}
	for label, n := range s.Backward {
		if n < 0 {
			return nil, fmt.Errorf("negative backward count %d for %q", n, label)
		}
		a.backward[label] = n
		a.totalBackward += n
	}
	return a, nil
}

// Record folds one crossing event into the tallies.
func (a *Aggregator) Record(ev crossing.Event) {
	switch ev.Direction {
	case crossing.Forward:
		a.forward[ev.ClassLabel]++
		a.totalForward++
	case crossing.Backward:
		a.backward[ev.ClassLabel]++
		a.totalBackward++
	}
}

// Snapshot returns the current tallies. Running totals are kept alongside
// the maps and always equal their sums.
func (a *Aggregator) Snapshot() Snapshot {
	s := Snapshot{
		Forward:       make(map[string]int, len(a.forward)),
		Backward:      make(map[string]int, len(a.backward)),
		TotalForward:  a.totalForward,
		TotalBackward: a.totalBackward,
	}
	for label, n := range a.forward {
		s.Forward[label] = n
	}
	for label, n := range a.backward {
		s.Backward[label] = n
	}
	return s
}
