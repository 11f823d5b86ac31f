package crossing

import "container/list"

// Options bounds the per-track table so that a long-running stream does
// not hold state for every identity it has ever seen. Zero disables a bound.
type Options struct {
	// IdleHorizonFrames evicts a track once it has gone this many frames
	// without an observation.
	IdleHorizonFrames uint64
	// MaxTracks caps the table; the least recently seen track is evicted
	// when a new track would exceed it.
	MaxTracks int
}

type trackEntry struct {
	id       int64
	state    TrackState
	lastSeen uint64
	elem     *list.Element
}

// trackStore is a map of track entries threaded on a recency list. The
// front of the list is the most recently observed track.
type trackStore struct {
	opts    Options
	entries map[int64]*trackEntry
	recency *list.List
	frame   uint64
	evicted uint64
}

func newTrackStore(opts Options) *trackStore {
	return &trackStore{
		opts:    opts,
		entries: make(map[int64]*trackEntry),
		recency: list.New(),
	}
}

// touch returns the state for id, creating it on first sighting, and marks
// the track as seen in the current frame.
func (s *trackStore) touch(id int64) *TrackState {
	if entry, ok := s.entries[id]; ok {
		entry.lastSeen = s.frame
		s.recency.MoveToFront(entry.elem)
		return &entry.state
	}

	entry := &trackEntry{id: id, lastSeen: s.frame}
	entry.elem = s.recency.PushFront(entry)
	s.entries[id] = entry

	if s.opts.MaxTracks > 0 {
		for len(s.entries) > s.opts.MaxTracks {
			s.removeOldest()
		}
	}
	return &entry.state
}

func (s *trackStore) endFrame() int {
	n := 0
	if s.opts.IdleHorizonFrames > 0 {
		for back := s.recency.Back(); back != nil; back = s.recency.Back() {
			entry := back.Value.(*trackEntry)
			if s.frame-entry.lastSeen < s.opts.IdleHorizonFrames {
				break
			}
			s.removeOldest()
			n++
		}
	}
	s.frame++
	return n
}

func (s *trackStore) removeOldest() {
	back := s.recency.Back()
	if back == nil {
		return
	}
	entry := back.Value.(*trackEntry)
	s.recency.Remove(back)
	delete(s.entries, entry.id)
	s.evicted++
}

func (s *trackStore) get(id int64) (TrackState, bool) {
	entry, ok := s.entries[id]
	if !ok {
		return TrackState{}, false
	}
	return entry.state, true
}

func (s *trackStore) len() int {
	return len(s.entries)
}
