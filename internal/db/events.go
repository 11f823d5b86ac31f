package db

import (
	"context"
	"fmt"

	"github.com/banshee-data/linecount/internal/counts"
	"github.com/banshee-data/linecount/internal/crossing"
	"github.com/banshee-data/linecount/internal/pipeline"
)

// DefaultEventLimit caps CrossingEvents when no limit is given.
const DefaultEventLimit = 100

// RecordCrossing appends one crossing event. Re-recording an event id is a
// no-op. Event ids derive from stream, track, direction, frame index and
// timestamp, so replaying timestamped frames does not double count; frames
// stamped on arrival get fresh ids each run.
func (db *DB) RecordCrossing(ctx context.Context, rec pipeline.CrossingRecord) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO crossing_events (
			event_id, stream_id, track_id, class_label, direction,
			frame_index, position, event_unix_nanos
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(event_id) DO NOTHING`,
		rec.EventID, rec.StreamID, rec.TrackID, rec.ClassLabel, string(rec.Direction),
		int64(rec.FrameIndex), rec.Position, rec.TimestampUnixNanos,
	)
	if err != nil {
		return fmt.Errorf("insert crossing event: %w", err)
	}
	return nil
}

// CrossingEvents returns the most recent events for streamID, newest first.
func (db *DB) CrossingEvents(ctx context.Context, streamID string, limit int) ([]pipeline.CrossingRecord, error) {
	if limit <= 0 {
		limit = DefaultEventLimit
	}
	rows, err := db.QueryContext(ctx, `
		SELECT event_id, stream_id, track_id, class_label, direction,
		       frame_index, position, event_unix_nanos
		  FROM crossing_events
		 WHERE stream_id = ?
		 ORDER BY event_unix_nanos DESC, rowid DESC
		 LIMIT ?`, streamID, limit)
	if err != nil {
		return nil, fmt.Errorf("query crossing events: %w", err)
	}
	defer rows.Close()

	var events []pipeline.CrossingRecord
	for rows.Next() {
		var (
			rec        pipeline.CrossingRecord
			direction  string
			frameIndex int64
		)
		if err := rows.Scan(
			&rec.EventID, &rec.StreamID, &rec.TrackID, &rec.ClassLabel, &direction,
			&frameIndex, &rec.Position, &rec.TimestampUnixNanos,
		); err != nil {
			return nil, err
		}
		rec.Direction = crossing.Direction(direction)
		rec.FrameIndex = uint64(frameIndex)
		events = append(events, rec)
	}
	return events, rows.Err()
}

// CountsByStream rebuilds the tallies for streamID from the event log.
func (db *DB) CountsByStream(ctx context.Context, streamID string) (counts.Snapshot, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT direction, class_label, COUNT(*)
		  FROM crossing_events
		 WHERE stream_id = ?
		 GROUP BY direction, class_label`, streamID)
	if err != nil {
		return counts.Snapshot{}, fmt.Errorf("query counts: %w", err)
	}
	defer rows.Close()

	s := counts.Snapshot{Forward: map[string]int{}, Backward: map[string]int{}}
	for rows.Next() {
		var (
			direction, label string
			n                int
		)
		if err := rows.Scan(&direction, &label, &n); err != nil {
			return counts.Snapshot{}, err
		}
		switch crossing.Direction(direction) {
		case crossing.Forward:
			s.Forward[label] = n
			s.TotalForward += n
		case crossing.Backward:
			s.Backward[label] = n
			s.TotalBackward += n
		}
	}
	return s, rows.Err()
}

// Streams returns every stream id with at least one recorded event.
func (db *DB) Streams(ctx context.Context) ([]string, error) {
	rows, err := db.QueryContext(ctx, `SELECT DISTINCT stream_id FROM crossing_events ORDER BY stream_id`)
	if err != nil {
		return nil, fmt.Errorf("query streams: %w", err)
	}
	defer rows.Close()

	var streams []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		streams = append(streams, id)
	}
	return streams, rows.Err()
}
