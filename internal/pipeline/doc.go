// Package pipeline hosts the per-stream counting loop.
//
// A Pipeline pairs one crossing.Engine with one counts.Aggregator and feeds
// them a frame at a time: untracked detections are dropped, bounding boxes
// are projected onto the travel axis, and every crossing is folded into the
// tallies before being handed to the configured sink and observer.
//
// Streams never share state. The Manager runs one worker per stream, so no
// synchronisation is needed across streams; the per-pipeline mutex only
// exists so HTTP readers see snapshots taken at frame boundaries.
package pipeline
