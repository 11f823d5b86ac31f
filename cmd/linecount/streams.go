package main

import (
	"context"
	"fmt"

	"github.com/banshee-data/linecount/internal/config"
	"github.com/banshee-data/linecount/internal/db"
	"github.com/banshee-data/linecount/internal/monitoring"
	"github.com/banshee-data/linecount/internal/pipeline"
)

type managerOptions struct {
	database *db.DB
	metrics  *monitoring.Metrics
	// restore seeds each stream's tallies from the event log.
	restore bool
}

// buildManager creates one pipeline per configured stream.
func buildManager(ctx context.Context, cfg *config.Config, o managerOptions) (*pipeline.Manager, error) {
	ids := cfg.StreamIDs()
	if len(ids) == 0 {
		return nil, fmt.Errorf("no streams configured")
	}

	m := pipeline.NewManager(cfg.GetFrameQueueSize())
	for _, id := range ids {
		settings, err := pipeline.SettingsFromConfig(cfg, id)
		if err != nil {
			return nil, err
		}

		var opts []pipeline.Option
		if o.metrics != nil {
			opts = append(opts, pipeline.WithObserver(o.metrics))
		}
		if o.database != nil {
			opts = append(opts, pipeline.WithSink(o.database))
			if o.restore {
				seed, err := o.database.CountsByStream(ctx, id)
				if err != nil {
					return nil, fmt.Errorf("restore counts for %s: %w", id, err)
				}
				monitoring.Logf("stream %s: restored %d forward, %d backward crossings", id, seed.TotalForward, seed.TotalBackward)
				opts = append(opts, pipeline.WithInitialCounts(seed))
			}
		}

		p, err := pipeline.New(id, settings, opts...)
		if err != nil {
			return nil, err
		}
		if err := m.AddStream(p); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// streamDefaulter fills in the stream of frames that carry none. With a
// single configured stream that stream is the default.
func streamDefaulter(m *pipeline.Manager, fallback string) func(*pipeline.Frame) {
	if fallback == "" {
		if ids := m.StreamIDs(); len(ids) == 1 {
			fallback = ids[0]
		}
	}
	return func(f *pipeline.Frame) {
		if f.StreamID == "" {
			f.StreamID = fallback
		}
	}
}
