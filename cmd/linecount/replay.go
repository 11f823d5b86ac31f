package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/banshee-data/linecount/internal/api"
	"github.com/banshee-data/linecount/internal/config"
	"github.com/banshee-data/linecount/internal/db"
	"github.com/banshee-data/linecount/internal/ingest"
	"github.com/banshee-data/linecount/internal/monitoring"
	"github.com/banshee-data/linecount/internal/pipeline"
)

// replaySummary is printed as JSON when a replay finishes.
type replaySummary struct {
	Frames   int                      `json:"frames"`
	Skipped  int                      `json:"skipped"`
	Rejected int                      `json:"rejected"`
	Streams  map[string]pipeline.View `json:"streams,omitempty"`
}

func runReplay(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("replay", flag.ContinueOnError)
	configPath := fs.String("config", config.DefaultConfigPath, "Path to a .json or .yaml config file")
	pcap := fs.Bool("pcap", false, "Input is a pcap/pcapng capture rather than JSON lines")
	dbPath := fs.String("db", "", "Persist crossings to this database")
	stream := fs.String("stream", "", "Stream for frames that name none")
	server := fs.String("server", "", "Submit frames to a running server at this base URL instead of counting locally")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("usage: linecount replay [flags] INPUT (use - for stdin)")
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		return err
	}

	var in io.Reader = os.Stdin
	if name := fs.Arg(0); name != "-" {
		f, err := os.Open(name)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}

	var summary replaySummary
	var handle ingest.FrameFunc
	var manager *pipeline.Manager

	if *server != "" {
		client := api.NewClient(*server, &http.Client{Timeout: 10 * time.Second})
		handle = func(f pipeline.Frame) error {
			if f.StreamID == "" {
				f.StreamID = *stream
			}
			_, err := client.SubmitFrame(ctx, f)
			return err
		}
	} else {
		opts := managerOptions{}
		if *dbPath != "" {
			database, err := db.NewDB(*dbPath)
			if err != nil {
				return fmt.Errorf("failed to open database: %w", err)
			}
			defer database.Close()
			opts.database = database
		}
		manager, err = buildManager(ctx, cfg, opts)
		if err != nil {
			return err
		}
		setStream := streamDefaulter(manager, *stream)
		handle = func(f pipeline.Frame) error {
			setStream(&f)
			_, err := manager.Process(ctx, f)
			if errors.Is(err, pipeline.ErrInvalidFrame) || errors.Is(err, pipeline.ErrUnknownStream) {
				summary.Rejected++
				monitoring.Logf("frame %d rejected: %v", f.Index, err)
				return nil
			}
			return err
		}
	}

	if *pcap {
		stats, err := ingest.ReplayPCAP(ctx, in, cfg.GetUDPPort(), handle)
		summary.Frames, summary.Skipped = stats.Frames, stats.Skipped
		if err != nil {
			return err
		}
	} else {
		stats, err := ingest.ReadFrames(ctx, in, handle)
		summary.Frames, summary.Skipped = stats.Frames, stats.Skipped
		if err != nil {
			return err
		}
	}

	if manager != nil {
		summary.Streams = make(map[string]pipeline.View)
		for _, id := range manager.StreamIDs() {
			p, _ := manager.Pipeline(id)
			summary.Streams[id] = p.Snapshot()
		}
	}

	enc := json.NewEncoder(stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}
