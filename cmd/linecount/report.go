package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"

	"github.com/banshee-data/linecount/internal/db"
	"github.com/banshee-data/linecount/internal/report"
)

func runReport(ctx context.Context, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("report", flag.ContinueOnError)
	dbPath := fs.String("db", "linecount.db", "Database to read crossings from")
	stream := fs.String("stream", "", "Stream to chart")
	out := fs.String("out", "", "Output PNG path (default STREAM.png)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *stream == "" {
		return errors.New("report: -stream is required")
	}
	if *out == "" {
		*out = *stream + ".png"
	}

	database, err := db.NewDB(*dbPath)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}
	defer database.Close()

	snapshot, err := database.CountsByStream(ctx, *stream)
	if err != nil {
		return err
	}
	if err := report.SavePNG(*out, *stream, snapshot); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	fmt.Fprintf(stdout, "wrote %s (forward=%d backward=%d)\n", *out, snapshot.TotalForward, snapshot.TotalBackward)
	return nil
}

func runMigrate(args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	dbPath := fs.String("db", "linecount.db", "Database to migrate")
	if err := fs.Parse(args); err != nil {
		return err
	}
	return db.RunMigrateCommand(fs.Args(), *dbPath, stdout)
}
