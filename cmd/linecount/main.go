// Command linecount counts objects crossing a pair of virtual lines in
// tracked video streams.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/banshee-data/linecount/internal/version"
)

const usage = `Usage: linecount <command> [flags]

Commands:
  serve     Run the counting server
  replay    Replay a JSON lines or pcap capture and print final tallies
  report    Render a PNG bar chart of persisted tallies
  migrate   Manage the database schema (up, down, status)
  version   Print build information

Run 'linecount <command> -h' for command flags.
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			os.Exit(2)
		}
		log.Fatal(err)
	}
}

func run(ctx context.Context, args []string, stdout io.Writer) error {
	if len(args) < 1 {
		fmt.Fprint(stdout, usage)
		return errors.New("missing command")
	}
	cmd, rest := args[0], args[1:]
	switch cmd {
	case "serve":
		return runServe(ctx, rest)
	case "replay":
		return runReplay(ctx, rest, stdout)
	case "report":
		return runReport(ctx, rest, stdout)
	case "migrate":
		return runMigrate(rest, stdout)
	case "version":
		fmt.Fprintln(stdout, version.String())
		return nil
	case "help", "-h", "--help":
		fmt.Fprint(stdout, usage)
		return nil
	default:
		fmt.Fprint(stdout, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}
