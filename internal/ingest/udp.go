package ingest

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/banshee-data/linecount/internal/monitoring"
)

// maxDatagramSize is the largest UDP payload we accept.
const maxDatagramSize = 65535

// ListenUDP receives one JSON frame per datagram on addr until ctx is done.
func ListenUDP(ctx context.Context, addr string, fn FrameFunc) error {
	udpAddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to resolve UDP address: %w", err)
	}
	conn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("failed to listen on UDP address: %w", err)
	}
	defer conn.Close()

	monitoring.Logf("UDP frame listener started on %s", conn.LocalAddr())
	return ServeUDP(ctx, conn, fn)
}

// ServeUDP reads frames from an already bound socket. Errors from fn are
// logged and do not stop the listener; a lost datagram is a lost frame.
func ServeUDP(ctx context.Context, conn net.PacketConn, fn FrameFunc) error {
	buffer := make([]byte, maxDatagramSize)
	for {
		select {
		case <-ctx.Done():
			monitoring.Logf("UDP frame listener stopping due to context cancellation")
			return ctx.Err()
		default:
		}

		// Short deadline so cancellation is noticed promptly.
		if err := conn.SetReadDeadline(time.Now().Add(100 * time.Millisecond)); err != nil {
			return err
		}
		n, from, err := conn.ReadFrom(buffer)
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			monitoring.Logf("UDP read error: %v", err)
			continue
		}

		f, err := DecodeFrame(buffer[:n])
		if err != nil {
			monitoring.Logf("datagram from %v: %v", from, err)
			continue
		}
		if err := fn(f); err != nil {
			monitoring.Logf("datagram from %v: frame %d: %v", from, f.Index, err)
		}
	}
}
