package harness

import (
	"context"
	"fmt"
	"net"
	"time"
)

// probeInterval is the pause between connection attempts.
const probeInterval = 50 * time.Millisecond

// waitReady blocks until address accepts TCP connections, the server exits,
// or timeout elapses. A zero timeout skips the probe.
func waitReady(ctx context.Context, address string, timeout time.Duration, exited <-chan struct{}) error {
	if timeout <= 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var dialer net.Dialer
	for {
		conn, err := dialer.DialContext(ctx, "tcp", address)
		if err == nil {
			conn.Close()
			return nil
		}

		select {
		case <-exited:
			return fmt.Errorf("server exited before accepting connections on %s", address)
		case <-ctx.Done():
			return fmt.Errorf("server not accepting connections on %s after %s: %w", address, timeout, err)
		case <-time.After(probeInterval):
		}
	}
}
