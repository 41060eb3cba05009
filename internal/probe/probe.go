package probe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-ping/ping"
)

// Pinger performs a single reachability probe against a host.
type Pinger interface {
	Ping(ctx context.Context, addr string, timeout time.Duration) (time.Duration, error)
}

// ErrNoReply is returned when the probe sent but nothing came back within
// the timeout.
var ErrNoReply = errors.New("no reply within timeout")

// ICMPPinger probes hosts with a single ICMP echo. It uses unprivileged UDP
// sockets unless Privileged is set (raw sockets, requires CAP_NET_RAW).
type ICMPPinger struct {
	Privileged bool
}

func (p *ICMPPinger) Ping(ctx context.Context, addr string, timeout time.Duration) (time.Duration, error) {
	pinger, err := ping.NewPinger(addr)
	if err != nil {
		return 0, fmt.Errorf("resolve %q: %w", addr, err)
	}

	pinger.Count = 1
	pinger.Timeout = timeout
	pinger.SetPrivileged(p.Privileged)

	done := make(chan error, 1)
	go func() {
		done <- pinger.Run()
	}()

	select {
	case <-ctx.Done():
		pinger.Stop()
		<-done
		return 0, ctx.Err()
	case err := <-done:
		if err != nil {
			return 0, fmt.Errorf("ping %q: %w", addr, err)
		}
	}

	stats := pinger.Statistics()
	if stats.PacketsRecv == 0 {
		return 0, fmt.Errorf("ping %q: %w", addr, ErrNoReply)
	}
	return stats.AvgRtt, nil
}
