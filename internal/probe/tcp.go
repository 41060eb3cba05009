package probe

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"
)

// CheckPort attempts a single TCP connect to addr:port within timeout.
// Port checks are never retried.
func CheckPort(ctx context.Context, addr string, port int, timeout time.Duration) error {
	dialer := net.Dialer{Timeout: timeout}
	hostport := net.JoinHostPort(addr, strconv.Itoa(port))

	conn, err := dialer.DialContext(ctx, "tcp", hostport)
	if err != nil {
		return fmt.Errorf("connect %s: %w", hostport, err)
	}
	return conn.Close()
}
