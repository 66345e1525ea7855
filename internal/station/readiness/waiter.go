// Package readiness polls a device until its embedded web server accepts TCP
// connections.
package readiness

import (
	"context"
	"net"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"

	"github.com/autopeer-io/multiprog/pkg/log"
)

const (
	DefaultInterval    = 500 * time.Millisecond
	DefaultDialTimeout = time.Second
)

// Waiter probes an address with connect-and-close attempts.
type Waiter struct {
	Interval    time.Duration
	DialTimeout time.Duration

	dialer net.Dialer
}

// NewWaiter returns a Waiter using the default interval and dial timeout.
func NewWaiter() *Waiter {
	return &Waiter{Interval: DefaultInterval, DialTimeout: DefaultDialTimeout}
}

// WaitReady returns true as soon as addr accepts a connection and false once
// timeout elapses or ctx is done. Dial errors are expected while the device
// boots and are not reported.
func (w *Waiter) WaitReady(ctx context.Context, addr string, timeout time.Duration) bool {
	interval := w.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	dialTimeout := w.DialTimeout
	if dialTimeout <= 0 {
		dialTimeout = DefaultDialTimeout
	}

	logger := log.FromContext(ctx)
	attempts := 0

	err := wait.PollUntilContextTimeout(ctx, interval, timeout, true, func(ctx context.Context) (bool, error) {
		attempts++
		dialCtx, cancel := context.WithTimeout(ctx, dialTimeout)
		defer cancel()

		conn, err := w.dialer.DialContext(dialCtx, "tcp", addr)
		if err != nil {
			return false, nil
		}
		_ = conn.Close()
		return true, nil
	})
	if err != nil {
		logger.Warn("Device did not become reachable", "addr", addr, "timeout", timeout, "attempts", attempts)
		return false
	}

	logger.Debug("Device reachable", "addr", addr, "attempts", attempts)
	return true
}
