package fetch

import (
	"context"
	"sync/atomic"
	"time"
)

var netDebug atomic.Bool

// SetNetDebug toggles diagnostic logging for every Client in the process.
func SetNetDebug(enabled bool) {
	netDebug.Store(enabled)
}

// NetDebug reports the current diagnostic setting.
func NetDebug() bool {
	return netDebug.Load()
}

// Sleep waits for d or until ctx ends, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
