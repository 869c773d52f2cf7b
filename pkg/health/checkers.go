package health

import (
	"context"
	"runtime"

	"github.com/go-faster/errors"
)

// GoroutineCountCheck fails when more than threshold goroutines are running.
func GoroutineCountCheck(threshold int) CheckFunc {
	return func(_ context.Context) error {
		if n := runtime.NumGoroutine(); n > threshold {
			return errors.Errorf("goroutine count %d exceeds threshold %d", n, threshold)
		}
		return nil
	}
}

// Pinger is implemented by every key store backend.
type Pinger interface {
	Ping(ctx context.Context) error
}

// StoreCheck pings the key store. The driver error is reduced to a fixed
// message so that connection strings never reach the probe body.
func StoreCheck(p Pinger) CheckFunc {
	return func(ctx context.Context) error {
		if err := p.Ping(ctx); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return errors.New("store ping timed out")
			}
			return errors.New("store unreachable")
		}
		return nil
	}
}
