package async

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/repwatch/pkg/observability"
)

// Backoff bounds restart delays
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

// DefaultBackoff starts at one second and caps at one minute
var DefaultBackoff = Backoff{Initial: time.Second, Max: time.Minute}

func (b Backoff) next(current time.Duration) time.Duration {
	if current <= 0 {
		return b.Initial
	}
	next := current * 2
	if next > b.Max {
		return b.Max
	}
	return next
}

// Supervise runs fn until ctx is done. A run that ends while ctx is still
// live is restarted after a backoff delay; a run that lasted longer than the
// maximum delay resets the backoff.
func Supervise(ctx context.Context, log logrus.FieldLogger, taskName string, backoff Backoff, fn func(context.Context) error) {
	var delay time.Duration
	for {
		started := time.Now()
		err := runProtected(ctx, fn)
		if ctx.Err() != nil {
			return
		}

		if time.Since(started) > backoff.Max {
			delay = 0
		}
		delay = backoff.next(delay)

		entry := log.WithFields(logrus.Fields{
			"task":  taskName,
			"retry": delay.String(),
		})
		if err != nil {
			entry = entry.WithError(err)
		}
		entry.Warn("Background task stopped, restarting")

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// Every calls fn once per interval until ctx is done. Errors and panics are
// logged and do not stop the loop.
func Every(ctx context.Context, log logrus.FieldLogger, interval time.Duration, taskName string, fn func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := runProtected(ctx, fn); err != nil {
				log.WithError(err).WithField("task", taskName).Warn("Periodic task failed")
			}
		}
	}
}

func runProtected(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if perr := observability.MustRecover(recover()); perr != nil {
			err = perr
		}
	}()
	return fn(ctx)
}
