// Package async runs long-lived background loops with panic recovery and
// restart.
//
// Supervise keeps a task running until its context ends, restarting it with
// exponential backoff when it returns an error or panics:
//
//	go async.Supervise(ctx, log, "broadcast listener", async.DefaultBackoff, listener.Run)
//
// Every runs a function on a fixed interval until the context ends:
//
//	go async.Every(ctx, log, 15*time.Second, "db stats", func(ctx context.Context) error {
//		metrics.UpdateDBStats(db)
//		return nil
//	})
package async
