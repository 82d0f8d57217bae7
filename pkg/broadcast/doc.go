// Package broadcast fans plan change notifications out to other repwatch
// instances over Redis pub/sub.
//
// Each process registers a Publisher as an entitlements.Observer and runs a
// Listener that invalidates its own cached subjects when another instance
// commits a change:
//
//	client, _ := broadcast.NewRedisClient(broadcast.RedisConfig{URL: cfg.RedisURL})
//	instance := uuid.NewString()
//	svc.Subscribe(broadcast.NewPublisher(client, "", instance, log, metrics))
//
//	listener := broadcast.NewListener(client, "", instance, func(ctx context.Context, c entitlements.PlanChange) {
//		svc.Invalidate(c.SubjectID)
//	}, log, metrics)
//	go listener.Run(ctx)
//
// Delivery is best effort. A missed message only leaves a stale cached
// subject until it is evicted or reloaded.
package broadcast
