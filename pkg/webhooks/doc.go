// Package webhooks notifies external systems of committed plan changes.
//
// A Notifier is an entitlements.Observer. Each plan change becomes one
// Event (plan.upgraded, plan.downgraded or plan.renewed) posted as JSON to
// every subscribed Endpoint. When an endpoint has a secret the body is
// signed with HMAC-SHA256 and sent in the X-Repwatch-Signature header as
// "sha256=<hex>". Receivers check it with VerifySignature.
//
// Failed deliveries are retried with exponential backoff by RetryPending,
// which the server runs on a fixed interval:
//
//	notifier := webhooks.NewNotifier(webhooks.Config{
//		URLs:   []string{"https://crm.example.com/hooks/plan"},
//		Secret: os.Getenv("REPWATCH_WEBHOOK_SECRET"),
//	}, log, metrics)
//	svc.Subscribe(notifier)
//	go async.Every(ctx, log, 30*time.Second, "webhook-retries", notifier.RetryPending)
package webhooks
