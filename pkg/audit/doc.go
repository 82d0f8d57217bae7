// Package audit keeps a durable trail of committed plan changes.
//
// Recorder is an entitlements.Observer that turns every PlanChange into an
// Event and writes it to a Sink:
//
//   - FileSink: JSON lines in <dir>/audit.log with size based rotation
//   - S3Sink: one object per event under audit/plan-changes/YYYY/MM/DD/
//   - MultiSink: writes to several sinks, continuing past failures
//
// Example:
//
//	sink, err := audit.NewFileSink(audit.DefaultFileSinkConfig())
//	if err != nil {
//		return err
//	}
//	defer sink.Close()
//	svc.Subscribe(audit.NewRecorder(sink, log, metrics))
package audit
