// Package usage meters consumption of quantity features and resets monthly
// counters on a schedule.
//
// Meter.Consume admits a request for n units only when every unit fits under
// the subject's plan limit; a rejected request changes nothing and returns an
// *entitlements.FeatureLimitError naming the tier that would allow it.
package usage
