// Package entitlements answers what a subject may do on its plan and applies
// plan changes.
//
// # Evaluation
//
// Evaluator is pure and reentrant over an immutable plans.Catalog:
//
//	eval := entitlements.NewEvaluator(plans.DefaultCatalog(), log, metrics)
//	eval.HasFeature(plans.PlanFree, plans.FeatureRealTimeMonitoring)    // false
//	eval.CanUseFeature(plans.PlanPro, plans.FeatureMaxSocialAccounts, 9) // true
//	tier, needed := eval.UpgradeRequired(plans.PlanFree, plans.FeatureAPIAccess)
//	// tier == plans.PlanPro, needed == true
//
// Unknown tiers evaluate as free and unknown features are never granted.
// No evaluator method returns an error or panics.
//
// # Plan changes
//
// Service owns plan mutation. ChangePlan persists the new tier through the
// subject store first; only after the store confirms does the subject's tier
// change and every subscribed Observer get notified. A failed persist leaves
// the subject untouched and notifies nobody.
//
//	svc, _ := entitlements.NewService(eval, store, entitlements.WithLogger(log))
//	unsubscribe := svc.Subscribe(recorder)
//	defer unsubscribe()
//
//	subject, _ := svc.LoadSubject(ctx, "user-42")
//	if !svc.ChangePlan(ctx, subject, plans.PlanPro) {
//		// retry or report; subject.Tier() is unchanged
//	}
package entitlements
