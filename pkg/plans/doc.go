// Package plans defines the plan tiers of the reputation monitoring service and
// the capability matrix attached to each tier.
//
// # Overview
//
// Every tier carries a complete FeatureSet. A feature is either a boolean
// capability (real-time monitoring, API access) or a quantity limit (social
// accounts, monthly credits). Quantity limits use Unlimited (-1) for "no cap"
// and 0 for "no access".
//
// # Tiers
//
// Free:
//   - 1 social account, 100 credits/month, 5 tracked keywords
//   - 7 days of data retention
//
// Basic ($19/month):
//   - Real-time monitoring, sentiment analysis, data export
//   - 3 social accounts, 1000 credits/month, 10 reports/month
//
// Pro ($79/month):
//   - API access, competitor tracking, custom reports, crisis alerts
//   - 10 social accounts, 5000 credits/month
//
// Enterprise ($299/month):
//   - White label, priority support, dedicated manager
//   - Unlimited accounts, credits, keywords and team members
//
// # Usage Example
//
//	catalog := plans.DefaultCatalog()
//	set := catalog.Lookup(plans.ParseTier(user.Plan))
//	if v, ok := set.Get(plans.FeatureMaxSocialAccounts); ok {
//		fmt.Println(v.Limit())
//	}
//
// The catalog is immutable once built. Overrides can be layered on top of the
// defaults from a YAML file with LoadCatalogFile; the result is validated for
// totality and monotonicity before use.
//
// # Related Packages
//
//   - pkg/entitlements: Evaluates features against a catalog
package plans
