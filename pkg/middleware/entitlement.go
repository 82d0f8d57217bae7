package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/repwatch/pkg/contextkeys"
	"github.com/platinummonkey/repwatch/pkg/entitlements"
	"github.com/platinummonkey/repwatch/pkg/httputil"
	"github.com/platinummonkey/repwatch/pkg/plans"
	"github.com/platinummonkey/repwatch/pkg/subjects"
)

// SubjectIDHeader names the acting subject. Authentication in front of the
// service is expected to set it.
const SubjectIDHeader = "X-Subject-ID"

// EntitlementMiddleware loads subjects and gates features
type EntitlementMiddleware struct {
	svc *entitlements.Service
	log *logrus.Logger
}

// NewEntitlementMiddleware creates the middleware
func NewEntitlementMiddleware(svc *entitlements.Service, log *logrus.Logger) *EntitlementMiddleware {
	if log == nil {
		log = logrus.New()
	}
	return &EntitlementMiddleware{svc: svc, log: log}
}

// SubjectContext loads the subject named by X-Subject-ID into the request
// context. Requests without the header pass through untouched.
func (m *EntitlementMiddleware) SubjectContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(SubjectIDHeader)
		if id == "" {
			next.ServeHTTP(w, r)
			return
		}

		subject, err := m.svc.LoadSubject(r.Context(), id)
		if errors.Is(err, subjects.ErrSubjectNotFound) {
			httputil.WriteErrorMessage(w, http.StatusUnauthorized, "unknown subject")
			return
		}
		if err != nil {
			m.log.WithError(err).WithField("subject_id", id).Error("Failed to load subject")
			httputil.WriteErrorMessage(w, http.StatusServiceUnavailable, "subject store unavailable")
			return
		}

		ctx := contextkeys.WithSubject(r.Context(), subject)
		ctx = contextkeys.WithSubjectID(ctx, subject.ID())
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// SubjectFromContext returns the subject loaded by SubjectContext
func SubjectFromContext(ctx context.Context) (*entitlements.Subject, bool) {
	subject, ok := contextkeys.GetSubject(ctx).(*entitlements.Subject)
	return subject, ok && subject != nil
}

// RequireFeature rejects requests whose subject cannot use key at its
// current usage.
//
// REQUIRES: SubjectContext must run before this middleware
func (m *EntitlementMiddleware) RequireFeature(key plans.FeatureKey) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			subject, ok := SubjectFromContext(r.Context())
			if !ok {
				httputil.WriteErrorMessage(w, http.StatusUnauthorized, "subject required")
				return
			}

			tier := subject.Tier()
			if err := m.svc.CheckFeature(tier, key, subject.Usage(key)); err != nil {
				WriteFeatureDenied(w, m.svc.Evaluator, err)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// WriteFeatureDenied writes the 403 body for a feature limit error
func WriteFeatureDenied(w http.ResponseWriter, eval *entitlements.Evaluator, err error) {
	var limitErr *entitlements.FeatureLimitError
	if !errors.As(err, &limitErr) {
		httputil.WriteInternalError(w, err)
		return
	}

	message := eval.UpgradeMessage(limitErr.Tier, limitErr.Feature)
	if eval.HasFeature(limitErr.Tier, limitErr.Feature) {
		// Entitled but at the cap
		message = fmt.Sprintf("%s limit reached", limitErr.Feature.DisplayName())
		if limitErr.RequiredTier != "" {
			message += fmt.Sprintf("; upgrade to %s for more", limitErr.RequiredTier.DisplayName())
		}
	}

	details := map[string]any{
		"feature": limitErr.Feature,
		"tier":    limitErr.Tier,
		"usage":   limitErr.Usage,
		"limit":   limitErr.Limit,
		"message": message,
	}
	if limitErr.RequiredTier != "" {
		details["required_tier"] = limitErr.RequiredTier
	}
	httputil.WriteDetailedError(w, http.StatusForbidden, limitErr.Error(), details)
}
