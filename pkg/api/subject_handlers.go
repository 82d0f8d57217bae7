package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/repwatch/pkg/entitlements"
	"github.com/platinummonkey/repwatch/pkg/httputil"
	"github.com/platinummonkey/repwatch/pkg/middleware"
	"github.com/platinummonkey/repwatch/pkg/plans"
	"github.com/platinummonkey/repwatch/pkg/subjects"
	"github.com/platinummonkey/repwatch/pkg/usage"
)

// createSubject registers a new subject on a plan (free when omitted)
func (s *Server) createSubject(w http.ResponseWriter, r *http.Request) {
	var req CreateSubjectRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.ID == "" {
		httputil.WriteBadRequest(w, "id is required")
		return
	}
	if req.Plan != "" && !plans.PlanTier(req.Plan).IsValid() {
		httputil.WriteBadRequest(w, "unknown plan: "+req.Plan)
		return
	}

	rec := &subjects.Record{ID: req.ID, Plan: string(plans.ParseTier(req.Plan))}
	err := s.svc.Store().CreateSubject(r.Context(), rec)
	if errors.Is(err, subjects.ErrSubjectExists) {
		httputil.WriteErrorMessage(w, http.StatusConflict, err.Error())
		return
	}
	if err != nil {
		s.log.WithError(err).WithField("subject_id", req.ID).Error("Failed to create subject")
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteJSON(w, http.StatusCreated, SubjectResponse{
		ID:    rec.ID,
		Plan:  plans.PlanTier(rec.Plan),
		Usage: map[plans.FeatureKey]int64{},
	})
}

// getSubject returns the subject's plan and usage counters
func (s *Server) getSubject(w http.ResponseWriter, r *http.Request) {
	subject, ok := s.loadSubject(w, r)
	if !ok {
		return
	}
	httputil.WriteSuccess(w, SubjectResponse{
		ID:    subject.ID(),
		Plan:  subject.Tier(),
		Usage: subject.UsageSnapshot(),
	})
}

// getEntitlements returns the full entitlement view for the subject's plan
func (s *Server) getEntitlements(w http.ResponseWriter, r *http.Request) {
	subject, ok := s.loadSubject(w, r)
	if !ok {
		return
	}
	httputil.WriteSuccess(w, s.svc.Snapshot(subject.Tier()))
}

// checkFeature answers whether the subject can use a feature. The usage
// query parameter defaults to the subject's recorded usage.
func (s *Server) checkFeature(w http.ResponseWriter, r *http.Request) {
	subject, ok := s.loadSubject(w, r)
	if !ok {
		return
	}
	s.writeFeatureCheck(w, r, subject)
}

// changePlan moves the subject to a new plan. 502 means the change was not
// persisted and the subject keeps its old plan; the call may be retried.
func (s *Server) changePlan(w http.ResponseWriter, r *http.Request) {
	subject, ok := s.loadSubject(w, r)
	if !ok {
		return
	}

	var req ChangePlanRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	to := plans.PlanTier(req.Plan)
	if !to.IsValid() {
		httputil.WriteBadRequest(w, "unknown plan: "+req.Plan)
		return
	}

	change, ok := s.svc.ApplyPlanChange(r.Context(), subject, to)
	if !ok {
		httputil.WriteDetailedError(w, http.StatusBadGateway, "plan change was not persisted", map[string]any{
			"plan": subject.Tier(),
		})
		return
	}

	httputil.WriteSuccess(w, ChangePlanResponse{
		SubjectID: change.SubjectID,
		From:      change.From,
		To:        change.To,
	})
}

// consumeUsage records metered units. Requests that would exceed the plan
// limit are rejected whole with 403.
func (s *Server) consumeUsage(w http.ResponseWriter, r *http.Request) {
	subject, ok := s.loadSubject(w, r)
	if !ok {
		return
	}
	key, ok := pathFeature(w, r)
	if !ok {
		return
	}

	// an empty body consumes one unit
	req := ConsumeRequest{Units: 1}
	if err := httputil.ParseJSON(r, &req); err != nil && !errors.Is(err, httputil.ErrEmptyBody) {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if req.Units <= 0 {
		httputil.WriteBadRequest(w, "units must be positive")
		return
	}

	used, err := s.meter.Consume(r.Context(), subject, key, req.Units)
	switch {
	case err == nil:
	case errors.Is(err, usage.ErrNotMetered):
		httputil.WriteBadRequest(w, err.Error())
		return
	case entitlements.IsFeatureLimitExceeded(err):
		middleware.WriteFeatureDenied(w, s.svc.Evaluator, err)
		return
	default:
		s.log.WithError(err).WithFields(logrus.Fields{
			"subject_id": subject.ID(),
			"feature":    key,
		}).Error("Failed to record usage")
		httputil.WriteInternalError(w, err)
		return
	}

	httputil.WriteSuccess(w, ConsumeResponse{
		Feature:   key,
		Used:      used,
		Remaining: s.meter.Remaining(subject, key),
		Unlimited: s.svc.IsFeatureUnlimited(subject.Tier(), key),
	})
}

// getOwnEntitlements is getEntitlements for the calling subject
func (s *Server) getOwnEntitlements(w http.ResponseWriter, r *http.Request) {
	subject, _ := middleware.SubjectFromContext(r.Context())
	httputil.WriteSuccess(w, s.svc.Snapshot(subject.Tier()))
}

// checkOwnFeature is checkFeature for the calling subject
func (s *Server) checkOwnFeature(w http.ResponseWriter, r *http.Request) {
	subject, _ := middleware.SubjectFromContext(r.Context())
	s.writeFeatureCheck(w, r, subject)
}

func (s *Server) writeFeatureCheck(w http.ResponseWriter, r *http.Request, subject *entitlements.Subject) {
	key, ok := pathFeature(w, r)
	if !ok {
		return
	}
	used, err := httputil.QueryInt64(r, "usage", subject.Usage(key))
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if used < 0 {
		httputil.WriteBadRequest(w, fmt.Sprintf("usage must not be negative, got %d", used))
		return
	}

	httputil.WriteSuccess(w, s.featureCheck(subject.Tier(), key, used))
}

func (s *Server) loadSubject(w http.ResponseWriter, r *http.Request) (*entitlements.Subject, bool) {
	id, ok := httputil.PathStringOrError(w, r, "id")
	if !ok {
		return nil, false
	}

	subject, err := s.svc.LoadSubject(r.Context(), id)
	if errors.Is(err, subjects.ErrSubjectNotFound) {
		httputil.WriteNotFound(w, "subject not found: "+id)
		return nil, false
	}
	if err != nil {
		s.log.WithError(err).WithField("subject_id", id).Error("Failed to load subject")
		httputil.WriteInternalError(w, err)
		return nil, false
	}
	return subject, true
}
