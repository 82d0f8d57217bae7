package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/repwatch/pkg/entitlements"
	"github.com/platinummonkey/repwatch/pkg/httputil"
	"github.com/platinummonkey/repwatch/pkg/middleware"
	"github.com/platinummonkey/repwatch/pkg/plans"
	"github.com/platinummonkey/repwatch/pkg/usage"
)

// Server represents our API server
type Server struct {
	router  *mux.Router
	svc     *entitlements.Service
	meter   *usage.Meter
	gate    *middleware.EntitlementMiddleware
	limiter *middleware.RateLimitMiddleware
	pricing map[plans.PlanTier]plans.Pricing
	log     *logrus.Logger
}

// NewServer creates a new API server. A nil limiter uses process-local
// rate limits.
func NewServer(svc *entitlements.Service, meter *usage.Meter, limiter *middleware.RateLimitMiddleware, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.New()
	}
	if limiter == nil {
		limiter = middleware.NewRateLimitMiddleware(log)
	}
	if meter == nil {
		meter = usage.NewMeter(svc, log, nil)
	}

	s := &Server{
		router:  mux.NewRouter(),
		svc:     svc,
		meter:   meter,
		gate:    middleware.NewEntitlementMiddleware(svc, log),
		limiter: limiter,
		pricing: plans.DefaultPricing(),
		log:     log,
	}
	s.setupRoutes()
	return s
}

// setupRoutes configures all the API routes
func (s *Server) setupRoutes() {
	s.router.Use(httputil.RecoveryMiddleware(s.log))
	s.router.Use(httputil.RequestIDMiddleware)

	v1 := s.router.PathPrefix("/api/v1").Subrouter()
	v1.Use(s.gate.SubjectContext)
	v1.Use(s.limiter.Handler)

	// Catalog routes
	v1.HandleFunc("/plans", s.listPlans).Methods("GET")
	v1.HandleFunc("/plans/{tier}/features/{feature}", s.getPlanFeature).Methods("GET")

	// Subject routes
	v1.HandleFunc("/subjects", s.createSubject).Methods("POST")
	v1.HandleFunc("/subjects/{id}", s.getSubject).Methods("GET")
	v1.HandleFunc("/subjects/{id}/entitlements", s.getEntitlements).Methods("GET")
	v1.HandleFunc("/subjects/{id}/features/{feature}", s.checkFeature).Methods("GET")
	v1.HandleFunc("/subjects/{id}/plan", s.changePlan).Methods("PUT")
	v1.HandleFunc("/subjects/{id}/usage/{feature}", s.consumeUsage).Methods("POST")

	// Self-service routes for plans with API access
	me := v1.PathPrefix("/me").Subrouter()
	me.Use(s.gate.RequireFeature(plans.FeatureAPIAccess))
	me.HandleFunc("/entitlements", s.getOwnEntitlements).Methods("GET")
	me.HandleFunc("/features/{feature}", s.checkOwnFeature).Methods("GET")
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

// Router returns the underlying router
func (s *Server) Router() *mux.Router {
	return s.router
}

// RouteRegistrar is an interface for types that can register routes
type RouteRegistrar interface {
	RegisterRoutes(router *mux.Router)
}

// RegisterRoutes registers routes from a RouteRegistrar
func (s *Server) RegisterRoutes(registrar RouteRegistrar) {
	registrar.RegisterRoutes(s.router)
}
