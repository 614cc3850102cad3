// Package api implements pontoond's admin/health HTTP surface
// (SPEC_FULL.md §6.4): a small operational surface distinct from the
// REST control plane (out of scope, consumed instead through
// internal/controlplane) — health checks and ad-hoc scheduler
// operations for operators and the `serve` daemon's own monitoring.
//
// Ported from the teacher's `api/server.go` gorilla/mux routing, with
// the VM-migration CRUD surface (sources/targets/vms/migrations/admin)
// dropped: those resources belong to the out-of-scope control plane,
// not to this engine.
package api

import (
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/sp00nznet/pontoond/internal/auth"
	"github.com/sp00nznet/pontoond/internal/scheduler"
)

// Server holds the admin surface's dependencies.
type Server struct {
	scheduler *scheduler.Client
	auth      *auth.Authenticator
	log       *logrus.Entry
}

// NewServer constructs a Server. authn may be nil or disabled
// (authn.Enabled() == false), in which case the scheduler routes are
// unauthenticated — intended for local development only.
func NewServer(sched *scheduler.Client, authn *auth.Authenticator, log *logrus.Entry) *Server {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Server{scheduler: sched, auth: authn, log: log}
}

// Router returns the configured HTTP router.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()
	r.Use(loggingMiddleware(s.log))

	r.HandleFunc("/healthz", s.healthz).Methods("GET")

	scheduled := r.PathPrefix("/scheduler").Subrouter()
	if s.auth != nil && s.auth.Enabled() {
		scheduled.Use(s.bearerAuthMiddleware)
	}
	scheduled.HandleFunc("/transfers/{id}", s.getTransferStatus).Methods("GET")
	scheduled.HandleFunc("/transfers/{id}/run", s.runTransfer).Methods("POST")

	return r
}
