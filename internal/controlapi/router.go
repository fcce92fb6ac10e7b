package controlapi

import (
	"crypto/rsa"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter returns a configured chi.Router for the agent's local control
// plane.
//
// Route layout:
//
//	GET  /healthz             – liveness probe (no authentication required)
//	GET  /api/v1/reports      – recent scan history (JWT required if pubKey != nil)
//	POST /api/v1/scan/{pid}   – request an out-of-band scan of pid
//	GET  /api/v1/config       – the active HHParams snapshot
//
// pubKey is the RSA public key used to verify RS256 Bearer tokens on all
// /api routes. Pass nil to disable JWT validation, e.g. when the control
// plane is bound to loopback only.
func NewRouter(srv *Server, pubKey *rsa.PublicKey) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", srv.handleHealthz)

	r.Route("/api/v1", func(r chi.Router) {
		if pubKey != nil {
			r.Use(JWTMiddleware(pubKey))
		}

		r.Get("/reports", srv.handleGetReports)
		r.Post("/scan/{pid}", func(w http.ResponseWriter, req *http.Request) {
			srv.handlePostScan(w, req, chi.URLParam(req, "pid"))
		})
		r.Get("/config", srv.handleGetConfig)
	})

	return r
}
