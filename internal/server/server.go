package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/cors"

	"github.com/fairshare-app/fairshare/internal/auth"
	"github.com/fairshare-app/fairshare/internal/domain"
	"github.com/fairshare-app/fairshare/internal/history"
	"github.com/fairshare-app/fairshare/internal/middleware"
	"github.com/fairshare-app/fairshare/internal/store"
	"github.com/fairshare-app/fairshare/internal/versioning"
)

// Server exposes the JSON API: project, member and bill writes riding the
// versioned session, plus the history read surface.
type Server struct {
	pool     *pgxpool.Pool
	registry *versioning.Registry
	history  *history.Service
	exports  http.Handler
	origins  []string
	logger   *slog.Logger
}

func New(pool *pgxpool.Pool, registry *versioning.Registry, historyService *history.Service, exports http.Handler, origins []string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if len(origins) == 0 {
		origins = []string{"*"}
	}
	return &Server{
		pool:     pool,
		registry: registry,
		history:  historyService,
		exports:  exports,
		origins:  origins,
		logger:   logger,
	}
}

// Handler assembles the route table and middleware chain.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /projects", s.handleCreateProject)
	mux.HandleFunc("GET /projects/{id}", s.handleGetProject)
	mux.HandleFunc("PUT /projects/{id}", s.handleUpdateProject)
	mux.HandleFunc("DELETE /projects/{id}", s.handleDeleteProject)

	mux.HandleFunc("POST /projects/{id}/members", s.handleCreateMember)
	mux.HandleFunc("PUT /projects/{id}/members/{memberId}", s.handleUpdateMember)
	mux.HandleFunc("DELETE /projects/{id}/members/{memberId}", s.handleDeleteMember)

	mux.HandleFunc("POST /projects/{id}/bills", s.handleCreateBill)
	mux.HandleFunc("PUT /projects/{id}/bills/{billId}", s.handleUpdateBill)
	mux.HandleFunc("DELETE /projects/{id}/bills/{billId}", s.handleDeleteBill)

	mux.HandleFunc("GET /projects/{id}/history", s.handleGetHistory)
	mux.HandleFunc("DELETE /projects/{id}/history", s.handlePurgeHistory)
	mux.HandleFunc("DELETE /projects/{id}/history/ips", s.handleStripHistoryIPs)

	if s.exports != nil {
		mux.Handle("GET /exports/projects/{id}/history.xlsx", s.exports)
	}

	handler := middleware.RemoteAddrMiddleware(mux)
	handler = middleware.LoggingMiddleware(s.logger)(handler)
	return cors.New(cors.Options{
		AllowedOrigins: s.origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}).Handler(handler)
}

// requestScope plays the request-scoped project role for the tracking
// policy: handlers set it once the governing project is loaded.
type requestScope struct {
	project *domain.Project
}

// sessionFor builds the per-request write session: ledger with context
// contributors, unit of work gated by the project's logging preference, and
// the session the repositories write through.
func (s *Server) sessionFor() (*store.Session, *requestScope) {
	scope := &requestScope{}
	var sess *store.Session

	ledger := versioning.NewLedger(auth.TransactionArgs)
	policy := func(ctx context.Context) (versioning.PolicyDecision, error) {
		return domain.HistoryPolicy(sess, func(context.Context) (*domain.Project, bool) {
			return scope.project, scope.project != nil
		})(ctx)
	}
	uow := versioning.NewUnitOfWork(s.registry, ledger, policy)
	sess = store.NewSession(s.pool, uow, s.logger)
	return sess, scope
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(payload)
}
