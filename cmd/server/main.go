package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/splitledger/core/internal/cache"
	"github.com/splitledger/core/internal/config"
	"github.com/splitledger/core/internal/events"
	"github.com/splitledger/core/internal/jobs"
	"github.com/splitledger/core/internal/lock"
	"github.com/splitledger/core/internal/metrics"
	"github.com/splitledger/core/internal/models"
	"github.com/splitledger/core/internal/money"
	"github.com/splitledger/core/internal/service"
	"github.com/splitledger/core/internal/storage/sqlite"
	"github.com/splitledger/core/pkg/logging"
)

func main() {
	logging.Setup()
	cfg := config.Load()
	if err := cfg.Validate(1); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	store, err := sqlite.Open(cfg.DBPath)
	if err != nil {
		slog.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer store.Close()
	slog.Info("storage initialized", "database", cfg.DBPath)

	metrics.Init()

	runner := jobs.New(cfg.JobQueueDepth, cfg.JobConcurrency)
	c := cache.New()
	invalidator := service.NewAsyncInvalidator(c, runner)
	emitter := events.New(store, runner)
	runner.Start()
	defer runner.Shutdown()

	var backend lock.Backend
	if cfg.LockBackend == config.LockBackendDistributed {
		backend = lock.NewStoreBackend(store)
	} else {
		backend = lock.NewMemoryBackend()
	}
	locks := lock.New(backend, hostname(), 20)

	ledger := service.NewLedgerService(store, store, store, store, locks, invalidator, emitter)
	aggregation := service.NewAggregationService(store, store, c)
	groups := service.NewGroupService(store, emitter)

	mux := http.NewServeMux()
	registerRoutes(mux, ledger, aggregation, groups)
	mux.Handle("/metrics", metrics.Handler())

	handler := loggingMiddleware(corsMiddleware(mux))
	slog.Info("server starting", "address", cfg.HTTPAddr)
	if err := http.ListenAndServe(cfg.HTTPAddr, handler); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func hostname() string {
	h, err := os.Hostname()
	if err != nil {
		return "splitledger"
	}
	return h
}

// registerRoutes wires a handful of illustrative JSON endpoints over
// LedgerService and AggregationService. Full HTTP surface design (auth,
// routing conventions, pagination envelopes) is explicitly out of scope;
// these exist to exercise the core end to end.
func registerRoutes(mux *http.ServeMux, ledger *service.LedgerService, aggregation *service.AggregationService, groups *service.GroupService) {
	mux.HandleFunc("POST /groups", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Name      string   `json:"name"`
			CreatorID string   `json:"creatorId"`
			Members   []string `json:"members"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request")
			return
		}
		g, err := groups.CreateGroup(r.Context(), req.Name, req.CreatorID, req.Members)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, g)
	})

	mux.HandleFunc("POST /groups/{groupId}/members", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UserIDs []string `json:"userIds"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request")
			return
		}
		if err := groups.AddMembers(r.Context(), r.PathValue("groupId"), req.UserIDs); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("DELETE /groups/{groupId}", func(w http.ResponseWriter, r *http.Request) {
		byUser := r.URL.Query().Get("byUser")
		if err := groups.DeleteGroup(r.Context(), r.PathValue("groupId"), byUser); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /expenses", func(w http.ResponseWriter, r *http.Request) {
		var exp models.Expense
		if err := json.NewDecoder(r.Body).Decode(&exp); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request")
			return
		}
		created, err := ledger.PostExpense(r.Context(), exp)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, created)
	})

	mux.HandleFunc("POST /settlements", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Scope    string `json:"scope"`
			Debtor   string `json:"debtor"`
			Creditor string `json:"creditor"`
			Amount   int64  `json:"amount"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request")
			return
		}
		st, err := ledger.Settle(r.Context(), req.Scope, req.Debtor, req.Creditor, moneyFromInt(req.Amount))
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, st)
	})

	mux.HandleFunc("GET /users/{userId}/view", func(w http.ResponseWriter, r *http.Request) {
		fresh := r.URL.Query().Get("fresh") == "true"
		view, err := aggregation.GetUserView(r.Context(), r.PathValue("userId"), fresh)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	})

	mux.HandleFunc("GET /scopes/{scopeId}/matrix", func(w http.ResponseWriter, r *http.Request) {
		fresh := r.URL.Query().Get("fresh") == "true"
		matrix, err := aggregation.GetScopeMatrix(r.Context(), r.PathValue("scopeId"), fresh)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, matrix)
	})

	mux.HandleFunc("GET /settlement-plan", func(w http.ResponseWriter, r *http.Request) {
		var scope *string
		if s := r.URL.Query().Get("scope"); s != "" {
			scope = &s
		}
		matrix, err := aggregation.GetSettlementMatrix(r.Context(), scope)
		if err != nil {
			writeServiceError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, service.PlanSettlements(matrix))
	})

	mux.HandleFunc("POST /scopes/{scopeId}/recompute", func(w http.ResponseWriter, r *http.Request) {
		if err := ledger.Recompute(r.Context(), r.PathValue("scopeId")); err != nil {
			writeServiceError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})
}

func moneyFromInt(v int64) money.Cents { return money.Cents(v) }

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, slug string) {
	writeJSON(w, status, map[string]string{"error": slug})
}

// writeServiceError maps a sentinel error to the stable error-slug
// taxonomy spec.md §7 describes for client-facing responses.
func writeServiceError(w http.ResponseWriter, err error) {
	slug, status := errorSlug(err)
	slog.Warn("request failed", "error", err, "slug", slug)
	writeError(w, status, slug)
}

func errorSlug(err error) (string, int) {
	switch {
	case errors.Is(err, models.ErrInvalidSplit):
		return "invalid_split", http.StatusBadRequest
	case errors.Is(err, models.ErrNotMember):
		return "not_member", http.StatusForbidden
	case errors.Is(err, models.ErrInvalidSettlement):
		return "invalid_settlement", http.StatusBadRequest
	case errors.Is(err, models.ErrLockTimeout):
		return "lock_timeout", http.StatusServiceUnavailable
	case errors.Is(err, models.ErrStoreUnavailable):
		return "store_unavailable", http.StatusServiceUnavailable
	default:
		return "internal_error", http.StatusInternalServerError
	}
}

// loggingMiddleware mirrors the teacher's cmd/server logging wrapper.
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		slog.Info("request completed", "method", r.Method, "path", r.URL.Path, "duration_ms", time.Since(start).Milliseconds())
	})
}

// corsMiddleware mirrors the teacher's permissive-for-local-dev CORS setup.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
