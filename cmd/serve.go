package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/supplyrisk/internal/model"
	"github.com/sells-group/supplyrisk/internal/pipeline"
	"github.com/sells-group/supplyrisk/internal/runstate"
	"github.com/sells-group/supplyrisk/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and event stream",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		s := &server{ctx: ctx, store: env.Store, runner: env.Aggregator, events: env.Hub}
		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           s.router(cfg.Server.CORSOrigins),
			ReadHeaderTimeout: 10 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return eris.Wrap(err, "server listen")
		}

		s.wait()
		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// cycleRunner prepares organization cycles. *pipeline.Aggregator satisfies it.
type cycleRunner interface {
	Prepare(ctx context.Context, org model.OrganizationScope) (*pipeline.Cycle, error)
}

type server struct {
	// ctx outlives requests; background cycles run under it.
	ctx    context.Context
	store  store.Store
	runner cycleRunner
	events http.Handler

	inflight sync.WaitGroup
}

func (s *server) router(origins []string) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", s.handleHealth)
	r.Get("/events", s.events.ServeHTTP)
	r.Get("/runs/{runID}", s.handleGetRun)
	r.Route("/organizations/{orgID}", func(r chi.Router) {
		r.Post("/runs", s.handleTrigger)
		r.Get("/runs", s.handleListRuns)
		r.Get("/score", s.handleScore)
	})
	return r
}

// wait blocks until background cycles finish.
func (s *server) wait() {
	s.inflight.Wait()
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.store.Ping(ctx); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// handleTrigger claims the organization and pre-creates its runs before
// answering, so a conflicting trigger is rejected synchronously. The cycle
// itself runs in the background.
func (s *server) handleTrigger(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")

	var scope model.OrganizationScope
	if err := json.NewDecoder(r.Body).Decode(&scope); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if scope.ID == "" {
		scope.ID = orgID
	}
	if scope.ID != orgID {
		writeError(w, http.StatusBadRequest, "organization id does not match path")
		return
	}

	cycle, err := s.runner.Prepare(r.Context(), scope)
	switch {
	case errors.Is(err, runstate.ErrRunInProgress):
		writeError(w, http.StatusConflict, "a run is already in progress for this organization")
		return
	case errors.Is(err, pipeline.ErrInvalidScope):
		writeError(w, http.StatusBadRequest, err.Error())
		return
	case err != nil:
		zap.L().Error("prepare organization run", zap.String("organization_id", orgID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not start run")
		return
	}

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		// Keep going through shutdown; Execute leaves no run active on return.
		if _, err := cycle.Execute(context.WithoutCancel(s.ctx)); err != nil {
			zap.L().Error("organization run failed", zap.String("organization_id", orgID), zap.Error(err))
		}
	}()

	writeJSON(w, http.StatusAccepted, map[string]any{
		"status":          "accepted",
		"organization_id": orgID,
		"runs":            cycle.Runs,
	})
}

func (s *server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "run not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load run")
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	filter := store.RunFilter{
		OrganizationID: chi.URLParam(r, "orgID"),
		SupplierID:     r.URL.Query().Get("supplier_id"),
		Limit:          queryInt(r, "limit", 50),
		Offset:         queryInt(r, "offset", 0),
	}
	runs, err := s.store.ListRuns(r.Context(), filter)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not list runs")
		return
	}
	if runs == nil {
		runs = []model.RunWithStatus{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *server) handleScore(w http.ResponseWriter, r *http.Request) {
	orgID := chi.URLParam(r, "orgID")
	score, err := s.store.LatestOrganizationScore(r.Context(), orgID)
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "organization has not been scored")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load score")
		return
	}
	suppliers, err := s.store.ListSuppliers(r.Context(), orgID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "could not load suppliers")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"score":     score,
		"suppliers": suppliers,
	})
}

func queryInt(r *http.Request, key string, def int) int {
	v, err := strconv.Atoi(r.URL.Query().Get(key))
	if err != nil || v < 0 {
		return def
	}
	return v
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
