package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/campaign-warehouse/internal/audit"
	"github.com/sells-group/campaign-warehouse/internal/monitoring"
)

var servePort int

// errIngestBusy is returned by a trigger while an ingest is in flight.
var errIngestBusy = errors.New("an ingest is already running")

// ingestTrigger starts an ingest in the background and returns the
// selected source names.
type ingestTrigger func(names []string, dryRun bool) ([]string, error)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the audit API and run background alert checks",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}
		cfg.Server.Port = port
		if err := cfg.Validate("serve"); err != nil {
			return err
		}

		env, err := initEnv(ctx, cfg.Store.DatabaseURL != "")
		if err != nil {
			return err
		}
		defer env.Close()

		collector := monitoring.NewCollector(env.Audit)
		checker := monitoring.NewChecker(collector, monitoring.NewAlerter(cfg.Monitoring), cfg.Monitoring)
		go checker.Run(ctx)

		var busy atomic.Bool
		trigger := func(names []string, dryRun bool) ([]string, error) {
			sources, err := env.Registry.Select(names)
			if err != nil {
				return nil, err
			}
			if !dryRun && env.Pool == nil {
				return nil, eris.New("no warehouse configured; only dry runs are available")
			}
			if !busy.CompareAndSwap(false, true) {
				return nil, errIngestBusy
			}
			selected := make([]string, len(sources))
			for i, s := range sources {
				selected[i] = s.Name()
			}
			go func() {
				defer busy.Store(false)
				if _, err := newRunner(env, dryRun).Run(ctx, sources); err != nil {
					zap.L().Error("api ingest failed", zap.Strings("sources", selected), zap.Error(err))
				}
			}()
			return selected, nil
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(env.Audit, collector, cfg.Monitoring.LookbackWindowHours, trigger),
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
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// newRouter builds the audit API. trigger may be nil to disable POST /ingest.
func newRouter(st audit.Store, collector *monitoring.Collector, lookbackHours int, trigger ingestTrigger) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/runs", func(w http.ResponseWriter, req *http.Request) {
		q := req.URL.Query()
		filter := audit.RunFilter{
			Source: q.Get("source"),
			Status: audit.RunStatus(q.Get("status")),
		}
		if v := q.Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
				return
			}
			filter.Limit = n
		}
		if v := q.Get("since"); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				writeError(w, http.StatusBadRequest, "since must be an RFC 3339 timestamp")
				return
			}
			filter.Since = t
		}

		runs, err := st.ListRuns(req.Context(), filter)
		if err != nil {
			zap.L().Error("api: list runs", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to list runs")
			return
		}
		if runs == nil {
			runs = []audit.Run{}
		}
		writeJSON(w, http.StatusOK, runs)
	})

	r.Get("/runs/{id}", func(w http.ResponseWriter, req *http.Request) {
		run, err := st.GetRun(req.Context(), chi.URLParam(req, "id"))
		if errors.Is(err, audit.ErrNotFound) {
			writeError(w, http.StatusNotFound, "run not found")
			return
		}
		if err != nil {
			zap.L().Error("api: get run", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to get run")
			return
		}
		writeJSON(w, http.StatusOK, run)
	})

	r.Get("/runs/{id}/rejections", func(w http.ResponseWriter, req *http.Request) {
		limit := 0
		if v := req.URL.Query().Get("limit"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
				return
			}
			limit = n
		}
		rejections, err := st.ListRejections(req.Context(), chi.URLParam(req, "id"), limit)
		if err != nil {
			zap.L().Error("api: list rejections", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to list rejections")
			return
		}
		if rejections == nil {
			rejections = []audit.Rejection{}
		}
		writeJSON(w, http.StatusOK, rejections)
	})

	r.Get("/metrics", func(w http.ResponseWriter, req *http.Request) {
		hours := lookbackHours
		if v := req.URL.Query().Get("lookback_hours"); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n <= 0 {
				writeError(w, http.StatusBadRequest, "lookback_hours must be a positive integer")
				return
			}
			hours = n
		}
		snap, err := collector.Collect(req.Context(), hours)
		if err != nil {
			zap.L().Error("api: collect metrics", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "failed to collect metrics")
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})

	r.Post("/ingest", func(w http.ResponseWriter, req *http.Request) {
		if trigger == nil {
			writeError(w, http.StatusNotImplemented, "ingest is disabled")
			return
		}
		var body struct {
			Sources []string `json:"sources"`
			DryRun  bool     `json:"dry_run"`
		}
		if req.ContentLength != 0 {
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
		}

		selected, err := trigger(body.Sources, body.DryRun)
		switch {
		case errors.Is(err, errIngestBusy):
			writeError(w, http.StatusConflict, err.Error())
			return
		case err != nil:
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{
			"status":  "accepted",
			"sources": selected,
			"dry_run": body.DryRun,
		})
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
