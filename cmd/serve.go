package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/shelfwatch/pricematch/internal/model"
	"github.com/shelfwatch/pricematch/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for matching runs",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initPipeline(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
		}))

		r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})

		r.Post("/runs", func(w http.ResponseWriter, req *http.Request) {
			var body struct {
				SourceA string `json:"source_a"`
				SourceB string `json:"source_b"`
			}
			if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			if body.SourceA == "" || body.SourceB == "" {
				writeError(w, http.StatusBadRequest, "source_a and source_b are required")
				return
			}

			// Run asynchronously. The run row records the outcome.
			go func() {
				result, runErr := env.Pipeline.Run(ctx, body.SourceA, body.SourceB)
				if runErr != nil {
					zap.L().Error("api run failed",
						zap.String("source_a", body.SourceA),
						zap.String("source_b", body.SourceB),
						zap.Error(runErr),
					)
					return
				}
				zap.L().Info("api run complete",
					zap.String("run_id", result.RunID),
					zap.Int("comparison_rows", result.Summary.ComparisonRows),
				)
			}()

			writeJSON(w, http.StatusAccepted, map[string]string{
				"status":   "accepted",
				"source_a": body.SourceA,
				"source_b": body.SourceB,
			})
		})

		r.Get("/runs", func(w http.ResponseWriter, req *http.Request) {
			filter := store.RunFilter{
				Status: model.RunStatus(req.URL.Query().Get("status")),
				Limit:  50,
			}
			if raw := req.URL.Query().Get("limit"); raw != "" {
				limit, convErr := strconv.Atoi(raw)
				if convErr != nil || limit < 0 {
					writeError(w, http.StatusBadRequest, "invalid limit")
					return
				}
				filter.Limit = limit
			}

			runs, listErr := env.Store.ListRuns(req.Context(), filter)
			if listErr != nil {
				zap.L().Error("api list runs failed", zap.Error(listErr))
				writeError(w, http.StatusInternalServerError, "list runs failed")
				return
			}
			writeJSON(w, http.StatusOK, runs)
		})

		r.Get("/runs/{id}", func(w http.ResponseWriter, req *http.Request) {
			run, getErr := env.Store.GetRun(req.Context(), chi.URLParam(req, "id"))
			if getErr != nil {
				if eris.Is(getErr, store.ErrNotFound) {
					writeError(w, http.StatusNotFound, "run not found")
					return
				}
				zap.L().Error("api get run failed", zap.Error(getErr))
				writeError(w, http.StatusInternalServerError, "get run failed")
				return
			}
			writeJSON(w, http.StatusOK, run)
		})

		r.Get("/runs/{id}/report", func(w http.ResponseWriter, req *http.Request) {
			runID := chi.URLParam(req, "id")
			if _, getErr := env.Store.GetRun(req.Context(), runID); getErr != nil {
				if eris.Is(getErr, store.ErrNotFound) {
					writeError(w, http.StatusNotFound, "run not found")
					return
				}
				zap.L().Error("api get run failed", zap.Error(getErr))
				writeError(w, http.StatusInternalServerError, "get run failed")
				return
			}

			rows, rowsErr := env.Store.GetComparisonRows(req.Context(), runID)
			if rowsErr != nil {
				zap.L().Error("api get report failed", zap.Error(rowsErr))
				writeError(w, http.StatusInternalServerError, "get report failed")
				return
			}
			writeJSON(w, http.StatusOK, rows)
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: r,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
