package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/stepflow/stepflow-oss/pkg/config"
	"github.com/stepflow/stepflow-oss/pkg/domain"
	"github.com/stepflow/stepflow-oss/pkg/pipeline"
	"github.com/stepflow/stepflow-oss/pkg/telemetry"
)

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the pipeline over HTTP with hot configuration reload",
		Args:  cobra.NoArgs,
		RunE:  runServe,
	}
}

// runner holds the currently active pipeline, swapped atomically when the
// configuration file changes.
type runner struct {
	logger *slog.Logger
	mu     sync.RWMutex
	p      *pipeline.Pipeline[*domain.Document]
}

func (r *runner) rebuild(cfg *config.Config) error {
	p, err := buildPipeline(cfg, r.logger)
	if err != nil {
		return err
	}
	r.mu.Lock()
	r.p = p
	r.mu.Unlock()
	return nil
}

func (r *runner) current() *pipeline.Pipeline[*domain.Document] {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.p
}

func runServe(cmd *cobra.Command, _ []string) error {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("failed to get config flag: %w", err)
	}

	cfg, logger, err := loadConfigAndLogger(cmd)
	if err != nil {
		return err
	}

	shutdownTelemetry, err := telemetry.SetupProvider(cmd.Context(), telemetry.Config{
		ServiceName: cfg.Telemetry.ServiceName,
		Endpoint:    cfg.Telemetry.OTLPEndpoint,
		Environment: cfg.Pipeline.Environment,
		Insecure:    cfg.Telemetry.Insecure,
	})
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			logger.Error("telemetry shutdown failed", "error", err)
		}
	}()

	provider, err := config.NewFileProvider(configPath, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := provider.Close(); err != nil {
			logger.Error("failed to close config provider", "error", err)
		}
	}()

	metrics := telemetry.NewServerMetrics()

	r := &runner{logger: logger}
	if err := r.rebuild(cfg); err != nil {
		return err
	}

	updates := provider.Subscribe()
	go func() {
		for next := range updates {
			if err := r.rebuild(next); err != nil {
				logger.Error("pipeline reload failed; keeping previous pipeline", "error", err)
				metrics.RecordConfigReload("error")
				continue
			}
			metrics.RecordConfigReload("success")
		}
	}()

	mux := http.NewServeMux()
	mux.HandleFunc("POST /execute", executeHandler(r, metrics, logger))
	mux.HandleFunc("GET /steps", stepsHandler(r))
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", metrics.Handler())

	server := &http.Server{
		Addr:              cfg.Server.Address,
		Handler:           otelhttp.NewHandler(metrics.Middleware(mux), "stepflow.http"),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("serving pipeline", "address", cfg.Server.Address, "pipeline", cfg.Pipeline.Name)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-sigCh:
		logger.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func executeHandler(r *runner, metrics *telemetry.ServerMetrics, logger *slog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		doc := domain.NewDocument(uuid.NewString())
		if err := json.NewDecoder(req.Body).Decode(doc); err != nil {
			writeError(w, http.StatusBadRequest, "DOCUMENT_INVALID", "request body is not a valid document")
			return
		}
		if doc.Variables == nil {
			doc.Variables = make(map[string]any)
		}

		p := r.current()
		start := time.Now()
		err := p.Execute(req.Context(), doc)
		duration := time.Since(start)

		switch {
		case err != nil:
			metrics.RecordExecution(p.Name(), "error", duration)
			var stepErr *pipeline.StepError
			if errors.As(err, &stepErr) {
				logger.Error("pipeline execution failed",
					"document_id", doc.ID,
					"step", stepErr.Step,
					"position", stepErr.Position,
					"error", err,
				)
			}
			writeError(w, http.StatusUnprocessableEntity, "EXECUTION_FAILED", err.Error())
			return
		case doc.Blocked:
			metrics.RecordExecution(p.Name(), "blocked", duration)
		default:
			metrics.RecordExecution(p.Name(), "success", duration)
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(doc)
	}
}

func stepsHandler(r *runner) http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		infos, err := r.current().Steps()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "DESCRIBE_FAILED", err.Error())
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(infos)
	}
}

// errorResponse is the standard JSON error model returned by the server.
type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorResponse{Code: code, Message: message})
}
