// Package server exposes the HTTP control plane: ingestion entry, batch
// callbacks, merge trigger, and job inspection.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/thothlabs/thoth/internal/ingest"
)

// Server wires the ingest components behind a gin router.
type Server struct {
	env          *ingest.Env
	orchestrator *ingest.Orchestrator
	worker       *ingest.BatchWorker
	merger       *ingest.Merger
}

// New creates a server over the shared environment.
func New(env *ingest.Env) *Server {
	return &Server{
		env:          env,
		orchestrator: ingest.NewOrchestrator(env),
		worker:       ingest.NewBatchWorker(env),
		merger:       ingest.NewMerger(env),
	}
}

// Router builds the HTTP routing table.
func (s *Server) Router() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery(), requestLogger())

	r.GET("/health", s.handleHealth)
	r.POST("/ingest", s.handleIngest)
	r.POST("/ingest-batch", s.handleIngestBatch)
	r.POST("/merge-batches", s.handleMergeBatches)
	r.GET("/jobs", s.handleListJobs)
	r.GET("/jobs/:job_id", s.handleGetJob)
	r.POST("/clone-handbook", s.handleCloneHandbook)
	return r
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.env.Settings.Port),
		Handler:           s.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server listening", slog.String("addr", srv.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// requestLogger emits one slog record per request.
func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Info("http request",
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.Duration("duration", time.Since(start)))
	}
}
