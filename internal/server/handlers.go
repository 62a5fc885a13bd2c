package server

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/thothlabs/thoth/internal/errors"
	"github.com/thothlabs/thoth/internal/ingest"
	"github.com/thothlabs/thoth/internal/taskqueue"
)

type ingestRequest struct {
	Source string `json:"source"`
	Force  bool   `json:"force"`
}

type mergeRequest struct {
	CollectionName string `json:"collection_name"`
	Cleanup        *bool  `json:"cleanup"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

// handleIngest accepts the request, creates the job, and returns 202; the
// orchestrator continues in the background.
func (s *Server) handleIngest(c *gin.Context) {
	var req ingestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.Source == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":         "source is required",
			"valid_sources": s.env.Registry.Names(),
		})
		return
	}

	traceID := c.GetHeader("X-Request-Id")
	if traceID == "" {
		traceID = ingest.NewTraceID()
	}

	job, err := s.orchestrator.Ingest(c.Request.Context(), req.Source, req.Force, traceID)
	if err != nil {
		if errors.GetCode(err) == errors.ErrCodeBadSource {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":         err.Error(),
				"valid_sources": s.env.Registry.Names(),
			})
			return
		}
		s.internalError(c, "starting ingestion", err)
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"status":          "accepted",
		"job_id":          job.JobID,
		"source":          job.Source,
		"collection_name": job.CollectionName,
	})
}

// handleIngestBatch is the task queue callback processing one batch.
func (s *Server) handleIngestBatch(c *gin.Context) {
	var task taskqueue.Task
	if err := c.ShouldBindJSON(&task); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid batch payload"})
		return
	}
	if task.Source == "" || task.CollectionName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "source and collection_name are required"})
		return
	}

	res, err := s.worker.ProcessBatch(c.Request.Context(), task)
	if err != nil {
		if errors.GetCode(err) == errors.ErrCodeBadSource {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}
		s.internalError(c, "processing batch", err)
		return
	}

	body := gin.H{
		"status":     "success",
		"batch_id":   res.BatchID,
		"successful": res.Successful,
		"failed":     res.Failed,
		"chunks":     res.Chunks,
	}
	if res.Skipped {
		body["skipped"] = true
	}
	if len(res.Failures) > 0 {
		body["failures"] = res.Failures
	}
	c.JSON(http.StatusOK, body)
}

func (s *Server) handleMergeBatches(c *gin.Context) {
	var req mergeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body"})
		return
	}
	if req.CollectionName == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "collection_name is required"})
		return
	}

	cleanup := true
	if req.Cleanup != nil {
		cleanup = *req.Cleanup
	}

	result, err := s.merger.MergeBatches(c.Request.Context(), req.CollectionName, cleanup)
	if err != nil {
		s.internalError(c, "merging batches", err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":          "success",
		"collection_name": result.Collection,
		"batches_merged":  result.BatchesMerged,
		"total_documents": result.TotalDocuments,
		"batches_cleaned": result.BatchesCleaned,
		"final_uri":       result.FinalURI,
	})
}

func (s *Server) handleGetJob(c *gin.Context) {
	jobID := c.Param("job_id")
	includeSubJobs, _ := strconv.ParseBool(c.Query("include_sub_jobs"))

	detail, err := s.env.Jobs.GetJobWithSubJobs(c.Request.Context(), jobID, includeSubJobs)
	if err != nil {
		s.internalError(c, "loading job", err)
		return
	}
	if detail == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "job not found", "job_id": jobID})
		return
	}
	c.JSON(http.StatusOK, detail)
}

func (s *Server) handleListJobs(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}

	jobs, err := s.env.Jobs.ListJobs(c.Request.Context(), c.Query("source"), c.Query("status"), limit)
	if err != nil {
		s.internalError(c, "listing jobs", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs, "count": len(jobs)})
}

func (s *Server) internalError(c *gin.Context, msg string, err error) {
	slog.Error(msg, slog.Any("error", err))
	c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
}
