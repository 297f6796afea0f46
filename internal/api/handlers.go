package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/stadspuls/eventpipe/internal/coordinator"
	"github.com/stadspuls/eventpipe/internal/healer"
)

type coordinatorRequest struct {
	SourceIDs []string `json:"sourceIds"`
}

func (s *Server) handleCoordinator(c *gin.Context) {
	var req coordinatorRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	result, err := s.coordinator.Tick(c.Request.Context(), req.SourceIDs)
	if err != nil {
		s.logger.Error("coordinator tick failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	sources := result.Sources
	if sources == nil {
		sources = []coordinator.SourceRef{}
	}
	c.JSON(http.StatusOK, gin.H{
		"success":     true,
		"skipped":     result.Skipped,
		"jobsCreated": result.Enqueued,
		"sources":     sources,
	})
}

type workerRequest struct {
	EnableDeepScraping bool `json:"enableDeepScraping"`
}

func (s *Server) handleWorker(c *gin.Context) {
	var req workerRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	result, err := s.worker.Drain(c.Request.Context(), req.EnableDeepScraping)
	if err != nil {
		s.logger.Error("worker drain failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	status := http.StatusOK
	if !result.AllSucceeded() {
		status = http.StatusMultiStatus
	}
	c.JSON(status, gin.H{
		"success":          true,
		"allJobsSucceeded": result.AllSucceeded(),
		"processed":        result.Processed,
		"batchSize":        result.BatchSize,
		"summary":          result,
	})
}

type discoveryRequest struct {
	BatchID string `json:"batchId"`
}

func (s *Server) handleDiscovery(c *gin.Context) {
	var req discoveryRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}

	result, err := s.discovery.Run(c.Request.Context(), req.BatchID)
	if err != nil {
		s.logger.Error("discovery run failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"success":              true,
		"job":                  result.Job,
		"sourcesFound":         result.SourcesFound,
		"sourcesAdded":         result.SourcesAdded,
		"pendingJobsRemaining": result.PendingRemaining,
	})
}

type healerRequest struct {
	Mode     string `json:"mode"`
	SourceID string `json:"source_id"`
	Limit    int    `json:"limit"`
}

func (s *Server) handleHealer(c *gin.Context) {
	var req healerRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": err.Error()})
		return
	}
	switch healer.Mode(req.Mode) {
	case "", healer.ModeDiagnose, healer.ModeRepair, healer.ModeUnquarantine:
	default:
		c.JSON(http.StatusBadRequest, gin.H{"success": false, "error": "unknown mode: " + req.Mode})
		return
	}

	report, err := s.healer.Run(c.Request.Context(), healer.Options{
		Mode:     healer.Mode(req.Mode),
		SourceID: req.SourceID,
		Limit:    req.Limit,
	})
	if err != nil {
		s.logger.Error("healer run failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"success": true, "report": report})
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	if err := s.health.Ping(ctx); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}

	snapshot, err := s.health.Snapshot(ctx)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy", "error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "pipeline": snapshot})
}

// bindOptionalJSON binds the body when one is present. The pipeline
// endpoints all accept an empty body.
func bindOptionalJSON(c *gin.Context, target any) error {
	if c.Request.Body == nil || c.Request.ContentLength == 0 {
		return nil
	}
	return c.ShouldBindJSON(target)
}
