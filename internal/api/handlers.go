package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"gold-analysis-engine/internal/pipeline"
)

func successResponse(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, gin.H{"success": true, "data": data})
}

func errorResponse(c *gin.Context, status int, message string) {
	c.JSON(status, gin.H{"success": false, "error": message})
}

// handleHealth reports liveness and stream statistics
func (s *Server) handleHealth(c *gin.Context) {
	health := gin.H{
		"status":     "ok",
		"symbol":     s.symbol,
		"ws_clients": s.hub.GetClientCount(),
		"timestamp":  time.Now().UTC(),
	}
	if s.bus != nil {
		health["events_dropped"] = s.bus.Dropped()
	}
	if state := s.orch.Snapshot(); state != nil {
		health["last_update"] = state.LastUpdate
		health["synthetic"] = state.Synthetic
		if state.Err != "" {
			health["last_error"] = state.Err
		}
	}
	c.JSON(http.StatusOK, health)
}

// handleAnalysis returns the current analysis, running the pipeline
// when the cached state is stale. Concurrency rejections are expected
// outcomes and answer 202 with the latest snapshot.
func (s *Server) handleAnalysis(c *gin.Context) {
	force := c.Query("force") == "true"
	fast := c.Query("fast") == "true"

	if force && !s.forceLimiter.Allow(c.ClientIP()) {
		errorResponse(c, http.StatusTooManyRequests, "too many forced refreshes, slow down")
		return
	}

	state, err := s.orch.RequestAnalysis(c.Request.Context(), pipeline.Options{Force: force, Fast: fast})
	switch {
	case err == nil:
		successResponse(c, state)
	case errors.Is(err, pipeline.ErrLocked),
		errors.Is(err, pipeline.ErrRateLimited),
		errors.Is(err, pipeline.ErrSuperseded):
		// Another run is serving this burst; hand back what we have
		c.JSON(http.StatusAccepted, gin.H{"success": true, "data": state, "note": err.Error()})
	default:
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error(), "data": state})
	}
}

// handleRefresh forces a pipeline run, bypassing cache and rate limit
func (s *Server) handleRefresh(c *gin.Context) {
	state, err := s.orch.RequestAnalysis(c.Request.Context(), pipeline.Options{Force: true})
	if err != nil && !errors.Is(err, pipeline.ErrLocked) {
		c.JSON(http.StatusInternalServerError, gin.H{"success": false, "error": err.Error(), "data": state})
		return
	}
	successResponse(c, state)
}

// handleIndicators returns the indicator set of the latest run
func (s *Server) handleIndicators(c *gin.Context) {
	state := s.orch.Snapshot()
	if state == nil || state.Indicators == nil {
		errorResponse(c, http.StatusNotFound, "no analysis available yet")
		return
	}
	successResponse(c, gin.H{
		"run_id":     state.RunID,
		"symbol":     state.Symbol,
		"indicators": state.Indicators,
		"as_of":      state.LastUpdate,
	})
}

// handleZones returns the detected levels of the latest run
func (s *Server) handleZones(c *gin.Context) {
	state := s.orch.Snapshot()
	if state == nil {
		errorResponse(c, http.StatusNotFound, "no analysis available yet")
		return
	}
	successResponse(c, gin.H{
		"run_id":      state.RunID,
		"symbol":      state.Symbol,
		"spot_price":  state.SpotPrice,
		"supports":    state.SupportZones,
		"resistances": state.ResistanceZones,
		"as_of":       state.LastUpdate,
	})
}

// handlePerformance returns the stage timings of the latest run
func (s *Server) handlePerformance(c *gin.Context) {
	report := s.orch.Performance()
	if report == nil {
		errorResponse(c, http.StatusNotFound, "no analysis available yet")
		return
	}
	successResponse(c, report)
}

// handleHistory returns recent persisted recommendations
func (s *Server) handleHistory(c *gin.Context) {
	if s.hist == nil {
		errorResponse(c, http.StatusServiceUnavailable, "history persistence is disabled")
		return
	}

	limit := 50
	if l := c.Query("limit"); l != "" {
		if parsed, err := strconv.Atoi(l); err == nil && parsed > 0 {
			limit = parsed
		}
	}

	records, err := s.hist.RecentRecommendations(c.Request.Context(), s.symbol, limit)
	if err != nil {
		s.log.WithError(err).Error("history query failed")
		errorResponse(c, http.StatusInternalServerError, "failed to fetch history")
		return
	}
	successResponse(c, records)
}
