package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"sharedcounter/pkg/coordination"
	"sharedcounter/pkg/models"
)

// getState handles GET /api/v1/state
func (s *Server) getState(c *gin.Context) {
	view := models.StateView{Self: s.self, RunID: s.runID}

	// Counter and leader are read in one critical section so they agree.
	err := coordination.WithLock(s.lock, func() error {
		view.Counter = s.store.Counter()
		view.Leader = s.store.Leader()
		return nil
	})
	if err != nil {
		s.log.Error("Failed to read shared state", zap.Error(err))
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "shared state unavailable"})
		return
	}
	view.IsLeader = view.Leader == s.self

	c.JSON(http.StatusOK, view)
}

// listHelpers handles GET /api/v1/helpers
func (s *Server) listHelpers(c *gin.Context) {
	view := models.HelpersView{Helpers: []models.HelperView{}}

	if s.registry != nil {
		now := time.Now()
		for _, h := range s.registry.Snapshot() {
			hv := models.HelperView{
				Tag:       h.Tag(),
				PID:       h.PID(),
				Completed: h.Completed(),
				ExitCode:  h.ExitCode(),
				StartedAt: h.StartedAt().UTC(),
			}
			if !hv.Completed {
				hv.Uptime = now.Sub(h.StartedAt()).Round(time.Millisecond).String()
			}
			view.Helpers = append(view.Helpers, hv)
		}
	}
	view.Count = len(view.Helpers)

	if s.breaker != nil {
		snap := s.breaker.Snapshot()
		view.Breaker = &models.BreakerView{
			Name:     snap.Name,
			State:    snap.State,
			Failures: snap.Failures,
		}
	}

	c.JSON(http.StatusOK, view)
}
