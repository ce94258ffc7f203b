package server

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/settlr/fraud-service/internal/event"
	"github.com/settlr/fraud-service/internal/logging"
	"github.com/settlr/fraud-service/internal/signal"
	"github.com/settlr/fraud-service/internal/state"
)

// scoreHandler handles POST /v1/decisions: scores one transaction event and
// returns the decision. Structurally invalid events still produce a REVIEW
// decision (fail closed); only unparseable JSON is rejected outright.
func (s *Server) scoreHandler(c *gin.Context) {
	var ev event.TransactionEvent
	if err := c.ShouldBindJSON(&ev); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "request body must be a JSON transaction event",
		})
		return
	}

	dec, err := s.coordinator.Process(c.Request.Context(), &ev)
	if err != nil {
		var verr *event.ValidationError
		if errors.As(err, &verr) {
			// The decision exists; the error explains why it is REVIEW.
			c.JSON(http.StatusOK, gin.H{
				"decision": dec,
				"warning":  verr.Error(),
			})
			return
		}
		logging.L(c.Request.Context()).Error("pipeline failed", "error", err, "event_id", ev.ID)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "pipeline_error",
			"message": "failed to score event",
		})
		return
	}

	c.JSON(http.StatusOK, gin.H{"decision": dec})
}

// getDecisionHandler handles GET /v1/decisions/:id
func (s *Server) getDecisionHandler(c *gin.Context) {
	dec, err := s.auditStore.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		logging.L(c.Request.Context()).Error("audit lookup failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage_error"})
		return
	}
	if dec == nil {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "no decision with that ID",
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{"decision": dec})
}

// entityStateResponse is the read-side projection of an entity's aggregates.
type entityStateResponse struct {
	EntityID      string    `json:"entityId"`
	FirstSeen     bool      `json:"firstSeen"`
	LastSeenAt    time.Time `json:"lastSeenAt,omitzero"`
	LastDevice    string    `json:"lastDevice,omitempty"`
	LastLocation  string    `json:"lastLocation,omitempty"`
	LastVerdict   string    `json:"lastVerdict,omitempty"`
	HourlyCount   int       `json:"hourlyCount"`
	HourlyAmount  float64   `json:"hourlyAmount"`
	DailyCount    int       `json:"dailyCount"`
	DailyAmount   float64   `json:"dailyAmount"`
	LifetimeCount int64     `json:"lifetimeCount"`
	LifetimeTotal float64   `json:"lifetimeTotal"`
	HistMean      float64   `json:"historicalMean"`
	HistStdDev    float64   `json:"historicalStdDev"`
	Degraded      bool      `json:"degraded,omitempty"`
}

// getEntityStateHandler handles GET /v1/entities/:entityId/state
func (s *Server) getEntityStateHandler(c *gin.Context) {
	entityID := c.Param("entityId")

	st, err := s.stateStore.Get(c.Request.Context(), entityID)
	degraded := false
	if err != nil {
		var serr *state.StoreError
		if !errors.As(err, &serr) {
			logging.L(c.Request.Context()).Error("state lookup failed", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "storage_error"})
			return
		}
		// Durable layer unavailable; serve the in-memory view but say so.
		degraded = true
	}

	now := time.Now()
	w := signal.DefaultWindows()
	hourlyCount, hourlyAmount := st.WindowStats(w.Hourly, now)
	dailyCount, dailyAmount := st.WindowStats(w.Daily, now)

	c.JSON(http.StatusOK, entityStateResponse{
		EntityID:      entityID,
		FirstSeen:     st.LifetimeCount == 0,
		LastSeenAt:    st.LastSeenAt,
		LastDevice:    st.LastDevice,
		LastLocation:  st.LastLocation,
		LastVerdict:   st.LastVerdict,
		HourlyCount:   hourlyCount,
		HourlyAmount:  hourlyAmount,
		DailyCount:    dailyCount,
		DailyAmount:   dailyAmount,
		LifetimeCount: st.LifetimeCount,
		LifetimeTotal: st.LifetimeTotal,
		HistMean:      st.HistoricalMean(),
		HistStdDev:    st.HistoricalStdDev(),
		Degraded:      degraded,
	})
}

// listEntityDecisionsHandler handles GET /v1/entities/:entityId/decisions
func (s *Server) listEntityDecisionsHandler(c *gin.Context) {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_limit",
				"message": "limit must be a positive integer",
			})
			return
		}
		if n > 200 {
			n = 200
		}
		limit = n
	}

	decisions, err := s.auditStore.ListByEntity(c.Request.Context(), c.Param("entityId"), limit)
	if err != nil {
		logging.L(c.Request.Context()).Error("audit list failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "storage_error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"decisions": decisions,
		"count":     len(decisions),
	})
}
