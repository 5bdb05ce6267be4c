package rest

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/KevinKickass/OpenFeederCore/internal/feeder"
	"github.com/KevinKickass/OpenFeederCore/internal/types"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

const (
	defaultWaitTimeout = 5 * time.Second
	maxWaitTimeout     = 60 * time.Second
)

// feederDetail ist die Einzelansicht eines Feeders samt Kalibrierung
type feederDetail struct {
	feeder.Event
	Enabled bool                 `json:"enabled"`
	Config  feederConfigResponse `json:"config"`
}

type feederConfigResponse struct {
	FeedLengthMm       uint8  `json:"feed_length_mm"`
	SettleTimeMs       uint16 `json:"settle_time_ms"`
	MovementIntervalMs uint16 `json:"movement_interval_ms"`
	MovementDegrees    uint8  `json:"movement_degrees"`
	FullAngle          uint8  `json:"full_angle"`
	HalfAngle          uint8  `json:"half_angle"`
	RetractAngle       uint8  `json:"retract_angle"`
	MinPulse           uint16 `json:"min_pulse"`
	MaxPulse           uint16 `json:"max_pulse"`
	IgnoreFeedback     bool   `json:"ignore_feedback"`
}

// feederByParam löst :id als Slot-Index oder UUID auf und schreibt bei
// Misserfolg selbst die Fehlerantwort
func (s *Server) feederByParam(c *gin.Context) (*feeder.Feeder, bool) {
	raw := c.Param("id")

	if index, err := strconv.Atoi(raw); err == nil {
		f, ok := s.manager.Feeder(index)
		if !ok {
			c.JSON(http.StatusNotFound, types.NewErrorResponse(
				types.CodeFeederNotFound, "Feeder not found", raw))
			return nil, false
		}
		return f, true
	}

	if uid, err := uuid.Parse(raw); err == nil {
		f, ok := s.manager.ByUUID(uid)
		if !ok {
			c.JSON(http.StatusNotFound, types.NewErrorResponse(
				types.CodeFeederNotFound, "Feeder not found", raw))
			return nil, false
		}
		return f, true
	}

	c.JSON(http.StatusBadRequest, types.NewErrorResponse(
		types.CodeInvalidFeederID, "Invalid feeder ID, expected slot index or UUID", raw))
	return nil, false
}

// GET /api/v1/feeders
func (s *Server) listFeeders(c *gin.Context) {
	snapshots := s.manager.FleetSnapshot()
	c.JSON(http.StatusOK, gin.H{
		"count":   len(snapshots),
		"feeders": snapshots,
	})
}

// GET /api/v1/feeders/:id
func (s *Server) getFeeder(c *gin.Context) {
	f, ok := s.feederByParam(c)
	if !ok {
		return
	}

	cfg := f.Config()
	c.JSON(http.StatusOK, feederDetail{
		Event:   f.Snapshot(),
		Enabled: f.IsEnabled(),
		Config: feederConfigResponse{
			FeedLengthMm:       cfg.FeedLength,
			SettleTimeMs:       cfg.SettleTime,
			MovementIntervalMs: cfg.MovementInterval,
			MovementDegrees:    cfg.MovementDegrees,
			FullAngle:          cfg.FullAngle,
			HalfAngle:          cfg.HalfAngle,
			RetractAngle:       cfg.RetractAngle,
			MinPulse:           cfg.MinPulse,
			MaxPulse:           cfg.MaxPulse,
			IgnoreFeedback:     cfg.IgnoreFeedback,
		},
	})
}

// POST /api/v1/feeders/:id/wait
// Wartet serverseitig bis der Feeder keine Bewegung mehr ausführt, der
// Ersatz für das wiederholte Abfragen von M612 durch die Maschine.
func (s *Server) waitFeeder(c *gin.Context) {
	f, ok := s.feederByParam(c)
	if !ok {
		return
	}

	timeout := defaultWaitTimeout
	if raw := c.Query("timeout_ms"); raw != "" {
		ms, err := strconv.Atoi(raw)
		if err != nil || ms <= 0 {
			c.JSON(http.StatusBadRequest, types.NewErrorResponse(
				types.CodeInvalidFeederID, "Invalid timeout_ms", raw))
			return
		}
		timeout = time.Duration(ms) * time.Millisecond
		if timeout > maxWaitTimeout {
			timeout = maxWaitTimeout
		}
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), timeout)
	defer cancel()

	if err := f.AwaitIdle(ctx); err != nil {
		c.JSON(http.StatusRequestTimeout, types.NewErrorResponse(
			types.CodeFeederNotIdle, "Feeder did not become idle", err.Error()))
		return
	}

	c.JSON(http.StatusOK, f.Snapshot())
}
