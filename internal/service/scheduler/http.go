package scheduler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	svcErr "github.com/oggyb/tubematch/internal/errors"
)

const (
	PrematchQueuedMessage  = "Prematch calculation queued"
	AnalyticsQueuedMessage = "Analytics calculation queued"

	defaultSnapshotLimit = 31
	maxSnapshotLimit     = 100
	prematchCheckLimit   = 100
)

type messageResponse struct {
	Message string `json:"message"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// snapshotsResponse is one page of analytics history.
type snapshotsResponse struct {
	Snapshots           any     `json:"snapshots"`
	NextPaginationToken *string `json:"next_pagination_token,omitempty"`
}

// httpHandler serves the scheduler routes.
type httpHandler struct {
	svc *Service
}

// RegisterRoutes mounts the trigger, status and history endpoints on r.
//
// Routes:
//   - POST /prematch/calculate
//   - GET  /prematch/check
//   - POST /analytics/calculate
//   - GET  /analytics/snapshots?limit=&pagination_token=
//   - GET  /queues/status
func (s *Service) RegisterRoutes(r gin.IRouter) {
	h := &httpHandler{svc: s}
	r.POST("/prematch/calculate", h.calculatePrematches)
	r.GET("/prematch/check", h.prematchCheck)
	r.POST("/analytics/calculate", h.calculateAnalytics)
	r.GET("/analytics/snapshots", h.snapshots)
	r.GET("/queues/status", h.queueStatus)
}

func (h *httpHandler) calculatePrematches(c *gin.Context) {
	if _, err := h.svc.EnqueuePrematch(c.Request.Context()); err != nil {
		h.svc.log.Error("Failed to queue prematch calculation", "err", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "Failed to queue prematch calculation"})
		return
	}
	c.JSON(http.StatusOK, messageResponse{Message: PrematchQueuedMessage})
}

func (h *httpHandler) calculateAnalytics(c *gin.Context) {
	if _, err := h.svc.EnqueueAnalytics(c.Request.Context()); err != nil {
		h.svc.log.Error("Failed to queue analytics calculation", "err", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "Failed to queue analytics calculation"})
		return
	}
	c.JSON(http.StatusOK, messageResponse{Message: AnalyticsQueuedMessage})
}

func (h *httpHandler) queueStatus(c *gin.Context) {
	st, err := h.svc.Status(c.Request.Context())
	if err != nil {
		h.svc.log.Error("Failed to fetch queue status", "err", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "Failed to fetch queue status"})
		return
	}
	c.JSON(http.StatusOK, st)
}

func (h *httpHandler) prematchCheck(c *gin.Context) {
	rows, err := h.svc.Prematches(c.Request.Context(), prematchCheckLimit)
	if err != nil {
		h.svc.log.Error("Failed to fetch prematches", "err", err)
		c.JSON(http.StatusInternalServerError, errorResponse{Error: "Failed to fetch prematches"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"prematches": rows})
}

func (h *httpHandler) snapshots(c *gin.Context) {
	limit := defaultSnapshotLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > maxSnapshotLimit {
			c.JSON(http.StatusBadRequest, errorResponse{Error: "limit must be between 1 and 100"})
			return
		}
		limit = n
	}

	var token *string
	if raw := c.Query("pagination_token"); raw != "" {
		token = &raw
	}

	page, next, err := h.svc.Snapshots(c.Request.Context(), token, limit)
	if err != nil {
		code, msg := svcErr.HTTPStatus(err)
		if code >= http.StatusInternalServerError {
			h.svc.log.Error("Failed to fetch analytics snapshots", "err", err)
			msg = "Failed to fetch analytics snapshots"
		}
		c.JSON(code, errorResponse{Error: msg})
		return
	}
	c.JSON(http.StatusOK, snapshotsResponse{Snapshots: page, NextPaginationToken: next})
}
