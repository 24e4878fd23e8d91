package explore

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	svcErr "github.com/oggyb/tubematch/internal/errors"
)

type errorResponse struct {
	Error string `json:"error"`
}

type matchingParamRequest struct {
	MatchingParam int `json:"matching_param"`
}

type httpHandler struct {
	svc *Service
}

// RegisterRoutes mounts the review endpoints on r.
//
// Routes:
//   - GET  /explore/:userId/next
//   - POST /explore/:userId/skip/:matchUserId
//   - POST /explore/:userId/match/:matchUserId
//   - GET  /explore/:userId/common/:matchUserId
//   - PUT  /explore/:userId/matching-param  {"matching_param": 3}
func (s *Service) RegisterRoutes(r gin.IRouter) {
	h := &httpHandler{svc: s}
	g := r.Group("/explore/:userId")
	g.GET("/next", h.next)
	g.POST("/skip/:matchUserId", h.skip)
	g.POST("/match/:matchUserId", h.match)
	g.GET("/common/:matchUserId", h.common)
	g.PUT("/matching-param", h.matchingParam)
}

func (h *httpHandler) next(c *gin.Context) {
	userID, ok := pathID(c, "userId")
	if !ok {
		return
	}
	cand, err := h.svc.Next(c.Request.Context(), userID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, cand)
}

func (h *httpHandler) skip(c *gin.Context) {
	userID, matchUserID, ok := pairIDs(c)
	if !ok {
		return
	}
	if err := h.svc.Skip(c.Request.Context(), userID, matchUserID); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) match(c *gin.Context) {
	userID, matchUserID, ok := pairIDs(c)
	if !ok {
		return
	}
	m, err := h.svc.ConfirmMatch(c.Request.Context(), userID, matchUserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"id":              m.ID,
		"user_1_id":       m.User1ID,
		"user_2_id":       m.User2ID,
		"relevancy_score": m.RelevancyScore,
	})
}

func (h *httpHandler) common(c *gin.Context) {
	userID, matchUserID, ok := pairIDs(c)
	if !ok {
		return
	}
	subs, err := h.svc.CommonSubscriptions(c.Request.Context(), userID, matchUserID)
	if err != nil {
		h.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"common_subscriptions": subs})
}

func (h *httpHandler) matchingParam(c *gin.Context) {
	userID, ok := pathID(c, "userId")
	if !ok {
		return
	}
	var req matchingParamRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	if err := h.svc.UpdateMatchingParam(c.Request.Context(), userID, req.MatchingParam); err != nil {
		h.fail(c, err)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *httpHandler) fail(c *gin.Context, err error) {
	code, msg := svcErr.HTTPStatus(err)
	if code >= http.StatusInternalServerError {
		h.svc.appCtx.Logger.Error("explore request failed", "path", c.FullPath(), "err", err)
	}
	c.JSON(code, errorResponse{Error: msg})
}

func pairIDs(c *gin.Context) (uint64, uint64, bool) {
	userID, ok := pathID(c, "userId")
	if !ok {
		return 0, 0, false
	}
	matchUserID, ok := pathID(c, "matchUserId")
	if !ok {
		return 0, 0, false
	}
	return userID, matchUserID, true
}

// pathID parses a numeric path parameter, writing a 400 when it is invalid.
func pathID(c *gin.Context, name string) (uint64, bool) {
	id, err := strconv.ParseUint(c.Param(name), 10, 64)
	if err != nil || id == 0 {
		c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid " + name})
		return 0, false
	}
	return id, true
}
