// Package status serves GET/POST /api/status.
package status

import (
	"net/http"

	"PPresence/logger"
	mid "PPresence/middleware"
	midsec "PPresence/middleware/security"
	"PPresence/service/apiclient"
	"PPresence/service/broadcast"
	"PPresence/service/presence"
	"PPresence/service/storage"
	"PPresence/tools/errs"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Handler struct {
	Store     storage.StatusStore
	Broadcast *broadcast.Publisher // nil 时只落库不广播
}

func (h *Handler) Register(rt mid.Routes) {
	rt.GET("/api/status", h.Get, mid.RouteOpt{IsAuth: true})
	rt.POST("/api/status", h.Set, mid.RouteOpt{IsAuth: true})
}

// Get answers the persisted state, Available when none is stored.
func (h *Handler) Get(c *gin.Context) {
	id, ok := midsec.Identity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errs.ErrUnauthorized)
		return
	}
	state, found, err := h.Store.GetStatus(c.Request.Context(), id)
	if err != nil {
		logger.Error("[status] load failed", zap.String("user", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, errs.ErrInternal)
		return
	}
	if !found {
		state = string(presence.Available)
	}
	c.JSON(http.StatusOK, apiclient.StatusResponse{Status: apiclient.StatusBody{State: state}})
}

// Set persists the state and then publishes status-update. A failed publish
// is logged; the write already happened.
func (h *Handler) Set(c *gin.Context) {
	id, ok := midsec.Identity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errs.ErrUnauthorized)
		return
	}
	var body apiclient.StatusBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, errs.ErrArgs.WithDetail("body must be {\"state\": ...}"))
		return
	}
	st, err := presence.ParseStatus(body.State)
	if err != nil {
		c.JSON(http.StatusBadRequest, errs.ErrArgs.WithDetail("invalid state"))
		return
	}
	ctx := c.Request.Context()
	if err := h.Store.SetStatus(ctx, id, string(st)); err != nil {
		logger.Error("[status] persist failed", zap.String("user", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, errs.ErrInternal)
		return
	}
	if h.Broadcast != nil {
		_ = h.Broadcast.StatusUpdated(ctx, id, string(st))
	}
	c.JSON(http.StatusOK, apiclient.StatusResponse{Status: apiclient.StatusBody{State: string(st)}})
}
