// Package presence serves the legacy polling presence map.
package presence

import (
	"net/http"

	"PPresence/logger"
	mid "PPresence/middleware"
	midsec "PPresence/middleware/security"
	"PPresence/service/apiclient"
	"PPresence/service/storage"
	"PPresence/tools/errs"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

type Handler struct {
	Presence storage.PresenceMap
	Status   storage.StatusStore // optional, fills missing status
}

func (h *Handler) Register(rt mid.Routes) {
	rt.GET("/api/presence", h.List, mid.RouteOpt{IsAuth: true})
	rt.POST("/api/presence", h.Touch, mid.RouteOpt{IsAuth: true})
	rt.DELETE("/api/presence", h.Leave, mid.RouteOpt{IsAuth: true})
}

// List GET /api/presence
func (h *Handler) List(c *gin.Context) {
	if _, ok := midsec.Identity(c); !ok {
		c.JSON(http.StatusUnauthorized, errs.ErrUnauthorized)
		return
	}
	h.reply(c)
}

// Touch POST /api/presence 刷新自己的在线时间，返回当前列表
func (h *Handler) Touch(c *gin.Context) {
	id, ok := midsec.Identity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errs.ErrUnauthorized)
		return
	}
	var body apiclient.PresenceUpdate
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			c.JSON(http.StatusBadRequest, errs.ErrArgs.WithDetail(err.Error()))
			return
		}
	}
	// 请求体没带就用令牌里的资料
	if cl, ok := midsec.Claims(c); ok {
		if body.Name == "" {
			body.Name = cl.Name
		}
		if body.Image == "" {
			body.Image = cl.Image
		}
	}
	entry := storage.PresenceEntry{ID: id, Name: body.Name, Image: body.Image}
	if err := h.Presence.Touch(c.Request.Context(), entry); err != nil {
		logger.Error("[presence] touch failed", zap.String("user", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, errs.ErrInternal)
		return
	}
	h.reply(c)
}

// Leave DELETE /api/presence 下线时移除自己，不等 TTL 过期
func (h *Handler) Leave(c *gin.Context) {
	id, ok := midsec.Identity(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, errs.ErrUnauthorized)
		return
	}
	if err := h.Presence.Remove(c.Request.Context(), id); err != nil {
		logger.Error("[presence] remove failed", zap.String("user", id), zap.Error(err))
		c.JSON(http.StatusInternalServerError, errs.ErrInternal)
		return
	}
	c.Status(http.StatusNoContent)
}

func (h *Handler) reply(c *gin.Context) {
	ctx := c.Request.Context()
	list, err := h.Presence.List(ctx)
	if err != nil {
		logger.Error("[presence] list failed", zap.Error(err))
		c.JSON(http.StatusInternalServerError, errs.ErrInternal)
		return
	}
	out := make([]apiclient.PresenceEntry, 0, len(list))
	for _, e := range list {
		st := e.Status
		if st == "" && h.Status != nil {
			if v, ok, err := h.Status.GetStatus(ctx, e.ID); err == nil && ok {
				st = v
			}
		}
		out = append(out, apiclient.PresenceEntry{ID: e.ID, Name: e.Name, Image: e.Image, Status: st})
	}
	c.JSON(http.StatusOK, apiclient.PresenceList{Users: out})
}
