package main

import (
	"net/http"
	"time"

	"PPresence/global/config"
	mid "PPresence/middleware"
	midsec "PPresence/middleware/security"
	modevents "PPresence/module/events"
	modpresence "PPresence/module/presence"
	modstatus "PPresence/module/status"
	"PPresence/service/broadcast"
	"PPresence/service/gateway"
	"PPresence/service/natsx"

	"github.com/gin-gonic/gin"
)

// newRouter mounts the collaborator API and the websocket gateway.
func newRouter(c *config.AppConfig, reg *natsx.Registry, stores *config.Stores) (*gin.Engine, *gateway.Server) {
	r := gin.New()
	mm := mid.NewManager()
	mm.Add(mid.Origin(c.HTTP.AllowedOrigins))
	r.Use(mid.Recovery(), mid.AccessLog(), mm.Use())

	auth := midsec.Middleware(midsec.DefaultOptions(c.JWTOptions()))
	wsOpts := midsec.DefaultOptions(c.JWTOptions())
	wsOpts.QueryToken = "token"

	bc := broadcast.Retrying(reg, 2, 200*time.Millisecond)
	rt := mid.Routes{R: r, Auth: auth}
	(&modpresence.Handler{Presence: stores.Presence, Status: stores.Status}).Register(rt)
	(&modstatus.Handler{Store: stores.Status, Broadcast: bc}).Register(rt)
	(&modevents.Handler{Broadcast: bc}).Register(rt)

	gw := gateway.NewServer(reg, gateway.Conf{CheckOrigin: mid.OriginAllowed(c.HTTP.AllowedOrigins)})
	r.GET("/ws", midsec.Middleware(wsOpts), gw.HandleWS)

	r.GET("/healthz", func(ctx *gin.Context) {
		st := reg.Transport().State()
		code := http.StatusOK
		if !st.Online() {
			code = http.StatusServiceUnavailable
		}
		ctx.JSON(code, gin.H{"nats": st.String(), "ws": gw.Count()})
	})
	return r, gw
}
