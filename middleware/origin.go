package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// OriginAllowed reports whether r's Origin is in allowed. An empty list or
// a request without Origin (non-browser client) is accepted.
func OriginAllowed(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" || len(allowed) == 0 {
			return true
		}
		for _, a := range allowed {
			if a == "*" || strings.EqualFold(a, origin) {
				return true
			}
		}
		return false
	}
}

// Origin answers CORS preflights and rejects foreign browser origins.
func Origin(allowed []string) gin.HandlerFunc {
	ok := OriginAllowed(allowed)
	return func(c *gin.Context) {
		if !ok(c.Request) {
			c.AbortWithStatus(http.StatusForbidden)
			return
		}
		if origin := c.GetHeader("Origin"); origin != "" {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Access-Control-Allow-Headers", "Authorization, Content-Type")
			c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			c.Header("Vary", "Origin")
		}
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
	}
}
