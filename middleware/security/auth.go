package security

import (
	"net/http"
	"strings"

	"PPresence/logger"
	jwtsec "PPresence/tools/security"
	"PPresence/tools/errs"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// —— context key ——
// 后续模块统一用这俩 key 读取
const (
	PPCtxIdentityKey = "identity" // string
	PPCtxClaimsKey   = "claims"   // *jwtsec.Claims
)

type Options struct {
	JWT jwtsec.Options

	// 读取哪个请求头
	HeaderToken               string // 默认 "authorization"
	EnableAuthorizationBearer bool   // 默认 true
	// QueryToken 允许从 URL 读取令牌（WebSocket 握手无法带头）
	QueryToken string
}

func DefaultOptions(jwt jwtsec.Options) *Options {
	return &Options{
		JWT:                       jwt,
		HeaderToken:               "authorization",
		EnableAuthorizationBearer: true,
	}
}

// TokenFrom extracts a bearer token from the request per opts.
func TokenFrom(c *gin.Context, opts *Options) string {
	token := ""
	// 兼容 Authorization: Bearer xxx
	if authz := strings.TrimSpace(c.GetHeader("Authorization")); authz != "" && opts.EnableAuthorizationBearer {
		if strings.HasPrefix(strings.ToLower(authz), "bearer ") {
			token = strings.TrimSpace(authz[len("bearer "):])
		}
	}
	if token == "" && opts.HeaderToken != "" && !strings.EqualFold(opts.HeaderToken, "Authorization") {
		token = strings.TrimSpace(c.GetHeader(opts.HeaderToken))
	}
	if token == "" && opts.QueryToken != "" {
		token = strings.TrimSpace(c.Query(opts.QueryToken))
	}
	return token
}

// Middleware verifies the token and stores the identity; a missing or bad
// token answers 401.
func Middleware(opts *Options) gin.HandlerFunc {
	if opts == nil {
		opts = DefaultOptions(jwtsec.Options{})
	}
	return func(c *gin.Context) {
		token := TokenFrom(c, opts)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrUnauthorized.WithDetail("missing token"))
			return
		}
		claims, err := jwtsec.Verify(opts.JWT, token)
		if err != nil {
			logger.Debug("[auth] token rejected", zap.String("path", c.Request.URL.Path), zap.String("token", jwtsec.HashToken(token)), zap.Error(err))
			c.AbortWithStatusJSON(http.StatusUnauthorized, errs.ErrUnauthorized.WithDetail("invalid token"))
			return
		}
		c.Set(PPCtxIdentityKey, claims.Identity())
		c.Set(PPCtxClaimsKey, claims)
		c.Next()
	}
}

// Identity returns the authenticated subject.
func Identity(c *gin.Context) (string, bool) {
	v := c.GetString(PPCtxIdentityKey)
	return v, v != ""
}

func Claims(c *gin.Context) (*jwtsec.Claims, bool) {
	v, ok := c.Get(PPCtxClaimsKey)
	if !ok {
		return nil, false
	}
	cl, ok := v.(*jwtsec.Claims)
	return cl, ok
}
