package middleware

import (
	"sync"
	"time"

	"PPresence/logger"
	"PPresence/tools/errs"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// MiddlewareManager 可以自由注册/注销前置中间件（不调用 c.Next 的那种）
type MiddlewareManager struct {
	mu   sync.RWMutex
	mids []gin.HandlerFunc
}

// NewManager 创建新的实例
func NewManager() *MiddlewareManager {
	return &MiddlewareManager{}
}

// Add 注册一个中间件
func (m *MiddlewareManager) Add(h gin.HandlerFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mids = append(m.mids, h)
}

// Clear 清空全部中间件
func (m *MiddlewareManager) Clear() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.mids = nil
}

// Use 返回一个 gin.HandlerFunc，作为总控挂载到 Engine 上
func (m *MiddlewareManager) Use() gin.HandlerFunc {
	return func(c *gin.Context) {
		m.mu.RLock()
		handlers := append([]gin.HandlerFunc{}, m.mids...) // 拷贝一份快照
		m.mu.RUnlock()

		for _, h := range handlers {
			h(c)
			if c.IsAborted() {
				return
			}
		}
		c.Next()
	}
}

// AccessLog logs one line per request through zap.
func AccessLog() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		logger.Info("[http]",
			zap.String("method", c.Request.Method),
			zap.String("path", c.Request.URL.Path),
			zap.Int("status", c.Writer.Status()),
			zap.Duration("latency", time.Since(start)),
			zap.String("identity", c.GetString("identity")),
		)
	}
}

// Recovery turns a handler panic into a 500 with the CodeError body.
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if r := recover(); r != nil {
				err := errs.ErrPanic(r)
				logger.Error("[http] panic recovered", zap.String("path", c.Request.URL.Path), zap.Error(err))
				c.AbortWithStatusJSON(500, errs.ErrInternal)
			}
		}()
		c.Next()
	}
}
