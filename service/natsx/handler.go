package natsx

import (
	"context"
	"time"

	"PPresence/logger"
	"PPresence/tools/safe"

	"go.uber.org/zap"
)

// NatsxMessage 统一消息对象
type NatsxMessage struct {
	Subject string
	Data    []byte
	Header  map[string]string
}

// NatsxHandler 业务处理函数
type NatsxHandler func(ctx context.Context, msg NatsxMessage) error

// NatsxMiddleware 中间件（日志、去重、恢复等）
type NatsxMiddleware func(NatsxHandler) NatsxHandler

// NatsxChain 组合中间件
func NatsxChain(h NatsxHandler, mws ...NatsxMiddleware) NatsxHandler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// NatsxRecoverMiddleware turns a handler panic into a logged error.
func NatsxRecoverMiddleware() NatsxMiddleware {
	return func(next NatsxHandler) NatsxHandler {
		return func(ctx context.Context, msg NatsxMessage) error {
			err := safe.Call(func() error { return next(ctx, msg) })
			if err != nil {
				logger.Warn("[natsx] handler failed", zap.String("subject", msg.Subject), zap.Error(err))
			}
			return err
		}
	}
}

// NatsxLogMiddleware 入站消息 debug 日志
func NatsxLogMiddleware() NatsxMiddleware {
	return func(next NatsxHandler) NatsxHandler {
		return func(ctx context.Context, msg NatsxMessage) error {
			start := time.Now()
			err := next(ctx, msg)
			logger.Debug("[natsx] inbound",
				zap.String("subject", msg.Subject),
				zap.Int("bytes", len(msg.Data)),
				zap.Duration("cost", time.Since(start)),
			)
			return err
		}
	}
}
