package natsx

import (
	"context"
	"sync"

	"PPresence/logger"
	"PPresence/tools/errs"

	"go.uber.org/zap"
)

// 进程级默认连接，服务端（presence-api）用它发布事件

var (
	mu        sync.Mutex
	globalMgr *ConnManager
	globalReg *Registry
)

// StartNats 启动全局 NATS（重复调用返回已启动的实例）。
func StartNats(ctx context.Context, cfg NatsxConfig, identity string, opts ...ManagerOption) (*Registry, error) {
	mu.Lock()
	defer mu.Unlock()
	if globalReg != nil {
		return globalReg, nil
	}
	mgr := NewConnManager(cfg, opts...)
	t, err := mgr.GetConnection(ctx, identity)
	if err != nil {
		return nil, err
	}
	globalMgr = mgr
	globalReg = NewRegistry(t, cfg.RegistryOptions()...)
	logger.Info("[natsx] global connection started", zap.String("identity", identity), zap.Strings("servers", cfg.Servers))
	return globalReg, nil
}

// StopNats 优雅关闭
func StopNats() error {
	mu.Lock()
	defer mu.Unlock()
	if globalMgr == nil {
		return nil
	}
	globalReg.Close()
	err := globalMgr.Close()
	globalMgr, globalReg = nil, nil
	return err
}

// GetRegistry 获取全局单例（未启动时返回错误）
func GetRegistry() (*Registry, error) {
	mu.Lock()
	defer mu.Unlock()
	if globalReg == nil {
		return nil, errs.ErrClosed.WrapMsg("nats not started: call StartNats first")
	}
	return globalReg, nil
}
