package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"PPresence/global/config"
	"PPresence/logger"
	"PPresence/service/natsx"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func main() {
	var cfgPath string
	root := &cobra.Command{
		Use:   "presence-api",
		Short: "Presence collaborator API and websocket gateway",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), cfgPath)
		},
		SilenceUsage: true,
	}
	root.Flags().StringVarP(&cfgPath, "config", "c", "", "yaml config file (env PP_* overrides)")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := root.ExecuteContext(ctx); err != nil {
		logger.Error("[main] exit", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
}

func run(ctx context.Context, cfgPath string) error {
	c, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	gin.SetMode(gin.ReleaseMode)

	reg, err := natsx.StartNats(ctx, c.Nats, c.NodeId)
	if err != nil {
		return err
	}
	defer func() {
		if err := natsx.StopNats(); err != nil {
			logger.Warn("[main] nats stop", zap.Error(err))
		}
	}()

	stores, err := config.ConfigStores(ctx, c)
	if err != nil {
		return err
	}
	defer stores.Close()

	r, gw := newRouter(c, reg, stores)
	srv := &http.Server{Addr: c.HTTP.Addr, Handler: r, ReadHeaderTimeout: 10 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("[main] http listening", zap.String("addr", c.HTTP.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
	case err := <-errCh:
		if err != nil {
			return err
		}
	}

	logger.Info("[main] shutting down")
	gw.Close()
	shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}
