package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"PPresence/global/config"
	"PPresence/logger"
	"PPresence/service/apiclient"

	"github.com/spf13/cobra"
)

var (
	cfgPath string
	appCfg  *config.AppConfig
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:           "presencectl",
	Short:         "Inspect and drive the presence engine",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		c, err := config.Load(cfgPath)
		if err != nil {
			return err
		}
		if v, _ := cmd.Flags().GetString("api"); v != "" {
			c.API.BaseURL = v
		}
		if v, _ := cmd.Flags().GetString("token"); v != "" {
			c.API.Token = v
		}
		appCfg = c
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "", "yaml config file (env PP_* overrides)")
	rootCmd.PersistentFlags().String("api", "", "collaborator base URL (overrides api.base_url)")
	rootCmd.PersistentFlags().String("token", "", "bearer token (overrides api.token)")
}

func apiClient() *apiclient.Client {
	return apiclient.New(appCfg.API.BaseURL, apiclient.WithToken(appCfg.API.Token))
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		logger.Sync()
		os.Exit(1)
	}
}
