package main

import (
	"encoding/json"
	"fmt"
	"time"

	"PPresence/service/presence"
	"PPresence/service/topics"
	"PPresence/tools/errs"
	jwtsec "PPresence/tools/security"

	"github.com/spf13/cobra"
)

var publishCmd = &cobra.Command{
	Use:   "publish <topic> <event> [json]",
	Short: "Publish an entity event through POST /api/events",
	Args:  cobra.RangeArgs(2, 3),
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := topics.Validate(args[0]); err != nil {
			return err
		}
		var data any
		if len(args) == 3 {
			if err := json.Unmarshal([]byte(args[2]), &data); err != nil {
				return errs.ErrArgs.WrapMsg("data is not json", "err", err.Error())
			}
		}
		return apiClient().PostEvent(cmd.Context(), args[0], args[1], data)
	},
}

var pollCmd = &cobra.Command{
	Use:   "poll",
	Short: "Run one legacy polling round and print who is online",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		name, _ := cmd.Flags().GetString("name")
		store := presence.NewStore()
		p := presence.NewPoller(apiClient(), store, presence.User{Name: name}, 0)
		if err := p.Poll(cmd.Context()); err != nil {
			return err
		}
		printUsers(cmd, store.Snapshot())
		return nil
	},
}

var tokenCmd = &cobra.Command{
	Use:   "token <userId>",
	Short: "Mint a development token signed with jwt.secret",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name, _ := cmd.Flags().GetString("name")
		ttl, _ := cmd.Flags().GetDuration("ttl")
		scope, _ := cmd.Flags().GetStringSlice("scope")
		opts := appCfg.JWTOptions()
		if ttl > 0 {
			opts.TTL = ttl
		}
		if len(opts.Secret) == 0 {
			return errs.ErrConfig.WrapMsg("jwt.secret missing")
		}
		tok, _, err := jwtsec.Generate(opts, args[0], name, "", scope...)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), tok)
		return nil
	},
}

func init() {
	pollCmd.Flags().String("name", "", "display name sent with the heartbeat")
	tokenCmd.Flags().String("name", "", "display name claim")
	tokenCmd.Flags().Duration("ttl", 24*time.Hour, "token lifetime")
	tokenCmd.Flags().StringSlice("scope", nil, "scopes to grant, e.g. "+jwtsec.ScopePublishEvents)
	rootCmd.AddCommand(publishCmd, pollCmd, tokenCmd)
}
