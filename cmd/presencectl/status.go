package main

import (
	"fmt"

	"PPresence/service/presence"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Read or change the persisted status",
}

var statusGetCmd = &cobra.Command{
	Use:  "get",
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		st, err := apiClient().GetStatus(cmd.Context())
		if err != nil {
			return err
		}
		if st == "" {
			st = string(presence.Available)
		}
		fmt.Fprintln(cmd.OutOrStdout(), st)
		return nil
	},
}

var statusSetCmd = &cobra.Command{
	Use:  "set <Available|Busy|Focused>",
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := presence.ParseStatus(args[0])
		if err != nil {
			return err
		}
		if err := apiClient().PostStatus(cmd.Context(), string(st)); err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), st)
		return nil
	},
}

func init() {
	statusCmd.AddCommand(statusGetCmd, statusSetCmd)
	rootCmd.AddCommand(statusCmd)
}
