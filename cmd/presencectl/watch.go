package main

import (
	"bufio"
	"context"
	"fmt"
	"strings"

	"PPresence/logger"
	"PPresence/service/natsx"
	"PPresence/service/presence"
	"PPresence/service/realtime"
	"PPresence/service/relay"
	"PPresence/tools/errs"
	"PPresence/tools/safe"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var watchCmd = &cobra.Command{
	Use:   "watch <identity>",
	Short: "Sign in and print presence changes until interrupted",
	Long: `Sign in and print presence changes until interrupted.

While watching, stdin accepts:
  /name <display name>   change the announced profile
  /status <state>        Available, Busy or Focused`,
	Args:  cobra.ExactArgs(1),
	RunE:  runWatch,
}

func init() {
	watchCmd.Flags().String("name", "", "display name")
	watchCmd.Flags().StringSlice("project", nil, "project ids whose entity events are printed")
	watchCmd.Flags().Bool("poll", false, "use HTTP polling instead of the live connection")
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	name, _ := cmd.Flags().GetString("name")
	projects, _ := cmd.Flags().GetStringSlice("project")
	poll, _ := cmd.Flags().GetBool("poll")

	opts := []realtime.Option{}
	if appCfg.API.Token != "" {
		opts = append(opts, realtime.WithAPI(apiClient()))
	}
	if poll {
		opts = append(opts, realtime.WithPolling())
	}
	eng := realtime.New(realtime.Config{
		Nats:          appCfg.Nats,
		Heartbeat:     appCfg.Presence.Heartbeat,
		PollEvery:     appCfg.Presence.PollEvery,
		ReleaseSettle: appCfg.Presence.ReleaseSettle,
	}, opts...)
	defer eng.Close()

	cancel := eng.Store().Subscribe(func(s presence.Snapshot) { printUsers(cmd, s) })
	defer cancel()

	sess, err := eng.SignIn(ctx, presence.User{ID: args[0], Name: name})
	if err != nil {
		return err
	}
	show := func(_ context.Context, env natsx.Envelope) { printEvent(cmd, env) }
	h := relay.Handlers{OnCreated: show, OnUpdated: show, OnDeleted: show, OnActivity: show, OnMembership: show, OnEntity: show}
	for _, p := range projects {
		if _, err := sess.Attach(ctx, relay.ScopeProject, p, h); err != nil {
			logger.Warn("[watch] attach failed", zap.String("project", p), zap.Error(err))
		}
	}
	safe.SafeGo("watch-stdin", func() {
		sc := bufio.NewScanner(cmd.InOrStdin())
		for sc.Scan() {
			if err := watchCommand(ctx, sess, sc.Text()); err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), err)
			}
		}
	})
	<-ctx.Done()
	return nil
}

// watchCommand runs one stdin line against the session.
func watchCommand(ctx context.Context, sess *realtime.Session, line string) error {
	verb, arg, _ := strings.Cut(strings.TrimSpace(line), " ")
	arg = strings.TrimSpace(arg)
	switch verb {
	case "":
		return nil
	case "/name":
		if arg == "" {
			return errs.ErrArgs.WrapMsg("usage: /name <display name>")
		}
		return sess.UpdateProfile(ctx, arg, sess.User.Image)
	case "/status":
		return sess.Status.SetStatus(ctx, presence.Status(arg))
	}
	return errs.ErrArgs.WrapMsg("unknown command", "line", line)
}

func printUsers(cmd *cobra.Command, s presence.Snapshot) {
	parts := make([]string, 0, len(s.Users))
	for _, u := range s.Users {
		parts = append(parts, fmt.Sprintf("%s(%s)", u.DisplayName(), u.Status))
	}
	state := "online"
	if !s.Connected {
		state = "offline"
	}
	fmt.Fprintf(cmd.OutOrStdout(), "[%s] %d: %s\n", state, len(s.Users), strings.Join(parts, ", "))
}

func printEvent(cmd *cobra.Command, env natsx.Envelope) {
	fmt.Fprintf(cmd.OutOrStdout(), "%s %s %s %s\n", env.Time().Format("15:04:05"), env.Topic, env.Event, string(env.Data))
}
