package cli

import (
	"context"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/park285/cube-duel/internal/obslog"
	"github.com/park285/cube-duel/internal/round"
	"github.com/park285/cube-duel/internal/roundclient"
	"github.com/park285/cube-duel/internal/roundsync"
)

// NewWatchCommand follows a pair's rounds over the websocket feed, with
// polling as a fallback, until interrupted.
func NewWatchCommand(rootOpts *RootOptions) *cobra.Command {
	var (
		pair     string
		duration time.Duration
		poll     time.Duration
	)
	cmd := &cobra.Command{
		Use:           "watch",
		Short:         "Print a pair's rounds whenever they change",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := formatter(rootOpts, cmd)
			base, ws, err := rootOpts.endpoints()
			if err != nil {
				return WrapExitError(ExitCommandError, "config", err)
			}
			every, err := rootOpts.pollInterval(poll)
			if err != nil {
				return WrapExitError(ExitCommandError, "config", err)
			}
			out.VerboseLog("watching pair %s via %s and %s every %s", pair, base, ws, every)

			client := roundclient.NewClient(base, roundclient.WithTimeout(rootOpts.Timeout))
			feed := roundclient.NewFeed(ws, roundclient.WithFeedLogger(obslog.L()))
			syncer := roundsync.New(client, feed, roundsync.WithPollInterval(every))
			syncer.Start()
			defer syncer.Close()

			ctx := cmd.Context()
			if duration > 0 {
				var cancel context.CancelFunc
				ctx, cancel = context.WithTimeout(ctx, duration)
				defer cancel()
			}

			unsub, err := syncer.SubscribeRounds(ctx, pair, func(rs []*round.Round) {
				lines := make([]string, 0, len(rs)+1)
				lines = append(lines, rootOpts.text("watch.header", map[string]any{
					"Time":   time.Now().Format(time.TimeOnly),
					"PairID": pair,
				}))
				for _, r := range rs {
					lines = append(lines, "  "+rootOpts.text("round.line", r))
				}
				_ = out.Success(rs, strings.Join(lines, "\n"))
			})
			if err != nil {
				return out.Fail("watch", err)
			}
			defer unsub()

			<-ctx.Done()
			return nil
		},
	}
	cmd.Flags().StringVar(&pair, "pair", "", "pair id")
	cmd.Flags().DurationVar(&duration, "for", 0, "stop after this long (0 = until interrupted)")
	cmd.Flags().DurationVar(&poll, "poll", 0, "poll interval when the feed is quiet (default POLL_INTERVAL)")
	_ = cmd.MarkFlagRequired("pair")
	return cmd
}
