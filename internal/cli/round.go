package cli

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/park285/cube-duel/internal/round"
	"github.com/park285/cube-duel/internal/roundclient"
)

// NewRoundCommand groups the operations that talk to roundd.
func NewRoundCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "round",
		Short: "Create and play rounds on a running roundd",
	}
	cmd.AddCommand(
		newRoundCreate(rootOpts),
		newRoundJoin(rootOpts),
		newRoundSubmit(rootOpts),
		newRoundReset(rootOpts),
		newRoundClose(rootOpts),
		newRoundDelete(rootOpts),
		newRoundGet(rootOpts),
		newRoundActive(rootOpts),
		newRoundList(rootOpts),
		newRoundSolves(rootOpts),
	)
	return cmd
}

type clientRun func(ctx context.Context, c *roundclient.Client, out *OutputFormatter, args []string) error

// remoteCommand wires the shared client setup and timeout around run.
func remoteCommand(rootOpts *RootOptions, use, short string, nargs cobra.PositionalArgs, run clientRun) *cobra.Command {
	return &cobra.Command{
		Use:           use,
		Short:         short,
		Args:          nargs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := formatter(rootOpts, cmd)
			c, err := rootOpts.client()
			if err != nil {
				return WrapExitError(ExitCommandError, "config", err)
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), rootOpts.Timeout+time.Second)
			defer cancel()
			return run(ctx, c, out, args)
		},
	}
}

func newRoundCreate(rootOpts *RootOptions) *cobra.Command {
	var req round.CreateRequest
	var mode string
	cmd := remoteCommand(rootOpts, "create", "Create a round for a pair", cobra.NoArgs,
		func(ctx context.Context, c *roundclient.Client, out *OutputFormatter, _ []string) error {
			m, ok := round.ParseMode(mode)
			if !ok {
				return out.Fail("create", fmt.Errorf("%w: mode %q", round.ErrInvalidArgs, mode))
			}
			req.Mode = m
			r, err := c.Create(ctx, req)
			if err != nil {
				return out.Fail("create", err)
			}
			return out.Success(r, rootOpts.text("round.detail", r))
		})
	cmd.Flags().StringVar(&req.PairID, "pair", "", "pair id")
	cmd.Flags().StringVar(&req.UserID, "user", "", "creating user id")
	cmd.Flags().StringVar(&req.GameKey, "game", "", "game key")
	cmd.Flags().StringVar(&req.Scramble, "scramble", "", "use this scramble instead of a generated one")
	cmd.Flags().StringVar(&mode, "mode", string(round.ModeLive), "live|async")
	_ = cmd.MarkFlagRequired("pair")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newRoundJoin(rootOpts *RootOptions) *cobra.Command {
	var user string
	cmd := remoteCommand(rootOpts, "join <round-id>", "Join a round", cobra.ExactArgs(1),
		func(ctx context.Context, c *roundclient.Client, out *OutputFormatter, args []string) error {
			r, err := c.Join(ctx, args[0], user)
			if err != nil {
				return out.Fail("join", err)
			}
			return out.Success(r, rootOpts.text("round.detail", r))
		})
	cmd.Flags().StringVar(&user, "user", "", "joining user id")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newRoundSubmit(rootOpts *RootOptions) *cobra.Command {
	var (
		user    string
		elapsed time.Duration
		dnf     bool
	)
	cmd := remoteCommand(rootOpts, "submit <round-id>", "Submit a solve time", cobra.ExactArgs(1),
		func(ctx context.Context, c *roundclient.Client, out *OutputFormatter, args []string) error {
			if elapsed < 0 {
				return out.Fail("submit", fmt.Errorf("%w: negative time", round.ErrInvalidArgs))
			}
			res, err := c.SubmitSolve(ctx, round.SubmitRequest{
				RoundID: args[0],
				UserID:  user,
				TimeMs:  elapsed.Milliseconds(),
				DNF:     dnf,
			})
			if err != nil {
				return out.Fail("submit", err)
			}
			r := round.FromDTO(res.Round)
			text := rootOpts.text("round.detail", r)
			if res.Closed {
				text += "\n" + rootOpts.text("round.closed", nil)
			}
			return out.Success(res, text)
		})
	cmd.Flags().StringVar(&user, "user", "", "submitting user id")
	cmd.Flags().DurationVar(&elapsed, "time", 0, "solve time, e.g. 11.52s")
	cmd.Flags().BoolVar(&dnf, "dnf", false, "did not finish")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newRoundReset(rootOpts *RootOptions) *cobra.Command {
	var user string
	cmd := remoteCommand(rootOpts, "reset <round-id>", "Remove a user's solve", cobra.ExactArgs(1),
		func(ctx context.Context, c *roundclient.Client, out *OutputFormatter, args []string) error {
			r, err := c.ResetSolve(ctx, args[0], user)
			if err != nil {
				return out.Fail("reset", err)
			}
			return out.Success(r, rootOpts.text("round.detail", r))
		})
	cmd.Flags().StringVar(&user, "user", "", "user whose solve is removed")
	_ = cmd.MarkFlagRequired("user")
	return cmd
}

func newRoundClose(rootOpts *RootOptions) *cobra.Command {
	return remoteCommand(rootOpts, "close <round-id>", "Close a round", cobra.ExactArgs(1),
		func(ctx context.Context, c *roundclient.Client, out *OutputFormatter, args []string) error {
			r, err := c.Close(ctx, args[0])
			if err != nil {
				return out.Fail("close", err)
			}
			return out.Success(r, rootOpts.text("round.detail", r))
		})
}

func newRoundDelete(rootOpts *RootOptions) *cobra.Command {
	return remoteCommand(rootOpts, "delete <round-id>", "Delete a round and its solves", cobra.ExactArgs(1),
		func(ctx context.Context, c *roundclient.Client, out *OutputFormatter, args []string) error {
			if err := c.Delete(ctx, args[0]); err != nil {
				return out.Fail("delete", err)
			}
			return out.Success(map[string]string{"deleted": args[0]}, rootOpts.text("round.deleted", args[0]))
		})
}

func newRoundGet(rootOpts *RootOptions) *cobra.Command {
	return remoteCommand(rootOpts, "get <round-id>", "Show a round", cobra.ExactArgs(1),
		func(ctx context.Context, c *roundclient.Client, out *OutputFormatter, args []string) error {
			r, err := c.Round(ctx, args[0])
			if err != nil {
				return out.Fail("get", err)
			}
			return out.Success(r, rootOpts.text("round.detail", r))
		})
}

func newRoundActive(rootOpts *RootOptions) *cobra.Command {
	var pair string
	cmd := remoteCommand(rootOpts, "active", "Show the pair's active round", cobra.NoArgs,
		func(ctx context.Context, c *roundclient.Client, out *OutputFormatter, _ []string) error {
			r, err := c.ActiveRound(ctx, pair)
			if err != nil {
				return out.Fail("active", err)
			}
			if r == nil {
				return out.Success(nil, rootOpts.text("round.none", nil))
			}
			return out.Success(r, rootOpts.text("round.detail", r))
		})
	cmd.Flags().StringVar(&pair, "pair", "", "pair id")
	_ = cmd.MarkFlagRequired("pair")
	return cmd
}

func newRoundList(rootOpts *RootOptions) *cobra.Command {
	var pair string
	cmd := remoteCommand(rootOpts, "list", "List the pair's rounds, newest first", cobra.NoArgs,
		func(ctx context.Context, c *roundclient.Client, out *OutputFormatter, _ []string) error {
			rs, err := c.Rounds(ctx, pair)
			if err != nil {
				return out.Fail("list", err)
			}
			lines := make([]string, 0, len(rs))
			for _, r := range rs {
				lines = append(lines, rootOpts.text("round.line", r))
			}
			return out.Success(rs, strings.Join(lines, "\n"))
		})
	cmd.Flags().StringVar(&pair, "pair", "", "pair id")
	_ = cmd.MarkFlagRequired("pair")
	return cmd
}

func newRoundSolves(rootOpts *RootOptions) *cobra.Command {
	var viewer string
	cmd := remoteCommand(rootOpts, "solves <round-id>", "List solves visible to a viewer", cobra.ExactArgs(1),
		func(ctx context.Context, c *roundclient.Client, out *OutputFormatter, args []string) error {
			ss, err := c.Solves(ctx, args[0], viewer)
			if err != nil {
				return out.Fail("solves", err)
			}
			lines := make([]string, 0, len(ss))
			for _, s := range ss {
				lines = append(lines, rootOpts.text("solve.line", s))
			}
			return out.Success(ss, strings.Join(lines, "\n"))
		})
	cmd.Flags().StringVar(&viewer, "viewer", "", "apply the reveal policy for this user")
	return cmd
}

func NewStatsCommand(rootOpts *RootOptions) *cobra.Command {
	var pair string
	cmd := remoteCommand(rootOpts, "stats", "Show wins and the current streak for a pair", cobra.NoArgs,
		func(ctx context.Context, c *roundclient.Client, out *OutputFormatter, _ []string) error {
			st, err := c.Stats(ctx, pair)
			if err != nil {
				return out.Fail("stats", err)
			}
			users := slices.Sorted(maps.Keys(st.BestMs))
			return out.Success(st, rootOpts.text("stats.summary", map[string]any{"Stats": st, "Users": users}))
		})
	cmd.Flags().StringVar(&pair, "pair", "", "pair id")
	_ = cmd.MarkFlagRequired("pair")
	return cmd
}
