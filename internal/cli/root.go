// Package cli implements the cubectl command tree.
package cli

import (
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	appcfg "github.com/park285/cube-duel/internal/config"
	"github.com/park285/cube-duel/internal/msgcat"
	"github.com/park285/cube-duel/internal/roundclient"
)

// RootOptions holds global flags for all commands.
type RootOptions struct {
	Verbose  bool
	Format   string // "json" | "text"
	BaseURL  string
	WSURL    string
	Timeout  time.Duration
	Messages string

	cat *msgcat.Catalog
}

// ValidFormats defines the allowed output formats.
var ValidFormats = []string{"text", "json"}

// NewRootCommand creates the root command for cubectl.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "cubectl",
		Short: "cubectl - cube duel rounds from the terminal",
		Long:  "Generate scrambles, preview cube states, and drive rounds on a running roundd.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			if !slices.Contains(ValidFormats, opts.Format) {
				return fmt.Errorf("invalid format %q: must be one of %v", opts.Format, ValidFormats)
			}
			cat, err := msgcat.New(opts.Messages)
			if err != nil {
				return WrapExitError(ExitCommandError, "messages", err)
			}
			opts.cat = cat
			return nil
		},
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "verbose output")
	cmd.PersistentFlags().StringVar(&opts.Format, "format", "text", "output format (json|text)")
	cmd.PersistentFlags().StringVar(&opts.BaseURL, "api", "", "roundd base URL (default API_BASE_URL)")
	cmd.PersistentFlags().StringVar(&opts.WSURL, "ws", "", "roundd websocket URL (default API_WS_URL)")
	cmd.PersistentFlags().DurationVar(&opts.Timeout, "timeout", 10*time.Second, "request timeout")
	cmd.PersistentFlags().StringVar(&opts.Messages, "messages", "", "directory of YAML message overrides")

	cmd.AddCommand(NewScrambleCommand(opts))
	cmd.AddCommand(NewApplyCommand(opts))
	cmd.AddCommand(NewRoundCommand(opts))
	cmd.AddCommand(NewStatsCommand(opts))
	cmd.AddCommand(NewWatchCommand(opts))

	return cmd
}

// endpoints fills unset URLs from the client configuration. An explicit
// --api also supplies the websocket URL.
func (o *RootOptions) endpoints() (string, string, error) {
	base, ws := o.BaseURL, o.WSURL
	if base != "" {
		if ws == "" {
			ws = "ws" + strings.TrimPrefix(base, "http")
		}
		return base, ws, nil
	}
	cfg, err := appcfg.LoadClient()
	if err != nil {
		return "", "", err
	}
	if ws == "" {
		ws = cfg.APIWSURL
	}
	return cfg.APIBaseURL, ws, nil
}

// pollInterval prefers an explicit flag value over POLL_INTERVAL.
func (o *RootOptions) pollInterval(flag time.Duration) (time.Duration, error) {
	if flag > 0 {
		return flag, nil
	}
	cfg, err := appcfg.LoadClient()
	if err != nil {
		return 0, err
	}
	return cfg.PollInterval, nil
}

func (o *RootOptions) client() (*roundclient.Client, error) {
	base, _, err := o.endpoints()
	if err != nil {
		return nil, err
	}
	return roundclient.NewClient(base, roundclient.WithTimeout(o.Timeout)), nil
}

// text renders a catalog message. A broken override shows up in the output
// instead of failing a command that already succeeded.
func (o *RootOptions) text(key string, data any) string {
	if o.cat == nil {
		return key
	}
	out, err := o.cat.Render(key, data)
	if err != nil {
		return fmt.Sprintf("<%s: %v>", key, err)
	}
	return out
}
