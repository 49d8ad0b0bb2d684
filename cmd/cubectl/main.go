package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/park285/cube-duel/internal/cli"
	"github.com/park285/cube-duel/internal/obslog"
)

func main() {
	// no console or file core: Init falls back to stderr
	opts := obslog.DefaultOptions()
	opts.Console = false
	opts.Level = "warn"
	_ = obslog.Init(opts)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cli.NewRootCommand().ExecuteContext(ctx)
	stop()
	os.Exit(cli.GetExitCode(err))
}
