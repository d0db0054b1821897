// taskctl submits and inspects studio jobs from the command line.
//
// Usage:
//
//	taskctl [--config file] create <crawl|generate|tag> [--param k=v ...] [--wait]
//	taskctl [--config file] get <id>
//	taskctl [--config file] list [--status s] [--kind k] [--limit n]
//	taskctl [--config file] cancel <id>
//	taskctl [--config file] history [--limit n]
//	taskctl [--config file] config
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/rickgao/studio-console/internal/config"
)

var errUsage = errors.New("usage: taskctl [--config file] <create|get|list|cancel|history|config> [args]")

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	err := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	switch {
	case err == nil:
	case errors.Is(err, pflag.ErrHelp):
	case errors.Is(err, errUsage):
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	default:
		fmt.Fprintln(os.Stderr, "taskctl:", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	global := pflag.NewFlagSet("taskctl", pflag.ContinueOnError)
	global.SetOutput(stderr)
	global.SetInterspersed(false)
	configPath := global.StringP("config", "c", "configs/console.yaml", "path to config file")
	verbose := global.BoolP("verbose", "v", false, "log requests to stderr")
	if err := global.Parse(args); err != nil {
		return err
	}

	rest := global.Args()
	if len(rest) == 0 {
		return errUsage
	}

	// A missing file falls back to defaults so taskctl works against a local
	// backend with no setup.
	cfg, err := config.LoadOrDefaults(*configPath)
	if err != nil {
		return err
	}

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	cmd := &command{cfg: cfg, out: stdout, logger: logger, client: newClient(cfg, logger)}

	name, cmdArgs := rest[0], rest[1:]
	switch name {
	case "create":
		return cmd.create(ctx, cmdArgs)
	case "get":
		return cmd.get(ctx, cmdArgs)
	case "list":
		return cmd.list(ctx, cmdArgs)
	case "cancel":
		return cmd.cancel(ctx, cmdArgs)
	case "history":
		return cmd.history(ctx, cmdArgs)
	case "config":
		return cmd.showConfig(ctx, cmdArgs)
	default:
		return fmt.Errorf("%w: unknown command %q", errUsage, name)
	}
}
