package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/driftpkg/drift/internal/cmd"
	"github.com/driftpkg/drift/internal/config"
	"github.com/driftpkg/drift/internal/core"
	"github.com/driftpkg/drift/internal/logging"
	"github.com/driftpkg/drift/internal/ui"
)

var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --profile switches the install root, so it must be known before the
	// config is loaded and cobra parses anything.
	cfg, err := config.Load(profileArg(os.Args[1:]))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(core.ExitInvalidArgs)
	}

	ui.InitColors()

	log := logging.NewLogger(logging.Config{
		Level:   cfg.Logging.Level,
		LogFile: cfg.Paths.LogFile,
		NoColor: cfg.Logging.Color == "never",
	})

	rootCmd := cmd.NewRootCmd(cfg, log, version)
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("command failed")

		if errors.Is(ctx.Err(), context.Canceled) {
			os.Exit(core.ExitInterrupted)
		}
		var exitErr *cmd.ExitError
		if errors.As(err, &exitErr) {
			os.Exit(exitErr.Code)
		}
		os.Exit(core.ExitGeneral)
	}
}

// profileArg extracts the --profile value from raw arguments.
func profileArg(args []string) string {
	for i, arg := range args {
		switch {
		case arg == "--profile" && i+1 < len(args):
			return args[i+1]
		case len(arg) > len("--profile=") && arg[:len("--profile=")] == "--profile=":
			return arg[len("--profile="):]
		}
	}
	return ""
}
