package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	otcs "github.com/pneumacap/otcs-mcp-sub000"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func main() {
	config, err := otcs.LoadConfigFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(2)
	}

	logger, err := newLogger(config.Logging)
	if err != nil {
		panic(fmt.Errorf("failed to set up logger: %w", err))
	}
	defer logger.Sync() //nolint:errcheck
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCommand(config).ExecuteContext(ctx); err != nil {
		zap.S().Debugw("command failed", "error", err)
		os.Exit(1)
	}
}

// newLogger builds a zap logger writing to stderr so that command output on
// stdout stays machine readable.
func newLogger(cfg otcs.LoggingConfig) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	zapConfig := zap.NewProductionConfig()
	if cfg.Format == "console" {
		zapConfig = zap.NewDevelopmentConfig()
	}
	zapConfig.Level = zap.NewAtomicLevelAt(level)
	zapConfig.OutputPaths = []string{"stderr"}
	zapConfig.ErrorOutputPaths = []string{"stderr"}
	return zapConfig.Build()
}
