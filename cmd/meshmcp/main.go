// Package main is the entry point for meshmcp, the MCP aggregating proxy.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/meshmcp/meshmcp/cmd/meshmcp/app"
	"github.com/meshmcp/meshmcp/pkg/logger"
)

func main() {
	logger.Initialize()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer cancel()

	if err := app.NewRootCmd().ExecuteContext(ctx); err != nil {
		logger.Errorf("Error executing command: %v", err)
		os.Exit(1)
	}
}
