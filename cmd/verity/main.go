// Command verity runs the fact-checking engine: the queue worker plus an
// MCP server on stdio. Logs go to stderr so stdout stays clean for the
// MCP JSON-RPC stream.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/verity-ai/verity"
)

// version is set at build time via -ldflags.
var version = "dev"

func main() {
	os.Exit(run0())
}

func run0() int {
	workerOnly := flag.Bool("worker-only", false, "run the queue worker without the stdio MCP server")
	flag.Parse()

	level := slog.LevelInfo
	if os.Getenv("VERITY_LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	}))
	slog.SetDefault(logger)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, logger, *workerOnly); err != nil {
		slog.Error("fatal error", "error", err)
		return 1
	}
	return 0
}

func run(ctx context.Context, logger *slog.Logger, workerOnly bool) error {
	app, err := verity.New(
		verity.WithVersion(version),
		verity.WithLogger(logger),
	)
	if err != nil {
		return err
	}

	if workerOnly {
		return app.Run(ctx)
	}

	// Serve MCP on stdio alongside the worker. When the client disconnects
	// (stdin EOF) the whole process shuts down.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errCh := make(chan error, 1)
	go func() {
		err := mcpserver.ServeStdio(app.MCP().MCPServer())
		if err != nil && !errors.Is(err, context.Canceled) {
			errCh <- err
		}
		cancel()
	}()

	if err := app.Run(ctx); err != nil {
		return err
	}
	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}
