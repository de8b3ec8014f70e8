// Command hyoka grades exercise-report messages against an exercise
// definition and writes the participant report and feedback.
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

	"github.com/ashita-ai/hyoka"
	"github.com/ashita-ai/hyoka/internal/model"
)

// version is set at build time via -ldflags.
var version = "dev"

// Exit codes.
const (
	exitOK     = 0
	exitFailed = 1
	exitConfig = 2
)

func main() {
	os.Exit(run0(os.Args[1:], os.Stdout, os.Stderr))
}

func run0(args []string, stdout, stderr io.Writer) int {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, args, stdout, stderr); err != nil {
		fmt.Fprintf(stderr, "hyoka: %v\n", err)
		return exitCode(err)
	}
	return exitOK
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	root := newRootCmd(stderr)
	root.SetOut(stdout)
	root.SetErr(stderr)
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}

// exitCode maps configuration problems, which no retry will fix, to a
// distinct status.
func exitCode(err error) int {
	switch {
	case errors.Is(err, hyoka.ErrInvalidConfig), errors.Is(err, model.ErrInvalidExpectation):
		return exitConfig
	case err != nil:
		return exitFailed
	}
	return exitOK
}

func newLogger(w io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	if format == "text" {
		return slog.New(slog.NewTextHandler(w, opts))
	}
	return slog.New(slog.NewJSONHandler(w, opts))
}
