package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/commonjava/folofix/cmd"
	"github.com/commonjava/folofix/internal/output"
	"github.com/commonjava/folofix/pkg/pipeline"
)

// Exit codes: a clean run, a run that left reports unverified, and a run
// that could not finish.
const (
	exitClean      = 0
	exitUnverified = 1
	exitError      = 2
)

func main() {
	os.Exit(run())
}

func run() int {
	ctx, cancel := context.WithCancelCause(context.Background())
	defer cancel(nil)

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(signals)
	go func() {
		select {
		case sig := <-signals:
			cancel(fmt.Errorf("received %s", sig))
		case <-ctx.Done():
		}
	}()

	err := cmd.ExecuteContext(ctx)
	if err != nil {
		output.Error(err)
	}
	return exitCode(err)
}

// exitCode maps the outcome of a command to the process exit status.
func exitCode(err error) int {
	switch {
	case err == nil:
		return exitClean
	case errors.Is(err, pipeline.ErrUnverified):
		return exitUnverified
	default:
		return exitError
	}
}
