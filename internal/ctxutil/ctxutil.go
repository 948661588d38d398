// Package ctxutil attaches the reason a run was stopped to the errors its
// workers return.
package ctxutil

import (
	"context"
	"errors"
	"fmt"
)

// Stopped returns nil while ctx is live. Once ctx is done it returns
// ctx.Err(), wrapped together with the cancellation cause when one was
// given, so that both the context error and the cause match errors.Is:
//
//	run ctx canceled with "received interrupt"
//	-> context canceled: received interrupt
func Stopped(ctx context.Context) error {
	err := ctx.Err()
	if err == nil {
		return nil
	}
	if cause := context.Cause(ctx); cause != err {
		return withCause(err, cause)
	}
	return err
}

// Annotate adds the cancellation cause of ctx to err when err stems from ctx
// ending. Errors unrelated to ctx, and errors that already carry the cause,
// come back unchanged.
func Annotate(ctx context.Context, err error) error {
	if err == nil || ctx.Err() == nil || !errors.Is(err, ctx.Err()) {
		return err
	}
	cause := context.Cause(ctx)
	if cause == nil || errors.Is(err, cause) {
		return err
	}
	return withCause(err, cause)
}

func withCause(err, cause error) error {
	return fmt.Errorf("%w: %w", err, cause)
}
