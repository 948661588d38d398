// Package workgroup runs bounded pools of workers on top of errgroup.
package workgroup

import (
	"context"
	"fmt"
	"runtime/debug"

	"golang.org/x/sync/errgroup"
)

// Group is a [errgroup.Group] that also captures panics from its goroutines and
// reports them with a stack trace. The original [errgroup.Group] reports the
// stack trace of the `Wait()` call, which is much less useful.
type Group struct {
	*errgroup.Group
}

// WithContext returns a group whose context is canceled, with the failing
// error as its cause, as soon as any worker fails or panics.
func WithContext(ctx context.Context) (*Group, context.Context) {
	group, ctx := errgroup.WithContext(ctx)
	return &Group{Group: group}, ctx
}

type PanicError struct {
	recovered any
	stack     string
}

func (e PanicError) Error() string {
	return fmt.Sprintf("panic: %v\n%s", e.recovered, e.stack)
}

func (e PanicError) Unwrap() error {
	wrappedError, ok := e.recovered.(error)
	if !ok {
		return nil
	}
	return wrappedError
}

func (e PanicError) Recovered() any {
	return e.recovered
}

func (e PanicError) Stack() string {
	return e.stack
}

func (g *Group) Go(f func() error) {
	g.Group.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = PanicError{recovered: r, stack: string(debug.Stack())}
			}
		}()
		return f()
	})
}

// GoN starts n workers running f, each with its index. n below one starts a
// single worker.
func (g *Group) GoN(n int, f func(worker int) error) {
	n = max(n, 1)
	for i := range n {
		g.Go(func() error { return f(i) })
	}
}

// Drain calls f for every item received from in until in is closed or ctx is
// done. It is the body of a typical queue worker.
func Drain[T any](ctx context.Context, in <-chan T, f func(T) error) error {
	for {
		select {
		case <-ctx.Done():
			return context.Cause(ctx)
		case item, ok := <-in:
			if !ok {
				return nil
			}
			if err := f(item); err != nil {
				return err
			}
		}
	}
}
