package waiter

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
)

type WaitFunc func(ctx context.Context) error

// Waiter runs the long-lived parts of the application and blocks until one
// of them fails, the parent context is cancelled, or a shutdown signal
// arrives.
type Waiter interface {
	Add(fns ...WaitFunc)
	Wait() error
}

type waiterCfg struct {
	signals []os.Signal
}

type waiter struct {
	ctx      context.Context
	cancelFn context.CancelFunc
	fns      []WaitFunc
}

func NewWaiter(ctx context.Context, cancelFn context.CancelFunc, options ...Option) Waiter {
	cfg := &waiterCfg{
		signals: []os.Signal{os.Interrupt, syscall.SIGTERM},
	}
	for _, option := range options {
		option(cfg)
	}

	signalCtx, _ := signal.NotifyContext(ctx, cfg.signals...)

	return &waiter{
		ctx:      signalCtx,
		cancelFn: cancelFn,
	}
}

func (w *waiter) Add(fns ...WaitFunc) {
	w.fns = append(w.fns, fns...)
}

func (w *waiter) Wait() error {
	group, gCtx := errgroup.WithContext(w.ctx)

	group.Go(func() error {
		<-gCtx.Done()
		w.cancelFn()
		return nil
	})

	for _, fn := range w.fns {
		fn := fn
		group.Go(func() error {
			return fn(gCtx)
		})
	}

	return group.Wait()
}
