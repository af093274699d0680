package dispatch

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Scheduler owns the repeating dispatch timer and the manual-trigger entry
// point. Exactly one cycle runs at a time; a trigger arriving while a cycle
// is in flight is coalesced, not queued. The periodic timer is re-armed from
// cycle completion, so a long cycle never causes catch-up firing.
//
// A negative interval disables the timer entirely (manual dispatch only). A
// zero interval also runs without a timer; the tracker kicks TryDispatch
// after every accepted enqueue instead.
type Scheduler struct {
	interval time.Duration
	runCycle func(ctx context.Context)

	trigger  chan struct{}
	inFlight atomic.Bool

	start    sync.Once
	stop     sync.Once
	doneChan chan struct{}
	ctx      context.Context
	cancelFn context.CancelFunc
	wg       *sync.WaitGroup
	logger   zerolog.Logger
}

func NewScheduler(ctx context.Context, interval time.Duration, runCycle func(ctx context.Context), logger zerolog.Logger) *Scheduler {
	c, cancelFn := context.WithCancel(ctx)
	return &Scheduler{
		interval: interval,
		runCycle: runCycle,
		trigger:  make(chan struct{}, 1),
		doneChan: make(chan struct{}),
		ctx:      c,
		cancelFn: cancelFn,
		wg:       &sync.WaitGroup{},
		logger:   logger,
	}
}

func (s *Scheduler) Start() {
	s.start.Do(func() {
		s.wg.Add(1)
		go s.run()
	})
}

// GracefulStop waits for an in-flight cycle to finish before cancelling the
// scheduler context. Safe to call more than once.
func (s *Scheduler) GracefulStop() {
	s.stop.Do(func() {
		close(s.doneChan)
		s.wg.Wait()
		s.cancelFn()
	})
}

// TryDispatch requests a cycle. Returns false when one is already in flight
// (the request is coalesced) or the scheduler is stopped.
func (s *Scheduler) TryDispatch() bool {
	select {
	case <-s.doneChan:
		return false
	default:
	}

	if !s.inFlight.CompareAndSwap(false, true) {
		return false
	}

	select {
	case s.trigger <- struct{}{}:
		return true
	case <-s.doneChan:
		s.inFlight.Store(false)
		return false
	}
}

func (s *Scheduler) run() {
	defer s.wg.Done()

	var (
		timer  *time.Timer
		timerC <-chan time.Time
	)
	if s.interval > 0 {
		timer = time.NewTimer(s.interval)
		timerC = timer.C
		defer timer.Stop()
	}

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-s.doneChan:
			return
		case <-timerC:
			if s.inFlight.CompareAndSwap(false, true) {
				s.cycle()
			}
			timer.Reset(s.interval)
		case <-s.trigger:
			s.cycle()
			s.rearm(timer)
		}
	}
}

// cycle runs with the in-flight flag held; the flag is what coalesces every
// other trigger source while the cycle is working.
func (s *Scheduler) cycle() {
	defer s.inFlight.Store(false)

	s.logger.Debug().Msg("dispatch cycle start")
	s.runCycle(s.ctx)
	s.logger.Debug().Msg("dispatch cycle end")
}

func (s *Scheduler) rearm(timer *time.Timer) {
	if timer == nil {
		return
	}
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(s.interval)
}
