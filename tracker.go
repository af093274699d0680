// Package trackpost buffers analytics events in a local durable queue and
// forwards them to a remote collection endpoint in batches. Tracking calls
// return as soon as the event is durably enqueued (or rejected); delivery
// runs asynchronously on a timer or via Dispatch and retries failed batches
// until the server confirms them, giving at-least-once delivery.
package trackpost

import (
	"context"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/leshachaplin/trackpost/internal/dispatch"
	"github.com/leshachaplin/trackpost/internal/domain"
	"github.com/leshachaplin/trackpost/internal/identity"
	"github.com/leshachaplin/trackpost/internal/piwik"
	"github.com/leshachaplin/trackpost/internal/sampling"
	"github.com/leshachaplin/trackpost/internal/storage/queue/sqlite"
)

const (
	optOutKey = "opt_out"

	maxExceptionDescription = 50
)

// Tracker is an explicit tracker context: construct one per application and
// pass it to call sites. There is no package-level default instance.
type Tracker struct {
	cfg    Config
	logger zerolog.Logger

	queue     *sqlite.Queue
	identity  *identity.Manager
	gate      *sampling.Gate
	scheduler *dispatch.Scheduler

	// immediate means dispatch is kicked after every accepted enqueue
	// (DispatchInterval == 0).
	immediate    bool
	sessionStart atomic.Bool

	now func() time.Time
}

func New(cfg Config, logger zerolog.Logger) (*Tracker, error) {
	cfg = cfg.withDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	ctx := context.Background()
	queue, err := sqlite.New(ctx, sqlite.Config{
		Path:            cfg.QueuePath,
		MaxQueuedEvents: cfg.MaxQueuedEvents,
	})
	if err != nil {
		return nil, err
	}

	optOut, err := loadOptOut(ctx, queue, cfg.OptOut)
	if err != nil {
		queue.Close()
		return nil, err
	}

	var sender dispatch.Sender
	if cfg.Debug {
		sender = dispatch.NewLogSender(logger.With().Str("dispatch", "debug").Logger())
	} else {
		encoder := piwik.NewEncoder(cfg.SiteID, cfg.AppName, !cfg.PrefixingDisabled)
		sender, err = piwik.NewClient(piwik.Config{
			BaseURL:        cfg.BaseURL,
			SiteID:         cfg.SiteID,
			AuthToken:      cfg.AuthenticationToken,
			BulkEncoding:   cfg.BulkEncoding,
			RequestTimeout: cfg.RequestTimeout,
		}, encoder, logger.With().Str("dispatch", "piwik").Logger())
		if err != nil {
			queue.Close()
			return nil, err
		}
	}

	dispatcher := dispatch.NewDispatcher(dispatch.Config{
		EventsPerRequest:   cfg.EventsPerRequest,
		MaxBatchesPerCycle: cfg.MaxBatchesPerCycle,
	}, queue, sender, logger.With().Str("component", "dispatcher").Logger())

	interval := *cfg.DispatchInterval
	scheduler := dispatch.NewScheduler(ctx, interval, dispatcher.RunCycle,
		logger.With().Str("component", "scheduler").Logger())
	scheduler.Start()

	t := &Tracker{
		cfg:       cfg,
		logger:    logger,
		queue:     queue,
		identity:  identity.New(queue),
		gate:      sampling.New(cfg.SampleRate, optOut),
		scheduler: scheduler,
		immediate: interval == 0,
		now:       time.Now,
	}
	t.sessionStart.Store(cfg.SessionStart)

	return t, nil
}

// Close stops the dispatch scheduler, waiting for an in-flight cycle to
// complete, then closes the queue database.
func (t *Tracker) Close() error {
	t.scheduler.GracefulStop()
	return t.queue.Close()
}

// SendView tracks a screen view. Segments form a hierarchical screen name
// joined with "/" at encode time. Returns whether the event was accepted
// into the queue, never anything about delivery.
func (t *Tracker) SendView(segments ...string) bool {
	if len(segments) == 0 {
		return false
	}
	return t.track(domain.TrackedEvent{
		Kind: domain.KindScreen,
		Path: segments,
	})
}

// SendEvent tracks an application event as a category/action/label triple.
// The label is optional.
func (t *Tracker) SendEvent(category, action, label string) bool {
	return t.track(domain.TrackedEvent{
		Kind:     domain.KindEvent,
		Category: category,
		Action:   action,
		Label:    label,
	})
}

// SendException tracks a caught error. Descriptions longer than 50
// characters are truncated.
func (t *Tracker) SendException(description string, fatal bool) bool {
	if runes := []rune(description); len(runes) > maxExceptionDescription {
		description = string(runes[:maxExceptionDescription])
	}
	return t.track(domain.TrackedEvent{
		Kind:        domain.KindException,
		Description: description,
		Fatal:       fatal,
	})
}

// SendSocialInteraction tracks an interaction with a social network.
func (t *Tracker) SendSocialInteraction(action, target, network string) bool {
	return t.track(domain.TrackedEvent{
		Kind:    domain.KindSocial,
		Action:  action,
		Target:  target,
		Network: network,
	})
}

// SendGoal tracks a goal conversion with its monetary value.
func (t *Tracker) SendGoal(goalID string, revenue uint64) bool {
	return t.track(domain.TrackedEvent{
		Kind:    domain.KindGoal,
		GoalID:  goalID,
		Revenue: revenue,
	})
}

// SendSearch tracks a search performed in the application. Category and hit
// count are optional.
func (t *Tracker) SendSearch(keyword, category string, hitCount *int) bool {
	return t.track(domain.TrackedEvent{
		Kind:           domain.KindSearch,
		Keyword:        keyword,
		SearchCategory: category,
		SearchHits:     hitCount,
	})
}

// Dispatch manually starts a dispatch cycle. Returns false when a cycle is
// already running.
func (t *Tracker) Dispatch() bool {
	return t.scheduler.TryDispatch()
}

// DeleteQueuedEvents drops every pending event.
func (t *Tracker) DeleteQueuedEvents() error {
	return t.queue.Clear(context.Background())
}

// QueuedEvents returns the number of events waiting for delivery.
func (t *Tracker) QueuedEvents() (int, error) {
	return t.queue.Count(context.Background())
}

// SetOptOut persists the opt-out flag; when set, no further events are
// accepted.
func (t *Tracker) SetOptOut(optOut bool) error {
	value := "0"
	if optOut {
		value = "1"
	}
	if err := t.queue.SetState(context.Background(), optOutKey, value); err != nil {
		return err
	}
	t.gate.SetOptOut(optOut)
	return nil
}

func (t *Tracker) OptOut() bool {
	return t.gate.OptOut()
}

// StartNewSession forces a new session id on the next accepted event.
func (t *Tracker) StartNewSession() {
	t.sessionStart.Store(true)
}

// VisitorID exposes the durable per-installation identifier.
func (t *Tracker) VisitorID() (string, error) {
	return t.identity.VisitorID(context.Background())
}

// track runs the enqueue path: sampling gate, identity stamp, durable
// append, and, in immediate mode, a dispatch kick. Sampled-out events never
// touch session state.
func (t *Tracker) track(event domain.TrackedEvent) bool {
	if !t.gate.ShouldEnqueue() {
		return false
	}

	ctx := context.Background()
	visitorID, err := t.identity.VisitorID(ctx)
	if err != nil {
		t.logger.Error().Err(err).Msg("resolve visitor id")
		return false
	}

	now := t.now()
	force := t.sessionStart.CompareAndSwap(true, false)
	sessionID, started := t.identity.SessionID(now, t.cfg.SessionTimeout, force)

	event.CreatedAt = now
	event.VisitorID = visitorID
	event.SessionID = sessionID
	event.NewVisit = started
	event.CustomVars = t.customVars()

	accepted, err := t.queue.Enqueue(ctx, event)
	if err != nil {
		t.logger.Error().Err(err).Str("kind", string(event.Kind)).Msg("enqueue event")
		return false
	}
	if !accepted {
		t.logger.Debug().Str("kind", string(event.Kind)).Msg("queue full, event dropped")
		return false
	}

	if t.immediate {
		t.scheduler.TryDispatch()
	}
	return true
}

func (t *Tracker) customVars() []domain.CustomVariable {
	vars := []domain.CustomVariable{
		{Index: 1, Name: "Platform", Value: runtime.GOOS},
	}
	if t.cfg.AppName != "" {
		vars = append(vars, domain.CustomVariable{Index: 2, Name: "App name", Value: t.cfg.AppName})
	}
	if t.cfg.AppVersion != "" {
		vars = append(vars, domain.CustomVariable{Index: 3, Name: "App version", Value: t.cfg.AppVersion})
	}
	return vars
}

func loadOptOut(ctx context.Context, queue *sqlite.Queue, initial bool) (bool, error) {
	value, ok, err := queue.GetState(ctx, optOutKey)
	if err != nil {
		return false, err
	}
	if !ok {
		return initial, nil
	}
	return value == "1", nil
}
