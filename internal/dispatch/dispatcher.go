package dispatch

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/leshachaplin/trackpost/internal/domain"
)

// Store is the slice of the queue store a dispatch cycle needs: read without
// removing, then remove only what was confirmed delivered.
type Store interface {
	PeekBatch(ctx context.Context, limit int) ([]domain.QueueRecord, error)
	RemoveBatch(ctx context.Context, seqs []int64) error
}

// Sender executes one delivery attempt for a batch. A nil return means the
// whole batch was accepted by the remote end.
type Sender interface {
	Send(ctx context.Context, batch []domain.QueueRecord) error
}

type Config struct {
	EventsPerRequest   int `mapstructure:"events_per_request"`
	MaxBatchesPerCycle int `mapstructure:"max_batches_per_cycle"`
}

const defaultEventsPerRequest = 20

// Dispatcher runs one delivery cycle at a time: peek a batch, send it, and
// remove it only on confirmed success. A failed batch stays queued untouched
// so the next cycle retries the same oldest records first.
type Dispatcher struct {
	store      Store
	sender     Sender
	batchSize  int
	maxBatches int
	logger     zerolog.Logger
}

func NewDispatcher(cfg Config, store Store, sender Sender, logger zerolog.Logger) *Dispatcher {
	batchSize := cfg.EventsPerRequest
	if batchSize <= 0 {
		batchSize = defaultEventsPerRequest
	}

	return &Dispatcher{
		store:      store,
		sender:     sender,
		batchSize:  batchSize,
		maxBatches: cfg.MaxBatchesPerCycle,
		logger:     logger,
	}
}

// RunCycle drains the queue batch by batch until it is empty, a delivery
// fails, or the per-cycle batch cap is reached (zero cap means drain).
func (d *Dispatcher) RunCycle(ctx context.Context) {
	for batches := 0; d.maxBatches == 0 || batches < d.maxBatches; batches++ {
		batch, err := d.store.PeekBatch(ctx, d.batchSize)
		if err != nil {
			d.logger.Error().Err(err).Msg("read batch from queue")
			return
		}
		if len(batch) == 0 {
			return
		}

		if err = d.sender.Send(ctx, batch); err != nil {
			d.logger.Warn().Err(err).Int("batch_size", len(batch)).Msg("delivery failed, batch retained for retry")
			return
		}

		if err = d.store.RemoveBatch(ctx, domain.Sequences(batch)); err != nil {
			d.logger.Error().Err(err).Msg("remove delivered batch")
			return
		}
		d.logger.Debug().Int("batch_size", len(batch)).Msg("batch delivered")
	}
}

// LogSender stands in for the network transport in debug mode: batches are
// logged and reported as delivered, so the queue never grows unboundedly
// while debugging.
type LogSender struct {
	logger zerolog.Logger
}

func NewLogSender(logger zerolog.Logger) *LogSender {
	return &LogSender{logger: logger}
}

func (s *LogSender) Send(_ context.Context, batch []domain.QueueRecord) error {
	for _, rec := range batch {
		s.logger.Info().
			Int64("sequence", rec.Sequence).
			Str("kind", string(rec.Event.Kind)).
			Interface("event", rec.Event).
			Msg("debug dispatch")
	}
	return nil
}
