package agent

import (
	"context"
	"log/slog"
	"time"

	"github.com/lightupdev/lightup/internal/apperr"
	"github.com/lightupdev/lightup/internal/db"
	"github.com/lightupdev/lightup/internal/workflow"
)

// queueInterval is how often the queue checks for dispatchable cards.
const queueInterval = 3 * time.Second

// Queue dispatches queued cards as concurrency slots free up. Cards in todo
// with a queued ai status are picked oldest-updated first, up to the
// ai_concurrency setting minus the number of currently active sessions.
type Queue struct {
	store      *db.DB
	dispatcher *Dispatcher
	logger     *slog.Logger
	interval   time.Duration
}

// QueueConfig holds Queue dependencies.
type QueueConfig struct {
	Store      *db.DB
	Dispatcher *Dispatcher
	Logger     *slog.Logger

	// Interval overrides the poll interval. Zero means the default.
	Interval time.Duration
}

// NewQueue creates a Queue.
func NewQueue(cfg QueueConfig) *Queue {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	interval := cfg.Interval
	if interval <= 0 {
		interval = queueInterval
	}
	return &Queue{
		store:      cfg.Store,
		dispatcher: cfg.Dispatcher,
		logger:     logger,
		interval:   interval,
	}
}

// Run polls until ctx is cancelled.
func (q *Queue) Run(ctx context.Context) error {
	ticker := time.NewTicker(q.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			q.Tick(ctx)
		}
	}
}

// Tick runs a single dispatch pass.
func (q *Queue) Tick(ctx context.Context) {
	limit, err := q.store.AiConcurrency()
	if err != nil {
		q.logger.Error("read concurrency setting", "error", err)
		return
	}
	active, err := q.store.CountActiveCards()
	if err != nil {
		q.logger.Error("count active cards", "error", err)
		return
	}

	slots := limit - active
	if slots <= 0 {
		return
	}

	cards, err := q.store.ListQueuedCards(slots)
	if err != nil {
		q.logger.Error("list queued cards", "error", err)
		return
	}

	for _, card := range cards {
		err := q.dispatcher.Dispatch(ctx, card)
		if err == nil {
			continue
		}
		if appErr := apperr.As(err); appErr != nil && appErr.Code == apperr.CodeAgentUnavailable {
			// Runtime downtime is transient. Put the card back so the
			// next tick retries it.
			if dbErr := q.store.SetAiStatus(card.ID, workflow.AiQueued); dbErr != nil {
				q.logger.Error("requeue card", "card_id", card.ID, "error", dbErr)
				continue
			}
			q.logger.Warn("agent runtime unavailable, card requeued", "card_id", card.ID, "error", err)
			continue
		}
		q.logger.Error("dispatch from queue", "card_id", card.ID, "error", err)
	}
}
