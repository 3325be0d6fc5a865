package services

import (
	"context"
	"time"

	"spendbot/internal/amqp"
	"spendbot/internal/core"
	"spendbot/internal/log"
)

type (
	JournalWriter interface {
		Record(ctx context.Context, entry core.JournalEntry) (int64, error)
	}

	OutcomePublisher interface {
		PublishOutcome(ctx context.Context, msg *amqp.OutcomeEvent) error
	}

	SideEffectObserver interface {
		ObserveJournalWrite(err error)
		ObserveOutcomePublish(err error)
	}
)

// OutcomeRecorder journals each handled command and publishes its outcome
// event. Either sink may be nil. Failures are logged and never reach the
// command handler.
type OutcomeRecorder struct {
	journal   JournalWriter
	publisher OutcomePublisher
	observer  SideEffectObserver
	logger    *log.Logger
	now       func() time.Time
}

func NewOutcomeRecorder(journal JournalWriter, publisher OutcomePublisher, observer SideEffectObserver, logger *log.Logger) *OutcomeRecorder {
	if logger == nil {
		logger = log.Discard()
	}
	return &OutcomeRecorder{
		journal:   journal,
		publisher: publisher,
		observer:  observer,
		logger:    logger.WithComponent(log.ComponentStorage),
		now:       time.Now,
	}
}

// Record implements the bot's Recorder.
func (r *OutcomeRecorder) Record(ctx context.Context, ev core.InboundEvent, outcome core.Outcome) {
	now := r.now()

	if r.journal != nil {
		_, err := r.journal.Record(ctx, core.NewJournalEntry(ev, outcome, now))
		if err != nil {
			r.logger.ErrorContext(ctx, "Failed to journal command",
				log.FieldOperation, log.OpRecord,
				log.FieldEventID, ev.EventID,
				log.FieldError, err,
				"error_type", log.ErrorTypeDatabase)
		}
		r.observeJournal(err)
	}

	if r.publisher != nil {
		err := r.publisher.PublishOutcome(ctx, amqp.NewOutcomeEvent(ev, outcome, now))
		if err != nil {
			// The command was already acknowledged in the chat.
			r.logger.ErrorContext(ctx, "Failed to publish outcome event",
				log.FieldOperation, log.OpPublish,
				log.FieldEventID, ev.EventID,
				log.FieldError, err,
				"error_type", log.ErrorTypeNetwork)
		}
		r.observePublish(err)
	}
}

func (r *OutcomeRecorder) observeJournal(err error) {
	if r.observer != nil {
		r.observer.ObserveJournalWrite(err)
	}
}

func (r *OutcomeRecorder) observePublish(err error) {
	if r.observer != nil {
		r.observer.ObserveOutcomePublish(err)
	}
}
