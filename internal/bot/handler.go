package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"spendbot/internal/core"
	"spendbot/internal/log"
)

// State is a step of the per-event state machine:
//
//	Received -> Parsing -> {ParseFailed | Submitting} -> {Submitted | SubmitFailed}
//
// Events that are not commands for this bot stay in Received.
type State int

const (
	StateReceived State = iota
	StateParsing
	StateParseFailed
	StateSubmitting
	StateSubmitted
	StateSubmitFailed
)

func (s State) String() string {
	switch s {
	case StateReceived:
		return "received"
	case StateParsing:
		return "parsing"
	case StateParseFailed:
		return "parse_failed"
	case StateSubmitting:
		return "submitting"
	case StateSubmitted:
		return "submitted"
	case StateSubmitFailed:
		return "submit_failed"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// Terminal reports whether the state ends processing of an event that was a command.
func (s State) Terminal() bool {
	return s == StateParseFailed || s == StateSubmitted || s == StateSubmitFailed
}

type (
	Parser interface {
		Parse(text string) (core.TransactionRequest, error)
	}

	Submitter interface {
		Submit(ctx context.Context, req core.TransactionRequest) (bool, error)
	}

	// Reactor attaches a reaction to a message on the messaging side.
	Reactor interface {
		React(ctx context.Context, roomID, eventID, reaction string) error
	}

	// Recorder is told about every outcome after the reaction was sent.
	// It must not block for long and must handle its own failures.
	Recorder interface {
		Record(ctx context.Context, ev core.InboundEvent, outcome core.Outcome)
	}

	Observer interface {
		ObserveCommand(outcome string)
		ObserveReaction(result string)
	}
)

const DefaultReactTimeout = 10 * time.Second

// HandlerConfig holds the trigger and identity settings of the handler.
type HandlerConfig struct {
	Prefix       string
	Command      string
	BotUserID    string
	ReactTimeout time.Duration
}

// Handler processes one inbound event at a time. It keeps no per-event state
// in the struct, so one instance serves every worker.
type Handler struct {
	cfg       HandlerConfig
	parser    Parser
	submitter Submitter
	reactor   Reactor
	recorder  Recorder
	observer  Observer
	logger    *log.Logger
}

type HandlerOption func(*Handler)

func WithRecorder(r Recorder) HandlerOption {
	return func(h *Handler) { h.recorder = r }
}

func WithObserver(o Observer) HandlerOption {
	return func(h *Handler) { h.observer = o }
}

func NewHandler(cfg HandlerConfig, parser Parser, submitter Submitter, reactor Reactor, logger *log.Logger, opts ...HandlerOption) *Handler {
	if cfg.ReactTimeout <= 0 {
		cfg.ReactTimeout = DefaultReactTimeout
	}
	if logger == nil {
		logger = log.Discard()
	}
	h := &Handler{
		cfg:       cfg,
		parser:    parser,
		submitter: submitter,
		reactor:   reactor,
		logger:    logger.WithComponent(log.ComponentBot),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Trigger returns the command word that marks a message for this bot.
func (h *Handler) Trigger() string {
	return h.cfg.Prefix + h.cfg.Command
}

// Match reports whether body is a command for this bot and returns its
// arguments joined by single spaces.
func (h *Handler) Match(body string) (string, bool) {
	fields := strings.Fields(body)
	if len(fields) == 0 || fields[0] != h.Trigger() {
		return "", false
	}
	return strings.Join(fields[1:], " "), true
}

// Handle runs the state machine for ev and returns the state it ended in.
// Every event that reaches Parsing gets exactly one reaction. Errors never
// escape; a panic is logged and answered with a failure reaction if none
// was sent yet. A panic after a terminal state was reached keeps that state.
func (h *Handler) Handle(ctx context.Context, ev core.InboundEvent) (final State) {
	if h.cfg.BotUserID != "" && ev.Sender == h.cfg.BotUserID {
		return StateReceived
	}
	args, ok := h.Match(ev.Body)
	if !ok {
		return StateReceived
	}

	logger := h.logger.With(log.NewFields().
		WithEvent(string(ev.Source), ev.RoomID, ev.Sender, ev.EventID).
		ToSlice()...)

	state := StateParsing
	reacted := false
	defer func() {
		if r := recover(); r != nil {
			logger.ErrorContext(ctx, "Panic while handling command",
				"panic", r,
				"state", state.String(),
				"error_type", log.ErrorTypeInternal)
			if !reacted {
				h.react(ctx, logger, ev, core.ReactionFailure)
			}
			final = state
			if !state.Terminal() {
				final = StateSubmitFailed
			}
		}
	}()

	req, err := h.parser.Parse(args)
	if err != nil {
		state = StateParseFailed
		outcome := core.OutcomeFromError(err, core.TransactionRequest{})
		logger.WarnContext(ctx, "Failed to parse command",
			log.FieldOperation, log.OpParse,
			log.FieldReason, outcome.Reason,
			log.FieldError, err,
			"error_type", log.ErrorTypeValidation)
		reacted = true
		h.finish(ctx, logger, ev, outcome)
		return state
	}

	note, _ := req.Note()
	logger.InfoContext(ctx, "Parsed command", log.NewFields().
		WithOperation(log.OpParse).
		WithTransaction(req.Amount().String(), req.Description(), note).
		ToSlice()...)

	state = StateSubmitting
	submitted, err := h.submitter.Submit(ctx, req)

	var outcome core.Outcome
	switch {
	case err != nil:
		state = StateSubmitFailed
		outcome = core.OutcomeFromError(err, req)
		fields := log.NewFields().WithOperation(log.OpSubmit).WithError(err)
		fields["error_type"] = submitErrorType(err)
		logger.ErrorContext(ctx, "Failed to submit transaction", fields.ToSlice()...)
	case !submitted:
		state = StateSubmitFailed
		outcome = core.Failed("ledger rejected the transaction", req)
		logger.ErrorContext(ctx, "Ledger did not accept transaction",
			log.FieldOperation, log.OpSubmit,
			"error_type", log.ErrorTypeSubmission)
	default:
		state = StateSubmitted
		outcome = core.Succeeded(req)
	}

	reacted = true
	h.finish(ctx, logger, ev, outcome)
	return state
}

// submitErrorType tells ledger timeouts apart from other submission failures.
func submitErrorType(err error) string {
	var timeout interface{ Timeout() bool }
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &timeout) && timeout.Timeout()) {
		return log.ErrorTypeTimeout
	}
	return log.ErrorTypeSubmission
}

func (h *Handler) finish(ctx context.Context, logger *log.Logger, ev core.InboundEvent, outcome core.Outcome) {
	h.react(ctx, logger, ev, outcome.Reaction())

	if h.observer != nil {
		h.observer.ObserveCommand(outcome.Kind.String())
	}
	if h.recorder != nil {
		h.recorder.Record(ctx, ev, outcome)
	}

	logger.InfoContext(ctx, "Command handled",
		log.FieldOutcome, outcome.Kind.String(),
		log.FieldReason, outcome.Reason)
}

func (h *Handler) react(ctx context.Context, logger *log.Logger, ev core.InboundEvent, reaction string) {
	reactCtx, cancel := context.WithTimeout(ctx, h.cfg.ReactTimeout)
	defer cancel()

	result := "ok"
	if err := h.reactor.React(reactCtx, ev.RoomID, ev.EventID, reaction); err != nil {
		result = "error"
		logger.ErrorContext(ctx, "Failed to send reaction",
			log.FieldOperation, log.OpReact,
			log.FieldReaction, reaction,
			log.FieldError, err)
	}
	if h.observer != nil {
		h.observer.ObserveReaction(result)
	}
}
