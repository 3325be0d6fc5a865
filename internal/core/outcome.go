package core

import (
	"errors"
	"time"
)

const (
	ReactionSuccess = "✅"
	ReactionFailure = "❌"
)

type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeValidationError
	OutcomeSubmissionError
)

func (k OutcomeKind) String() string {
	switch k {
	case OutcomeSuccess:
		return "success"
	case OutcomeValidationError:
		return "validation_error"
	case OutcomeSubmissionError:
		return "submission_error"
	default:
		return "unknown"
	}
}

// Outcome is the tri-state result of handling one command.
type Outcome struct {
	Kind    OutcomeKind
	Reason  string
	Request TransactionRequest // zero when parsing failed
}

func Succeeded(req TransactionRequest) Outcome {
	return Outcome{Kind: OutcomeSuccess, Request: req}
}

func Rejected(reason string) Outcome {
	return Outcome{Kind: OutcomeValidationError, Reason: reason}
}

func Failed(detail string, req TransactionRequest) Outcome {
	return Outcome{Kind: OutcomeSubmissionError, Reason: detail, Request: req}
}

// OutcomeFromError classifies a handler error. A nil error is not expected here.
func OutcomeFromError(err error, req TransactionRequest) Outcome {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return Rejected(verr.Reason)
	}
	return Failed(err.Error(), req)
}

// Reaction returns the acknowledgment symbol for the outcome.
func (o Outcome) Reaction() string {
	if o.Kind == OutcomeSuccess {
		return ReactionSuccess
	}
	return ReactionFailure
}

type Source string

const (
	SourceMatrix Source = "matrix"
	SourceAMQP   Source = "amqp"
)

// InboundEvent is a chat message as delivered by a messaging collaborator.
type InboundEvent struct {
	RoomID     string
	Sender     string
	Body       string
	EventID    string
	Source     Source
	ReceivedAt time.Time

	// OnSettled, when set, is called once the event has been handled (true)
	// or dropped without handling (false).
	OnSettled func(handled bool)
}

// Settle reports the event's fate to its source.
func (ev InboundEvent) Settle(handled bool) {
	if ev.OnSettled != nil {
		ev.OnSettled(handled)
	}
}
