package amqp

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"spendbot/internal/core"
)

// CommandMessage is a chat message delivered through the command queue
// instead of the Matrix sync loop.
type CommandMessage struct {
	RoomID    string    `json:"room_id"`
	Sender    string    `json:"sender"`
	Body      string    `json:"body"`
	EventID   string    `json:"event_id,omitempty"`
	Timestamp time.Time `json:"timestamp,omitempty"`
}

// CommandMessageFromJSON decodes and validates a command message.
func CommandMessageFromJSON(data []byte) (*CommandMessage, error) {
	var msg CommandMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if strings.TrimSpace(msg.RoomID) == "" {
		return nil, errors.New("room_id is required")
	}
	if msg.Sender == "" {
		return nil, errors.New("sender is required")
	}
	return &msg, nil
}

func (m *CommandMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// ToEvent converts the message, assigning a fresh event id when the producer
// did not send one.
func (m *CommandMessage) ToEvent(now time.Time) core.InboundEvent {
	eventID := m.EventID
	if eventID == "" {
		eventID = "amqp-" + uuid.NewString()
	}
	received := m.Timestamp
	if received.IsZero() {
		received = now
	}
	return core.InboundEvent{
		RoomID:     m.RoomID,
		Sender:     m.Sender,
		Body:       m.Body,
		EventID:    eventID,
		Source:     core.SourceAMQP,
		ReceivedAt: received,
	}
}

// ReactionMessage is the acknowledgment for a command received over AMQP.
type ReactionMessage struct {
	RoomID    string    `json:"room_id"`
	EventID   string    `json:"event_id"`
	Reaction  string    `json:"reaction"`
	Timestamp time.Time `json:"timestamp"`
}

func NewReactionMessage(roomID, eventID, reaction string) *ReactionMessage {
	return &ReactionMessage{
		RoomID:    roomID,
		EventID:   eventID,
		Reaction:  reaction,
		Timestamp: time.Now(),
	}
}

func (m *ReactionMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// OutcomeEvent announces the result of one handled command.
type OutcomeEvent struct {
	ID          string    `json:"id"`
	EventID     string    `json:"event_id"`
	RoomID      string    `json:"room_id"`
	Sender      string    `json:"sender"`
	Source      string    `json:"source"`
	Outcome     string    `json:"outcome"`
	Reason      string    `json:"reason,omitempty"`
	Amount      string    `json:"amount,omitempty"`
	Description string    `json:"description,omitempty"`
	Note        string    `json:"note,omitempty"`
	Timestamp   time.Time `json:"timestamp"`
}

func NewOutcomeEvent(ev core.InboundEvent, outcome core.Outcome, now time.Time) *OutcomeEvent {
	msg := &OutcomeEvent{
		ID:        uuid.NewString(),
		EventID:   ev.EventID,
		RoomID:    ev.RoomID,
		Sender:    ev.Sender,
		Source:    string(ev.Source),
		Outcome:   outcome.Kind.String(),
		Reason:    outcome.Reason,
		Timestamp: now.UTC(),
	}
	if req := outcome.Request; !req.IsZero() {
		msg.Amount = req.Amount().String()
		msg.Description = req.Description()
		msg.Note, _ = req.Note()
	}
	return msg
}

func (m *OutcomeEvent) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func OutcomeEventFromJSON(data []byte) (*OutcomeEvent, error) {
	var msg OutcomeEvent
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
