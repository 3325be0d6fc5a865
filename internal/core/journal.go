package core

import "time"

// JournalEntry is one handled command as persisted in the audit journal.
type JournalEntry struct {
	ID          int64
	EventID     string
	RoomID      string
	Sender      string
	Source      Source
	Command     string
	Outcome     string
	Reason      string
	Amount      string
	Description string
	Note        string
	CreatedAt   time.Time
}

// NewJournalEntry flattens an event and its outcome. Transaction fields stay
// empty when parsing failed.
func NewJournalEntry(ev InboundEvent, outcome Outcome, now time.Time) JournalEntry {
	entry := JournalEntry{
		EventID:   ev.EventID,
		RoomID:    ev.RoomID,
		Sender:    ev.Sender,
		Source:    ev.Source,
		Command:   ev.Body,
		Outcome:   outcome.Kind.String(),
		Reason:    outcome.Reason,
		CreatedAt: now.UTC(),
	}
	if req := outcome.Request; !req.IsZero() {
		entry.Amount = req.Amount().String()
		entry.Description = req.Description()
		entry.Note, _ = req.Note()
	}
	return entry
}
