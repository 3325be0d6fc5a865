package core

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	// TransactionTypeWithdrawal is the only transaction kind produced by the parser.
	TransactionTypeWithdrawal = "withdrawal"

	DefaultSourceName = "Cash wallet"
	DefaultTag        = "matrix_bot"

	dateLayout = "2006-01-02"
)

type (
	Date struct {
		time.Time
	}

	// TransactionRequest is one parsed command. It has no exported fields so it
	// cannot change after NewTransactionRequest validated it.
	TransactionRequest struct {
		kind        string
		amount      decimal.Decimal
		description string
		date        Date
		sourceName  string
		tags        []string
		note        *string
	}

	// TransactionParams carries the raw inputs for NewTransactionRequest.
	TransactionParams struct {
		Amount      decimal.Decimal
		Description string
		Date        Date
		SourceName  string
		Tag         string
		Note        *string
	}
)

var (
	ErrInvalidAmount    = errors.New("invalid amount")
	ErrEmptyDescription = errors.New("empty description")
	ErrDescriptionDot   = errors.New("description contains a period")
	ErrEmptyNote        = errors.New("empty note")
	ErrEmptySourceName  = errors.New("empty source name")
	ErrEmptyTag         = errors.New("empty tag")
)

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// DateOf returns the calendar date of t in t's own location.
func DateOf(t time.Time) Date {
	return NewDate(t.Year(), int(t.Month()), t.Day())
}

func (d Date) Validate() error {
	if d.IsZero() {
		return errors.New("date cannot be zero")
	}
	return nil
}

// String formats the date as YYYY-MM-DD.
func (d Date) String() string {
	return d.Format(dateLayout)
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

// NewTransactionRequest builds a withdrawal and enforces its invariants:
// positive amount, non-empty description without periods, non-empty note when set.
func NewTransactionRequest(p TransactionParams) (TransactionRequest, error) {
	if !p.Amount.IsPositive() {
		return TransactionRequest{}, ErrInvalidAmount
	}
	desc := strings.TrimSpace(p.Description)
	if desc == "" {
		return TransactionRequest{}, ErrEmptyDescription
	}
	if strings.Contains(desc, ".") {
		return TransactionRequest{}, ErrDescriptionDot
	}
	if err := p.Date.Validate(); err != nil {
		return TransactionRequest{}, err
	}
	source := strings.TrimSpace(p.SourceName)
	if source == "" {
		return TransactionRequest{}, ErrEmptySourceName
	}
	tag := strings.TrimSpace(p.Tag)
	if tag == "" {
		return TransactionRequest{}, ErrEmptyTag
	}

	var note *string
	if p.Note != nil {
		n := strings.TrimSpace(*p.Note)
		if n == "" {
			return TransactionRequest{}, ErrEmptyNote
		}
		note = &n
	}

	return TransactionRequest{
		kind:        TransactionTypeWithdrawal,
		amount:      p.Amount,
		description: desc,
		date:        p.Date,
		sourceName:  source,
		tags:        []string{tag},
		note:        note,
	}, nil
}

func (r TransactionRequest) Type() string            { return r.kind }
func (r TransactionRequest) Amount() decimal.Decimal { return r.amount }
func (r TransactionRequest) Description() string     { return r.description }
func (r TransactionRequest) Date() Date              { return r.date }
func (r TransactionRequest) SourceName() string      { return r.sourceName }

// Tags returns a copy of the tag set.
func (r TransactionRequest) Tags() []string {
	return append([]string(nil), r.tags...)
}

// Note returns the note and whether one was given.
func (r TransactionRequest) Note() (string, bool) {
	if r.note == nil {
		return "", false
	}
	return *r.note, true
}

// IsZero reports whether r is the zero value, i.e. not produced by NewTransactionRequest.
func (r TransactionRequest) IsZero() bool {
	return r.kind == ""
}

// transactionJSON is the Firefly III split shape of a TransactionRequest.
type transactionJSON struct {
	Type        string   `json:"type"`
	Amount      string   `json:"amount"`
	Description string   `json:"description"`
	Date        Date     `json:"date"`
	SourceName  string   `json:"source_name"`
	Tags        []string `json:"tags"`
	Note        *string  `json:"note,omitempty"`
}

func (r TransactionRequest) MarshalJSON() ([]byte, error) {
	return json.Marshal(transactionJSON{
		Type:        r.kind,
		Amount:      r.amount.String(),
		Description: r.description,
		Date:        r.date,
		SourceName:  r.sourceName,
		Tags:        r.tags,
		Note:        r.note,
	})
}
