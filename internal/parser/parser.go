// Package parser turns a spend command into a core.TransactionRequest.
//
// Grammar:
//
//	command       := amount-clause "." [ note-clause "." ]
//	amount-clause := AMOUNT WS+ ( "on" | "for" ) WS+ DESCRIPTION
//	AMOUNT        := DIGIT+ [ "." DIGIT+ ]
//	DESCRIPTION   := one or more characters excluding "."
//	note-clause   := ( "Note" | "note" ) ":" WS* NOTE_TEXT
//	NOTE_TEXT     := one or more characters excluding "."
//
// The amount clause is anchored at the start of the input and text after its
// period is ignored by it. The note clause is searched independently; by
// default the search covers the whole input, so a "note:" inside the
// description is picked up as the note. NoteScopeAfterAmount limits the
// search to text after the amount clause.
package parser

import (
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"spendbot/internal/core"
)

const (
	ReasonInvalidFormat      = "invalid format"
	ReasonNonPositiveAmount  = "amount must be positive"
	ReasonEmptyDescription   = "empty description"
	ReasonInvalidTransaction = "invalid transaction"
)

// Clock returns the current time. Parse stamps each request with its date.
type Clock func() time.Time

type NoteScope int

const (
	NoteScopeAnywhere NoteScope = iota
	NoteScopeAfterAmount
)

func (s NoteScope) String() string {
	switch s {
	case NoteScopeAnywhere:
		return "anywhere"
	case NoteScopeAfterAmount:
		return "after_amount"
	default:
		return fmt.Sprintf("NoteScope(%d)", int(s))
	}
}

// ParseNoteScope accepts "anywhere" (or empty) and "after_amount".
func ParseNoteScope(s string) (NoteScope, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "anywhere":
		return NoteScopeAnywhere, nil
	case "after_amount", "after-amount":
		return NoteScopeAfterAmount, nil
	default:
		return NoteScopeAnywhere, fmt.Errorf("unknown note scope %q", s)
	}
}

type Option func(*Parser)

func WithClock(c Clock) Option {
	return func(p *Parser) {
		if c != nil {
			p.clock = c
		}
	}
}

func WithNoteScope(s NoteScope) Option {
	return func(p *Parser) { p.scope = s }
}

func WithSourceName(name string) Option {
	return func(p *Parser) {
		if name != "" {
			p.sourceName = name
		}
	}
}

// WithTag sets the marker tag added to every transaction.
func WithTag(tag string) Option {
	return func(p *Parser) {
		if tag != "" {
			p.tag = tag
		}
	}
}

// Parser is safe for concurrent use; it holds only immutable settings.
type Parser struct {
	clock      Clock
	scope      NoteScope
	sourceName string
	tag        string
}

func New(opts ...Option) *Parser {
	p := &Parser{
		clock:      time.Now,
		scope:      NoteScopeAnywhere,
		sourceName: core.DefaultSourceName,
		tag:        core.DefaultTag,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse converts text into a withdrawal. Every failure is a *core.ValidationError
// and no partial result is returned.
func (p *Parser) Parse(text string) (core.TransactionRequest, error) {
	tokens := Tokenize(text)

	clause, ok := parseAmountClause(text, tokens)
	if !ok {
		return core.TransactionRequest{}, core.NewValidationError(ReasonInvalidFormat, nil)
	}

	amount, err := core.ParseAmount(clause.amount)
	if err != nil {
		return core.TransactionRequest{}, core.NewValidationError(ReasonNonPositiveAmount, err)
	}

	description := strings.TrimSpace(clause.description)
	if description == "" {
		return core.TransactionRequest{}, core.NewValidationError(ReasonEmptyDescription, core.ErrEmptyDescription)
	}

	from := 0
	if p.scope == NoteScopeAfterAmount {
		from = clause.end
	}

	req, err := core.NewTransactionRequest(core.TransactionParams{
		Amount:      amount,
		Description: description,
		Date:        core.DateOf(p.clock()),
		SourceName:  p.sourceName,
		Tag:         p.tag,
		Note:        findNote(text, tokens, from),
	})
	if err != nil {
		return core.TransactionRequest{}, core.NewValidationError(ReasonInvalidTransaction, err)
	}
	return req, nil
}

type amountClause struct {
	amount      string
	description string
	end         int // byte offset just past the terminating period
}

type cursor struct {
	tokens []Token
	pos    int
}

func (c *cursor) kindAt(offset int) (TokenKind, bool) {
	i := c.pos + offset
	if i >= len(c.tokens) {
		return 0, false
	}
	return c.tokens[i].Kind, true
}

func (c *cursor) accept(kind TokenKind) (Token, bool) {
	if k, ok := c.kindAt(0); !ok || k != kind {
		return Token{}, false
	}
	tok := c.tokens[c.pos]
	c.pos++
	return tok, true
}

func parseAmountClause(text string, tokens []Token) (amountClause, bool) {
	c := &cursor{tokens: tokens}

	num, ok := c.accept(TokenNumber)
	if !ok {
		return amountClause{}, false
	}
	end := num.End
	if k0, ok0 := c.kindAt(0); ok0 && k0 == TokenPeriod {
		if k1, ok1 := c.kindAt(1); ok1 && k1 == TokenNumber {
			end = c.tokens[c.pos+1].End
			c.pos += 2
		}
	}
	amount := text[num.Start:end]

	if _, ok := c.accept(TokenSpace); !ok {
		return amountClause{}, false
	}
	kw, ok := c.accept(TokenWord)
	if !ok || (kw.Text != "on" && kw.Text != "for") {
		return amountClause{}, false
	}
	sep, ok := c.accept(TokenSpace)
	if !ok {
		return amountClause{}, false
	}

	for _, tok := range tokens[c.pos:] {
		if tok.Kind != TokenPeriod {
			continue
		}
		raw := text[sep.End:tok.Start]
		// The separator and the description share the white space run: at least
		// one rune must be left over for the description itself.
		if raw == "" && utf8.RuneCountInString(sep.Text) < 2 {
			return amountClause{}, false
		}
		return amountClause{amount: amount, description: raw, end: tok.End}, true
	}
	return amountClause{}, false
}

// findNote returns the first note clause starting at or after byte offset from.
// An occurrence with nothing between the colon and the next period does not
// match and the search moves on; a whitespace-only note counts as absent.
func findNote(text string, tokens []Token, from int) *string {
	for i := 0; i+1 < len(tokens); i++ {
		tok := tokens[i]
		if tok.Start < from || tok.Kind != TokenWord || tokens[i+1].Kind != TokenColon {
			continue
		}
		if !strings.HasSuffix(tok.Text, "note") && !strings.HasSuffix(tok.Text, "Note") {
			continue
		}

		colon := tokens[i+1]
		period := -1
		for j := i + 2; j < len(tokens); j++ {
			if tokens[j].Kind == TokenPeriod {
				period = tokens[j].Start
				break
			}
		}
		if period < 0 {
			return nil
		}
		span := text[colon.End:period]
		if span == "" {
			continue
		}
		note := strings.TrimSpace(span)
		if note == "" {
			return nil
		}
		return &note
	}
	return nil
}
