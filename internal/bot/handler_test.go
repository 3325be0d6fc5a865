package bot

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spendbot/internal/core"
	"spendbot/internal/firefly"
	"spendbot/internal/log"
	"spendbot/internal/parser"
)

const botID = "@spendbot:example.org"

type reaction struct {
	roomID, eventID, key string
}

type fakeReactor struct {
	mu        sync.Mutex
	reactions []reaction
	err       error
}

func (f *fakeReactor) React(ctx context.Context, roomID, eventID, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactions = append(f.reactions, reaction{roomID, eventID, key})
	return f.err
}

func (f *fakeReactor) all() []reaction {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]reaction(nil), f.reactions...)
}

type fakeSubmitter struct {
	mu    sync.Mutex
	calls []core.TransactionRequest
	ok    bool
	err   error
	panic bool
}

func (f *fakeSubmitter) Submit(ctx context.Context, req core.TransactionRequest) (bool, error) {
	f.mu.Lock()
	f.calls = append(f.calls, req)
	f.mu.Unlock()
	if f.panic {
		panic("boom")
	}
	return f.ok, f.err
}

type recordedOutcome struct {
	ev      core.InboundEvent
	outcome core.Outcome
}

type fakeRecorder struct {
	mu       sync.Mutex
	outcomes []recordedOutcome
}

func (f *fakeRecorder) Record(ctx context.Context, ev core.InboundEvent, outcome core.Outcome) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.outcomes = append(f.outcomes, recordedOutcome{ev, outcome})
}

type fakeObserver struct {
	mu        sync.Mutex
	commands  []string
	reactions []string
}

func (f *fakeObserver) ObserveCommand(outcome string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commands = append(f.commands, outcome)
}

func (f *fakeObserver) ObserveReaction(result string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reactions = append(f.reactions, result)
}

func testConfig() HandlerConfig {
	return HandlerConfig{Prefix: "$", Command: "spend", BotUserID: botID, ReactTimeout: time.Second}
}

func testParser() *parser.Parser {
	return parser.New(parser.WithClock(func() time.Time {
		return time.Date(2025, 3, 14, 12, 0, 0, 0, time.UTC)
	}))
}

func event(body string) core.InboundEvent {
	return core.InboundEvent{
		RoomID:  "!room:example.org",
		Sender:  "@alice:example.org",
		Body:    body,
		EventID: "$event1",
		Source:  core.SourceMatrix,
	}
}

func TestHandler_Success(t *testing.T) {
	reactor := &fakeReactor{}
	submitter := &fakeSubmitter{ok: true}
	recorder := &fakeRecorder{}
	observer := &fakeObserver{}
	h := NewHandler(testConfig(), testParser(), submitter, reactor, nil, WithRecorder(recorder), WithObserver(observer))

	state := h.Handle(context.Background(), event("$spend 12.50 on coffee."))

	assert.Equal(t, StateSubmitted, state)
	require.Len(t, submitter.calls, 1)
	assert.Equal(t, "12.5", submitter.calls[0].Amount().String())
	assert.Equal(t, "coffee", submitter.calls[0].Description())
	assert.Equal(t, []reaction{{"!room:example.org", "$event1", core.ReactionSuccess}}, reactor.all())
	require.Len(t, recorder.outcomes, 1)
	assert.Equal(t, core.OutcomeSuccess, recorder.outcomes[0].outcome.Kind)
	assert.Equal(t, []string{"success"}, observer.commands)
	assert.Equal(t, []string{"ok"}, observer.reactions)
}

func TestHandler_ParseFailure(t *testing.T) {
	reactor := &fakeReactor{}
	submitter := &fakeSubmitter{ok: true}
	recorder := &fakeRecorder{}
	h := NewHandler(testConfig(), testParser(), submitter, reactor, nil, WithRecorder(recorder))

	state := h.Handle(context.Background(), event("$spend not a valid command"))

	assert.Equal(t, StateParseFailed, state)
	assert.Empty(t, submitter.calls)
	assert.Equal(t, []reaction{{"!room:example.org", "$event1", core.ReactionFailure}}, reactor.all())
	require.Len(t, recorder.outcomes, 1)
	assert.Equal(t, core.OutcomeValidationError, recorder.outcomes[0].outcome.Kind)
	assert.Equal(t, parser.ReasonInvalidFormat, recorder.outcomes[0].outcome.Reason)
}

func TestHandler_SubmitFailures(t *testing.T) {
	cases := []struct {
		name      string
		submitter *fakeSubmitter
	}{
		{"rejected", &fakeSubmitter{ok: false}},
		{"error", &fakeSubmitter{ok: false, err: &core.SubmissionError{StatusCode: 500}}},
		{"transport", &fakeSubmitter{ok: false, err: &core.SubmissionError{Err: errors.New("connection refused")}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			reactor := &fakeReactor{}
			recorder := &fakeRecorder{}
			h := NewHandler(testConfig(), testParser(), tc.submitter, reactor, nil, WithRecorder(recorder))

			state := h.Handle(context.Background(), event("$spend 15 on lunch."))

			assert.Equal(t, StateSubmitFailed, state)
			assert.Len(t, tc.submitter.calls, 1)
			assert.Equal(t, []reaction{{"!room:example.org", "$event1", core.ReactionFailure}}, reactor.all())
			require.Len(t, recorder.outcomes, 1)
			assert.Equal(t, core.OutcomeSubmissionError, recorder.outcomes[0].outcome.Kind)
		})
	}
}

func TestHandler_IgnoresSelfAndNonCommands(t *testing.T) {
	bodies := []string{
		"hello there",
		"",
		"$spendx 12 on food.",
		"spend 12 on food.",
		"!spend 12 on food.",
		"12 on food. $spend",
	}

	reactor := &fakeReactor{}
	submitter := &fakeSubmitter{ok: true}
	h := NewHandler(testConfig(), testParser(), submitter, reactor, nil)

	for _, body := range bodies {
		assert.Equal(t, StateReceived, h.Handle(context.Background(), event(body)), body)
	}

	self := event("$spend 12 on food.")
	self.Sender = botID
	assert.Equal(t, StateReceived, h.Handle(context.Background(), self))

	assert.Empty(t, submitter.calls)
	assert.Empty(t, reactor.all())
}

func TestHandler_ReactionFailureIsContained(t *testing.T) {
	reactor := &fakeReactor{err: errors.New("homeserver unavailable")}
	observer := &fakeObserver{}
	h := NewHandler(testConfig(), testParser(), &fakeSubmitter{ok: true}, reactor, nil, WithObserver(observer))

	state := h.Handle(context.Background(), event("$spend 1 on gum."))

	assert.Equal(t, StateSubmitted, state)
	assert.Len(t, reactor.all(), 1)
	assert.Equal(t, []string{"error"}, observer.reactions)
}

func TestHandler_PanicIsRecoveredWithOneReaction(t *testing.T) {
	reactor := &fakeReactor{}
	h := NewHandler(testConfig(), testParser(), &fakeSubmitter{panic: true}, reactor, nil)

	var state State
	require.NotPanics(t, func() {
		state = h.Handle(context.Background(), event("$spend 1 on gum."))
	})
	assert.Equal(t, StateSubmitFailed, state)
	assert.Equal(t, []reaction{{"!room:example.org", "$event1", core.ReactionFailure}}, reactor.all())
}

type panickingRecorder struct{}

func (panickingRecorder) Record(ctx context.Context, ev core.InboundEvent, outcome core.Outcome) {
	panic("journal exploded")
}

func TestHandler_PanicAfterSubmitKeepsState(t *testing.T) {
	reactor := &fakeReactor{}
	submitter := &fakeSubmitter{ok: true}
	h := NewHandler(testConfig(), testParser(), submitter, reactor, nil, WithRecorder(panickingRecorder{}))

	var state State
	require.NotPanics(t, func() {
		state = h.Handle(context.Background(), event("$spend 3 on bread."))
	})

	assert.Equal(t, StateSubmitted, state)
	assert.Len(t, submitter.calls, 1)
	assert.Equal(t, []reaction{{"!room:example.org", "$event1", core.ReactionSuccess}}, reactor.all())
}

func TestHandler_PanicAfterParseFailureKeepsState(t *testing.T) {
	reactor := &fakeReactor{}
	h := NewHandler(testConfig(), testParser(), &fakeSubmitter{ok: true}, reactor, nil, WithRecorder(panickingRecorder{}))

	state := h.Handle(context.Background(), event("$spend nonsense"))

	assert.Equal(t, StateParseFailed, state)
	assert.Equal(t, []reaction{{"!room:example.org", "$event1", core.ReactionFailure}}, reactor.all())
}

type timeoutError struct{}

func (timeoutError) Error() string { return "i/o timeout" }
func (timeoutError) Timeout() bool { return true }

func TestSubmitErrorType(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"deadline", &core.SubmissionError{Err: context.DeadlineExceeded}, log.ErrorTypeTimeout},
		{"client timeout", &core.SubmissionError{Err: timeoutError{}}, log.ErrorTypeTimeout},
		{"status", &core.SubmissionError{StatusCode: 500}, log.ErrorTypeSubmission},
		{"refused", &core.SubmissionError{Err: errors.New("connection refused")}, log.ErrorTypeSubmission},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, submitErrorType(tt.err))
		})
	}
}

func TestState_Terminal(t *testing.T) {
	for _, s := range []State{StateParseFailed, StateSubmitted, StateSubmitFailed} {
		assert.True(t, s.Terminal(), s.String())
	}
	for _, s := range []State{StateReceived, StateParsing, StateSubmitting} {
		assert.False(t, s.Terminal(), s.String())
	}
}

func TestHandler_MatchNormalisesWhitespace(t *testing.T) {
	h := NewHandler(testConfig(), testParser(), &fakeSubmitter{}, &fakeReactor{}, nil)

	args, ok := h.Match("  $spend   15\ton\n lunch.  ")
	require.True(t, ok)
	assert.Equal(t, "15 on lunch.", args)

	args, ok = h.Match("$spend")
	require.True(t, ok)
	assert.Equal(t, "", args)
}

// End to end through the real parser and ledger client against a fake ledger.
func TestHandler_EndToEnd(t *testing.T) {
	cases := []struct {
		name     string
		status   int
		want     State
		reaction string
	}{
		{"ledger accepts", http.StatusOK, StateSubmitted, core.ReactionSuccess},
		{"ledger rejects", http.StatusInternalServerError, StateSubmitFailed, core.ReactionFailure},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			calls := 0
			ledger := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				calls++
				w.WriteHeader(tc.status)
			}))
			defer ledger.Close()

			reactor := &fakeReactor{}
			client := firefly.NewClient(ledger.URL, "token", nil, nil)
			h := NewHandler(testConfig(), testParser(), client, reactor, nil)

			state := h.Handle(context.Background(), event("$spend 15 on lunch. "))

			assert.Equal(t, tc.want, state)
			assert.Equal(t, 1, calls)
			assert.Equal(t, []reaction{{"!room:example.org", "$event1", tc.reaction}}, reactor.all())
		})
	}
}
