package firefly

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"spendbot/internal/core"
)

func testRequest(t *testing.T) core.TransactionRequest {
	t.Helper()
	note := "march payment"
	req, err := core.NewTransactionRequest(core.TransactionParams{
		Amount:      decimal.RequireFromString("20"),
		Description: "rent",
		Date:        core.NewDate(2025, 3, 14),
		SourceName:  core.DefaultSourceName,
		Tag:         core.DefaultTag,
		Note:        &note,
	})
	require.NoError(t, err)
	return req
}

type recordingObserver struct {
	mu       sync.Mutex
	statuses []string
}

func (o *recordingObserver) ObserveLedgerRequest(status string, _ time.Duration) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statuses = append(o.statuses, status)
}

func TestSubmit_SendsSpecifiedRequest(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/api/v1/transactions", r.URL.Path)
		assert.Equal(t, "Bearer secret-token", r.Header.Get("Authorization"))
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		assert.Equal(t, "application/json", r.Header.Get("Accept"))

		var body struct {
			Transactions []map[string]any `json:"transactions"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Transactions, 1)

		tx := body.Transactions[0]
		assert.Equal(t, "withdrawal", tx["type"])
		assert.Equal(t, "20", tx["amount"])
		assert.Equal(t, "rent", tx["description"])
		assert.Equal(t, "2025-03-14", tx["date"])
		assert.Equal(t, "Cash wallet", tx["source_name"])
		assert.Equal(t, []any{"matrix_bot"}, tx["tags"])
		assert.Equal(t, "march payment", tx["note"])

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"data":{"type":"transactions","id":"42"}}`))
	}))
	defer server.Close()

	client := NewClient(server.URL+"/", "secret-token", nil, nil)
	ok, err := client.Submit(context.Background(), testRequest(t))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 1, calls)
}

func TestSubmit_StatusCodes(t *testing.T) {
	cases := []struct {
		status int
		ok     bool
	}{
		{http.StatusOK, true},
		{http.StatusCreated, true},
		{http.StatusAccepted, false},
		{http.StatusNoContent, false},
		{http.StatusUnauthorized, false},
		{http.StatusUnprocessableEntity, false},
		{http.StatusInternalServerError, false},
	}

	for _, tc := range cases {
		t.Run(http.StatusText(tc.status), func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tc.status)
				_, _ = w.Write([]byte(`{"message":"nope"}`))
			}))
			defer server.Close()

			observer := &recordingObserver{}
			client := NewClient(server.URL, "t", nil, nil, WithObserver(observer))
			ok, err := client.Submit(context.Background(), testRequest(t))

			assert.Equal(t, tc.ok, ok)
			require.Len(t, observer.statuses, 1)
			if tc.ok {
				assert.NoError(t, err)
				return
			}
			var serr *core.SubmissionError
			require.True(t, errors.As(err, &serr), "expected SubmissionError, got %v", err)
			assert.Equal(t, tc.status, serr.StatusCode)
		})
	}
}

func TestSubmit_ErrorDetailIsKept(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"The given data was invalid."}`))
	}))
	defer server.Close()

	ok, err := NewClient(server.URL, "t", nil, nil).Submit(context.Background(), testRequest(t))
	assert.False(t, ok)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
	assert.Contains(t, err.Error(), "The given data was invalid.")
}

func TestSubmit_TransportFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	observer := &recordingObserver{}
	ok, err := NewClient(url, "t", nil, nil, WithObserver(observer)).Submit(context.Background(), testRequest(t))
	assert.False(t, ok)

	var serr *core.SubmissionError
	require.True(t, errors.As(err, &serr))
	assert.Zero(t, serr.StatusCode)
	assert.Error(t, serr.Err)
	assert.Equal(t, []string{"error"}, observer.statuses)
}

func TestSubmit_Timeout(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	client := NewClient(server.URL, "t", &http.Client{Timeout: 50 * time.Millisecond}, nil)
	start := time.Now()
	ok, err := client.Submit(context.Background(), testRequest(t))

	assert.False(t, ok)
	assert.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)
}

func TestSubmit_ContextDeadline(t *testing.T) {
	release := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer server.Close()
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	ok, err := NewClient(server.URL, "t", nil, nil).Submit(ctx, testRequest(t))
	assert.False(t, ok)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
