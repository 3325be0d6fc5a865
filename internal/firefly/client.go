package firefly

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"spendbot/internal/core"
	"spendbot/internal/log"
)

const (
	transactionsPath = "/api/v1/transactions"

	DefaultTimeout = 10 * time.Second

	maxResponseBody = 64 << 10
	maxDetailLen    = 512
)

// RequestObserver receives one observation per ledger call. status is the
// HTTP status code as text, or "error" for transport failures.
type RequestObserver interface {
	ObserveLedgerRequest(status string, elapsed time.Duration)
}

type Option func(*Client)

// WithObserver attaches a metrics sink.
func WithObserver(o RequestObserver) Option {
	return func(c *Client) { c.observer = o }
}

// Client submits transactions to a Firefly III instance.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
	logger     *log.Logger
	observer   RequestObserver
}

// NewClient creates a ledger client. A nil httpClient gets DefaultTimeout.
func NewClient(baseURL, token string, httpClient *http.Client, logger *log.Logger, opts ...Option) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: DefaultTimeout}
	}
	if logger == nil {
		logger = log.Discard()
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		token:      token,
		httpClient: httpClient,
		logger:     logger.WithComponent(log.ComponentLedger),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type createTransactionRequest struct {
	Transactions []core.TransactionRequest `json:"transactions"`
}

type createTransactionResponse struct {
	Data struct {
		ID string `json:"id"`
	} `json:"data"`
}

// Submit posts req as a single-split transaction. It returns true only for
// HTTP 200 and 201. Every other status and any transport failure returns
// false with a *core.SubmissionError. There are no retries.
func (c *Client) Submit(ctx context.Context, req core.TransactionRequest) (bool, error) {
	body, err := json.Marshal(createTransactionRequest{
		Transactions: []core.TransactionRequest{req},
	})
	if err != nil {
		return false, &core.SubmissionError{Err: fmt.Errorf("marshal request: %w", err)}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+transactionsPath, bytes.NewReader(body))
	if err != nil {
		return false, &core.SubmissionError{Err: fmt.Errorf("create request: %w", err)}
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.token)
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		c.observe("error", time.Since(start))
		c.logger.ErrorContext(ctx, "Ledger request failed",
			log.FieldOperation, log.OpSubmit,
			log.FieldError, err)
		return false, &core.SubmissionError{Err: err}
	}
	defer resp.Body.Close()
	c.observe(strconv.Itoa(resp.StatusCode), time.Since(start))

	respBody, readErr := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if readErr != nil {
		c.logger.WarnContext(ctx, "Failed to read ledger response body", log.FieldError, readErr)
	}

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated {
		detail := truncate(strings.TrimSpace(string(respBody)), maxDetailLen)
		c.logger.ErrorContext(ctx, "Failed to create transaction",
			log.FieldOperation, log.OpSubmit,
			log.FieldStatusCode, resp.StatusCode,
			"response", detail)
		return false, &core.SubmissionError{StatusCode: resp.StatusCode, Detail: detail}
	}

	var created createTransactionResponse
	if err := json.Unmarshal(respBody, &created); err != nil {
		c.logger.DebugContext(ctx, "Ledger response is not a transaction document", log.FieldError, err)
	}
	c.logger.InfoContext(ctx, "Transaction created successfully",
		log.FieldOperation, log.OpSubmit,
		log.FieldStatusCode, resp.StatusCode,
		log.FieldLedgerRef, created.Data.ID)

	return true, nil
}

func (c *Client) observe(status string, elapsed time.Duration) {
	if c.observer != nil {
		c.observer.ObserveLedgerRequest(status, elapsed)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return strings.ToValidUTF8(s[:n], "") + "..."
}
