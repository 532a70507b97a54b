package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/flowsend/flowsend/internal/logger"
	"github.com/flowsend/flowsend/internal/metrics"
)

const (
	DefaultBaseURL = "https://api.drip.re/api/v4"

	requestTimeout          = 10 * time.Second
	defaultBatchConcurrency = 8
)

// Error is the normalized remote-call failure: status code plus the
// remote (or transport) message. Both the read and the write paths use
// it, the write path additionally tags it into an Outcome instead of
// returning it.
type Error struct {
	Status  int
	Message string
}

func (e *Error) Error() string {
	return fmt.Sprintf("ledger: %s (status %d)", e.Message, e.Status)
}

// Config of the external points ledger. All fields except BaseURL are
// required: the bot is useless without them, so a missing one fails
// startup.
type Config struct {
	APIKey   string
	RealmID  string
	PointsID string
	BaseURL  string
}

type Client struct {
	cfg    Config
	client *http.Client
	logger logger.Logger

	// Concurrency cap for batch fan-out
	batchConcurrency int
}

func NewClient(cfg Config, l logger.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("ledger: API key is required")
	}
	if cfg.RealmID == "" {
		return nil, errors.New("ledger: realm id is required")
	}
	if cfg.PointsID == "" {
		return nil, errors.New("ledger: points id is required")
	}

	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	if l == nil {
		l = logger.NewNoOpLogger()
	}

	return &Client{
		cfg:              cfg,
		client:           &http.Client{Timeout: requestTimeout},
		logger:           l,
		batchConcurrency: defaultBatchConcurrency,
	}, nil
}

// GetBalance returns the authoritative point balance for the user.
// Fails if the call errors or the configured points id is absent from
// the member's balances.
func (c *Client) GetBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	var zero decimal.Decimal

	if userID == "" {
		return zero, errors.New("ledger: userID is required")
	}

	url := fmt.Sprintf("%s/realms/%s/members/%s", c.cfg.BaseURL, c.cfg.RealmID, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return zero, fmt.Errorf("ledger: failed to create request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		metrics.LedgerRequestsTotal.WithLabelValues("get_balance", "error").Inc()
		return zero, &Error{Status: 0, Message: err.Error()}
	}
	defer resp.Body.Close() // nolint:errcheck

	if resp.StatusCode != http.StatusOK {
		metrics.LedgerRequestsTotal.WithLabelValues("get_balance", "error").Inc()
		return zero, remoteError(resp)
	}

	var member struct {
		Balances map[string]decimal.Decimal `json:"balances"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&member); err != nil {
		metrics.LedgerRequestsTotal.WithLabelValues("get_balance", "error").Inc()
		return zero, fmt.Errorf("ledger: failed to decode response: %w", err)
	}

	balance, ok := member.Balances[c.cfg.PointsID]
	if !ok {
		metrics.LedgerRequestsTotal.WithLabelValues("get_balance", "error").Inc()
		return zero, &Error{
			Status:  resp.StatusCode,
			Message: fmt.Sprintf("points id %q not present in member balances", c.cfg.PointsID),
		}
	}

	metrics.LedgerRequestsTotal.WithLabelValues("get_balance", "ok").Inc()
	return balance, nil
}

// Outcome is the tagged result of a single balance update. UpdateBalance
// never returns an error, callers must check Success.
type Outcome struct {
	UserID  string
	Success bool
	Status  int
	Message string
}

// UpdateBalance applies a signed token delta to the user's external
// balance.
func (c *Client) UpdateBalance(ctx context.Context, userID string, tokens int64) Outcome {
	if userID == "" {
		return Outcome{UserID: userID, Success: false, Status: 0, Message: "userID is required"}
	}

	body, err := json.Marshal(map[string]any{
		"realmPointId": c.cfg.PointsID,
		"tokens":       tokens,
	})
	if err != nil {
		return Outcome{UserID: userID, Success: false, Status: 0, Message: err.Error()}
	}

	url := fmt.Sprintf("%s/realms/%s/members/%s/tokenBalance", c.cfg.BaseURL, c.cfg.RealmID, userID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, url, bytes.NewReader(body))
	if err != nil {
		return Outcome{UserID: userID, Success: false, Status: 0, Message: err.Error()}
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		metrics.LedgerRequestsTotal.WithLabelValues("update_balance", "error").Inc()
		return Outcome{UserID: userID, Success: false, Status: 0, Message: err.Error()}
	}
	defer resp.Body.Close() // nolint:errcheck

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.LedgerRequestsTotal.WithLabelValues("update_balance", "error").Inc()
		rerr := remoteError(resp)
		c.logger.Warn("Ledger update failed", "user_id", userID, "status", rerr.Status, "message", rerr.Message)
		return Outcome{UserID: userID, Success: false, Status: rerr.Status, Message: rerr.Message}
	}

	metrics.LedgerRequestsTotal.WithLabelValues("update_balance", "ok").Inc()
	return Outcome{UserID: userID, Success: true, Status: resp.StatusCode}
}

// Entry is a single batch update: signed token delta per user.
type Entry struct {
	UserID string
	Amount int64
}

// BatchReport aggregates per-entry outcomes of a batch update. There is
// no atomicity across entries and no rollback of succeeded ones; the
// report makes partial failure explicit instead of swallowing it.
type BatchReport struct {
	Outcomes  []Outcome
	Succeeded int
	Failed    int
}

func (r BatchReport) AllSucceeded() bool {
	return r.Failed == 0
}

// FailedOutcomes returns only the failed entries, for rendering.
func (r BatchReport) FailedOutcomes() []Outcome {
	var failed []Outcome
	for _, o := range r.Outcomes {
		if !o.Success {
			failed = append(failed, o)
		}
	}
	return failed
}

// BatchUpdateBalance applies one update per entry with a bounded number
// of concurrent calls. The error return covers input validation only,
// remote failures land in the report.
func (c *Client) BatchUpdateBalance(ctx context.Context, entries []Entry) (BatchReport, error) {
	if len(entries) == 0 {
		return BatchReport{}, errors.New("ledger: entries must be a non-empty list")
	}
	for i, e := range entries {
		if e.UserID == "" {
			return BatchReport{}, fmt.Errorf("ledger: invalid entry at index %d: userID is required", i)
		}
	}

	outcomes := make([]Outcome, len(entries))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.batchConcurrency)
	for i, entry := range entries {
		g.Go(func() error {
			outcomes[i] = c.UpdateBalance(gctx, entry.UserID, entry.Amount)
			return nil
		})
	}
	_ = g.Wait() // workers never return errors, outcomes carry them

	report := BatchReport{Outcomes: outcomes}
	for _, o := range outcomes {
		if o.Success {
			report.Succeeded++
		} else {
			report.Failed++
		}
	}

	c.logger.Info("Ledger batch update done",
		"entries", len(entries),
		"succeeded", report.Succeeded,
		"failed", report.Failed,
	)
	return report, nil
}

func (c *Client) setHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
}

// remoteError normalizes a non-2xx response to status plus message.
// Prefers the "message" field of a JSON error body, falls back to the
// raw body.
func remoteError(resp *http.Response) *Error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))

	var body struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &body); err == nil && body.Message != "" {
		return &Error{Status: resp.StatusCode, Message: body.Message}
	}

	msg := strings.TrimSpace(string(raw))
	if msg == "" {
		msg = resp.Status
	}
	return &Error{Status: resp.StatusCode, Message: msg}
}
