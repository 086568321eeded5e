// Package api is the client of the external transactions and reports
// backend.
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"fintrack/internal/core"
	"fintrack/internal/log"
	"fintrack/internal/metrics"
)

// maxBody caps how much of a response is read.
const maxBody = 4 << 20

// Filter selects which transactions to list.
type Filter string

const (
	FilterAll     Filter = "all"
	FilterIncome  Filter = "income"
	FilterExpense Filter = "expense"
)

// ParseFilter maps a query parameter to a filter, defaulting to all.
func ParseFilter(s string) Filter {
	switch Filter(strings.ToLower(strings.TrimSpace(s))) {
	case FilterIncome:
		return FilterIncome
	case FilterExpense:
		return FilterExpense
	default:
		return FilterAll
	}
}

// Client calls the backend with the visitor's bearer token.
type Client struct {
	baseURL *url.URL
	http    *http.Client
	logger  *log.Logger
}

// New returns a client for baseURL with the given request timeout.
func New(baseURL string, timeout time.Duration, logger *log.Logger) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("parse API base URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("API base URL %q must be absolute", baseURL)
	}
	if logger == nil {
		logger = log.Discard()
	}
	return &Client{
		baseURL: u,
		http:    &http.Client{Timeout: timeout},
		logger:  logger.WithComponent(log.ComponentAPI),
	}, nil
}

// CreateTransaction posts a new record and returns it as stored.
func (c *Client) CreateTransaction(ctx context.Context, token string, in core.TransactionInput) (core.Transaction, error) {
	var out core.Transaction
	err := c.do(ctx, token, "create_transaction", http.MethodPost, "/transactions", nil, in, &out)
	return out, err
}

// ListTransactions returns the records matching filter.
func (c *Client) ListTransactions(ctx context.Context, token string, filter Filter) ([]core.Transaction, error) {
	if filter == "" {
		filter = FilterAll
	}
	out := []core.Transaction{}
	q := url.Values{"type": {string(filter)}}
	if err := c.do(ctx, token, "list_transactions", http.MethodGet, "/transactions", q, nil, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// GetTransaction fetches one record.
func (c *Client) GetTransaction(ctx context.Context, token, id string) (core.Transaction, error) {
	var out core.Transaction
	err := c.do(ctx, token, "get_transaction", http.MethodGet, "/transactions/"+url.PathEscape(id), nil, nil, &out)
	return out, err
}

// UpdateTransaction applies a partial update and returns the new record.
func (c *Client) UpdateTransaction(ctx context.Context, token, id string, patch core.TransactionPatch) (core.Transaction, error) {
	var out core.Transaction
	err := c.do(ctx, token, "update_transaction", http.MethodPatch, "/transactions/"+url.PathEscape(id), nil, patch, &out)
	return out, err
}

// DeleteTransaction removes a record.
func (c *Client) DeleteTransaction(ctx context.Context, token, id string) error {
	return c.do(ctx, token, "delete_transaction", http.MethodDelete, "/transactions/"+url.PathEscape(id), nil, nil, nil)
}

// GetReports returns the aggregate summary.
func (c *Client) GetReports(ctx context.Context, token string) (core.ReportSummary, error) {
	var out core.ReportSummary
	err := c.do(ctx, token, "get_reports", http.MethodGet, "/reports", nil, nil, &out)
	return out, err
}

// Ping checks that the backend answers at all, for readiness.
func (c *Client) Ping(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.baseURL.String()+"/", nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return &core.NetworkError{Op: "ping", Err: err}
	}
	resp.Body.Close()
	return nil
}

func (c *Client) do(ctx context.Context, token, op, method, path string, query url.Values, body, out any) (err error) {
	if token == "" {
		return core.NewAuthError(core.AuthTokenMissing, nil)
	}

	start := time.Now()
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = errorKind(err)
		}
		metrics.ObserveBackend(op, outcome, time.Since(start))
	}()

	// path arrives escaped; keep RawPath so ids with reserved characters
	// survive.
	u := *c.baseURL
	u.RawPath = c.baseURL.EscapedPath() + path
	if u.Path, err = url.PathUnescape(u.RawPath); err != nil {
		return fmt.Errorf("build %s path: %w", op, err)
	}
	u.RawQuery = query.Encode()

	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("encode %s body: %w", op, err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		c.logger.WarnContext(ctx, "Backend unreachable", log.FieldBackendCall, op, log.FieldError, err.Error())
		return &core.NetworkError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return &core.NetworkError{Op: op, Err: err}
	}

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return core.NewAuthError(core.AuthTokenExpired, fmt.Errorf("%s: status %d", op, resp.StatusCode))
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		c.logger.WarnContext(ctx, "Backend returned an error", log.FieldBackendCall, op, log.FieldStatusCode, resp.StatusCode)
		return &core.ServerError{Status: resp.StatusCode, Message: errorMessage(raw)}
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(unwrap(raw), out); err != nil {
		c.logger.WarnContext(ctx, "Backend response not decodable", log.FieldBackendCall, op, log.FieldError, err.Error())
		return &core.ServerError{Status: resp.StatusCode, Message: "invalid response"}
	}
	return nil
}

// unwrap returns the payload inside a {"data": ...} envelope, or raw when
// the response is not enveloped.
func unwrap(raw []byte) []byte {
	var env map[string]json.RawMessage
	if err := json.Unmarshal(raw, &env); err != nil {
		return raw
	}
	if data, ok := env["data"]; ok {
		return data
	}
	return raw
}

func errorMessage(raw []byte) string {
	var body struct {
		Message string `json:"message"`
		Error   any    `json:"error"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return ""
	}
	if body.Message != "" {
		return body.Message
	}
	if s, ok := body.Error.(string); ok {
		return s
	}
	return ""
}

func errorKind(err error) string {
	var (
		ne *core.NetworkError
		se *core.ServerError
	)
	switch {
	case core.IsAuth(err):
		return "auth"
	case errors.As(err, &ne):
		return "network"
	case errors.As(err, &se):
		return "server"
	default:
		return "other"
	}
}
