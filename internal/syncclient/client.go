// Package syncclient is an HTTP client for a PostgREST-compatible backend
// (Supabase and the like). It implements the remote store used by the sync
// orchestrator: batched upsert keyed on id.
package syncclient

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

	"github.com/marcus/cardsync/internal/models"
)

// Sentinel errors for common HTTP error classes.
var (
	ErrUnauthorized  = errors.New("unauthorized")
	ErrForbidden     = errors.New("forbidden")
	ErrNotFound      = errors.New("not found")
	ErrBatchTooLarge = errors.New("batch too large")
)

// DefaultMaxBatch is the largest batch sent in one request.
const DefaultMaxBatch = 1000

// Client is an HTTP client for the PostgREST endpoint.
type Client struct {
	BaseURL  string
	APIKey   string
	MaxBatch int
	HTTP     *http.Client
}

// New creates a new client. Redirects are not followed; a 3xx answer is an
// error like any other non-2xx status.
func New(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL:  strings.TrimRight(baseURL, "/"),
		APIKey:   apiKey,
		MaxBatch: DefaultMaxBatch,
		HTTP: &http.Client{
			Timeout: 30 * time.Second,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
	}
}

// Upsert writes records to table in one request, replacing rows that share
// the conflict key. The request succeeds or fails as a whole.
func (c *Client) Upsert(ctx context.Context, table models.Table, records []models.RemoteRecord, opts models.UpsertOptions) error {
	if !table.Valid() {
		return fmt.Errorf("upsert: unknown table %q", table)
	}
	if len(records) == 0 {
		return nil
	}
	if c.MaxBatch > 0 && len(records) > c.MaxBatch {
		return fmt.Errorf("%w: %d records, limit %d", ErrBatchTooLarge, len(records), c.MaxBatch)
	}
	onConflict := opts.OnConflict
	if onConflict == "" {
		onConflict = models.ConflictKey
	}

	path := "/rest/v1/" + url.PathEscape(string(table)) + "?on_conflict=" + url.QueryEscape(onConflict)
	header := http.Header{}
	header.Set("Prefer", "resolution=merge-duplicates,return=minimal")
	return c.do(ctx, http.MethodPost, path, header, records, nil)
}

// HealthCheck verifies the REST root answers with the configured key.
func (c *Client) HealthCheck(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/rest/v1/", nil, nil, nil)
}

// --- HTTP helpers ---

// APIError is the PostgREST error body plus the HTTP status.
type APIError struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details"`
	Hint    string `json:"hint"`
}

func (e *APIError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "HTTP %d", e.Status)
	if e.Code != "" {
		b.WriteString(" " + e.Code)
	}
	if e.Message != "" {
		b.WriteString(": " + e.Message)
	}
	if e.Details != "" {
		b.WriteString(" (" + e.Details + ")")
	}
	return b.String()
}

// Unwrap maps auth and routing statuses to the package sentinels.
func (e *APIError) Unwrap() error {
	switch e.Status {
	case http.StatusUnauthorized:
		return ErrUnauthorized
	case http.StatusForbidden:
		return ErrForbidden
	case http.StatusNotFound:
		return ErrNotFound
	}
	return nil
}

// Temporary reports whether a retry might succeed.
func (e *APIError) Temporary() bool {
	return e.Status == http.StatusTooManyRequests || e.Status >= 500
}

func (c *Client) do(ctx context.Context, method, path string, header http.Header, body, result any) error {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	for k, v := range header {
		req.Header[k] = v
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("apikey", c.APIKey)
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	// Only 2xx is success; redirects and 1xx/304 answers carry no write.
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		apiErr := &APIError{Status: resp.StatusCode}
		if json.Unmarshal(respBody, apiErr) != nil || (apiErr.Code == "" && apiErr.Message == "") {
			apiErr.Message = strings.TrimSpace(string(respBody))
		}
		return apiErr
	}

	if result != nil && len(respBody) > 0 {
		if err := json.Unmarshal(respBody, result); err != nil {
			return fmt.Errorf("unmarshal response: %w", err)
		}
	}
	return nil
}
