package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/dotops/presence/internal/attendance"
)

// Client submits attendance entries to the remote attendance API.
//
// The endpoint contract: POST {base}/attendance/{action} is idempotent
// on the entry id. A repeated id yields a success (or an explicit
// duplicate success), never a second record, so retrying after an
// ambiguous failure is always safe.
type Client struct {
	baseURL string
	http    *http.Client
	token   string
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client. Tests use this
// to point at an httptest server with a short timeout.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		c.http = h
	}
}

// WithToken sets the bearer token attached to every request. Token
// acquisition and refresh belong to the auth layer; the client treats
// it as an opaque string.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = token
	}
}

// NewClient creates a client for the given base URL.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// submission is the wire body of one attendance event.
type submission struct {
	ID        string              `json:"id"`
	UserID    string              `json:"user_id"`
	Timestamp time.Time           `json:"timestamp"`
	Method    string              `json:"method"`
	Location  *submissionLocation `json:"location,omitempty"`
	QRPayload string              `json:"qr_payload,omitempty"`
	Notes     string              `json:"notes,omitempty"`
}

type submissionLocation struct {
	Name      string   `json:"name,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

// Submit posts one entry. A nil return is an acknowledgment: the server
// recorded the entry or already had it (duplicate ids are success by
// contract). Every non-nil error is a *Error classified as transient or
// permanent for the sync engine's retry decision.
func (c *Client) Submit(ctx context.Context, e attendance.QueueEntry) error {
	body := submission{
		ID:        e.ID,
		UserID:    e.UserID,
		Timestamp: e.Timestamp,
		Method:    string(e.Method),
		QRPayload: e.QRPayload,
		Notes:     e.Notes,
	}
	if e.LocationName != "" || e.HasCoordinates() {
		body.Location = &submissionLocation{
			Name:      e.LocationName,
			Latitude:  e.Latitude,
			Longitude: e.Longitude,
		}
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return &Error{Kind: KindPermanent, Message: fmt.Sprintf("encode entry %s: %v", e.ID, err)}
	}

	url := fmt.Sprintf("%s/attendance/%s", c.baseURL, e.Action)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return &Error{Kind: KindPermanent, Message: fmt.Sprintf("build request: %v", err)}
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		// Network failure, timeout, or cancelled context: all
		// retriable. The idempotency key makes resubmission safe even
		// if the server received the first attempt.
		return &Error{Kind: KindTransient, Message: fmt.Sprintf("submit entry %s: %v", e.ID, err)}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return nil
	}

	// Read a short diagnostic excerpt; the body is untrusted input.
	excerpt, _ := io.ReadAll(io.LimitReader(resp.Body, 256))

	return &Error{
		Kind:       classifyStatus(resp.StatusCode),
		StatusCode: resp.StatusCode,
		Message:    fmt.Sprintf("submit entry %s: HTTP %d: %s", e.ID, resp.StatusCode, bytes.TrimSpace(excerpt)),
	}
}

// classifyStatus maps an HTTP status to an error kind.
//
// 5xx and the throttling/timeout statuses are transient. Every other
// 4xx is a validation rejection - including 409, which means a
// conflicting record exists under a different id - and retrying it
// would only repeat the rejection.
func classifyStatus(status int) ErrorKind {
	switch {
	case status >= 500:
		return KindTransient
	case status == http.StatusRequestTimeout, status == http.StatusTooManyRequests:
		return KindTransient
	default:
		return KindPermanent
	}
}
