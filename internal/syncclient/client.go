// Package syncclient delivers keystone batches to the roster backend.
package syncclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/guildkeys/keysync/internal/logging"
	"github.com/guildkeys/keysync/internal/schema"
	"github.com/guildkeys/keysync/internal/synclog"
)

// SyncPath is the backend route receiving addon batches.
const SyncPath = "/api/mythic/sync-addon"

// BatchHeader carries the batch id so client and server logs can be matched.
const BatchHeader = "X-Sync-Batch"

// Request is the JSON body of a sync call.
type Request struct {
	Keys []schema.Keystone `json:"keys"`
}

// Ack is the backend's acknowledgement of a batch.
type Ack struct {
	OK       bool   `json:"ok"`
	Received int    `json:"received"`
	Upserted int    `json:"upserted"`
	Message  string `json:"message,omitempty"`
}

// Options configures a Client.
type Options struct {
	// BaseURLs are candidate backends in order of preference.
	BaseURLs []string
	// Token is sent as a bearer token when set.
	Token string
	// HTTPClient defaults to a client with a 30s timeout.
	HTTPClient *http.Client
	// Log receives one line per outcome. Optional.
	Log *synclog.Log
	// Logger for diagnostics. Optional.
	Logger *zap.Logger
}

// Client sends keystone batches. It is safe for concurrent use: watchers for
// different files may send at the same time.
type Client struct {
	baseURLs   []string
	token      string
	httpClient *http.Client
	log        *synclog.Log
	logger     *zap.Logger

	active atomic.Int64
}

// New creates a new sync client.
func New(opts Options) (*Client, error) {
	if len(opts.BaseURLs) == 0 {
		return nil, fmt.Errorf("at least one backend URL is required")
	}

	bases := make([]string, 0, len(opts.BaseURLs))
	for _, raw := range opts.BaseURLs {
		u, err := url.Parse(strings.TrimSpace(raw))
		if err != nil {
			return nil, fmt.Errorf("invalid backend URL %q: %w", raw, err)
		}
		if (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return nil, fmt.Errorf("invalid backend URL %q: want http(s)://host", raw)
		}
		bases = append(bases, strings.TrimRight(u.String(), "/"))
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &Client{
		baseURLs:   bases,
		token:      opts.Token,
		httpClient: httpClient,
		log:        opts.Log,
		logger:     logging.OrNop(opts.Logger),
	}, nil
}

// Endpoint returns the URL the next Send will post to.
func (c *Client) Endpoint() string {
	return c.baseURLs[c.active.Load()] + SyncPath
}

// Send posts one batch. It makes exactly one HTTP request and does not
// retry: the file on disk stays the source of truth and the next change
// triggers another send. A transport failure moves the client to the next
// candidate backend for subsequent sends.
//
// Any non-2xx status or transport failure is returned as *SyncError.
func (c *Client) Send(ctx context.Context, records []schema.Keystone) (*Ack, error) {
	if records == nil {
		records = []schema.Keystone{}
	}

	idx := c.active.Load()
	endpoint := c.baseURLs[idx] + SyncPath
	batch := uuid.NewString()
	fields := []zap.Field{
		zap.String("batch", batch),
		zap.String("endpoint", endpoint),
		zap.Int("records", len(records)),
		zap.String("payload", Summarize(records)),
	}

	start := time.Now()
	ack, err := c.post(ctx, endpoint, batch, records)
	sendDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		outcome := outcomeHTTPError
		if err.Transport() {
			outcome = outcomeTransportError
			c.failover(idx)
		}
		sendCounter.WithLabelValues(outcome).Inc()

		c.logger.Error("sync failed", append(fields, zap.Int("status", err.StatusCode), zap.Error(err))...)
		if c.log != nil {
			c.log.Failure(err, append(fields, zap.Int("status", err.StatusCode))...)
		}
		return nil, err
	}

	sendCounter.WithLabelValues(outcomeOK).Inc()
	recordsCounter.Add(float64(len(records)))

	c.logger.Info("sync ok", append(fields, zap.Int("upserted", ack.Upserted))...)
	if c.log != nil {
		c.log.Success(append(fields, zap.Int("upserted", ack.Upserted))...)
	}
	return ack, nil
}

// failover advances past the backend at idx. Concurrent failures against the
// same backend advance only once.
func (c *Client) failover(idx int64) {
	if len(c.baseURLs) < 2 {
		return
	}
	next := (idx + 1) % int64(len(c.baseURLs))
	if c.active.CompareAndSwap(idx, next) {
		failoverCounter.Inc()
		c.logger.Warn("switching backend",
			zap.String("from", c.baseURLs[idx]), zap.String("to", c.baseURLs[next]))
	}
}

func (c *Client) post(ctx context.Context, endpoint, batch string, records []schema.Keystone) (*Ack, *SyncError) {
	fail := func(status int, msg string, err error) *SyncError {
		return &SyncError{
			Endpoint:   endpoint,
			StatusCode: status,
			Records:    len(records),
			Batch:      batch,
			Message:    msg,
			Err:        err,
		}
	}

	data, err := json.Marshal(Request{Keys: records})
	if err != nil {
		return nil, fail(0, "", fmt.Errorf("marshal body: %w", err))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return nil, fail(0, "", fmt.Errorf("create request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(BatchHeader, batch)
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fail(0, "", fmt.Errorf("do request: %w", err))
	}
	defer resp.Body.Close() //nolint:errcheck // best-effort close

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fail(resp.StatusCode, "failed to read body", fmt.Errorf("read response: %w", err))
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr struct {
			Error string `json:"error"`
		}
		msg := strings.TrimSpace(string(body))
		if json.Unmarshal(body, &apiErr) == nil && apiErr.Error != "" {
			msg = apiErr.Error
		}
		return nil, fail(resp.StatusCode, msg, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}

	if len(bytes.TrimSpace(body)) == 0 {
		return &Ack{OK: true, Received: len(records)}, nil
	}
	var ack Ack
	if err := json.Unmarshal(body, &ack); err != nil {
		return nil, fail(resp.StatusCode, "invalid acknowledgement", fmt.Errorf("decode response: %w", err))
	}
	return &ack, nil
}

// Summarize renders a short description of a batch for log lines.
func Summarize(records []schema.Keystone) string {
	const limit = 10
	if len(records) == 0 {
		return "none"
	}

	parts := make([]string, 0, limit+1)
	for i, r := range records {
		if i == limit {
			parts = append(parts, fmt.Sprintf("+%d more", len(records)-limit))
			break
		}
		parts = append(parts, fmt.Sprintf("%s +%d", r.Identity(), r.Level))
	}
	return strings.Join(parts, ", ")
}
