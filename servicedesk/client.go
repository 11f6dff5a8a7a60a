// Package servicedesk posts enhancement notes to the ticketing system.
package servicedesk

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/ticketpulse/correlation"
	"github.com/teranos/ticketpulse/enhance"
	"github.com/teranos/ticketpulse/errors"
	"github.com/teranos/ticketpulse/internal/httpclient"
	"github.com/teranos/ticketpulse/logger"
)

// ErrUnauthorized marks a 401/403 answer: the tenant's API key is wrong or lacks rights
var ErrUnauthorized = errors.New("servicedesk rejected credentials")

const (
	// DefaultMaxRequestsPerMinute applies when Config leaves the rate unset
	DefaultMaxRequestsPerMinute = 60

	maxResponseBody = 64 << 10
)

// Config configures the client
type Config struct {
	Timeout              time.Duration
	MaxRequestsPerMinute int
	AllowPrivateNetworks bool
	Logger               *zap.SugaredLogger
}

// Client implements enhance.TicketUpdater against the ServiceDesk v3 REST API
type Client struct {
	http      *httpclient.SaferClient
	perMinute int
	logger    *zap.SugaredLogger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter // keyed by base URL
}

var _ enhance.TicketUpdater = (*Client)(nil)

// New creates a client with its own SSRF-guarded HTTP client
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	client := httpclient.NewWithOptions(cfg.Timeout, httpclient.Options{
		AllowPrivateNetworks: cfg.AllowPrivateNetworks,
	})
	return NewWithHTTPClient(client, cfg.MaxRequestsPerMinute, cfg.Logger)
}

// NewWithHTTPClient creates a client over an existing HTTP client
func NewWithHTTPClient(client *httpclient.SaferClient, maxRequestsPerMinute int, log *zap.SugaredLogger) *Client {
	if maxRequestsPerMinute <= 0 {
		maxRequestsPerMinute = DefaultMaxRequestsPerMinute
	}
	if log == nil {
		log = logger.Logger
	}
	return &Client{
		http:      client,
		perMinute: maxRequestsPerMinute,
		logger:    log.Named("servicedesk"),
		limiters:  make(map[string]*rate.Limiter),
	}
}

func (c *Client) limiter(baseURL string) *rate.Limiter {
	c.mu.Lock()
	defer c.mu.Unlock()

	l, ok := c.limiters[baseURL]
	if !ok {
		burst := c.perMinute / 10
		if burst < 1 {
			burst = 1
		}
		l = rate.NewLimiter(rate.Limit(float64(c.perMinute)/60.0), burst)
		c.limiters[baseURL] = l
	}
	return l
}

type noteRequest struct {
	Body string `json:"body"`
}

type apiResponse struct {
	ResponseStatus struct {
		StatusCode int    `json:"status_code"`
		Status     string `json:"status"`
	} `json:"response_status"`
}

// PostComment adds text as a note on the ticket.
//
// It returns true on a 2xx answer, false when the API rejected the note
// (4xx other than 401/403, or a "failed" response_status), and an error for
// credential problems, 5xx answers and transport failures.
func (c *Client) PostComment(ctx context.Context, req enhance.CommentRequest) (bool, error) {
	if req.BaseURL == "" {
		return false, errors.NewInvalidRequestError("no ServiceDesk endpoint configured")
	}
	base := strings.TrimRight(req.BaseURL, "/")
	endpoint := base + "/api/v3/requests/" + url.PathEscape(req.TicketID) + "/notes"

	if err := c.limiter(base).Wait(ctx); err != nil {
		return false, errors.Wrap(err, "servicedesk rate limit wait")
	}

	payload, err := json.Marshal(noteRequest{Body: req.Text})
	if err != nil {
		return false, errors.Wrap(err, "failed to marshal note")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return false, errors.Wrap(err, "failed to create servicedesk request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("authtoken", req.APIKey)
	if req.CorrelationID != "" {
		httpReq.Header.Set(correlation.Header, req.CorrelationID.String())
	}

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		return false, errors.Wrap(err, "servicedesk request failed")
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))

	log := c.logger.With(
		logger.FieldCorrelationID, req.CorrelationID.String(),
		logger.FieldTicketID, req.TicketID,
		logger.FieldStatus, resp.StatusCode,
		logger.FieldDurationMS, time.Since(start).Milliseconds(),
	)

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return false, errors.Mark(errors.Newf("servicedesk rejected credentials (status %d)", resp.StatusCode), ErrUnauthorized)
	case resp.StatusCode >= 500:
		return false, errors.Newf("servicedesk returned status %d: %s", resp.StatusCode, snippet(body))
	case resp.StatusCode >= 400:
		log.Warnw("ServiceDesk rejected note", "body", snippet(body))
		return false, nil
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		return false, errors.Newf("servicedesk returned unexpected status %d", resp.StatusCode)
	}

	var parsed apiResponse
	if json.Unmarshal(body, &parsed) == nil && strings.EqualFold(parsed.ResponseStatus.Status, "failed") {
		log.Warnw("ServiceDesk reported note failure", "status_code", parsed.ResponseStatus.StatusCode)
		return false, nil
	}

	log.Debugw("Note posted")
	return true, nil
}

func snippet(body []byte) string {
	s := strings.TrimSpace(string(body))
	if len(s) > 200 {
		s = s[:200] + "..."
	}
	return s
}
