package gather

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/teranos/ticketpulse/enhance"
	"github.com/teranos/ticketpulse/errors"
	"github.com/teranos/ticketpulse/internal/httpclient"
)

// maxSummaryRunes trims long resolutions and article bodies in item summaries
const maxSummaryRunes = 280

// SimilarTickets finds resolved tickets that share terms with the description
type SimilarTickets struct {
	corpus *Corpus
	limit  int
}

// NewSimilarTickets creates the similar_tickets source. limit <= 0 means DefaultSourceLimit.
func NewSimilarTickets(corpus *Corpus, limit int) *SimilarTickets {
	if limit <= 0 {
		limit = DefaultSourceLimit
	}
	return &SimilarTickets{corpus: corpus, limit: limit}
}

func (s *SimilarTickets) Name() string { return enhance.SourceSimilarTickets }

func (s *SimilarTickets) Fetch(ctx context.Context, q Query) ([]enhance.Item, error) {
	matches, err := s.corpus.SearchTickets(ctx, q.TenantID, q.TicketID, q.Terms, s.limit)
	if err != nil {
		return nil, err
	}
	return matchItems(matches), nil
}

// KBArticles finds knowledge base articles that share terms with the description
type KBArticles struct {
	corpus *Corpus
	limit  int
}

// NewKBArticles creates the kb_articles source. limit <= 0 means DefaultSourceLimit.
func NewKBArticles(corpus *Corpus, limit int) *KBArticles {
	if limit <= 0 {
		limit = DefaultSourceLimit
	}
	return &KBArticles{corpus: corpus, limit: limit}
}

func (s *KBArticles) Name() string { return enhance.SourceKBArticles }

func (s *KBArticles) Fetch(ctx context.Context, q Query) ([]enhance.Item, error) {
	matches, err := s.corpus.SearchArticles(ctx, q.TenantID, q.Terms, s.limit)
	if err != nil {
		return nil, err
	}
	return matchItems(matches), nil
}

func matchItems(matches []Match) []enhance.Item {
	items := make([]enhance.Item, 0, len(matches))
	for _, m := range matches {
		score := m.Score
		items = append(items, enhance.Item{
			ID:      m.ID,
			Title:   m.Title,
			URL:     m.URL,
			Score:   &score,
			Summary: truncate(m.Summary, maxSummaryRunes),
		})
	}
	return items
}

func truncate(s string, n int) string {
	r := []rune(strings.TrimSpace(s))
	if len(r) <= n {
		return string(r)
	}
	return strings.TrimSpace(string(r[:n])) + "…"
}

// DiagnosticCheck is one entry of a diagnostics endpoint response
type DiagnosticCheck struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Detail string `json:"detail,omitempty"`
	URL    string `json:"url,omitempty"`
}

type diagnosticsResponse struct {
	Checks []DiagnosticCheck `json:"checks"`
}

// maxDiagnosticsBody bounds the response read from a diagnostics endpoint
const maxDiagnosticsBody = 1 << 20

// Diagnostics asks an HTTP endpoint for health checks relevant to a ticket:
// GET {endpoint}?tenant_id=..&ticket_id=.. answering {"checks": [...]}.
type Diagnostics struct {
	endpoint string
	client   *httpclient.SaferClient
}

// NewDiagnostics creates the diagnostics source
func NewDiagnostics(endpoint string, client *httpclient.SaferClient) *Diagnostics {
	return &Diagnostics{endpoint: endpoint, client: client}
}

func (d *Diagnostics) Name() string { return enhance.SourceDiagnostics }

func (d *Diagnostics) Fetch(ctx context.Context, q Query) ([]enhance.Item, error) {
	u, err := url.Parse(d.endpoint)
	if err != nil {
		return nil, errors.Wrap(err, "invalid diagnostics endpoint")
	}
	params := u.Query()
	params.Set("tenant_id", q.TenantID)
	params.Set("ticket_id", q.TicketID)
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create diagnostics request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "diagnostics request failed")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxDiagnosticsBody))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read diagnostics response")
	}
	if resp.StatusCode != http.StatusOK {
		return nil, errors.Newf("diagnostics returned status %d: %s", resp.StatusCode, truncate(string(body), 200))
	}

	var parsed diagnosticsResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, errors.Wrap(err, "failed to parse diagnostics response")
	}

	items := make([]enhance.Item, 0, len(parsed.Checks))
	for _, c := range parsed.Checks {
		summary := c.Status
		if c.Detail != "" {
			summary += " - " + c.Detail
		}
		items = append(items, enhance.Item{
			ID:      c.Name,
			URL:     c.URL,
			Summary: summary,
		})
	}
	return items, nil
}
