package gather

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/teranos/ticketpulse/errors"
)

// ResolvedTicket is a closed ticket searched by the similar_tickets source
type ResolvedTicket struct {
	TenantID   string     `json:"tenant_id"`
	TicketID   string     `json:"ticket_id"`
	Subject    string     `json:"subject"`
	Resolution string     `json:"resolution,omitempty"`
	URL        string     `json:"url,omitempty"`
	ResolvedAt *time.Time `json:"resolved_at,omitempty"`
}

// Article is a knowledge base article searched by the kb_articles source
type Article struct {
	TenantID  string     `json:"tenant_id"`
	ArticleID string     `json:"article_id"`
	Title     string     `json:"title"`
	Body      string     `json:"body,omitempty"`
	URL       string     `json:"url,omitempty"`
	UpdatedAt *time.Time `json:"updated_at,omitempty"`
}

// Match is a corpus row with the fraction of query terms it contains
type Match struct {
	ID      string
	Title   string
	Summary string
	URL     string
	Score   float64
	When    time.Time
}

// Corpus stores the tenant-scoped tickets and articles that context sources search
type Corpus struct {
	db *sql.DB
}

// NewCorpus creates a corpus over db (migrated with the context corpus tables)
func NewCorpus(db *sql.DB) *Corpus {
	return &Corpus{db: db}
}

// UpsertTicket inserts or replaces a resolved ticket
func (c *Corpus) UpsertTicket(ctx context.Context, t ResolvedTicket) error {
	if t.TenantID == "" || t.TicketID == "" || t.Subject == "" {
		return errors.NewInvalidRequestError("resolved ticket needs tenant_id, ticket_id and subject")
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO ticket_corpus (tenant_id, ticket_id, subject, resolution, url, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, ticket_id) DO UPDATE SET
			subject = excluded.subject,
			resolution = excluded.resolution,
			url = excluded.url,
			resolved_at = excluded.resolved_at
	`, t.TenantID, t.TicketID, t.Subject, nullString(t.Resolution), nullString(t.URL), nullTime(t.ResolvedAt))
	if err != nil {
		return errors.Wrapf(err, "failed to store resolved ticket %s/%s", t.TenantID, t.TicketID)
	}
	return nil
}

// UpsertArticle inserts or replaces a knowledge base article
func (c *Corpus) UpsertArticle(ctx context.Context, a Article) error {
	if a.TenantID == "" || a.ArticleID == "" || a.Title == "" {
		return errors.NewInvalidRequestError("article needs tenant_id, article_id and title")
	}
	_, err := c.db.ExecContext(ctx, `
		INSERT INTO kb_articles (tenant_id, article_id, title, body, url, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (tenant_id, article_id) DO UPDATE SET
			title = excluded.title,
			body = excluded.body,
			url = excluded.url,
			updated_at = excluded.updated_at
	`, a.TenantID, a.ArticleID, a.Title, nullString(a.Body), nullString(a.URL), nullTime(a.UpdatedAt))
	if err != nil {
		return errors.Wrapf(err, "failed to store article %s/%s", a.TenantID, a.ArticleID)
	}
	return nil
}

// SearchTickets returns up to limit resolved tickets of tenantID matching any term,
// best score first. excludeID skips the ticket being enhanced.
func (c *Corpus) SearchTickets(ctx context.Context, tenantID, excludeID string, terms []string, limit int) ([]Match, error) {
	return c.search(ctx, corpusTable{
		name:     "ticket_corpus",
		idCol:    "ticket_id",
		titleCol: "subject",
		textCol:  "resolution",
		whenCol:  "resolved_at",
	}, tenantID, excludeID, terms, limit)
}

// SearchArticles returns up to limit articles of tenantID matching any term, best score first
func (c *Corpus) SearchArticles(ctx context.Context, tenantID string, terms []string, limit int) ([]Match, error) {
	return c.search(ctx, corpusTable{
		name:     "kb_articles",
		idCol:    "article_id",
		titleCol: "title",
		textCol:  "body",
		whenCol:  "updated_at",
	}, tenantID, "", terms, limit)
}

type corpusTable struct {
	name, idCol, titleCol, textCol, whenCol string
}

// search ranks candidates in SQL by how many terms each row contains, so the capped
// candidate set always holds the strongest matches, then scores them in Go by the
// share of terms present.
func (c *Corpus) search(ctx context.Context, t corpusTable, tenantID, excludeID string, terms []string, limit int) ([]Match, error) {
	if len(terms) == 0 || limit <= 0 {
		return nil, nil
	}
	columns := []string{t.titleCol, t.textCol}

	qb := &queryBuilder{}
	qb.addClause("tenant_id = ?", tenantID)
	if excludeID != "" {
		qb.addClause(t.idCol+" <> ?", excludeID)
	}
	qb.buildTermFilter(columns, terms)
	hits, hitArgs := termHitsExpr(columns, terms)

	query := fmt.Sprintf(`SELECT %s, %s, COALESCE(%s, ''), COALESCE(url, ''), %s, %s AS hits
		FROM %s WHERE %s
		ORDER BY hits DESC, %s DESC, %s ASC
		LIMIT ?`,
		t.idCol, t.titleCol, t.textCol, t.whenCol, hits,
		t.name, qb.build(),
		t.whenCol, t.idCol)
	args := append(hitArgs, qb.args...)
	args = append(args, limit*candidateFactor)

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to search %s", t.name)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		var when sql.NullTime
		var hits int
		if err := rows.Scan(&m.ID, &m.Title, &m.Summary, &m.URL, &when, &hits); err != nil {
			return nil, errors.Wrapf(err, "failed to scan %s row", t.name)
		}
		if when.Valid {
			m.When = when.Time
		}
		m.Score = termScore(m.Title+" "+m.Summary, terms)
		matches = append(matches, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrapf(err, "error iterating %s", t.name)
	}

	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score != matches[j].Score {
			return matches[i].Score > matches[j].Score
		}
		if !matches[i].When.Equal(matches[j].When) {
			return matches[i].When.After(matches[j].When)
		}
		return matches[i].ID < matches[j].ID
	})
	if len(matches) > limit {
		matches = matches[:limit]
	}
	return matches, nil
}

// candidateFactor widens the SQL limit past limit so rows tied on hits can be
// re-ranked by the Go score
const candidateFactor = 4

// termScore is the fraction of terms that occur in text (case-insensitive)
func termScore(text string, terms []string) float64 {
	lower := strings.ToLower(text)
	hits := 0
	for _, term := range terms {
		if strings.Contains(lower, term) {
			hits++
		}
	}
	return float64(hits) / float64(len(terms))
}

// queryBuilder accumulates SQL WHERE clauses and parameters
type queryBuilder struct {
	whereClauses []string
	args         []interface{}
}

func (qb *queryBuilder) addClause(clause string, args ...interface{}) {
	qb.whereClauses = append(qb.whereClauses, clause)
	qb.args = append(qb.args, args...)
}

func (qb *queryBuilder) build() string {
	return strings.Join(qb.whereClauses, " AND ")
}

// buildTermFilter matches rows where any column contains any term (OR logic)
func (qb *queryBuilder) buildTermFilter(columns []string, terms []string) {
	var clauses []string
	for _, term := range terms {
		pattern := "%" + escapeLikePattern(term) + "%"
		for _, col := range columns {
			clauses = append(clauses, col+" LIKE ? COLLATE NOCASE ESCAPE '\\'")
			qb.args = append(qb.args, pattern)
		}
	}
	qb.whereClauses = append(qb.whereClauses, "("+strings.Join(clauses, " OR ")+")")
}

// termHitsExpr returns a SQL expression counting the terms found in any of columns
func termHitsExpr(columns []string, terms []string) (string, []interface{}) {
	var (
		cases []string
		args  []interface{}
	)
	for _, term := range terms {
		pattern := "%" + escapeLikePattern(term) + "%"
		var matches []string
		for _, col := range columns {
			matches = append(matches, col+" LIKE ? COLLATE NOCASE ESCAPE '\\'")
			args = append(args, pattern)
		}
		cases = append(cases, "(CASE WHEN "+strings.Join(matches, " OR ")+" THEN 1 ELSE 0 END)")
	}
	return "(" + strings.Join(cases, " + ") + ")", args
}

// escapeLikePattern escapes special characters in LIKE patterns for SQL ESCAPE clause
func escapeLikePattern(s string) string {
	s = strings.ReplaceAll(s, "\\", "\\\\")
	s = strings.ReplaceAll(s, "%", "\\%")
	s = strings.ReplaceAll(s, "_", "\\_")
	return s
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}
