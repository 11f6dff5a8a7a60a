package commands

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/ticketpulse/errors"
	"github.com/teranos/ticketpulse/gather"
)

// CorpusCmd manages the searchable context corpus
var CorpusCmd = &cobra.Command{
	Use:   "corpus",
	Short: "Manage the resolved-ticket and KB article corpus",
	Long: `The similar_tickets and kb_articles context sources search a local corpus of
resolved tickets and knowledge base articles. Import keeps it current.

Import files are JSON or YAML:

  tickets:
    - tenant_id: acme
      ticket_id: T-1
      subject: VPN drops after sleep
      resolution: Disable NIC power saving
  articles:
    - tenant_id: acme
      article_id: KB-7
      title: VPN troubleshooting`,
}

var corpusImportCmd = &cobra.Command{
	Use:   "import <file>",
	Short: "Upsert tickets and articles from a JSON or YAML file",
	Args:  cobra.ExactArgs(1),
	RunE:  runCorpusImport,
}

func init() {
	CorpusCmd.AddCommand(corpusImportCmd)
}

// corpusFile is the import document. Field names match in JSON and YAML.
type corpusFile struct {
	Tickets []struct {
		TenantID   string     `json:"tenant_id" yaml:"tenant_id"`
		TicketID   string     `json:"ticket_id" yaml:"ticket_id"`
		Subject    string     `json:"subject" yaml:"subject"`
		Resolution string     `json:"resolution" yaml:"resolution"`
		URL        string     `json:"url" yaml:"url"`
		ResolvedAt *time.Time `json:"resolved_at" yaml:"resolved_at"`
	} `json:"tickets" yaml:"tickets"`
	Articles []struct {
		TenantID  string     `json:"tenant_id" yaml:"tenant_id"`
		ArticleID string     `json:"article_id" yaml:"article_id"`
		Title     string     `json:"title" yaml:"title"`
		Body      string     `json:"body" yaml:"body"`
		URL       string     `json:"url" yaml:"url"`
		UpdatedAt *time.Time `json:"updated_at" yaml:"updated_at"`
	} `json:"articles" yaml:"articles"`
}

func parseCorpusFile(path string, data []byte) (*corpusFile, error) {
	var doc corpusFile
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, errors.Wrapf(err, "failed to parse %s", path)
		}
	case ".json":
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, errors.Wrapf(err, "failed to parse %s", path)
		}
	default:
		return nil, errors.Newf("unsupported corpus file %s (use .json, .yaml or .yml)", path)
	}
	return &doc, nil
}

func runCorpusImport(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return errors.Wrap(err, "failed to read corpus file")
	}
	doc, err := parseCorpusFile(args[0], data)
	if err != nil {
		return err
	}

	database, err := openDatabase("")
	if err != nil {
		return err
	}
	defer database.Close()

	corpus := gather.NewCorpus(database)
	ctx := cmdContext(cmd)

	for _, t := range doc.Tickets {
		if err := corpus.UpsertTicket(ctx, gather.ResolvedTicket{
			TenantID:   t.TenantID,
			TicketID:   t.TicketID,
			Subject:    t.Subject,
			Resolution: t.Resolution,
			URL:        t.URL,
			ResolvedAt: t.ResolvedAt,
		}); err != nil {
			return errors.Wrapf(err, "ticket %s/%s", t.TenantID, t.TicketID)
		}
	}
	for _, a := range doc.Articles {
		if err := corpus.UpsertArticle(ctx, gather.Article{
			TenantID:  a.TenantID,
			ArticleID: a.ArticleID,
			Title:     a.Title,
			Body:      a.Body,
			URL:       a.URL,
			UpdatedAt: a.UpdatedAt,
		}); err != nil {
			return errors.Wrapf(err, "article %s/%s", a.TenantID, a.ArticleID)
		}
	}

	pterm.Success.Printfln("Imported %d tickets and %d articles", len(doc.Tickets), len(doc.Articles))
	return nil
}
