// Package am holds ticketpulse configuration ("I am"): how the pipeline is wired,
// which collaborators it talks to and what time budgets it runs under.
package am

// Config represents the core ticketpulse configuration
type Config struct {
	Database       DatabaseConfig       `mapstructure:"database"`
	Server         ServerConfig         `mapstructure:"server"`
	Pulse          PulseConfig          `mapstructure:"pulse"`
	Enhancement    EnhancementConfig    `mapstructure:"enhancement"`
	ServiceDesk    ServiceDeskConfig    `mapstructure:"servicedesk"`
	Gather         GatherConfig         `mapstructure:"gather"`
	LocalInference LocalInferenceConfig `mapstructure:"local_inference"`
	OpenRouter     OpenRouterConfig     `mapstructure:"openrouter"`
}

// DatabaseConfig configures the SQLite database holding jobs, history and the context corpus
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// ServerConfig configures the ingress HTTP server
type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
}

// Server port constants
const (
	DefaultServerPort = 8787
)

// PulseConfig configures the worker pool that executes enhancement jobs
type PulseConfig struct {
	Workers            int `mapstructure:"workers"`              // Concurrent enhancement executions (default: 4)
	PollIntervalMS     int `mapstructure:"poll_interval_ms"`     // Queue polling interval (default: 500)
	StopTimeoutSeconds int `mapstructure:"stop_timeout_seconds"` // Graceful stop budget (default: 30)
	RetentionDays      int `mapstructure:"retention_days"`       // Finished async jobs kept this long (0 = forever)
}

// EnhancementConfig configures the time budgets of one pipeline execution
type EnhancementConfig struct {
	ContextTimeoutSeconds int `mapstructure:"context_timeout_seconds"` // Context phase budget (default: 30)
	SoftLimitSeconds      int `mapstructure:"soft_limit_seconds"`      // Soft limit, warn and signal (default: 240)
	HardLimitSeconds      int `mapstructure:"hard_limit_seconds"`      // Hard limit, abandon (default: 300)
	StaleAfterMinutes     int `mapstructure:"stale_after_minutes"`     // Pending records older than this are reported stale (default: 15)
}

// ServiceDeskConfig configures the ticketing system client.
// Tenants without an entry fall back to BaseURL/APIKey.
type ServiceDeskConfig struct {
	BaseURL              string                  `mapstructure:"base_url"`
	APIKey               string                  `mapstructure:"api_key"`
	TimeoutSeconds       int                     `mapstructure:"timeout_seconds"`
	MaxRequestsPerMinute int                     `mapstructure:"max_requests_per_minute"`
	AllowPrivateNetworks bool                    `mapstructure:"allow_private_networks"` // On-prem ServiceDesk installs
	Tenants              map[string]TenantConfig `mapstructure:"tenants"`
}

// TenantConfig holds the ServiceDesk endpoint and credentials for one tenant
type TenantConfig struct {
	BaseURL string `mapstructure:"base_url"`
	APIKey  string `mapstructure:"api_key"`
}

// GatherConfig configures the context gatherer sources
type GatherConfig struct {
	SimilarTicketLimit int    `mapstructure:"similar_ticket_limit"` // Rows per similar-ticket query (default: 10)
	KBArticleLimit     int    `mapstructure:"kb_article_limit"`     // Rows per KB query (default: 10)
	DiagnosticsURL     string `mapstructure:"diagnostics_url"`      // Optional diagnostics endpoint (empty = source disabled)

	// AllowPrivateNetworks lets the diagnostics source reach on-prem hosts. Independent
	// of servicedesk.allow_private_networks.
	AllowPrivateNetworks bool `mapstructure:"allow_private_networks"`
}

// LocalInferenceConfig configures local model inference (Ollama, LocalAI, etc.)
type LocalInferenceConfig struct {
	Enabled        bool   `mapstructure:"enabled"`
	BaseURL        string `mapstructure:"base_url"`
	Model          string `mapstructure:"model"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
	ContextSize    int    `mapstructure:"context_size"`
}

// OpenRouterConfig configures OpenRouter.ai API access
type OpenRouterConfig struct {
	APIKey      string   `mapstructure:"api_key"`
	Model       string   `mapstructure:"model"`
	Temperature *float64 `mapstructure:"temperature"` // nil = default 0.2
	MaxTokens   *int     `mapstructure:"max_tokens"`  // nil = default 1000
}

// Tenant returns the ServiceDesk endpoint for a tenant, falling back to the global one
func (c ServiceDeskConfig) Tenant(tenantID string) TenantConfig {
	if t, ok := c.Tenants[tenantID]; ok && t.BaseURL != "" {
		if t.APIKey == "" {
			t.APIKey = c.APIKey
		}
		return t
	}
	return TenantConfig{BaseURL: c.BaseURL, APIKey: c.APIKey}
}

// File system constants
const (
	DefaultDirPermissions = 0755
)
