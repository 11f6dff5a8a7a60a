package am

import (
	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", "ticketpulse.db")

	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.allowed_origins", []string{
		"http://localhost",
		"https://localhost",
		"http://127.0.0.1",
	})

	v.SetDefault("pulse.workers", 4)
	v.SetDefault("pulse.poll_interval_ms", 500)
	v.SetDefault("pulse.stop_timeout_seconds", 30)
	v.SetDefault("pulse.retention_days", 30)

	v.SetDefault("enhancement.context_timeout_seconds", 30)
	v.SetDefault("enhancement.soft_limit_seconds", 240)
	v.SetDefault("enhancement.hard_limit_seconds", 300)
	v.SetDefault("enhancement.stale_after_minutes", 15)

	v.SetDefault("servicedesk.timeout_seconds", 30)
	v.SetDefault("servicedesk.max_requests_per_minute", 60)
	v.SetDefault("servicedesk.allow_private_networks", false)

	v.SetDefault("gather.similar_ticket_limit", 10)
	v.SetDefault("gather.kb_article_limit", 10)
	v.SetDefault("gather.allow_private_networks", false)

	v.SetDefault("local_inference.enabled", false)
	v.SetDefault("local_inference.base_url", "http://localhost:11434")
	v.SetDefault("local_inference.model", "llama3.2:3b")
	v.SetDefault("local_inference.timeout_seconds", 120)
	v.SetDefault("local_inference.context_size", 16384)

	v.SetDefault("openrouter.model", "openai/gpt-4o-mini")
	v.SetDefault("openrouter.temperature", 0.2)
	v.SetDefault("openrouter.max_tokens", 1000)
}

// BindSensitiveEnvVars explicitly binds credentials to environment variables
// so they never need to live in a config file.
func BindSensitiveEnvVars(v *viper.Viper) {
	_ = v.BindEnv("database.path", "TICKETPULSE_DATABASE_PATH")
	_ = v.BindEnv("servicedesk.base_url", "TICKETPULSE_SERVICEDESK_BASE_URL")
	_ = v.BindEnv("servicedesk.api_key", "TICKETPULSE_SERVICEDESK_API_KEY", "SERVICEDESK_API_KEY")
	_ = v.BindEnv("openrouter.api_key", "TICKETPULSE_OPENROUTER_API_KEY", "OPENROUTER_API_KEY")
}
