package am

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func defaultConfig(t *testing.T) *Config {
	t.Helper()
	v := viper.New()
	SetDefaults(v)
	cfg, err := LoadWithViper(v)
	require.NoError(t, err)
	return cfg
}

func TestLoad_Defaults(t *testing.T) {
	cfg := defaultConfig(t)

	assert.Equal(t, "ticketpulse.db", cfg.Database.Path)
	assert.Equal(t, DefaultServerPort, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Pulse.Workers)
	assert.Equal(t, 30, cfg.Enhancement.ContextTimeoutSeconds)
	assert.Equal(t, 240, cfg.Enhancement.SoftLimitSeconds)
	assert.Equal(t, 300, cfg.Enhancement.HardLimitSeconds)
	require.NotNil(t, cfg.OpenRouter.MaxTokens)
	assert.Equal(t, 1000, *cfg.OpenRouter.MaxTokens)
	assert.False(t, cfg.Gather.AllowPrivateNetworks)
	assert.False(t, cfg.ServiceDesk.AllowPrivateNetworks)
	assert.NoError(t, cfg.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"defaults are valid", func(c *Config) {}, false},
		{"zero workers is valid (ingress only)", func(c *Config) { c.Pulse.Workers = 0 }, false},
		{"negative workers", func(c *Config) { c.Pulse.Workers = -1 }, true},
		{"zero context timeout", func(c *Config) { c.Enhancement.ContextTimeoutSeconds = 0 }, true},
		{"soft equals hard", func(c *Config) { c.Enhancement.SoftLimitSeconds = c.Enhancement.HardLimitSeconds }, true},
		{"soft above hard", func(c *Config) { c.Enhancement.SoftLimitSeconds = 600 }, true},
		{"tenant without base url", func(c *Config) {
			c.ServiceDesk.Tenants = map[string]TenantConfig{"acme": {APIKey: "k"}}
		}, true},
		{"local inference without model", func(c *Config) {
			c.LocalInference.Enabled = true
			c.LocalInference.Model = ""
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := defaultConfig(t)
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestServiceDeskTenantFallback(t *testing.T) {
	sd := ServiceDeskConfig{
		BaseURL: "https://sd.example.com",
		APIKey:  "global",
		Tenants: map[string]TenantConfig{
			"acme":   {BaseURL: "https://acme.sd.example.com", APIKey: "acme-key"},
			"globex": {BaseURL: "https://globex.sd.example.com"},
		},
	}

	assert.Equal(t, TenantConfig{BaseURL: "https://acme.sd.example.com", APIKey: "acme-key"}, sd.Tenant("acme"))
	assert.Equal(t, TenantConfig{BaseURL: "https://globex.sd.example.com", APIKey: "global"}, sd.Tenant("globex"))
	assert.Equal(t, TenantConfig{BaseURL: "https://sd.example.com", APIKey: "global"}, sd.Tenant("initech"))
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "am.toml")
	content := `
[enhancement]
context_timeout_seconds = 10
soft_limit_seconds = 60
hard_limit_seconds = 90

[servicedesk]
base_url = "https://sd.example.com"

[servicedesk.tenants.acme]
base_url = "https://acme.sd.example.com"
api_key = "acme-key"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 10, cfg.Enhancement.ContextTimeoutSeconds)
	assert.Equal(t, 90, cfg.Enhancement.HardLimitSeconds)
	assert.Equal(t, "https://acme.sd.example.com", cfg.ServiceDesk.Tenant("acme").BaseURL)
	// untouched sections keep their defaults
	assert.Equal(t, 4, cfg.Pulse.Workers)
}

func TestLoadFromFile_InvalidLimits(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "am.toml")
	require.NoError(t, os.WriteFile(path, []byte("[enhancement]\nsoft_limit_seconds = 500\n"), 0o644))

	_, err := LoadFromFile(path)
	assert.Error(t, err)
}

func TestFindProjectConfig(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b")
	require.NoError(t, os.MkdirAll(nested, 0o755))

	assert.Empty(t, findProjectConfig(nested))

	want := filepath.Join(root, "a", projectConfigName)
	require.NoError(t, os.WriteFile(want, []byte("[pulse]\nworkers = 2\n"), 0o644))
	assert.Equal(t, want, findProjectConfig(nested))
}

func TestMergeLayers(t *testing.T) {
	dir := t.TempDir()
	low := filepath.Join(dir, "low.toml")
	high := filepath.Join(dir, "high.toml")
	broken := filepath.Join(dir, "broken.toml")
	require.NoError(t, os.WriteFile(low, []byte("[pulse]\nworkers = 2\nretention_days = 7\n"), 0o644))
	require.NoError(t, os.WriteFile(high, []byte("[pulse]\nworkers = 8\n"), 0o644))
	require.NoError(t, os.WriteFile(broken, []byte("[pulse\n"), 0o644))

	v := viper.New()
	SetDefaults(v)
	applied := mergeLayers(v, []string{low, filepath.Join(dir, "missing.toml"), broken, high})
	assert.Equal(t, []string{low, high}, applied)

	cfg, err := LoadWithViper(v)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.Pulse.Workers)
	assert.Equal(t, 7, cfg.Pulse.RetentionDays)
}
