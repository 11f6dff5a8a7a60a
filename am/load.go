package am

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/spf13/viper"

	"github.com/teranos/ticketpulse/errors"
)

const projectConfigName = "am.toml"

var systemConfigPath = "/etc/ticketpulse/config.toml"

var (
	mu     sync.Mutex
	cached *Config
	merged []string
)

// Load returns the process configuration, reading it on first use. Layers, lowest
// precedence first: defaults, system file, ~/.ticketpulse/am.toml, the nearest am.toml
// at or above the working directory, TICKETPULSE_* environment variables.
func Load() (*Config, error) {
	mu.Lock()
	defer mu.Unlock()
	if cached != nil {
		return cached, nil
	}

	v := newViper()
	merged = mergeLayers(v, configLayers())

	cfg, err := decode(v)
	if err != nil {
		return nil, err
	}
	cached = cfg
	return cached, nil
}

// Sources lists the config files Load merged, in the order applied
func Sources() []string {
	mu.Lock()
	defer mu.Unlock()
	return append([]string(nil), merged...)
}

// Reset drops the cached configuration
func Reset() {
	mu.Lock()
	cached, merged = nil, nil
	mu.Unlock()
}

// LoadWithViper decodes v without validating it.
func LoadWithViper(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.Wrap(err, "decode config")
	}
	return &cfg, nil
}

// LoadFromFile reads a single TOML file over the defaults, ignoring every other layer.
func LoadFromFile(path string) (*Config, error) {
	v := viper.New()
	SetDefaults(v)
	v.SetConfigFile(path)
	v.SetConfigType("toml")
	if err := v.ReadInConfig(); err != nil {
		return nil, errors.Wrapf(err, "read %s", path)
	}
	cfg, err := decode(v)
	return cfg, errors.Wrapf(err, "load %s", path)
}

func GetDatabasePath() (string, error) {
	cfg, err := Load()
	if err != nil {
		return "", err
	}
	return cfg.Database.Path, nil
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetEnvPrefix("TICKETPULSE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	BindSensitiveEnvVars(v)
	SetDefaults(v)
	return v
}

func decode(v *viper.Viper) (*Config, error) {
	cfg, err := LoadWithViper(v)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid config")
	}
	return cfg, nil
}

func configLayers() []string {
	layers := []string{systemConfigPath}
	if home, err := os.UserHomeDir(); err == nil {
		layers = append(layers, filepath.Join(home, ".ticketpulse", projectConfigName))
	}
	if wd, err := os.Getwd(); err == nil {
		if p := findProjectConfig(wd); p != "" {
			layers = append(layers, p)
		}
	}
	return layers
}

// findProjectConfig returns the am.toml closest to dir, searching upward to the root.
func findProjectConfig(dir string) string {
	for {
		candidate := filepath.Join(dir, projectConfigName)
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// mergeLayers applies each readable file over v and returns the ones that took.
// Missing or unparsable files are skipped.
func mergeLayers(v *viper.Viper, paths []string) []string {
	var applied []string
	for _, p := range paths {
		layer := viper.New()
		layer.SetConfigFile(p)
		layer.SetConfigType("toml")
		if err := layer.ReadInConfig(); err != nil {
			continue
		}
		if err := v.MergeConfigMap(layer.AllSettings()); err != nil {
			continue
		}
		applied = append(applied, p)
	}
	return applied
}
