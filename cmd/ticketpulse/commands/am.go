package commands

import (
	"encoding/json"
	"fmt"

	"github.com/pelletier/go-toml/v2"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/ticketpulse/ai/provider"
	"github.com/teranos/ticketpulse/am"
	"github.com/teranos/ticketpulse/errors"
)

// AmCmd represents the am (configuration) command
var AmCmd = &cobra.Command{
	Use:   "am",
	Short: "Show and validate ticketpulse configuration",
	Long: `am - ticketpulse configuration ("I am")

Configuration sources (in order of precedence):
1. Environment variables (TICKETPULSE_* prefix)
2. Project config (am.toml in the working directory or nearest parent)
3. User config (~/.ticketpulse/am.toml)
4. System config (/etc/ticketpulse/config.toml)
5. Default values

Examples:
  ticketpulse am show                 # Show current configuration
  ticketpulse am show --format yaml   # As YAML
  ticketpulse am validate             # Validate configuration`,
}

var amShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE:  runAmShow,
}

var amValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate current configuration",
	RunE:  runAmValidate,
}

var configFormat string

func init() {
	amShowCmd.Flags().StringVar(&configFormat, "format", "toml", "Output format: toml, json, yaml")

	AmCmd.AddCommand(amShowCmd)
	AmCmd.AddCommand(amValidateCmd)
}

// redacted returns a copy of cfg with credentials masked
func redacted(cfg *am.Config) am.Config {
	out := *cfg
	mask := func(s string) string {
		if s == "" {
			return ""
		}
		return "********"
	}
	out.ServiceDesk.APIKey = mask(out.ServiceDesk.APIKey)
	out.OpenRouter.APIKey = mask(out.OpenRouter.APIKey)
	if len(cfg.ServiceDesk.Tenants) > 0 {
		out.ServiceDesk.Tenants = make(map[string]am.TenantConfig, len(cfg.ServiceDesk.Tenants))
		for id, tc := range cfg.ServiceDesk.Tenants {
			tc.APIKey = mask(tc.APIKey)
			out.ServiceDesk.Tenants[id] = tc
		}
	}
	return out
}

func marshalConfig(cfg am.Config, format string) ([]byte, error) {
	switch format {
	case "json":
		return json.MarshalIndent(cfg, "", "  ")
	case "yaml":
		return yaml.Marshal(cfg)
	case "toml":
		return toml.Marshal(cfg)
	default:
		return nil, errors.Newf("unsupported format: %s (supported: toml, json, yaml)", format)
	}
}

func runAmShow(cmd *cobra.Command, args []string) error {
	cfg, err := am.Load()
	if err != nil {
		return errors.Wrap(err, "failed to load config")
	}

	data, err := marshalConfig(redacted(cfg), configFormat)
	if err != nil {
		return err
	}
	if configFormat != "json" {
		fmt.Println("# ticketpulse configuration")
		for _, src := range am.Sources() {
			fmt.Printf("# merged: %s\n", src)
		}
	}
	fmt.Print(string(data))
	if configFormat == "json" {
		fmt.Println()
	}
	return nil
}

func runAmValidate(cmd *cobra.Command, args []string) error {
	// Load validates; a failure surfaces here with its hint
	cfg, err := am.Load()
	if err != nil {
		return err
	}

	pterm.Success.Println("Configuration is valid")
	if sources := am.Sources(); len(sources) == 0 {
		pterm.Info.Println("No config files found, using defaults and environment")
	} else {
		pterm.Info.Printfln("Config files: %v", sources)
	}
	if len(cfg.ServiceDesk.Tenants) == 0 && cfg.ServiceDesk.BaseURL == "" {
		pterm.Warning.Println("No ServiceDesk endpoint configured: every ticket update will fail")
	}
	if providers := provider.GetAvailableProviders(cfg); len(providers) == 0 {
		pterm.Warning.Println("No synthesis provider configured: enhancements will use the fallback rendering")
	} else {
		pterm.Info.Printfln("Synthesis providers: %v (selected: %s)", providers, provider.DetermineProvider(cfg, ""))
	}
	return nil
}
