package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teranos/ticketpulse/version"
)

var versionJSON bool

// VersionCmd prints build information
var VersionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show ticketpulse version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		info := version.Get()
		if versionJSON {
			return printJSON(info)
		}
		_, err := fmt.Fprintln(cmd.OutOrStdout(), info.String())
		return err
	},
}

func init() {
	VersionCmd.Flags().BoolVarP(&versionJSON, "json", "j", false, "Output version info as JSON")
}
