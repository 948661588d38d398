// Package report holds commands for inspecting tracking reports on the
// service without verifying them.
package report

import (
	"github.com/spf13/cobra"
)

var Cmd = &cobra.Command{
	Use:   "report",
	Short: "Inspect tracking reports",
}

func init() {
	Cmd.AddCommand(
		lsCmd,
		getCmd,
	)
}
