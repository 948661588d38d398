package report

import (
	"fmt"
	"time"

	"github.com/briandowns/spinner"
	"github.com/mitchellh/go-wordwrap"
	"github.com/spf13/cobra"

	"github.com/commonjava/folofix/internal/cmdutil"
	"github.com/commonjava/folofix/internal/output"
	"github.com/commonjava/folofix/pkg/config"
)

var lsFlags struct {
	json bool
}

func init() {
	lsCmd.Flags().BoolVar(&lsFlags.json, "json", false, "Output as JSON.")
}

var lsCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List sealed tracking reports",
	Long: wordwrap.WrapString(
		"Lists the tracking IDs of every sealed report on the service, one on each"+
			" line. These are the reports `folofix verify` checks when given no IDs.",
		80),
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load[config.Config]()
		if err != nil {
			return err
		}
		c, err := cmdutil.NewClient(cfg.Service)
		if err != nil {
			return err
		}

		s := spinner.New(spinner.CharSets[14], 100*time.Millisecond, spinner.WithWriter(cmd.ErrOrStderr())) // Spinner: ⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏
		s.Suffix = " listing sealed reports"
		s.Start()
		ids, err := c.ListSealed(cmd.Context())
		s.Stop()
		if err != nil {
			return fmt.Errorf("listing sealed reports: %w", err)
		}

		if lsFlags.json {
			if ids == nil {
				ids = []string{}
			}
			return output.JSON(cmd.OutOrStdout(), ids)
		}
		for _, id := range ids {
			cmd.Println(id)
		}
		return nil
	},
}
