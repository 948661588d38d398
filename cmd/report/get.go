package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/briandowns/spinner"
	"github.com/dustin/go-humanize"
	"github.com/mitchellh/go-wordwrap"
	"github.com/spf13/cobra"

	"github.com/commonjava/folofix/internal/cmdutil"
	"github.com/commonjava/folofix/internal/output"
	"github.com/commonjava/folofix/pkg/config"
	"github.com/commonjava/folofix/pkg/folo"
	"github.com/commonjava/folofix/pkg/verify"
)

var getFlags struct {
	long  bool
	human bool
}

func init() {
	getCmd.Flags().BoolVarP(&getFlags.long, "long", "l", false, "List the report's entries instead of printing it.")
	getCmd.Flags().BoolVarP(&getFlags.human, "human", "H", false, "Display sizes in human-readable format (only applicable when used with --long).")
}

var getCmd = &cobra.Command{
	Use:   "get <tracking-id>",
	Short: "Print a tracking report",
	Long: wordwrap.WrapString(
		"Prints the tracking report as the service returns it. With --long, lists"+
			" one line per entry instead: whether it was uploaded or downloaded,"+
			" its store, its size and its path. Entries that verification would"+
			" skip are marked with a dash.",
		80),
	Args: cobra.ExactArgs(1),
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
		s.Suffix = " fetching " + args[0]
		s.Start()
		report, err := c.FetchReport(cmd.Context(), args[0])
		s.Stop()
		if err != nil {
			return fmt.Errorf("fetching report %s: %w", args[0], err)
		}
		if report == nil {
			return fmt.Errorf("tracking report %s not found", args[0])
		}

		if !getFlags.long {
			var buf bytes.Buffer
			if err := json.Indent(&buf, report.Raw, "", "  "); err != nil {
				return fmt.Errorf("formatting report: %w", err)
			}
			cmd.Println(buf.String())
			return nil
		}

		planner := verify.NewPlanner(c, cfg.Dirs.Cache, cfg.Verify.Extensions...)
		rows := [][]string{}
		add := func(dataset verify.Dataset, entries []folo.ArtifactEntry) {
			for _, e := range entries {
				mark := "-"
				if planner.Qualifies(e.Path) {
					mark = "*"
				}
				size := strconv.FormatInt(e.Size, 10)
				if getFlags.human {
					size = humanize.IBytes(uint64(max(e.Size, 0)))
				}
				rows = append(rows, []string{mark, string(dataset), e.StoreKey.String(), size, e.RelativePath()})
			}
		}
		add(verify.Upload, report.Uploads)
		add(verify.Download, report.Downloads)
		output.Table(cmd.OutOrStdout(), rows)
		return nil
	},
}
