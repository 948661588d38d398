package cmd

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/mitchellh/go-wordwrap"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/commonjava/folofix/cmd/internal/jsonout"
	"github.com/commonjava/folofix/cmd/internal/progress"
	"github.com/commonjava/folofix/internal/cmdutil"
	"github.com/commonjava/folofix/internal/output"
	"github.com/commonjava/folofix/pkg/bus"
	"github.com/commonjava/folofix/pkg/config"
	"github.com/commonjava/folofix/pkg/pipeline"
)

var verifyFlags struct {
	json bool
}

var verifyCmd = &cobra.Command{
	Use:   "verify [tracking-id...]",
	Short: "Verify tracking reports against their recorded content",
	Long: wordwrap.WrapString(
		"Loads each tracking report, downloads every artifact it recorded into the"+
			" content cache and checks size, MD5 and SHA-1 against the report. With"+
			" no tracking IDs, every sealed report is verified. A report that"+
			" passes has its raw copy removed; one that fails keeps it next to a"+
			" <id>-mismatched.json file listing the failing entries. Exits 1 when"+
			" any report is left unverified.",
		80),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		cfg, err := config.Load[config.Config]()
		if err != nil {
			return err
		}
		if err := cfg.Dirs.Ensure(); err != nil {
			return err
		}

		b := bus.New()
		p, err := cmdutil.NewPipeline(cfg, b)
		if err != nil {
			return err
		}

		runID := uuid.New()
		run := func(ctx context.Context) (*pipeline.RunReport, error) {
			if len(args) == 0 {
				return p.RunSealedWithID(ctx, runID)
			}
			return p.RunWithID(ctx, runID, args)
		}

		var report *pipeline.RunReport
		switch {
		case verifyFlags.json:
			emitter := jsonout.NewJSONEmitter(cmd.OutOrStdout())
			detach, err := jsonout.Subscribe(emitter, b, runID)
			if err != nil {
				return err
			}
			defer detach()
			emitter.EmitRunStart(runID, args)
			report, err = run(ctx)
			if report != nil {
				emitter.EmitRunSummary(report)
			}
			if err != nil {
				emitter.EmitRunError(runID, err)
				return err
			}
		default:
			report, err = progress.Run(ctx, b, runID, run)
			if report != nil {
				printSummary(cmd.OutOrStdout(), report)
			}
			if err != nil {
				return err
			}
		}

		return report.Err()
	},
}

func init() {
	flags := verifyCmd.Flags()

	flags.Int("threads", 4, "Workers per stage unless a stage sets its own")
	cobra.CheckErr(viper.BindPFlag("workers.threads", flags.Lookup("threads")))

	flags.Int("loaders", 0, "Report loading workers (default --threads)")
	cobra.CheckErr(viper.BindPFlag("workers.loaders", flags.Lookup("loaders")))

	flags.Int("fetchers", 0, "Content download workers (default --threads)")
	cobra.CheckErr(viper.BindPFlag("workers.fetchers", flags.Lookup("fetchers")))

	flags.Int("verifiers", 0, "Report verification workers (default --threads)")
	cobra.CheckErr(viper.BindPFlag("workers.verifiers", flags.Lookup("verifiers")))

	flags.Bool("sidecars", true, "Record the .md5 and .sha1 files served next to each artifact")
	cobra.CheckErr(viper.BindPFlag("verify.sidecars", flags.Lookup("sidecars")))

	flags.Bool("sha256", false, "Also check SHA-256 where a report records one")
	cobra.CheckErr(viper.BindPFlag("verify.sha256", flags.Lookup("sha256")))

	flags.StringSlice("extensions", nil, "Artifact suffixes to check (default .jar, .pom, .tar.gz, .zip)")
	cobra.CheckErr(viper.BindPFlag("verify.extensions", flags.Lookup("extensions")))

	flags.BoolVar(&verifyFlags.json, "json", false, "Output progress and the summary as newline delimited JSON.")

	rootCmd.AddCommand(verifyCmd)
}

var (
	passStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#7CABCF")).Bold(true)
	failStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#E88B8D")).Bold(true)
	dimStyle  = lipgloss.NewStyle().Faint(true)
)

func printSummary(w io.Writer, r *pipeline.RunReport) {
	rows := [][]string{{"TRACKING ID", "RESULT", "CHECKED", "FAILED", "DETAIL"}}
	for _, s := range r.Reports {
		result, detail := passStyle.Render("pass"), ""
		if !s.Passed {
			result = failStyle.Render("FAIL")
			detail = s.MismatchFile
			if s.Error != "" {
				detail = s.Error
			}
		}
		rows = append(rows, []string{s.TrackingID, result, fmt.Sprint(s.Checked), fmt.Sprint(s.Failed), detail})
	}
	for _, f := range r.LoadFailures {
		rows = append(rows, []string{f.TrackingID, failStyle.Render("LOAD"), "-", "-", f.Error})
	}
	for _, id := range r.Missing {
		rows = append(rows, []string{id, dimStyle.Render("missing"), "-", "-", "no longer on the service"})
	}
	if len(rows) > 1 {
		output.Table(w, rows)
		fmt.Fprintln(w)
	}

	for _, f := range r.FetchFailures {
		output.Warning("could not fetch %s: %s", f.URL, f.Error)
	}

	elapsed := r.Finished.Sub(r.Started).Round(time.Millisecond)
	fmt.Fprintf(w, "%d of %d reports verified in %s, %s downloaded (%d files, %d cached)\n",
		len(r.Reports)-len(r.Failed()), r.Requested, elapsed,
		humanize.IBytes(uint64(r.FetchedBytes)), r.Fetched, r.Skipped)
	if r.Clean() {
		output.Success("all reports verified")
	}
}
