package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	logging "github.com/ipfs/go-log/v2"
	"github.com/mitchellh/go-wordwrap"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"

	"github.com/commonjava/folofix/cmd/report"
	"github.com/commonjava/folofix/internal/telemetry"
	"github.com/commonjava/folofix/pkg/config"
)

var (
	log    = logging.Logger("folofix/cmd")
	tracer = otel.Tracer("folofix/cmd")
)

var (
	// telemetryShutdown flushes the exporter set up for the running command.
	telemetryShutdown = func(context.Context) error { return nil }
	commandSpan       = trace.SpanFromContext(context.Background())
)

var rootCmd = &cobra.Command{
	Use:   "folofix",
	Short: "Verify build tracking reports against the content they recorded",
	Long: wordwrap.WrapString(
		"folofix downloads every artifact a sealed tracking report recorded, checks"+
			" its size and checksums against what the report says, and writes a"+
			" mismatch file for each report whose content has changed.",
		80),
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if err := readConfigFile(); err != nil {
			return err
		}
		if err := setLogLevel(viper.GetString("log.level")); err != nil {
			return err
		}

		var tcfg config.TelemetryConfig
		if err := viper.UnmarshalKey("telemetry", &tcfg); err != nil {
			return fmt.Errorf("reading telemetry config: %w", err)
		}
		shutdown, err := telemetry.Setup(cmd.Context(), tcfg)
		if err != nil {
			return fmt.Errorf("setting up telemetry: %w", err)
		}
		telemetryShutdown = shutdown

		// started once the exporter is in place so the command's own span is
		// recorded
		ctx, span := tracer.Start(cmd.Context(), strings.Join(commandPath(cmd), " "))
		cmd.SetContext(ctx)
		commandSpan = span
		setSpanAttributes(cmd, span)
		return nil
	},
	// We handle errors ourselves when they're returned from ExecuteContext.
	SilenceErrors: true,
	SilenceUsage:  true,
}

var cfgFilePath string

func init() {
	cobra.EnableTraverseRunHooks = true
	rootCmd.SetOut(os.Stdout)
	rootCmd.SetErr(os.Stderr)

	initRootFlags()
	cobra.OnInitialize(initConfig)

	rootCmd.AddCommand(report.Cmd)
}

func initRootFlags() {
	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFilePath, "config", "", "Path to the config file")

	flags.String("service-url", "", "URL of the repository manager holding the tracking reports")
	cobra.CheckErr(viper.BindPFlag("service.url", flags.Lookup("service-url")))

	flags.String("reports-dir", "folo-reports", "Directory for raw report copies and mismatch files")
	cobra.CheckErr(viper.BindPFlag("dirs.reports", flags.Lookup("reports-dir")))

	flags.String("cache-dir", "content-cache", "Directory for downloaded content, one subdirectory per report")
	cobra.CheckErr(viper.BindPFlag("dirs.cache", flags.Lookup("cache-dir")))

	flags.String("storage-dir", "", "Storage root of the repository manager, to check recorded sizes against stored files")
	cobra.CheckErr(viper.BindPFlag("dirs.storage", flags.Lookup("storage-dir")))

	flags.String("log-level", "", "Log level for folofix loggers (debug, info, warn, error)")
	cobra.CheckErr(viper.BindPFlag("log.level", flags.Lookup("log-level")))

	flags.Bool("telemetry", false, "Export traces over OTLP/HTTP")
	cobra.CheckErr(viper.BindPFlag("telemetry.enabled", flags.Lookup("telemetry")))

	flags.String("telemetry-endpoint", telemetry.DefaultTracesEndpoint, "OTLP/HTTP collector as host:port or a full URL")
	cobra.CheckErr(viper.BindPFlag("telemetry.endpoint", flags.Lookup("telemetry-endpoint")))

	flags.Bool("telemetry-insecure", true, "Export traces without TLS")
	cobra.CheckErr(viper.BindPFlag("telemetry.insecure", flags.Lookup("telemetry-insecure")))
}

func initConfig() {
	// check if environment variables match any of the existing keys
	// as an example a key is 'dirs.cache'
	viper.AutomaticEnv()
	// when checking for env vars, rename keys searched for from 'dirs.cache' to 'dirs_cache'
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	// when checking for env vars, search for keys prefixed with FOLOFIX
	viper.SetEnvPrefix("FOLOFIX")

	// when searching for a config file look for files names "folofix-config.yaml"
	viper.SetConfigName("folofix-config")
	viper.SetConfigType("yaml")

	// if no config file was provided, first look in the current directory _then_ look in
	// $XDG_CONFIG_HOME/folofix/
	if cfgFilePath == "" {
		viper.AddConfigPath(".")
		if configDir, err := os.UserConfigDir(); err == nil {
			viper.AddConfigPath(filepath.Join(configDir, "folofix"))
		}
	} else {
		// else a config was provided over the cli via a flag, read it in directly
		viper.SetConfigFile(cfgFilePath)
	}
}

// readConfigFile merges the config file, if any. Only a file named with
// --config has to exist.
func readConfigFile() error {
	err := viper.ReadInConfig()
	var notFound viper.ConfigFileNotFoundError
	switch {
	case err == nil:
		log.Debugw("using config file", "path", viper.ConfigFileUsed())
		return nil
	case errors.As(err, &notFound) && cfgFilePath == "":
		return nil
	default:
		return fmt.Errorf("reading config: %w", err)
	}
}

func setLogLevel(level string) error {
	if level == "" {
		return nil
	}
	if err := logging.SetLogLevelRegex("folofix/.*", level); err != nil {
		return fmt.Errorf("setting log level: %w", err)
	}
	return nil
}

// ExecuteContext adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func ExecuteContext(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "cli")
	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		commandSpan.RecordError(err)
	}
	commandSpan.End()
	span.End()

	// a fresh context so an interrupted run still flushes its spans
	return errors.Join(err, telemetryShutdown(context.Background()))
}
