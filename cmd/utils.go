package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// commandPath returns the command path for a `cobra.Command`. Where
// `cmd.CommandPath()` returns a concatenated string, this returns a slice of
// the individual commands in the path.
func commandPath(c *cobra.Command) []string {
	var path []string
	if c.HasParent() {
		path = commandPath(c.Parent())
	}
	path = append(path, c.Name())
	return path
}

// setSpanAttributes records the command path as command.path and every flag
// set on the command line as command.flag.<flag-name>, typed where the flag
// type allows.
func setSpanAttributes(cmd *cobra.Command, span trace.Span) {
	attrs := []attribute.KeyValue{
		attribute.StringSlice("command.path", commandPath(cmd)),
	}
	cmd.Flags().Visit(func(f *pflag.Flag) {
		attr, err := flagAttribute(cmd.Flags(), f)
		if err != nil {
			log.Warnf("getting flag %q value %v for telemetry: %v", f.Name, f.Value, err)
			return
		}
		attrs = append(attrs, attr)
	})
	span.SetAttributes(attrs...)
}

func flagAttribute(flags *pflag.FlagSet, f *pflag.Flag) (attribute.KeyValue, error) {
	k := "command.flag." + f.Name
	switch f.Value.Type() {
	case "bool":
		v, err := flags.GetBool(f.Name)
		return attribute.Bool(k, v), err
	case "int":
		v, err := flags.GetInt(f.Name)
		return attribute.Int(k, v), err
	case "count":
		v, err := flags.GetCount(f.Name)
		return attribute.Int(k, v), err
	case "intSlice":
		v, err := flags.GetIntSlice(f.Name)
		return attribute.IntSlice(k, v), err
	case "int64":
		v, err := flags.GetInt64(f.Name)
		return attribute.Int64(k, v), err
	case "float64":
		v, err := flags.GetFloat64(f.Name)
		return attribute.Float64(k, v), err
	case "string":
		v, err := flags.GetString(f.Name)
		return attribute.String(k, v), err
	case "stringSlice":
		v, err := flags.GetStringSlice(f.Name)
		return attribute.StringSlice(k, v), err
	default:
		// durations and anything else are recorded as typed on the command line
		return attribute.String(k, f.Value.String()), nil
	}
}
