package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/DrSkyle/grandiso/pkg/config"
	"github.com/DrSkyle/grandiso/pkg/engine"
	"github.com/DrSkyle/grandiso/pkg/telemetry"
	"github.com/DrSkyle/grandiso/pkg/version"
)

var (
	cfgFile string
	verbose bool
	cfg     config.Config
	logger  = slog.Default()

	shutdownTracing func(context.Context) error
)

var rootCmd = &cobra.Command{
	Use:   "grandiso",
	Short: "Distributed subgraph isomorphism search",
	Long: `grandiso finds every occurrence of a small motif graph inside a large
host graph. Partial matches are queued and expanded by any number of workers.

Typical flow:
  grandiso provision
  grandiso init --motif triangle.yaml --host sqlite:///host.db
  grandiso run <job>
  grandiso results <job> --format csv`,
	Version:           version.String(),
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if shutdownTracing != nil {
			return shutdownTracing(cmd.Context())
		}
		return nil
	},
}

// Execute runs the root command, cancelling on SIGINT or SIGTERM.
func Execute() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, errStyle.Render("Error: ")+err.Error())
		stop()
		os.Exit(1)
	}
}

func init() {
	f := rootCmd.PersistentFlags()
	f.StringVar(&cfgFile, "config", "", "config file (default $HOME/.grandiso.yaml)")
	f.String("region", config.DefaultRegion, "AWS region")
	f.String("profile", "", "AWS shared config profile")
	f.String("endpoint", "", "AWS endpoint override, e.g. http://localhost:4566 (default $AWS_ENDPOINT_URL)")
	f.String("queue", config.DefaultQueue, "queue reference (sqs name, leveldb:///path, memory://)")
	f.String("results", config.DefaultResultsTable, "result store reference (dynamodb table, s3://bucket/prefix, file:///dir)")
	f.String("jobs", config.DefaultJobsTable, "job registry reference (dynamodb table, s3://bucket/prefix, file:///dir)")
	f.String("host", "", "host graph reference (edge list or .json file, sqlite:///path, postgres://..., mysql://...)")
	f.String("log-level", "info", "log level: debug, info, warn, error")
	f.String("log-format", "json", "log format: json or text")
	f.BoolVarP(&verbose, "verbose", "v", false, "log every AWS API call")

	bind(f, "region", "region")
	bind(f, "profile", "profile")
	bind(f, "endpoint", "endpoint")
	bind(f, "queue", "queue")
	bind(f, "results", "results")
	bind(f, "jobs", "jobs")
	bind(f, "host", "host")
	bind(f, "log.level", "log-level")
	bind(f, "log.format", "log-format")

	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		renderHelp(cmd)
	})
}

// bind maps a flag onto a config key; a set flag beats file and env.
func bind(f *pflag.FlagSet, key, flag string) {
	if err := viper.BindPFlag(key, f.Lookup(flag)); err != nil {
		panic(err)
	}
}

func setup(cmd *cobra.Command, args []string) error {
	c, err := config.Load(viper.GetViper(), cfgFile)
	if err != nil {
		return err
	}
	cfg = c

	logger = newLogger(cfg.Log)
	slog.SetDefault(logger)

	shutdownTracing, err = telemetry.Init(cmd.Context(), telemetry.Options{
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version.Current,
		Endpoint:       cfg.Telemetry.Endpoint,
		SampleRatio:    cfg.Telemetry.SampleRatio,
	})
	return err
}

// newLogger writes to stderr so result output on stdout stays clean.
func newLogger(c config.LogConfig) *slog.Logger {
	var level slog.Level
	if err := level.UnmarshalText([]byte(c.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level, ReplaceAttr: engine.RedactSensitiveData}
	if c.Format == "text" {
		return slog.New(slog.NewTextHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewJSONHandler(os.Stderr, opts))
}

var (
	titleStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#00FF99")).MarginBottom(1)
	flagStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#AAAAAA"))
	okStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#00FF99"))
	warnStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#F59E0B"))
	errStyle   = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#FF5555"))
)

func renderHelp(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, titleStyle.Render(fmt.Sprintf("GRANDISO %s", version.Current)))
	if cmd.Long != "" {
		fmt.Fprintln(out, cmd.Long)
	} else {
		fmt.Fprintln(out, cmd.Short)
	}
	fmt.Fprintln(out)

	fmt.Fprintln(out, titleStyle.Render("USAGE"))
	fmt.Fprintf(out, "  %s\n\n", cmd.UseLine())

	if cmd.HasAvailableSubCommands() {
		fmt.Fprintln(out, titleStyle.Render("COMMANDS"))
		for _, c := range cmd.Commands() {
			if c.IsAvailableCommand() {
				fmt.Fprintf(out, "  %-12s %s\n", c.Name(), c.Short)
			}
		}
		fmt.Fprintln(out)
	}

	fmt.Fprintln(out, titleStyle.Render("FLAGS"))
	show := func(f *pflag.Flag) {
		if f.Hidden {
			return
		}
		line := fmt.Sprintf("  --%-18s %s", f.Name, f.Usage)
		if f.DefValue != "" && f.DefValue != "false" && f.DefValue != "0" && f.DefValue != "[]" {
			line += fmt.Sprintf(" (default %s)", f.DefValue)
		}
		fmt.Fprintln(out, flagStyle.Render(line))
	}
	cmd.LocalFlags().VisitAll(show)
	cmd.InheritedFlags().VisitAll(show)
	fmt.Fprintln(out)
}
