// Package commands implements the CLI commands for snap.
package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/spf13/cobra"

	"github.com/thoreinstein/snap/cmd"
	"github.com/thoreinstein/snap/internal/config"
	"github.com/thoreinstein/snap/internal/engine"
	snaperrors "github.com/thoreinstein/snap/internal/errors"
	"github.com/thoreinstein/snap/internal/logging"
)

// skipConfigAnnotation marks commands that run without loading config.
const skipConfigAnnotation = "snap/skip-config"

// verbosity holds the count of -v flags.
var verbosity int

// quiet holds the value of the -q/--quiet flag.
var quiet bool

// logFormat holds the value of the --log-format flag.
var logFormat string

// logFile holds the path to the log file.
var logFile string

// configFile holds the value of the --config flag.
var configFile string

// timeout holds the value of the --timeout flag.
var timeout time.Duration

// loaded is the configuration for the running command.
var loaded *config.Config

// logCloser closes the --log-file handle after the command finishes.
var logCloser io.Closer

func init() {
	rootCmd.PersistentFlags().CountVarP(&verbosity, "verbose", "v",
		"increase verbosity level (e.g., -v, -vv)")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false,
		"suppress non-error output")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "text",
		"log format: text, json")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "",
		"write logs to file in JSON format")
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "",
		"config file (default: ./config.yaml, then $XDG_CONFIG_HOME/snap/config.yaml)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 0,
		"abort the operation after this long (e.g., 30s, 5m); overrides config")

	rootCmd.Version = cmd.Info().Version
	rootCmd.SetVersionTemplate("snap version {{.Version}}\n")

	// Silence errors and usage so we can control error output
	rootCmd.SilenceErrors = true
	rootCmd.SilenceUsage = true
}

var rootCmd = &cobra.Command{
	Use:   "snap",
	Short: "Point-in-time archives of directories and backups of files",
	Long: `snap takes point-in-time snapshots of your work.

Directories become compressed zip archives named by time, git revision, and
an optional note; single files become timestamped copies in a backup tree
that mirrors where they live. Nothing is written when the source has not
changed since its latest snapshot, and nothing half-written is ever left
behind.`,
	Example: `  # Archive the current directory
  snap archive --note "before refactor"

  # Archive only what changed since the last full archive
  snap archive ~/src/site --incremental

  # Back up a file
  snap backup ~/.zshrc

  # Check an archive
  snap verify --checksums

  See Also: snap list, snap config init`,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		if err := setupLogging(cmd); err != nil {
			return err
		}
		if cmd.Annotations[skipConfigAnnotation] != "" || cmd.Name() == "help" {
			return nil
		}
		return loadConfig(cmd)
	},
	PersistentPostRunE: func(_ *cobra.Command, _ []string) error {
		if logCloser != nil {
			err := logCloser.Close()
			logCloser = nil
			return errors.Wrap(err, "closing log file")
		}
		return nil
	},
	Run: func(cmd *cobra.Command, _ []string) {
		_ = cmd.Help()
	},
}

// setupLogging configures the default logger based on verbosity flags.
func setupLogging(cmd *cobra.Command) error {
	if quiet && verbosity > 0 {
		return snaperrors.NewUserError(errors.New("cannot use --quiet and --verbose together"), "pick one of -q or -v")
	}

	var level slog.Level
	if quiet {
		level = slog.LevelError
	} else {
		v := verbosity

		// CLI flags take precedence, but if not set, check env var
		if v == 0 {
			if val, ok := os.LookupEnv("SNAP_DEBUG"); ok {
				switch val {
				case "1", "true":
					v = 2 // Debug
				case "2":
					v = 3 // Trace
				}
			}
		}
		level = logging.LevelFromVerbosity(v)
	}

	opts := &slog.HandlerOptions{
		Level: level,
	}

	var primaryHandler slog.Handler
	switch logging.Format(logFormat) {
	case logging.FormatJSON:
		primaryHandler = slog.NewJSONHandler(cmd.ErrOrStderr(), opts)
	case logging.FormatText:
		primaryHandler = logging.NewHandler(cmd.ErrOrStderr(), opts)
	default:
		return snaperrors.NewUserError(errors.Newf("unknown log format %q", logFormat), "use --log-format text or json")
	}

	handlers := []slog.Handler{primaryHandler}

	if logFile != "" {
		f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0600)
		if err != nil {
			return snaperrors.NewUserError(err, "failed to open log file")
		}
		logCloser = f
		// File output uses JSON format
		handlers = append(handlers, slog.NewJSONHandler(f, &slog.HandlerOptions{
			Level: level,
		}))
	}

	var handler slog.Handler
	if len(handlers) > 1 {
		handler = logging.NewMultiHandler(handlers...)
	} else {
		handler = handlers[0]
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	cmd.SetContext(logging.NewContext(ctx, logger))

	return nil
}

// loadConfig reads configuration and applies flag overrides.
func loadConfig(cmd *cobra.Command) error {
	config.Init()
	cfg, err := config.Load(configFile)
	if err != nil {
		return snaperrors.NewConfigError(err)
	}
	if cmd.Flags().Changed("timeout") {
		if timeout < 0 {
			return snaperrors.NewUserError(errors.Newf("negative --timeout %s", timeout), "use a positive duration such as 30s")
		}
		cfg.Timeout = timeout
	}
	loaded = cfg
	return nil
}

// newEngine builds an engine from the loaded configuration.
func newEngine(cmd *cobra.Command) (*engine.Engine, error) {
	if loaded == nil {
		return nil, snaperrors.NewConfigError(errors.New("configuration not loaded"))
	}
	return engine.New(loaded, engine.WithLogger(logging.FromContext(cmd.Context())))
}

// Execute runs the root command and returns the process exit code.
func Execute(ctx context.Context) int {
	return execute(ctx, rootCmd.ErrOrStderr(), nil)
}

// execute runs the root command with args (nil means os.Args) and reports
// any error to w.
func execute(ctx context.Context, w io.Writer, args []string) int {
	if args != nil {
		rootCmd.SetArgs(args)
	}
	err := rootCmd.ExecuteContext(ctx)
	if logCloser != nil {
		_ = logCloser.Close()
		logCloser = nil
	}
	return report(w, err)
}

// report prints err, with its suggestion if any, and maps it to an exit
// code. An ExitError without a cause carries a code only and prints nothing.
func report(w io.Writer, err error) int {
	if err == nil {
		return snaperrors.ExitSuccess
	}
	var exitErr *snaperrors.ExitError
	if errors.As(err, &exitErr) {
		if exitErr.Err != nil {
			fmt.Fprintf(w, "Error: %v\n", exitErr.Err)
		}
		if exitErr.Suggestion != "" {
			fmt.Fprintf(w, "Hint: %s\n", exitErr.Suggestion)
		}
		return exitErr.Code
	}
	fmt.Fprintf(w, "Error: %v\n", err)
	// Engine errors are always classified; anything else is a usage error
	// raised by cobra or the command layer.
	if snaperrors.KindOf(err) == snaperrors.KindUnknown {
		return snaperrors.ExitUser
	}
	return snaperrors.ExitCode(err)
}
