// Package cli implements the recover command line tool.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/JonMunkholm/sophia/internal/config"
	"github.com/JonMunkholm/sophia/internal/core"
	"github.com/JonMunkholm/sophia/internal/logging"
	"github.com/JonMunkholm/sophia/internal/recovery"
)

// Execute runs the root command and exits with status 1 on failure.
func Execute() {
	cmd := NewRootCmd(os.Getenv)
	if err := cmd.ExecuteContext(context.Background()); err != nil {
		reportError(cmd.ErrOrStderr(), err)
		os.Exit(1)
	}
}

// reportError prints err and, when it is a known failure, the support code
// with a hint.
func reportError(w io.Writer, err error) {
	fmt.Fprintf(w, "Error: %v\n", err)
	if core.IsUserFacing(err) {
		fmt.Fprintln(w, core.FormatUserError(err))
	}
}

// settings are the flags shared by every command. Each one overrides the
// environment variable of the same setting.
type settings struct {
	outer          string
	inner          string
	encoding       string
	outputEncoding string
	skipSample     string
	logLevel       string
	logFormat      string
}

// flagEnv maps persistent flags to the variables read by config.Load.
var flagEnv = map[string]string{
	"outer":           "OUTER_DELIMITER",
	"inner":           "INNER_DELIMITER",
	"encoding":        "RECOVER_ENCODING",
	"output-encoding": "RECOVER_OUTPUT_ENCODING",
	"skip-sample":     "RECOVER_SKIP_SAMPLE",
	"log-level":       "LOG_LEVEL",
	"log-format":      "LOG_FORMAT",
}

// NewRootCmd builds the command tree. getenv supplies the environment; flags
// set on the command line take precedence over it.
func NewRootCmd(getenv func(string) string) *cobra.Command {
	var s settings
	var in, out, format, xlsx string

	cmd := &cobra.Command{
		Use:   "recover",
		Short: "Recover the records of a damaged ;-framed CSV export",
		Long: "recover reads an export whose physical lines are wrapped in an outer\n" +
			"delimiter, rebuilds the inner CSV, drops malformed lines and writes a\n" +
			"clean table. Without a subcommand it behaves like \"recover run\".",
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runRecover(cmd, getenv, in, out, format, xlsx)
		},
	}

	pf := cmd.PersistentFlags()
	pf.StringVar(&s.outer, "outer", "", `Outer delimiter framing each line, or "none" (env OUTER_DELIMITER, default ;)`)
	pf.StringVar(&s.inner, "inner", "", `Inner field delimiter (env INNER_DELIMITER, default ,)`)
	pf.StringVar(&s.encoding, "encoding", "", "Input encoding (env RECOVER_ENCODING, default latin1)")
	pf.StringVar(&s.outputEncoding, "output-encoding", "", "Output encoding (env RECOVER_OUTPUT_ENCODING, default utf-8)")
	pf.StringVar(&s.skipSample, "skip-sample", "", "Dropped lines kept in the summary, -1 for none (env RECOVER_SKIP_SAMPLE, default 20)")
	pf.StringVar(&s.logLevel, "log-level", "", "Log level: debug, info, warn, error (env LOG_LEVEL)")
	pf.StringVar(&s.logFormat, "log-format", "", "Log format: text or json (env LOG_FORMAT)")

	addRunFlags(cmd, &in, &out, &format, &xlsx)

	cmd.AddCommand(runCmd(getenv))
	cmd.AddCommand(inspectCmd(getenv))
	cmd.AddCommand(encodingsCmd())
	return cmd
}

// loadConfig reads the configuration with the command's persistent flags laid
// over getenv.
func loadConfig(cmd *cobra.Command, getenv func(string) string) (*config.Config, error) {
	overrides := make(map[string]string)
	for flag, env := range flagEnv {
		f := cmd.Flags().Lookup(flag)
		if f != nil && f.Changed {
			overrides[env] = f.Value.String()
		}
	}
	return config.LoadFrom(func(key string) string {
		if v, ok := overrides[key]; ok {
			return v
		}
		return getenv(key)
	})
}

// newParser builds the parser and a logger writing to the command's stderr.
func newParser(cmd *cobra.Command, cfg *config.Config) (*recovery.Parser, *slog.Logger, error) {
	logger := logging.New(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)

	opts, err := cfg.Recovery.ParserOptions()
	if err != nil {
		return nil, nil, err
	}
	p, err := recovery.New(opts, logger)
	if err != nil {
		return nil, nil, err
	}
	return p, logger, nil
}
