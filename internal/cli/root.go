package cli

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/me/weaver/internal/logging"
)

var (
	flagServer    string
	flagDebug     bool
	flagLogLevel  string
	flagLogFormat string

	logger *slog.Logger
	client *Client
)

// defaultServer returns the default server URL, checking WEAVER_SERVER env var first.
func defaultServer() string {
	if s := os.Getenv("WEAVER_SERVER"); s != "" {
		return s
	}
	return "http://localhost:8080"
}

// NewRootCmd creates the root cobra command for the weaver CLI.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "weaver",
		Short: "Weaver client for OGC API Processes",
		Long:  "weaver deploys CWL application packages to a Weaver server, executes them and follows their jobs.",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if flagDebug {
				flagLogLevel = "debug"
			}
			logger = logging.NewLoggerWithWriter(logging.ParseLevel(flagLogLevel), flagLogFormat, cmd.ErrOrStderr())
			client = NewClient(flagServer, logger)
		},
		SilenceUsage: true,
	}

	root.PersistentFlags().StringVar(&flagServer, "server", defaultServer(), "Weaver server URL (or WEAVER_SERVER env)")
	root.PersistentFlags().BoolVar(&flagDebug, "debug", false, "Enable debug logging")
	root.PersistentFlags().StringVar(&flagLogLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&flagLogFormat, "log-format", "text", "Log format (text, json)")

	root.AddCommand(
		newDeployCmd(),
		newUndeployCmd(),
		newDescribeCmd(),
		newProcessesCmd(),
		newExecuteCmd(),
		newStatusCmd(),
		newJobsCmd(),
		newResultsCmd(),
		newLogsCmd(),
		newDismissCmd(),
	)

	return root
}
