// Command importctl analyzes files locally and talks to an importd service.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

// DefaultPollInterval is how often status polls the service.
const DefaultPollInterval = 1000 * time.Millisecond

type rootOptions struct {
	cfgFile string
	server  string
	verbose bool
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "importctl",
		Short:         "Analyze tabular files and follow import jobs",
		Long:          "importctl runs the import analysis on local CSV/XLS/XLSX files, uploads files to an importd service and follows their jobs until they finish.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	serverDefault := os.Getenv("TABIMPORT_SERVER")
	if serverDefault == "" {
		serverDefault = "http://localhost:8080"
	}
	root.PersistentFlags().StringVar(&opts.cfgFile, "config", "", "config file (default ./tabimport.yaml when present)")
	root.PersistentFlags().StringVar(&opts.server, "server", serverDefault, "importd base URL (env TABIMPORT_SERVER)")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "log pipeline stages to stderr")

	root.AddCommand(newAnalyzeCmd(opts), newUploadCmd(opts), newStatusCmd(opts))
	return root
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
