package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	configPath string
	dbDriver   string
	dbDSN      string
	sourcesDir string
	parseFlag  bool
)

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "corpus.yaml", "Path to config file")
	pf.StringVar(&dbDriver, "db-driver", "", "Database driver: sqlite or pgx (overrides config)")
	pf.StringVar(&dbDSN, "db", "", "Database DSN (overrides config)")
	pf.StringVarP(&sourcesDir, "sources", "s", "", "Corpus sources directory (overrides config)")
	pf.BoolVar(&parseFlag, "parse", false, "Parse records of data files (overrides config)")
}

var rootCmd = &cobra.Command{
	Use:           "corpus",
	Short:         "Corpus: registry export ingestion over a persistent source tree",
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
