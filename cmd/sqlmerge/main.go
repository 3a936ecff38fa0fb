package main

import (
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/yang-zhuang/sqlmerge/internal/config"
)

var (
	configPath string
	verbose    bool
)

var rootCmd = &cobra.Command{
	Use:   "sqlmerge",
	Short: "Merge a corpus of SQLite databases into one",
	Long: `sqlmerge consolidates many small SQLite databases into a single file,
renaming tables whose names collide and recording the origin of every table
in merge_metadata and merge_conflicts. It can also survey a corpus before
merging and describe any SQLite file, the merged one included.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file (default: $SQLMERGE_CONFIG or ./sqlmerge.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
}

// loadConfig loads the layered config and applies the persistent flags
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if cmd.Flags().Changed("verbose") {
		cfg.Verbose = verbose
	}
	return cfg, nil
}

// parseTableList splits a comma-separated flag value, dropping empty entries
func parseTableList(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, t := range strings.Split(s, ",") {
		if t = strings.TrimSpace(t); t != "" {
			out = append(out, t)
		}
	}
	return out
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
