package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yang-zhuang/sqlmerge/internal/analyze"
	"github.com/yang-zhuang/sqlmerge/internal/logging"
)

var (
	schemasInputPath string
	schemasCSV       string
)

var schemasCmd = &cobra.Command{
	Use:   "schemas",
	Short: "Count the tables declared by schema.sql files",
	Long: `Schemas walks the input path for schema.sql files and counts the CREATE
TABLE statements in each, without opening any database. The counts are
written as CSV.`,
	Args: cobra.NoArgs,
	RunE: runSchemas,
}

func init() {
	schemasCmd.Flags().StringVarP(&schemasInputPath, "input-path", "i", "", "Directory to search for schema.sql files")
	schemasCmd.Flags().StringVar(&schemasCSV, "csv", analyze.DefaultCSVFile, "CSV output file")
	rootCmd.AddCommand(schemasCmd)
}

func runSchemas(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("input-path") {
		cfg.InputPath = schemasInputPath
	}
	if cfg.InputPath == "" {
		return fmt.Errorf("input path is required")
	}

	logger := logging.NewConsole(cmd.ErrOrStderr(), cfg.Verbose)
	defer func() { _ = logger.Sync() }()

	entries, err := analyze.ScanSchemaFiles(cfg.InputPath, logger)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if err := analyze.Summarize(entries).Write(out); err != nil {
		return err
	}
	fmt.Fprintln(out)
	if err := analyze.WriteListing(out, entries, 2); err != nil {
		return err
	}

	if err := analyze.WriteCSV(schemasCSV, entries); err != nil {
		return err
	}
	logger.Info("table counts written", zap.String("path", schemasCSV), zap.Int("schemas", len(entries)))
	return nil
}
