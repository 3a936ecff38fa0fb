package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yang-zhuang/sqlmerge"
	"github.com/yang-zhuang/sqlmerge/internal/formatter"
)

var (
	sqlitePath     string
	outputFile     string
	outputDir      string
	tables         string
	excludeTables  string
	format         string
	splitThreshold int
	includeAudit   bool
)

var describeCmd = &cobra.Command{
	Use:   "describe [database]",
	Short: "Describe the schema of a SQLite database",
	Long: `Describe prints the tables of a SQLite file as text, markdown or the
CREATE TABLE statements the merge would use. Without a database argument the
configured output database is described.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDescribe,
}

func init() {
	describeCmd.Flags().StringVar(&sqlitePath, "sqlite", "", "SQLite database file path")
	describeCmd.Flags().StringVarP(&outputFile, "output", "o", "", "Output file (default: stdout)")
	describeCmd.Flags().StringVarP(&outputDir, "output-dir", "d", "", "Output directory for multi-file output")
	describeCmd.Flags().StringVarP(&tables, "tables", "t", "", "Specific tables (comma-separated, optional)")
	describeCmd.Flags().StringVarP(&excludeTables, "exclude", "x", "", "Tables to leave out (comma-separated)")
	describeCmd.Flags().StringVarP(&format, "format", "f", formatter.FormatText, "Output format: text, markdown or sql")
	describeCmd.Flags().IntVar(&splitThreshold, "split-threshold", 0, "Split into multiple files when table count exceeds this (requires --output-dir)")
	describeCmd.Flags().BoolVar(&includeAudit, "include-audit", false, "Keep merge_metadata and merge_conflicts")
	rootCmd.AddCommand(describeCmd)
}

func runDescribe(cmd *cobra.Command, args []string) error {
	if outputDir != "" && outputFile != "" {
		return fmt.Errorf("cannot use both --output-dir and --output flags")
	}
	if len(args) == 1 && sqlitePath != "" {
		return fmt.Errorf("give the database either as an argument or with --sqlite, not both")
	}

	path := sqlitePath
	if len(args) == 1 {
		path = args[0]
	}
	if path == "" {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		path = cfg.OutputDB
	}

	s, err := sqlmerge.ExtractSchema(cmd.Context(), path, &sqlmerge.Options{
		Tables:             parseTableList(tables),
		ExcludeTables:      parseTableList(excludeTables),
		IncludeAuditTables: includeAudit,
	})
	if err != nil {
		return err
	}
	for _, o := range s.Omitted {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: table %s omitted: %s\n", o.Name, o.Err)
	}

	// Multi-file output
	if outputDir != "" && (splitThreshold == 0 || len(s.Tables) > splitThreshold) {
		if err := sqlmerge.FormatSchema(s, &sqlmerge.OutputOptions{OutputDir: outputDir, Format: format}); err != nil {
			return fmt.Errorf("failed to format output: %w", err)
		}
		return nil
	}

	// Single-file output
	writer := cmd.OutOrStdout()
	if outputFile != "" {
		f, err := os.Create(outputFile)
		if err != nil {
			return fmt.Errorf("failed to create output file: %w", err)
		}
		defer func() {
			if err := f.Close(); err != nil {
				fmt.Fprintf(cmd.ErrOrStderr(), "warning: failed to close output file: %v\n", err)
			}
		}()
		writer = f
	}

	if err := sqlmerge.FormatSchema(s, &sqlmerge.OutputOptions{Writer: writer, Format: format}); err != nil {
		return fmt.Errorf("failed to format output: %w", err)
	}
	return nil
}
