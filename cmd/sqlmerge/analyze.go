package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yang-zhuang/sqlmerge/internal/analyze"
	"github.com/yang-zhuang/sqlmerge/internal/logging"
)

var (
	analyzeInputPath string
	analyzeExtension string
	analyzeReport    string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Survey the source databases before merging",
	Long: `Analyze opens every source database the merge would pick up and records
its tables, row counts and columns in a JSON report. A summary is printed.`,
	Args: cobra.NoArgs,
	RunE: runAnalyze,
}

func init() {
	analyzeCmd.Flags().StringVarP(&analyzeInputPath, "input-path", "i", "", "Directory holding one subdirectory per source database")
	analyzeCmd.Flags().StringVar(&analyzeExtension, "extension", "", "Source database file extension (default: .sqlite)")
	analyzeCmd.Flags().StringVar(&analyzeReport, "report", analyze.DefaultReportFile, "JSON report file")
	rootCmd.AddCommand(analyzeCmd)
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("input-path") {
		cfg.InputPath = analyzeInputPath
	}
	if cmd.Flags().Changed("extension") {
		cfg.Extension = analyzeExtension
	}
	if cfg.InputPath == "" {
		return fmt.Errorf("input path is required")
	}

	logger := logging.NewConsole(cmd.ErrOrStderr(), cfg.Verbose)
	defer func() { _ = logger.Sync() }()

	entries, err := analyze.ScanDatabases(cmd.Context(), cfg.InputPath, cfg.Extension, logger)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if err := analyze.Summarize(entries).Write(out); err != nil {
		return err
	}
	fmt.Fprintln(out)
	if err := analyze.WriteListing(out, entries, 3); err != nil {
		return err
	}

	if err := analyze.WriteJSON(analyzeReport, entries); err != nil {
		return err
	}
	logger.Info("analysis written", zap.String("path", analyzeReport), zap.Int("databases", len(entries)))
	return nil
}
