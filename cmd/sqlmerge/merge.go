package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/yang-zhuang/sqlmerge"
	"github.com/yang-zhuang/sqlmerge/internal/config"
	"github.com/yang-zhuang/sqlmerge/internal/logging"
	"github.com/yang-zhuang/sqlmerge/internal/merge"
)

var (
	mergeInputPath  string
	mergeOutputDB   string
	mergeLogFile    string
	mergeReportDir  string
	mergeExtension  string
	mergeMaxLen     int
	mergeDisableFKs bool
)

var mergeCmd = &cobra.Command{
	Use:   "merge",
	Short: "Merge every database under the input path",
	Long: `Merge discovers <input>/<name>/<name><ext> databases and copies their
tables into one output database. An existing output database is replaced;
the JSON report is written next to earlier ones, never over them.`,
	Args: cobra.NoArgs,
	RunE: runMerge,
}

func init() {
	addMergeFlags(mergeCmd)
	rootCmd.AddCommand(mergeCmd)
}

func addMergeFlags(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&mergeInputPath, "input-path", "i", "", "Directory holding one subdirectory per source database")
	cmd.Flags().StringVarP(&mergeOutputDB, "output-db", "o", "", "Merged database file (default: report/merged.sqlite)")
	cmd.Flags().StringVar(&mergeLogFile, "log-file", "", "Append-only log file (default: report/sqlite_merge_log.txt)")
	cmd.Flags().StringVar(&mergeReportDir, "report-dir", "", "Directory for the JSON report (default: .)")
	cmd.Flags().StringVar(&mergeExtension, "extension", "", "Source database file extension (default: .sqlite)")
	cmd.Flags().IntVar(&mergeMaxLen, "table-prefix-max-len", 0, "Maximum length of a renamed table (default: 50)")
	cmd.Flags().BoolVar(&mergeDisableFKs, "disable-foreign-keys", false, "Do not enforce foreign keys on the merged database")
}

// applyMergeFlags overrides cfg with the flags given on the command line
func applyMergeFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("input-path") {
		cfg.InputPath = mergeInputPath
	}
	if flags.Changed("output-db") {
		cfg.OutputDB = mergeOutputDB
	}
	if flags.Changed("log-file") {
		cfg.LogFile = mergeLogFile
	}
	if flags.Changed("report-dir") {
		cfg.ReportDir = mergeReportDir
	}
	if flags.Changed("extension") {
		cfg.Extension = mergeExtension
	}
	if flags.Changed("table-prefix-max-len") {
		cfg.TableNameMaxLen = mergeMaxLen
	}
	if flags.Changed("disable-foreign-keys") {
		cfg.EnableForeignKeys = !mergeDisableFKs
	}
}

func runMerge(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	applyMergeFlags(cmd, cfg)
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger, closeLog, err := logging.New(logging.Options{
		LogFile: cfg.LogFile,
		Verbose: cfg.Verbose,
		Console: cmd.ErrOrStderr(),
	})
	if err != nil {
		return fmt.Errorf("%w: %w", merge.ErrOutputPath, err)
	}
	defer func() { _ = closeLog() }()

	sess, err := sqlmerge.Merge(cmd.Context(), cfg, logger)
	if err != nil {
		logger.Error("merge failed", zap.Error(err))
		return err
	}

	s := sess.Stats
	fmt.Fprintf(cmd.OutOrStdout(), "Merged %d of %d databases into %s: %d tables, %d rows, %d conflicts resolved\n",
		s.SuccessfulMerges, s.TotalDatabases, cfg.OutputDB, s.TotalTables, s.TotalRows, s.Conflicts)
	return nil
}
