package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Audit table names. They are always reserved, whatever the config says.
const (
	MetadataTable  = "merge_metadata"
	ConflictsTable = "merge_conflicts"
)

// DefaultFile is read from the working directory when no config path is given
const DefaultFile = "sqlmerge.yaml"

// MinTableNameMaxLen is the smallest usable resolved-name budget
const MinTableNameMaxLen = 8

// Config represents the merge configuration
type Config struct {
	InputPath         string   `yaml:"input_path"`
	OutputDB          string   `yaml:"output_db"`
	LogFile           string   `yaml:"log_file"`
	ReportDir         string   `yaml:"report_dir"`
	TableNameMaxLen   int      `yaml:"table_name_max_len"`
	EnableForeignKeys bool     `yaml:"enable_foreign_keys"`
	ReservedTables    []string `yaml:"reserved_tables"`
	Extension         string   `yaml:"extension"`
	Verbose           bool     `yaml:"verbose"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		OutputDB:          filepath.Join("report", "merged.sqlite"),
		LogFile:           filepath.Join("report", "sqlite_merge_log.txt"),
		ReportDir:         ".",
		TableNameMaxLen:   50,
		EnableForeignKeys: true,
		ReservedTables:    []string{MetadataTable, ConflictsTable},
		Extension:         ".sqlite",
	}
}

// Load loads configuration from multiple sources with precedence:
// 1. Environment variables (SQLMERGE_*)
// 2. ./.env.local (dotenv) - walks up parent directories to find it
// 3. The YAML file at path, $SQLMERGE_CONFIG, or ./sqlmerge.yaml
// 4. Built-in defaults
//
// An explicitly named YAML file must exist; the implicit one is optional.
func Load(path string) (*Config, error) {
	cfg := Default()

	if envPath := findEnvLocal(); envPath != "" {
		_ = godotenv.Load(envPath)
	}

	explicit := path != ""
	if !explicit {
		path = os.Getenv("SQLMERGE_CONFIG")
		explicit = path != ""
	}
	if !explicit {
		path = DefaultFile
	}
	if err := loadYAMLConfig(cfg, path); err != nil {
		if explicit || !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("failed to load config %s: %w", path, err)
		}
	}

	if err := applyEnv(cfg); err != nil {
		return nil, err
	}

	cfg.ReservedTables = withAuditTables(cfg.ReservedTables)
	return cfg, nil
}

// Validate checks the values the merge depends on
func (c *Config) Validate() error {
	if c.InputPath == "" {
		return fmt.Errorf("input path is required")
	}
	if c.OutputDB == "" {
		return fmt.Errorf("output database path is required")
	}
	if c.LogFile == "" {
		return fmt.Errorf("log file path is required")
	}
	if c.TableNameMaxLen < MinTableNameMaxLen {
		return fmt.Errorf("table name max length must be at least %d, got %d", MinTableNameMaxLen, c.TableNameMaxLen)
	}
	if !strings.HasPrefix(c.Extension, ".") || len(c.Extension) < 2 {
		return fmt.Errorf("extension must start with a dot, got %q", c.Extension)
	}
	return nil
}

// loadYAMLConfig overlays the YAML file at path onto cfg
func loadYAMLConfig(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("SQLMERGE_INPUT_PATH"); v != "" {
		cfg.InputPath = v
	}
	if v := os.Getenv("SQLMERGE_OUTPUT_DB"); v != "" {
		cfg.OutputDB = v
	}
	if v := os.Getenv("SQLMERGE_LOG_FILE"); v != "" {
		cfg.LogFile = v
	}
	if v := os.Getenv("SQLMERGE_REPORT_DIR"); v != "" {
		cfg.ReportDir = v
	}
	if v := os.Getenv("SQLMERGE_EXTENSION"); v != "" {
		cfg.Extension = v
	}
	if v := os.Getenv("SQLMERGE_TABLE_NAME_MAX_LEN"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid SQLMERGE_TABLE_NAME_MAX_LEN %q: %w", v, err)
		}
		cfg.TableNameMaxLen = n
	}
	if v := os.Getenv("SQLMERGE_ENABLE_FOREIGN_KEYS"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid SQLMERGE_ENABLE_FOREIGN_KEYS %q: %w", v, err)
		}
		cfg.EnableForeignKeys = b
	}
	if v := os.Getenv("SQLMERGE_VERBOSE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("invalid SQLMERGE_VERBOSE %q: %w", v, err)
		}
		cfg.Verbose = b
	}
	return nil
}

// withAuditTables appends the audit table names when missing
func withAuditTables(reserved []string) []string {
	out := append([]string(nil), reserved...)
	for _, name := range []string{MetadataTable, ConflictsTable} {
		found := false
		for _, r := range out {
			if strings.EqualFold(r, name) {
				found = true
				break
			}
		}
		if !found {
			out = append(out, name)
		}
	}
	return out
}

// findEnvLocal searches for .env.local starting from cwd and walking up
// parent directories. Stops at the user's home directory.
func findEnvLocal() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	homeDir, _ := os.UserHomeDir()
	homeDir = filepath.Clean(homeDir)
	dir := filepath.Clean(cwd)

	for {
		envPath := filepath.Join(dir, ".env.local")
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}

		if dir == homeDir {
			break
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}

	return ""
}
