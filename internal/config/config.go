package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration
type Config struct {
	General       GeneralConfig       `toml:"general"`
	Logging       LoggingConfig       `toml:"logging"`
	Notifications NotificationsConfig `toml:"notifications"`
	Metrics       MetricsConfig       `toml:"metrics"`
	Schedule      ScheduleConfig      `toml:"schedule"`
	Samples       []SampleConfig      `toml:"samples"`
}

// GeneralConfig holds the run-wide pipeline settings
type GeneralConfig struct {
	GenomeFolder      string `toml:"genome_folder"`
	UtilsFolder       string `toml:"utils_folder"`
	SkipFilter        bool   `toml:"skip_filter"`
	ParallelNum       int    `toml:"parallel_num"`
	ParallelAlignment int    `toml:"parallel_alignment"`
	ScriptInterpreter string `toml:"script_interpreter"`
	DatabasePath      string `toml:"database_path"`
	SamplesFile       string `toml:"samples_file"`
}

// SampleConfig describes one sample as written in the config or a sample sheet.
// Input paths may contain the {sample_name} placeholder.
type SampleConfig struct {
	SampleName string `toml:"sample_name" yaml:"sample_name"`
	GroupName  string `toml:"group_name" yaml:"group_name"`
	Input1     string `toml:"input_1" yaml:"input_1"`
	Input2     string `toml:"input_2" yaml:"input_2"`
	OutputDir  string `toml:"output_dir" yaml:"output_dir"`
	LogDir     string `toml:"log_dir" yaml:"log_dir"`
	ReportDir  string `toml:"report_dir" yaml:"report_dir"`
}

// LoggingConfig holds diagnostic logging settings
type LoggingConfig struct {
	Verbose bool   `toml:"verbose"`
	File    string `toml:"file"`
}

// NotificationsConfig holds notification settings
type NotificationsConfig struct {
	Desktop      bool   `toml:"desktop"`
	SlackWebhook string `toml:"slack_webhook"`
}

// MetricsConfig holds metrics export settings
type MetricsConfig struct {
	Textfile string `toml:"textfile"`
}

// ScheduleConfig holds settings for unattended runs
type ScheduleConfig struct {
	Cron  string `toml:"cron"`
	Watch bool   `toml:"watch"`
}

// Defaults for optional settings
const (
	DefaultParallelNum       = 30
	DefaultParallelAlignment = 4
	DefaultUtilsFolder       = "."
	DefaultInterpreter       = "bash"
)

// Default returns a Config with sensible defaults
func Default() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		General: GeneralConfig{
			UtilsFolder:       DefaultUtilsFolder,
			ParallelNum:       DefaultParallelNum,
			ParallelAlignment: DefaultParallelAlignment,
			ScriptInterpreter: DefaultInterpreter,
			DatabasePath:      filepath.Join(home, ".methyl-orch", "runs.db"),
		},
	}
}

// Load reads configuration from a TOML file, falling back to defaults when
// the file does not exist. Unknown keys are rejected.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, err
	}

	dec := toml.NewDecoder(bytes.NewReader(data)).DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		var strict *toml.StrictMissingError
		if errors.As(err, &strict) {
			return nil, fmt.Errorf("%w: %s: unknown keys:\n%s", ErrInvalid, path, strict.String())
		}
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	// Expand paths
	cfg.General.GenomeFolder = ExpandPath(cfg.General.GenomeFolder)
	cfg.General.UtilsFolder = ExpandPath(cfg.General.UtilsFolder)
	cfg.General.DatabasePath = ExpandPath(cfg.General.DatabasePath)
	cfg.General.SamplesFile = ExpandPath(cfg.General.SamplesFile)
	cfg.Logging.File = ExpandPath(cfg.Logging.File)
	cfg.Metrics.Textfile = ExpandPath(cfg.Metrics.Textfile)

	return cfg, nil
}

// ExpandPath expands ~ to the user's home directory
func ExpandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[2:])
	}
	return path
}

// DefaultConfigPath returns the default config file location
func DefaultConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "methyl-orch", "config.toml")
}
