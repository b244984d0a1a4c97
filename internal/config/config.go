package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory configuration.
type Paths struct {
	LibraryDir string `toml:"library_dir"`
	CacheDir   string `toml:"cache_dir"`
	OutputDir  string `toml:"output_dir"`
	LogDir     string `toml:"log_dir"`
	StateDir   string `toml:"state_dir"`
}

// Render contains render engine configuration.
type Render struct {
	// Engines is the preference order used when picking a render engine.
	// Known names: hardware, external, softsynth.
	Engines       []string `toml:"engines"`
	MaxSeconds    int      `toml:"max_seconds"`
	SampleRate    int      `toml:"sample_rate"`
	ChipModel     string   `toml:"chip_model"`
	RenderTimeout int      `toml:"render_timeout"`

	ExternalBinary string   `toml:"external_binary"`
	ExternalArgs   []string `toml:"external_args"`

	FlacBinary string `toml:"flac_binary"`
	LameBinary string `toml:"lame_binary"`
	EncodeFlac bool   `toml:"encode_flac"`
	EncodeMp3  bool   `toml:"encode_mp3"`
}

// Hardware contains real-hardware capture configuration.
type Hardware struct {
	ControlURL    string  `toml:"control_url"`
	StreamBind    string  `toml:"stream_bind"`
	MaxLossRate   float64 `toml:"max_loss_rate"`
	StreamTimeout int     `toml:"stream_timeout"`
}

// Analysis contains feature extraction configuration.
type Analysis struct {
	WindowSeconds    int `toml:"window_seconds"`
	IntroSkipSeconds int `toml:"intro_skip_seconds"`
	AnalysisRate     int `toml:"analysis_rate"`
	Workers          int `toml:"workers"`
	JobTimeout       int `toml:"job_timeout"`
}

// Predict contains rating predictor configuration.
type Predict struct {
	ModelPath         string `toml:"model_path"`
	ManualRatingsPath string `toml:"manual_ratings_path"`
}

// Workflow contains pipeline timing and concurrency configuration.
type Workflow struct {
	Lanes             int  `toml:"lanes"`
	HeartbeatInterval int  `toml:"heartbeat_interval"`
	StallTimeout      int  `toml:"stall_timeout"`
	StallAbort        bool `toml:"stall_abort"`
}

// Output contains canonical output writer configuration.
type Output struct {
	RecordsFile   string `toml:"records_file"`
	AuditFile     string `toml:"audit_file"`
	RetryAttempts int    `toml:"retry_attempts"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for chipscore.
//
// Configuration sections by subsystem:
//   - Paths: source collection, artifact cache, output, logs, state
//   - Render: engine preference order and render parameters
//   - Hardware: real-hardware capture endpoints and loss threshold
//   - Analysis: window policy, extraction workers, timeouts
//   - Predict: model artifact and manual rating overlay locations
//   - Workflow: lane count, heartbeat and stall thresholds
//   - Output: canonical record and audit log targets
//   - Logging: log format and level
type Config struct {
	Paths    Paths    `toml:"paths"`
	Render   Render   `toml:"render"`
	Hardware Hardware `toml:"hardware"`
	Analysis Analysis `toml:"analysis"`
	Predict  Predict  `toml:"predict"`
	Workflow Workflow `toml:"workflow"`
	Output   Output   `toml:"output"`
	Logging  Logging  `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/chipscore/config.toml")
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("chipscore.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}
	return defaultPath, false, nil
}

// WriteSample writes the embedded sample configuration to the given path.
func WriteSample(path string) error {
	expanded, err := expandPath(path)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(expanded), 0o755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if _, err := os.Stat(expanded); err == nil {
		return fmt.Errorf("config file already exists at %s", expanded)
	}
	return os.WriteFile(expanded, []byte(sampleConfig), 0o644)
}

// EnsureDirectories creates every directory the pipeline writes to.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.CacheDir, c.Paths.OutputDir, c.Paths.LogDir, c.Paths.StateDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// RecordsPath returns the absolute path of the canonical classification output.
func (c *Config) RecordsPath() string {
	return filepath.Join(c.Paths.OutputDir, c.Output.RecordsFile)
}

// AuditPath returns the absolute path of the audit trail.
func (c *Config) AuditPath() string {
	return filepath.Join(c.Paths.OutputDir, c.Output.AuditFile)
}

// ManifestPath returns the absolute path of the availability manifest.
func (c *Config) ManifestPath() string {
	return filepath.Join(c.Paths.CacheDir, "manifest.json")
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}
