package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fpang/painting-studio/internal/filehandler"
	"github.com/fpang/painting-studio/internal/pipeline"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
	"github.com/rs/zerolog/log"
)

//go:embed sample_config.toml
var sampleConfig string

// Gemini contains API access and model selection.
type Gemini struct {
	APIKey            string `toml:"api_key"`
	SSMParameter      string `toml:"ssm_parameter"`
	ImageModel        string `toml:"image_model"`
	CritiqueModel     string `toml:"critique_model"`
	BaseURL           string `toml:"base_url"`
	RequestsPerMinute int    `toml:"requests_per_minute"`
}

// Generation contains image model output settings.
type Generation struct {
	AspectRatio           string `toml:"aspect_ratio"`
	ImageSize             string `toml:"image_size"`
	ReferenceMaxDimension int    `toml:"reference_max_dimension"`
}

// Pipeline contains attempt loop settings.
type Pipeline struct {
	MaxAttempts            int     `toml:"max_attempts"`
	PassThreshold          float64 `toml:"pass_threshold"`
	CallTimeoutSeconds     int     `toml:"call_timeout_seconds"`
	CritiqueTimeoutSeconds int     `toml:"critique_timeout_seconds"`
	RetryBackoffSeconds    int     `toml:"retry_backoff_seconds"`
	MaxBackoffSeconds      int     `toml:"max_backoff_seconds"`
	// RunTimeoutMinutes cancels a run that takes longer. 0 = no limit.
	RunTimeoutMinutes int `toml:"run_timeout_minutes"`
}

// Output contains the sinks a finished run is written to. The local
// directory is always written; S3 and DynamoDB are optional.
type Output struct {
	Dir           string `toml:"dir"`
	KeepAttempts  bool   `toml:"keep_attempts"`
	S3Bucket      string `toml:"s3_bucket"`
	S3Prefix      string `toml:"s3_prefix"`
	DynamoDBTable string `toml:"dynamodb_table"`
	IndexTTLDays  int    `toml:"index_ttl_days"`
	Region        string `toml:"region"`
	Compress      bool   `toml:"compress"`
}

// Grid contains the transfer grid drawn over accepted stage images.
type Grid struct {
	Enabled        bool    `toml:"enabled"`
	SquareCM       float64 `toml:"square_cm"`
	CanvasWidthCM  float64 `toml:"canvas_width_cm"`
	CanvasHeightCM float64 `toml:"canvas_height_cm"`
	MajorEvery     int     `toml:"major_every"`
	Opacity        float64 `toml:"opacity"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Config encapsulates all configuration values for the painter CLI.
type Config struct {
	Gemini     Gemini     `toml:"gemini"`
	Generation Generation `toml:"generation"`
	Pipeline   Pipeline   `toml:"pipeline"`
	Output     Output     `toml:"output"`
	Grid       Grid       `toml:"grid"`
	Logging    Logging    `toml:"logging"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath("~/.config/painting-studio/config.toml")
}

// Load reads .env, locates and parses the configuration file, applies
// environment fallbacks, and validates the result. It returns the resolved
// path and whether the file existed.
func Load(path string) (*Config, string, bool, error) {
	loadDotEnv()

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
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config %s: %w", resolvedPath, err)
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

// loadDotEnv loads .env from the working directory. Variables already set
// in the environment are left alone.
func loadDotEnv() {
	if err := godotenv.Load(); err == nil {
		log.Debug().Msg("Loaded environment from .env")
	} else if !errors.Is(err, fs.ErrNotExist) {
		log.Warn().Err(err).Msg("Failed to parse .env, ignoring it")
	}
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		info, err := os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return "", false, fmt.Errorf("config file not found: %s", expanded)
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		if info.IsDir() {
			return "", false, fmt.Errorf("config path is a directory: %s", expanded)
		}
		return expanded, true, nil
	}

	defaultPath, err := DefaultConfigPath()
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("painter.toml")
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

// ExpandPath exposes the path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// Sample returns the embedded sample configuration.
func Sample() string {
	return sampleConfig
}

// CreateSample writes the sample configuration file to path.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}
	if _, err := os.Stat(path); err == nil {
		return fmt.Errorf("config already exists: %s", path)
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// PipelineConfig converts the [pipeline] and [generation] sections into the
// runner configuration.
func (c *Config) PipelineConfig() pipeline.Config {
	return pipeline.Config{
		MaxAttempts:     c.Pipeline.MaxAttempts,
		CallTimeout:     time.Duration(c.Pipeline.CallTimeoutSeconds) * time.Second,
		CritiqueTimeout: time.Duration(c.Pipeline.CritiqueTimeoutSeconds) * time.Second,
		RetryBackoff:    time.Duration(c.Pipeline.RetryBackoffSeconds) * time.Second,
		MaxBackoff:      time.Duration(c.Pipeline.MaxBackoffSeconds) * time.Second,
		AspectRatio:     c.Generation.AspectRatio,
		ImageSize:       c.Generation.ImageSize,
	}
}

// RunTimeout returns the whole-run limit, or zero for none.
func (c *Config) RunTimeout() time.Duration {
	return time.Duration(c.Pipeline.RunTimeoutMinutes) * time.Minute
}

// IndexTTL returns how long DynamoDB index items are kept, or zero for
// no expiry.
func (c *Config) IndexTTL() time.Duration {
	return time.Duration(c.Output.IndexTTLDays) * 24 * time.Hour
}

// GridOptions converts the [grid] section into overlay options. Colours and
// line widths keep their defaults.
func (c *Config) GridOptions() filehandler.GridOptions {
	opts := filehandler.DefaultGridOptions()
	opts.SquareCM = c.Grid.SquareCM
	opts.CanvasWidthCM = c.Grid.CanvasWidthCM
	opts.CanvasHeightCM = c.Grid.CanvasHeightCM
	opts.MajorEvery = c.Grid.MajorEvery
	opts.Opacity = c.Grid.Opacity
	return opts
}
