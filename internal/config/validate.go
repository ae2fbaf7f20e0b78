package config

import (
	"errors"
	"fmt"
	"slices"
)

var (
	supportedAspectRatios = []string{"1:1", "2:3", "3:2", "3:4", "4:3", "4:5", "5:4", "9:16", "16:9", "21:9"}
	supportedImageSizes   = []string{"1K", "2K", "4K"}
	supportedLogLevels    = []string{"trace", "debug", "info", "warn", "error"}
	supportedLogFormats   = []string{"console", "json"}
)

// Validate ensures the configuration is usable. The API key is not
// required here because dry runs need none; credentials are resolved when
// the Gemini clients are built.
func (c *Config) Validate() error {
	if err := c.validateGemini(); err != nil {
		return err
	}
	if err := c.validateGeneration(); err != nil {
		return err
	}
	if err := c.validatePipeline(); err != nil {
		return err
	}
	if err := c.validateOutput(); err != nil {
		return err
	}
	if err := c.validateGrid(); err != nil {
		return err
	}
	return c.validateLogging()
}

func (c *Config) validateGemini() error {
	if c.Gemini.RequestsPerMinute < 0 {
		return errors.New("gemini.requests_per_minute must be zero (unlimited) or positive")
	}
	return nil
}

func (c *Config) validateGeneration() error {
	if !slices.Contains(supportedAspectRatios, c.Generation.AspectRatio) {
		return fmt.Errorf("generation.aspect_ratio %q is not supported (one of %v)", c.Generation.AspectRatio, supportedAspectRatios)
	}
	if !slices.Contains(supportedImageSizes, c.Generation.ImageSize) {
		return fmt.Errorf("generation.image_size %q is not supported (one of %v)", c.Generation.ImageSize, supportedImageSizes)
	}
	if c.Generation.ReferenceMaxDimension < 0 {
		return errors.New("generation.reference_max_dimension must be zero (no scaling) or positive")
	}
	return nil
}

func (c *Config) validatePipeline() error {
	p := c.Pipeline
	switch {
	case p.MaxAttempts < 1:
		return errors.New("pipeline.max_attempts must be at least 1")
	case p.PassThreshold <= 0 || p.PassThreshold > 10:
		return errors.New("pipeline.pass_threshold must be in (0, 10]")
	case p.CallTimeoutSeconds <= 0:
		return errors.New("pipeline.call_timeout_seconds must be positive")
	case p.CritiqueTimeoutSeconds <= 0:
		return errors.New("pipeline.critique_timeout_seconds must be positive")
	case p.RetryBackoffSeconds < 0 || p.MaxBackoffSeconds < 0:
		return errors.New("pipeline backoff values must not be negative")
	case p.RunTimeoutMinutes < 0:
		return errors.New("pipeline.run_timeout_minutes must not be negative")
	}
	return nil
}

func (c *Config) validateOutput() error {
	if c.Output.Dir == "" {
		return errors.New("output.dir must be set")
	}
	if c.Output.IndexTTLDays < 0 {
		return errors.New("output.index_ttl_days must not be negative")
	}
	return nil
}

func (c *Config) validateGrid() error {
	if err := c.GridOptions().Validate(); err != nil {
		return fmt.Errorf("grid: %w", err)
	}
	return nil
}

func (c *Config) validateLogging() error {
	if !slices.Contains(supportedLogLevels, c.Logging.Level) {
		return fmt.Errorf("logging.level %q is not supported (one of %v)", c.Logging.Level, supportedLogLevels)
	}
	if !slices.Contains(supportedLogFormats, c.Logging.Format) {
		return fmt.Errorf("logging.format %q is not supported (one of %v)", c.Logging.Format, supportedLogFormats)
	}
	return nil
}
