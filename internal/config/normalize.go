package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	c.normalizeGemini()
	c.normalizeGeneration()
	if err := c.normalizeOutput(); err != nil {
		return err
	}
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizeGemini() {
	c.Gemini.APIKey = strings.TrimSpace(c.Gemini.APIKey)
	if c.Gemini.APIKey == "" {
		if value, ok := os.LookupEnv("GEMINI_API_KEY"); ok {
			c.Gemini.APIKey = strings.TrimSpace(value)
		}
	}
	c.Gemini.SSMParameter = strings.TrimSpace(c.Gemini.SSMParameter)
	c.Gemini.ImageModel = strings.TrimSpace(c.Gemini.ImageModel)
	c.Gemini.CritiqueModel = strings.TrimSpace(c.Gemini.CritiqueModel)
	c.Gemini.BaseURL = strings.TrimRight(strings.TrimSpace(c.Gemini.BaseURL), "/")
	if c.Gemini.BaseURL == "" {
		c.Gemini.BaseURL = defaultBaseURL
	}
}

func (c *Config) normalizeGeneration() {
	c.Generation.AspectRatio = strings.ReplaceAll(strings.TrimSpace(c.Generation.AspectRatio), " ", "")
	if c.Generation.AspectRatio == "" {
		c.Generation.AspectRatio = defaultAspectRatio
	}
	c.Generation.ImageSize = strings.ToUpper(strings.TrimSpace(c.Generation.ImageSize))
	if c.Generation.ImageSize == "" {
		c.Generation.ImageSize = defaultImageSize
	}
}

func (c *Config) normalizeOutput() error {
	if value, ok := os.LookupEnv("PAINTER_OUTPUT_DIR"); ok && strings.TrimSpace(value) != "" {
		c.Output.Dir = value
	}
	if strings.TrimSpace(c.Output.Dir) == "" {
		c.Output.Dir = defaultOutputDir
	}
	var err error
	if c.Output.Dir, err = expandPath(c.Output.Dir); err != nil {
		return fmt.Errorf("output.dir: %w", err)
	}
	c.Output.S3Bucket = strings.TrimSpace(c.Output.S3Bucket)
	c.Output.S3Prefix = strings.Trim(strings.TrimSpace(c.Output.S3Prefix), "/")
	c.Output.DynamoDBTable = strings.TrimSpace(c.Output.DynamoDBTable)
	c.Output.Region = strings.TrimSpace(c.Output.Region)
	return nil
}

func (c *Config) normalizeLogging() {
	if value, ok := os.LookupEnv("GEMINI_LOG_LEVEL"); ok && strings.TrimSpace(value) != "" {
		c.Logging.Level = value
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	if c.Logging.Format == "" {
		c.Logging.Format = defaultLogFormat
	}
}
