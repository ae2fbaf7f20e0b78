package pipeline

import "time"

// Defaults used when a Config field is left at its zero value.
const (
	DefaultMaxAttempts     = 3
	DefaultCallTimeout     = 3 * time.Minute
	DefaultCritiqueTimeout = 90 * time.Second
	DefaultAspectRatio     = "4:5"
	DefaultImageSize       = "2K"
)

// Config controls the attempt loop. It is passed explicitly to NewRunner;
// the pipeline reads no environment or global state.
type Config struct {
	// MaxAttempts caps generation calls per stage.
	MaxAttempts int
	// CallTimeout bounds each image generation call.
	CallTimeout time.Duration
	// CritiqueTimeout bounds each critique call.
	CritiqueTimeout time.Duration
	// RetryBackoff is the pause after a transient failure. It doubles on
	// consecutive failures up to MaxBackoff. Zero disables the pause.
	RetryBackoff time.Duration
	MaxBackoff   time.Duration
	AspectRatio  string
	ImageSize    string
}

// DefaultConfig returns the configuration used by the CLI when nothing is
// overridden.
func DefaultConfig() Config {
	return Config{
		MaxAttempts:     DefaultMaxAttempts,
		CallTimeout:     DefaultCallTimeout,
		CritiqueTimeout: DefaultCritiqueTimeout,
		AspectRatio:     DefaultAspectRatio,
		ImageSize:       DefaultImageSize,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.CallTimeout <= 0 {
		c.CallTimeout = DefaultCallTimeout
	}
	if c.CritiqueTimeout <= 0 {
		c.CritiqueTimeout = DefaultCritiqueTimeout
	}
	if c.MaxBackoff < c.RetryBackoff {
		c.MaxBackoff = c.RetryBackoff
	}
	if c.AspectRatio == "" {
		c.AspectRatio = DefaultAspectRatio
	}
	if c.ImageSize == "" {
		c.ImageSize = DefaultImageSize
	}
	return c
}
