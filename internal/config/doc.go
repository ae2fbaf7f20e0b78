// Package config loads, normalizes, and validates painter configuration.
//
// Settings come from a TOML file (default ~/.config/painting-studio/config.toml
// or ./painter.toml), a .env file in the working directory, and environment
// fallbacks such as GEMINI_API_KEY and PAINTER_OUTPUT_DIR. Command-line flags
// are applied on top by the caller before Validate runs.
package config
