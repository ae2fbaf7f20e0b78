package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fpang/painting-studio/internal/auth"
	"github.com/fpang/painting-studio/internal/filehandler"
	"github.com/rs/zerolog/log"
)

// ValidateAndResolvePhoto checks that path is an existing file with a
// supported photo extension and returns its absolute path.
func ValidateAndResolvePhoto(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("photo not found: %s", path)
		}
		return "", fmt.Errorf("failed to access %s: %w", path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%s is a directory; use the batch command for directories", path)
	}
	if !filehandler.IsImage(filepath.Ext(path)) {
		return "", fmt.Errorf("unsupported photo format: %s", filepath.Ext(path))
	}

	if absPath, err := filepath.Abs(path); err == nil {
		path = absPath
	}
	return path, nil
}

// ValidateAndResolveDirectory checks that the path exists and is a
// directory, then returns the absolute path.
func ValidateAndResolveDirectory(dirPath string) (string, error) {
	info, err := os.Stat(dirPath)
	if err != nil {
		if os.IsNotExist(err) {
			return "", fmt.Errorf("directory not found: %s", dirPath)
		}
		return "", fmt.Errorf("failed to access directory %s: %w", dirPath, err)
	}
	if !info.IsDir() {
		return "", fmt.Errorf("path is not a directory: %s", dirPath)
	}

	if absPath, err := filepath.Abs(dirPath); err == nil {
		dirPath = absPath
	}
	return dirPath, nil
}

// validationHints maps key validation failures to the message shown before
// the painter exits.
var validationHints = map[auth.ValidationErrorType]string{
	auth.ErrTypeNoKey:         "No API key configured. Set GEMINI_API_KEY, gemini.api_key or gemini.ssm_parameter, or use --dry-run",
	auth.ErrTypeInvalidKey:    "Gemini rejected the API key; check the key or rerun with --dry-run",
	auth.ErrTypeNetworkError:  "Could not reach Gemini to validate the key",
	auth.ErrTypeQuotaExceeded: "Gemini quota exhausted; wait for the quota window or lower gemini.requests_per_minute",
}

// HandleValidationError logs err with a hint for its validation type and
// exits the process.
func HandleValidationError(err error) {
	var validationErr *auth.ValidationError
	if !errors.As(err, &validationErr) {
		log.Fatal().Err(err).Msg("Unexpected error while validating the API key")
	}
	hint, ok := validationHints[validationErr.Type]
	if !ok {
		hint = "API key validation failed"
	}
	if validationErr.Type == auth.ErrTypeNoKey {
		log.Fatal().Msg(hint)
	}
	log.Fatal().Err(err).Msg(hint)
}
