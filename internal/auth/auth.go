// Package auth resolves and validates the Gemini API key.
package auth

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/rs/zerolog/log"
)

const (
	credentialDir  = ".painting-studio"
	credentialFile = "credentials.gpg"
)

// Source names where an API key was found.
type Source string

const (
	SourceConfig Source = "config"
	SourceEnv    Source = "env"
	SourceSSM    Source = "ssm"
	SourceGPG    Source = "gpg"
)

// ErrNoAPIKey is returned when no source yields a key.
var ErrNoAPIKey = errors.New("API key not found")

// ParameterGetter is the subset of *ssm.Client used to read the key from
// Parameter Store.
type ParameterGetter interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Options configures GetAPIKey.
type Options struct {
	// ConfigKey is the key from the config file, if any.
	ConfigKey string

	// SSMParameter names a SecureString parameter holding the key. SSM is
	// consulted only when both SSMParameter and SSM are set.
	SSMParameter string
	SSM          ParameterGetter
}

// decryptGPG is replaced in tests.
var decryptGPG = getFromGPG

// GetAPIKey retrieves the Gemini API key from available sources.
// Priority order:
//  1. the config file
//  2. GEMINI_API_KEY environment variable
//  3. SSM Parameter Store, when a parameter is configured
//  4. GPG-encrypted file at ~/.painting-studio/credentials.gpg
func GetAPIKey(ctx context.Context, opts Options) (string, Source, error) {
	if key := strings.TrimSpace(opts.ConfigKey); key != "" {
		log.Debug().Msg("Using API key from config file")
		return key, SourceConfig, nil
	}

	if key := cleanEnvKey(os.Getenv("GEMINI_API_KEY")); key != "" {
		log.Debug().Msg("Using API key from environment variable")
		return key, SourceEnv, nil
	}

	if opts.SSMParameter != "" && opts.SSM != nil {
		key, err := getFromSSM(ctx, opts.SSM, opts.SSMParameter)
		if err == nil {
			return key, SourceSSM, nil
		}
		log.Warn().Err(err).Str("param", opts.SSMParameter).Msg("API key not available from SSM")
	}

	key, err := decryptGPG()
	if err == nil && key != "" {
		log.Debug().Msg("Using API key from GPG encrypted file")
		return key, SourceGPG, nil
	}

	log.Debug().Err(err).Msg("No GPG credentials")
	return "", "", fmt.Errorf("%w: set GEMINI_API_KEY, gemini.api_key, gemini.ssm_parameter or create ~/%s/%s",
		ErrNoAPIKey, credentialDir, credentialFile)
}

// cleanEnvKey accepts values pasted from shell snippets such as
// `export GEMINI_API_KEY="..."`.
func cleanEnvKey(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(v, "export ")
	v = strings.TrimPrefix(v, "GEMINI_API_KEY=")
	return strings.Trim(v, `"'`)
}

func getFromSSM(ctx context.Context, client ParameterGetter, name string) (string, error) {
	start := time.Now()
	result, err := client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           &name,
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", name, err)
	}
	if result.Parameter == nil || result.Parameter.Value == nil || *result.Parameter.Value == "" {
		return "", fmt.Errorf("parameter %s is empty", name)
	}
	log.Debug().Str("param", name).Dur("elapsed", time.Since(start)).Msg("Gemini API key loaded from SSM")
	return strings.TrimSpace(*result.Parameter.Value), nil
}

// getFromGPG decrypts the API key from the GPG-encrypted credentials file.
func getFromGPG() (string, error) {
	credPath, err := getCredentialPath()
	if err != nil {
		return "", err
	}

	if _, err := os.Stat(credPath); os.IsNotExist(err) {
		return "", fmt.Errorf("GPG credentials file not found at %s", credPath)
	}

	log.Debug().Str("file", credPath).Msg("Decrypting GPG credentials")

	args := []string{"--decrypt", "--quiet"}
	if passphrasePath, ok := getPassphrasePath(); ok {
		args = append(args, "--pinentry-mode", "loopback", "--passphrase-file", passphrasePath)
	}
	args = append(args, credPath)

	output, err := exec.Command("gpg", args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return "", fmt.Errorf("GPG decryption failed: %s", strings.TrimSpace(string(exitErr.Stderr)))
		}
		return "", fmt.Errorf("GPG decryption failed: %w", err)
	}

	return strings.TrimSpace(string(output)), nil
}

// getCredentialPath returns the full path to the credentials file.
func getCredentialPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, credentialDir, credentialFile), nil
}

// getPassphrasePath looks for a .gpg-passphrase file next to the
// credentials file. Files readable by group or others are ignored.
func getPassphrasePath() (string, bool) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", false
	}
	path := filepath.Join(home, credentialDir, ".gpg-passphrase")
	fi, err := os.Stat(path)
	if err != nil {
		return "", false
	}
	if mode := fi.Mode().Perm(); mode&0o077 != 0 {
		log.Warn().
			Str("passphrase_file", path).
			Str("permissions", fmt.Sprintf("%04o", mode)).
			Msg("Passphrase file has insecure permissions (should be 0600); skipping")
		return "", false
	}
	return path, true
}
