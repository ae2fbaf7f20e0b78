package cli

import (
	"context"
	"errors"

	"github.com/fpang/painting-studio/internal/auth"
	"github.com/fpang/painting-studio/internal/chat"
	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// InitGeminiClient resolves the API key, creates a genai client and, unless
// skipValidation is set, validates the key against validateModel. It exits
// fatally on failure. The key is returned for clients that call the REST
// API directly.
func InitGeminiClient(ctx context.Context, opts auth.Options, validateModel string, skipValidation bool) (*genai.Client, string) {
	apiKey, source, err := auth.GetAPIKey(ctx, opts)
	if err != nil {
		if errors.Is(err, auth.ErrNoAPIKey) {
			HandleValidationError(&auth.ValidationError{Type: auth.ErrTypeNoKey, Message: "no API key", Err: err})
		}
		log.Fatal().Err(err).Msg("failed to retrieve API key")
	}

	client, err := chat.NewGeminiClient(ctx, apiKey)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to create Gemini client")
	}
	log.Info().Str("key_source", string(source)).Msg("Gemini client initialized")

	if skipValidation {
		return client, apiKey
	}
	if err := auth.ValidateAPIKey(ctx, client, validateModel); err != nil {
		HandleValidationError(err)
	}
	return client, apiKey
}
