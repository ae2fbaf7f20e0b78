package chat

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	"github.com/fpang/painting-studio/internal/pipeline"
	"google.golang.org/genai"
)

// classifyStatus maps an HTTP status code from the Gemini API onto a
// pipeline failure kind.
func classifyStatus(code int) pipeline.ErrorKind {
	switch {
	case code == http.StatusTooManyRequests:
		return pipeline.KindRateLimited
	case code == http.StatusRequestTimeout || code == http.StatusGatewayTimeout:
		return pipeline.KindTimeout
	case code >= 500:
		return pipeline.KindServiceError
	case code == http.StatusBadRequest,
		code == http.StatusUnauthorized,
		code == http.StatusForbidden,
		code == http.StatusNotFound,
		code == http.StatusRequestEntityTooLarge:
		return pipeline.KindInvalidInput
	default:
		return pipeline.KindServiceError
	}
}

// classifyError wraps err in a *pipeline.PortError. Errors that already
// carry a kind are returned unchanged.
func classifyError(err error) error {
	if err == nil {
		return nil
	}
	var pe *pipeline.PortError
	if errors.As(err, &pe) {
		return err
	}

	var apiErr *genai.APIError
	if errors.As(err, &apiErr) {
		return pipeline.NewPortError(classifyAPIError(apiErr.Code, apiErr.Status, apiErr.Message), err)
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return pipeline.NewPortError(pipeline.KindTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return pipeline.NewPortError(pipeline.KindTimeout, err)
	}
	return pipeline.NewPortError(pipeline.KindServiceError, err)
}

func classifyAPIError(code int, status, message string) pipeline.ErrorKind {
	if code == http.StatusBadRequest && isSafetyMessage(message) {
		return pipeline.KindPolicyRejected
	}
	if code == 0 && strings.EqualFold(status, "RESOURCE_EXHAUSTED") {
		return pipeline.KindRateLimited
	}
	return classifyStatus(code)
}

func isSafetyMessage(msg string) bool {
	lower := strings.ToLower(msg)
	return strings.Contains(lower, "safety") ||
		strings.Contains(lower, "blocked") ||
		strings.Contains(lower, "prohibited")
}

// blockedFinishReasons are candidate finish reasons that mean the model
// refused to produce output for policy reasons.
var blockedFinishReasons = map[string]bool{
	"SAFETY":                   true,
	"IMAGE_SAFETY":             true,
	"PROHIBITED_CONTENT":       true,
	"IMAGE_PROHIBITED_CONTENT": true,
	"BLOCKLIST":                true,
	"SPII":                     true,
	"RECITATION":               true,
}

func policyRejection(reason, detail string) error {
	msg := fmt.Sprintf("blocked by model policy (%s)", reason)
	if detail != "" {
		msg += ": " + detail
	}
	return pipeline.NewPortError(pipeline.KindPolicyRejected, errors.New(msg))
}
