package chat

import "os"

// Gemini Model IDs
//
// | Model Name                  | API Model ID                | Use Case                      |
// |-----------------------------|-----------------------------|-------------------------------|
// | Gemini 3 Pro Image          | gemini-3-pro-image-preview  | Stage generation (default)    |
// | Gemini 2.5 Flash Image      | gemini-2.5-flash-image      | Faster, cheaper generation    |
// | Gemini 3.1 Pro (Preview)    | gemini-3.1-pro-preview      | Most careful critique         |
// | Gemini 3 Flash (Preview)    | gemini-3-flash-preview      | Critique (default)            |
// | Gemini 2.5 Flash            | gemini-2.5-flash            | Stable, balanced performance  |
const (
	// ModelGemini3ProImage generates and edits images at up to 4K.
	ModelGemini3ProImage = "gemini-3-pro-image-preview"

	// ModelGemini25FlashImage is the faster image model. It ignores imageSize.
	ModelGemini25FlashImage = "gemini-2.5-flash-image"

	// ModelGemini31ProPreview is best for complex reasoning.
	ModelGemini31ProPreview = "gemini-3.1-pro-preview"

	// ModelGemini3FlashPreview is best for speed + intelligence.
	ModelGemini3FlashPreview = "gemini-3-flash-preview"

	// ModelGemini25Flash is stable, balanced performance.
	ModelGemini25Flash = "gemini-2.5-flash"
)

// DefaultImageModel generates the stage studies.
// Can be overridden via GEMINI_IMAGE_MODEL.
const DefaultImageModel = ModelGemini3ProImage

// DefaultCritiqueModel reviews the stage studies.
// Can be overridden via GEMINI_CRITIQUE_MODEL.
const DefaultCritiqueModel = ModelGemini3FlashPreview

// ImageModelName resolves the image model from, in order: the explicit
// value, GEMINI_IMAGE_MODEL, DefaultImageModel.
func ImageModelName(explicit string) string {
	return resolveModel(explicit, "GEMINI_IMAGE_MODEL", DefaultImageModel)
}

// CritiqueModelName resolves the critique model from, in order: the explicit
// value, GEMINI_CRITIQUE_MODEL, DefaultCritiqueModel.
func CritiqueModelName(explicit string) string {
	return resolveModel(explicit, "GEMINI_CRITIQUE_MODEL", DefaultCritiqueModel)
}

func resolveModel(explicit, envVar, fallback string) string {
	if explicit != "" {
		return explicit
	}
	if env := os.Getenv(envVar); env != "" {
		return env
	}
	return fallback
}
