// Package filehandler loads source photos and prepares images for the
// painting pipeline.
//
// Source photos are read from disk with their EXIF metadata (via
// evanoberholster/imagemeta) and pixel dimensions. Reference images sent
// to the image model are downscaled with golang.org/x/image/draw, and
// finished studies can be overlaid with a transfer grid.
package filehandler

import (
	"bytes"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/fpang/painting-studio/internal/pipeline"
	"github.com/rs/zerolog/log"
	_ "golang.org/x/image/webp"
)

// SupportedImageExtensions maps the photo extensions accepted as pipeline
// input to their MIME types.
var SupportedImageExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".webp": "image/webp",
	".heic": "image/heic",
	".heif": "image/heif",
}

// MaxSourceBytes bounds the size of a source photo read into memory.
const MaxSourceBytes = 40 << 20

// GetMIMEType returns the MIME type for a given file extension.
func GetMIMEType(ext string) (string, error) {
	if mimeType, ok := SupportedImageExtensions[strings.ToLower(ext)]; ok {
		return mimeType, nil
	}
	return "", fmt.Errorf("unsupported file extension: %s", ext)
}

// IsImage returns true if the file extension corresponds to a supported photo.
func IsImage(ext string) bool {
	_, ok := SupportedImageExtensions[strings.ToLower(ext)]
	return ok
}

// ExtensionForMIME returns the file extension to use when writing an image
// of the given MIME type.
func ExtensionForMIME(mimeType string) string {
	switch strings.ToLower(mimeType) {
	case "image/jpeg", "image/jpg":
		return ".jpg"
	case "image/webp":
		return ".webp"
	case "image/gif":
		return ".gif"
	case "image/heic":
		return ".heic"
	case "image/heif":
		return ".heif"
	default:
		return ".png"
	}
}

// LoadSourcePhoto reads a photo from disk into a pipeline.SourcePhoto.
// Dimensions come from the image header; HEIC files, which the standard
// decoders cannot read, are accepted without dimensions. EXIF metadata is
// best effort.
func LoadSourcePhoto(path string) (pipeline.SourcePhoto, error) {
	log.Debug().Str("path", path).Msg("Loading source photo")

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return pipeline.SourcePhoto{}, fmt.Errorf("file not found: %s", path)
		}
		return pipeline.SourcePhoto{}, fmt.Errorf("failed to stat file: %w", err)
	}
	if info.IsDir() {
		return pipeline.SourcePhoto{}, fmt.Errorf("path is a directory, not a file: %s", path)
	}
	if info.Size() == 0 {
		return pipeline.SourcePhoto{}, fmt.Errorf("file is empty: %s", path)
	}
	if info.Size() > MaxSourceBytes {
		return pipeline.SourcePhoto{}, fmt.Errorf("file too large (%d bytes, max %d): %s", info.Size(), MaxSourceBytes, path)
	}

	mimeType, err := GetMIMEType(filepath.Ext(path))
	if err != nil {
		return pipeline.SourcePhoto{}, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return pipeline.SourcePhoto{}, fmt.Errorf("failed to read file: %w", err)
	}

	photo := pipeline.SourcePhoto{
		Image: pipeline.NewImage(data, mimeType),
		Path:  path,
	}

	if cfg, _, err := image.DecodeConfig(bytes.NewReader(data)); err == nil {
		photo.Width, photo.Height = cfg.Width, cfg.Height
	} else if mimeType != "image/heic" && mimeType != "image/heif" {
		return pipeline.SourcePhoto{}, fmt.Errorf("failed to decode image header: %w", err)
	}

	if meta, err := ExtractImageMetadata(path); err != nil {
		log.Debug().Err(err).Str("path", path).Msg("No EXIF metadata, continuing without it")
	} else {
		photo.Camera = meta.Camera()
		if meta.HasDate {
			photo.TakenAt = meta.DateTaken
		}
	}

	log.Info().
		Str("path", path).
		Str("mime_type", mimeType).
		Int64("size_bytes", info.Size()).
		Int("width", photo.Width).
		Int("height", photo.Height).
		Str("sha256", photo.Image.SHA256[:12]).
		Msg("Source photo loaded")

	return photo, nil
}
