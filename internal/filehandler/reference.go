package filehandler

import (
	"bytes"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"

	"github.com/fpang/painting-studio/internal/pipeline"
	"github.com/rs/zerolog/log"
	"golang.org/x/image/draw"
)

// DefaultReferenceMaxDimension is the longest edge of a reference image
// sent to the image model.
const DefaultReferenceMaxDimension = 2048

// PrepareReference downscales img so its longest edge is at most
// maxDimension. Images already within bounds, and images the standard
// decoders cannot read, are returned unchanged. Scaled images are
// re-encoded as PNG when the input was PNG and as JPEG otherwise.
func PrepareReference(img pipeline.Image, maxDimension int) (pipeline.Image, error) {
	if maxDimension <= 0 {
		return img, nil
	}
	cfg, _, err := image.DecodeConfig(bytes.NewReader(img.Data))
	if err != nil {
		log.Debug().Err(err).Str("mime_type", img.MIMEType).Msg("Reference not decodable, sending original")
		return img, nil
	}
	newWidth, newHeight := calculateDimensions(cfg.Width, cfg.Height, maxDimension)
	if newWidth == cfg.Width && newHeight == cfg.Height {
		return img, nil
	}

	src, _, err := image.Decode(bytes.NewReader(img.Data))
	if err != nil {
		return img, fmt.Errorf("failed to decode reference: %w", err)
	}

	resized := image.NewRGBA(image.Rect(0, 0, newWidth, newHeight))
	draw.CatmullRom.Scale(resized, resized.Bounds(), src, src.Bounds(), draw.Over, nil)

	var buf bytes.Buffer
	mimeType := "image/jpeg"
	if img.MIMEType == "image/png" {
		mimeType = "image/png"
		err = png.Encode(&buf, resized)
	} else {
		err = jpeg.Encode(&buf, resized, &jpeg.Options{Quality: 90})
	}
	if err != nil {
		return img, fmt.Errorf("failed to encode reference: %w", err)
	}

	log.Debug().
		Int("original_width", cfg.Width).
		Int("original_height", cfg.Height).
		Int("width", newWidth).
		Int("height", newHeight).
		Int("bytes", buf.Len()).
		Msg("Reference downscaled")

	return pipeline.NewImage(buf.Bytes(), mimeType), nil
}

// calculateDimensions calculates new dimensions maintaining aspect ratio.
func calculateDimensions(width, height, maxDimension int) (int, int) {
	if width <= maxDimension && height <= maxDimension {
		return width, height
	}

	if width > height {
		newWidth := maxDimension
		newHeight := int(float64(height) * float64(maxDimension) / float64(width))
		return newWidth, max(newHeight, 1)
	}

	newHeight := maxDimension
	newWidth := int(float64(width) * float64(maxDimension) / float64(height))
	return max(newWidth, 1), newHeight
}
