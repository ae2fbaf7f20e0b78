package chat

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strconv"
	"strings"

	"github.com/fpang/painting-studio/internal/pipeline"
	"github.com/rs/zerolog/log"
)

// SyntheticGenerator renders deterministic placeholder studies without
// calling any API. The same request always yields the same image, which
// makes dry runs reproducible.
type SyntheticGenerator struct{}

// Generate renders a banded gray placeholder seeded by the prompt and the
// reference digests.
func (SyntheticGenerator) Generate(ctx context.Context, req pipeline.GenerateRequest) (*pipeline.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, pipeline.NewPortError(pipeline.KindTimeout, err)
	}
	parts := []any{req.Prompt, req.AspectRatio, req.ImageSize}
	for _, ref := range req.References {
		parts = append(parts, ref.SHA256)
	}
	seed := deterministicSeed(parts...)

	width, height := aspectDimensions(req.AspectRatio, 256)
	data, err := renderSyntheticStudy(width, height, seed)
	if err != nil {
		return nil, pipeline.NewPortError(pipeline.KindServiceError, err)
	}

	log.Debug().
		Str("seed", seed).
		Int("width", width).
		Int("height", height).
		Msg("Generated synthetic study")

	img := pipeline.NewImage(data, "image/png")
	return &img, nil
}

// SyntheticCritic scores candidates deterministically from their digest.
// Scores fall between 4 and 9, so dry runs exercise both retries and
// best-effort acceptance.
type SyntheticCritic struct{}

// Critique derives a score and issues from the candidate digest.
func (SyntheticCritic) Critique(ctx context.Context, req pipeline.CritiqueRequest) (*pipeline.Critique, error) {
	if err := ctx.Err(); err != nil {
		return nil, pipeline.NewPortError(pipeline.KindTimeout, err)
	}
	seed := deterministicSeed(req.Candidate.SHA256, req.Stage.Index)
	n, _ := strconv.ParseUint(seed[:8], 16, 64)

	score := float64(4 + n%6)
	crit := &pipeline.Critique{
		Score:   score,
		Passed:  score >= req.Stage.Threshold,
		Summary: fmt.Sprintf("Synthetic critique for stage %d (%s)", req.Stage.Index, req.Stage.Name),
	}
	if !crit.Passed && len(req.Stage.Criteria) > 0 {
		criterion := req.Stage.Criteria[int(n/6)%len(req.Stage.Criteria)]
		crit.Issues = []string{"Not yet satisfied: " + strings.ToLower(criterion)}
	}
	return crit, nil
}

func deterministicSeed(parts ...any) string {
	hasher := sha256.New()
	for _, part := range parts {
		hasher.Write([]byte(fmt.Sprintf("%v", part)))
		hasher.Write([]byte{'|'})
	}
	return hex.EncodeToString(hasher.Sum(nil))[:16]
}

// aspectDimensions converts a "w:h" ratio into pixel dimensions with the
// given width. Unparseable ratios fall back to 4:5.
func aspectDimensions(aspect string, width int) (int, int) {
	w, h := 4, 5
	if a, b, ok := strings.Cut(aspect, ":"); ok {
		x, errA := strconv.Atoi(strings.TrimSpace(a))
		y, errB := strconv.Atoi(strings.TrimSpace(b))
		if errA == nil && errB == nil && x > 0 && y > 0 {
			w, h = x, y
		}
	}
	return width, width * h / w
}

func renderSyntheticStudy(width, height int, seed string) ([]byte, error) {
	img := image.NewGray(image.Rect(0, 0, width, height))
	base := grayFromSeed(seed, 0)
	draw.Draw(img, img.Bounds(), &image.Uniform{base}, image.Point{}, draw.Src)

	// Soft horizontal value masses, one per seed byte pair.
	bands := 4
	bandHeight := height / bands
	for i := 0; i < bands; i++ {
		rect := image.Rect(0, i*bandHeight, width, (i+1)*bandHeight)
		draw.Draw(img, rect, &image.Uniform{grayFromSeed(seed, i+1)}, image.Point{}, draw.Src)
	}

	// A lighter oval stands in for the subject.
	cx, cy := width/2, height*2/5
	rx, ry := width/4, height/4
	light := grayFromSeed(seed, 6)
	light.Y = 128 + light.Y/2
	for y := cy - ry; y <= cy+ry; y++ {
		for x := cx - rx; x <= cx+rx; x++ {
			dx := float64(x-cx) / float64(rx)
			dy := float64(y-cy) / float64(ry)
			if dx*dx+dy*dy <= 1 {
				img.SetGray(x, y, light)
			}
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("encode synthetic study: %w", err)
	}
	return buf.Bytes(), nil
}

func grayFromSeed(seed string, offset int) color.Gray {
	idx := (offset * 2) % (len(seed) - 1)
	v, err := strconv.ParseUint(seed[idx:idx+2], 16, 8)
	if err != nil {
		return color.Gray{Y: 128}
	}
	return color.Gray{Y: uint8(v)}
}
