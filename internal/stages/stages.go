// Package stages defines the five-stage painting study progression.
package stages

import (
	"github.com/fpang/painting-studio/internal/assets"
	"github.com/fpang/painting-studio/internal/pipeline"
	"github.com/rs/zerolog/log"
)

// DefaultThreshold is the critique score at which a study is accepted.
const DefaultThreshold = 7.0

type definition struct {
	name     string
	focus    string
	criteria []string
}

var catalog = []definition{
	{
		name:  "Block-in",
		focus: "Composition and big value masses",
		criteria: []string{
			"Only three or four distinct values",
			"All detail eliminated",
			"Composition reads as abstract shapes",
			"Soft, undefined edges everywhere",
		},
	},
	{
		name:  "Form & Edges",
		focus: "Three-dimensional structure and edge hierarchy",
		criteria: []string{
			"Five or six values with visible planes of the head",
			"Exactly one focal area with firmer edges",
			"Head outline soft or lost",
			"Composition and masses carried over from stage 1",
		},
	},
	{
		name:  "Development",
		focus: "Feature suggestion and color temperature",
		criteria: []string{
			"Features suggested rather than rendered",
			"One side of the face more defined than the other",
			"Warm lights and cool shadows that still read as gray",
			"Form and focal point carried over from stage 2",
		},
	},
	{
		name:  "Atmosphere",
		focus: "Figure and ground integration",
		criteria: []string{
			"Hair, shoulders and clothing dissolve into the background",
			"No readable outline of the head against the ground",
			"Focal area keeps its presence",
			"Color temperature unifies figure and ground",
		},
	},
	{
		name:  "Final",
		focus: "Emotional resonance and completion",
		criteria: []string{
			"Expression feels alive and present",
			"Values, edges and atmosphere work together",
			"Nothing overworked and nothing missing",
			"Would translate well to an actual painting",
		},
	},
}

// Default returns the stage specs for a full run. A non-positive threshold
// selects DefaultThreshold.
func Default(threshold float64) []pipeline.StageSpec {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	specs := make([]pipeline.StageSpec, len(catalog))
	for i, def := range catalog {
		specs[i] = pipeline.StageSpec{
			Index:     i + 1,
			Name:      def.name,
			Focus:     def.focus,
			Criteria:  append([]string(nil), def.criteria...),
			Threshold: threshold,
			Prompt:    BuildPrompt,
		}
	}
	return specs
}

// Names returns the stage names in order.
func Names() []string {
	names := make([]string, len(catalog))
	for i, def := range catalog {
		names[i] = def.name
	}
	return names
}

// BuildPrompt renders the generation prompt for a stage from the embedded
// templates, appending the previous attempt's issues as corrections.
func BuildPrompt(spec pipeline.StageSpec, hasPrior bool, issues []string) string {
	prompt, err := assets.RenderStagePrompt(assets.StagePromptData{
		Index:    spec.Index,
		Total:    len(catalog),
		Name:     spec.Name,
		Focus:    spec.Focus,
		HasPrior: hasPrior,
		Issues:   issues,
	})
	if err != nil {
		// Only reachable for stage indices without a template.
		log.Error().Err(err).Int("stage", spec.Index).Msg("Falling back to minimal stage prompt")
		return spec.Name + ": " + spec.Focus
	}
	return prompt
}
