// Package assets provides the embedded prompt templates for stage generation
// and critique.
//
// Prompt templates are stored as text files under prompts/ and embedded at
// compile time.
package assets

import (
	"bytes"
	"embed"
	"fmt"
	"strings"
	"text/template"
)

// --- Static prompts (no dynamic data) ---

// StyleFoundation is the style brief shared by every stage prompt.
//
//go:embed prompts/style-foundation.txt
var StyleFoundation string

// CritiqueSystemPrompt frames the critic model as a painting instructor.
//
//go:embed prompts/critique-system.txt
var CritiqueSystemPrompt string

// --- Dynamic prompt templates ---

//go:embed prompts/stage-*.txt
var stageFS embed.FS

//go:embed prompts/retry-feedback.txt
var retryFeedbackTemplate string

//go:embed prompts/critique.txt
var critiqueTemplate string

// Pre-parsed templates. template.Must panics on malformed templates,
// catching errors at program startup rather than at call time.
var (
	stageTmpls   = template.Must(template.ParseFS(stageFS, "prompts/stage-*.txt"))
	retryTmpl    = template.Must(template.New("retry").Parse(retryFeedbackTemplate))
	critiqueTmpl = template.Must(template.New("critique").Parse(critiqueTemplate))
)

// StageCount is the number of stage prompt templates embedded in the binary.
const StageCount = 5

// StagePromptData holds the dynamic data injected into a stage template.
type StagePromptData struct {
	Index    int
	Total    int
	Name     string
	Focus    string
	HasPrior bool
	// Issues from the previous attempt's critique. When non-empty they are
	// appended to the stage prompt as corrective instructions.
	Issues []string
}

// RenderStagePrompt renders the generation prompt for a stage.
func RenderStagePrompt(data StagePromptData) (string, error) {
	name := fmt.Sprintf("stage-%d.txt", data.Index)
	tmpl := stageTmpls.Lookup(name)
	if tmpl == nil {
		return "", fmt.Errorf("no prompt template for stage %d", data.Index)
	}

	var buf bytes.Buffer
	err := tmpl.Execute(&buf, struct {
		StagePromptData
		StyleFoundation string
	}{data, StyleFoundation})
	if err != nil {
		return "", fmt.Errorf("render stage %d prompt: %w", data.Index, err)
	}

	if issues := nonEmpty(data.Issues); len(issues) > 0 {
		if err := retryTmpl.Execute(&buf, struct{ Issues []string }{issues}); err != nil {
			return "", fmt.Errorf("render retry feedback: %w", err)
		}
	}
	return buf.String(), nil
}

// CritiquePromptData holds the dynamic data injected into the critique template.
type CritiquePromptData struct {
	Index     int
	Total     int
	Name      string
	Focus     string
	Criteria  []string
	HasPrior  bool
	PassScore float64
}

// PrevIndex is the number of the stage before this one.
func (d CritiquePromptData) PrevIndex() int {
	return d.Index - 1
}

// RenderCritiquePrompt renders the critique instruction for a stage.
func RenderCritiquePrompt(data CritiquePromptData) string {
	var buf bytes.Buffer
	// Template execution errors are not expected with this template,
	// so whatever was rendered is returned.
	_ = critiqueTmpl.Execute(&buf, data)
	return buf.String()
}

func nonEmpty(items []string) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		if s := strings.TrimSpace(item); s != "" {
			out = append(out, s)
		}
	}
	return out
}
