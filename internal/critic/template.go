package critic

import (
	"bytes"
	"fmt"
	"regexp"
	"sync"
	"text/template"

	"github.com/apm-labs/apm/internal/core"
)

// Required placeholders every critic prompt template must reference.
// Validated when the template is registered, not at invocation time, so a
// broken template surfaces at configuration.
var requiredPlaceholders = []string{
	"CharacterName",
	"Content",
}

// PromptParams is the typed data a critic template renders against.
// Placeholders are struct fields, not string concatenation.
type PromptParams struct {
	CharacterName     string
	Content           string
	Modality          string
	CanonPack         string
	LegalPack         string
	SafetyPack        string
	VisualPack        string
	AudioPack         string
	ExtraInstructions string
}

// PromptRenderer holds validated critic prompt templates keyed by critic
// id.
type PromptRenderer struct {
	mu        sync.RWMutex
	templates map[core.CriticID]*template.Template
}

// NewPromptRenderer creates an empty renderer.
func NewPromptRenderer() *PromptRenderer {
	return &PromptRenderer{
		templates: make(map[core.CriticID]*template.Template),
	}
}

var placeholderRe = regexp.MustCompile(`\{\{\s*\.(\w+)\s*\}\}`)

// Register parses and validates a template for a critic. It fails when
// the template is malformed, references unknown placeholders, or omits a
// required one.
func (r *PromptRenderer) Register(criticID core.CriticID, text string) error {
	known := knownPlaceholders()
	found := make(map[string]bool)
	for _, m := range placeholderRe.FindAllStringSubmatch(text, -1) {
		name := m[1]
		if !known[name] {
			return core.ErrValidation(core.CodeMissingTemplate,
				fmt.Sprintf("critic %s template references unknown placeholder {{.%s}}", criticID, name))
		}
		found[name] = true
	}
	for _, req := range requiredPlaceholders {
		if !found[req] {
			return core.ErrValidation(core.CodeMissingTemplate,
				fmt.Sprintf("critic %s template missing required placeholder {{.%s}}", criticID, req))
		}
	}

	tmpl, err := template.New(string(criticID)).Option("missingkey=error").Parse(text)
	if err != nil {
		return core.ErrValidation(core.CodeMissingTemplate,
			fmt.Sprintf("critic %s template invalid", criticID)).WithCause(err)
	}

	r.mu.Lock()
	r.templates[criticID] = tmpl
	r.mu.Unlock()
	return nil
}

// Render produces the prompt for one critic invocation.
func (r *PromptRenderer) Render(criticID core.CriticID, params PromptParams) (string, error) {
	r.mu.RLock()
	tmpl, ok := r.templates[criticID]
	r.mu.RUnlock()
	if !ok {
		// No registered template: fall back to a generic rubric prompt.
		tmpl = defaultTemplate
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, params); err != nil {
		return "", fmt.Errorf("rendering prompt for critic %s: %w", criticID, err)
	}
	return buf.String(), nil
}

// Registered reports whether a critic has a registered template.
func (r *PromptRenderer) Registered(criticID core.CriticID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.templates[criticID]
	return ok
}

func knownPlaceholders() map[string]bool {
	return map[string]bool{
		"CharacterName":     true,
		"Content":           true,
		"Modality":          true,
		"CanonPack":         true,
		"LegalPack":         true,
		"SafetyPack":        true,
		"VisualPack":        true,
		"AudioPack":         true,
		"ExtraInstructions": true,
	}
}

var defaultTemplate = template.Must(template.New("default").Parse(
	`Evaluate the following {{.Modality}} content depicting {{.CharacterName}}.

Rubric:
{{.CanonPack}}
{{.SafetyPack}}
{{.ExtraInstructions}}

Content:
{{.Content}}

Return a score from 0 to 100, reasoning, and any flags.`))

// ParamsFromCard builds prompt params from a card version and content.
func ParamsFromCard(card core.CharacterCardVersion, content string, modality core.Modality, extra string) PromptParams {
	return PromptParams{
		CharacterName:     string(card.CharacterID),
		Content:           content,
		Modality:          string(modality),
		CanonPack:         card.Packs.Canon,
		LegalPack:         card.Packs.Legal,
		SafetyPack:        card.Packs.Safety,
		VisualPack:        card.Packs.Visual,
		AudioPack:         card.Packs.Audio,
		ExtraInstructions: extra,
	}
}
