package critic

import (
	"strings"
	"testing"

	"github.com/apm-labs/apm/internal/core"
)

const validTemplate = `Judge {{.CharacterName}} in this {{.Modality}} content.
Canon: {{.CanonPack}}
{{.Content}}`

func TestRegister_Valid(t *testing.T) {
	r := NewPromptRenderer()
	if err := r.Register("canon", validTemplate); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if !r.Registered("canon") {
		t.Error("Registered() = false after Register")
	}
}

func TestRegister_MissingRequiredPlaceholder(t *testing.T) {
	r := NewPromptRenderer()
	err := r.Register("canon", "Judge {{.CharacterName}} with no content placeholder")
	if err == nil {
		t.Fatal("Register() error = nil, want validation error for missing {{.Content}}")
	}
	if !core.IsCategory(err, core.ErrCatValidation) {
		t.Errorf("error category = %v, want validation", core.GetCategory(err))
	}
}

func TestRegister_UnknownPlaceholder(t *testing.T) {
	r := NewPromptRenderer()
	err := r.Register("canon", "{{.CharacterName}} {{.Content}} {{.SecretSauce}}")
	if err == nil {
		t.Fatal("Register() error = nil, want validation error for unknown placeholder")
	}
}

func TestRender_RegisteredTemplate(t *testing.T) {
	r := NewPromptRenderer()
	if err := r.Register("canon", validTemplate); err != nil {
		t.Fatalf("Register() error = %v", err)
	}

	card := core.CharacterCardVersion{
		CharacterID: "captain-nova",
		Packs:       core.CardPacks{Canon: "never removes the helmet"},
	}
	out, err := r.Render("canon", ParamsFromCard(card, "some content", core.ModalityText, ""))
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	for _, want := range []string{"captain-nova", "never removes the helmet", "some content", "text"} {
		if !strings.Contains(out, want) {
			t.Errorf("Render() output missing %q:\n%s", want, out)
		}
	}
}

func TestRender_FallsBackToDefaultTemplate(t *testing.T) {
	r := NewPromptRenderer()
	card := core.CharacterCardVersion{CharacterID: "char-1"}

	out, err := r.Render("unregistered", ParamsFromCard(card, "content body", core.ModalityImage, "extra"))
	if err != nil {
		t.Fatalf("Render() error = %v", err)
	}
	if !strings.Contains(out, "content body") {
		t.Errorf("default template output missing content:\n%s", out)
	}
}
