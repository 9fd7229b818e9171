package snapshot

import (
	"fmt"
	"strings"

	"github.com/apm-labs/apm/internal/core"
)

// Validate checks a bundle's structural integrity before import.
func Validate(bundle *Bundle) error {
	if bundle.Version != FormatVersion {
		return fmt.Errorf("unsupported bundle version %d (expected %d)", bundle.Version, FormatVersion)
	}

	seen := make(map[string]bool, len(bundle.Cards))
	for i, card := range bundle.Cards {
		if strings.TrimSpace(card.CharacterID) == "" {
			return fmt.Errorf("cards[%d]: character_id is required", i)
		}
		if seen[card.CharacterID] {
			return fmt.Errorf("cards[%d]: duplicate character %s", i, card.CharacterID)
		}
		seen[card.CharacterID] = true
		if card.Version < 1 {
			return fmt.Errorf("cards[%d]: version must be >= 1", i)
		}
		if card.Canon == "" && card.Legal == "" && card.Safety == "" {
			return fmt.Errorf("cards[%d]: card for %s has no packs", i, card.CharacterID)
		}
	}

	for i, rec := range bundle.Consent {
		if strings.TrimSpace(rec.CharacterID) == "" {
			return fmt.Errorf("consent[%d]: character_id is required", i)
		}
		if !core.ValidModality(core.Modality(rec.Modality)) {
			return fmt.Errorf("consent[%d]: unknown modality %q", i, rec.Modality)
		}
		if !rec.ValidTo.After(rec.ValidFrom) {
			return fmt.Errorf("consent[%d]: valid_to must be after valid_from", i)
		}
	}

	return nil
}
