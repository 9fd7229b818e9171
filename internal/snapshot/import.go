package snapshot

import (
	"context"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/apm-labs/apm/internal/core"
)

// CardWriter publishes card versions at the import destination.
type CardWriter interface {
	GetActiveVersion(ctx context.Context, characterID core.CharacterID) (*core.CharacterCardVersion, error)
	PublishCard(ctx context.Context, card *core.CharacterCardVersion) error
}

// ConsentWriter records consent grants at the import destination.
type ConsentWriter interface {
	UpsertConsent(ctx context.Context, rec core.ConsentRecord) error
}

// Load reads and validates a bundle file, including its checksum.
func Load(path string) (*Bundle, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading bundle: %w", err)
	}

	var bundle Bundle
	if err := yaml.Unmarshal(data, &bundle); err != nil {
		return nil, fmt.Errorf("decoding bundle: %w", err)
	}
	if err := Validate(&bundle); err != nil {
		return nil, err
	}

	want, err := checksum(&bundle)
	if err != nil {
		return nil, err
	}
	if bundle.Checksum != "" && bundle.Checksum != want {
		return nil, fmt.Errorf("bundle checksum mismatch: file may be corrupted or edited")
	}
	return &bundle, nil
}

// Import applies a bundle to the destination stores. Cards that already
// have an active version are handled per the conflict policy; consent
// grants always upsert.
func Import(ctx context.Context, bundle *Bundle, cards CardWriter, consent ConsentWriter, opts ImportOptions) (*ImportReport, error) {
	policy := opts.ConflictPolicy
	if policy == "" {
		policy = ConflictSkip
	}

	report := &ImportReport{DryRun: opts.DryRun}

	for _, entry := range bundle.Cards {
		existing, err := cards.GetActiveVersion(ctx, core.CharacterID(entry.CharacterID))
		if err != nil && !core.IsCategory(err, core.ErrCatNotFound) {
			return nil, fmt.Errorf("checking existing card for %s: %w", entry.CharacterID, err)
		}

		if existing != nil {
			switch policy {
			case ConflictFail:
				return nil, fmt.Errorf("character %s already has an active card (v%d)",
					entry.CharacterID, existing.Version)
			case ConflictSkip:
				report.CardsSkipped++
				report.Skipped = append(report.Skipped, entry.CharacterID)
				continue
			case ConflictOverwrite:
				// fall through to publish
			default:
				return nil, fmt.Errorf("unknown conflict policy %q", policy)
			}
		}

		if !opts.DryRun {
			card := entry.card()
			if err := cards.PublishCard(ctx, &card); err != nil {
				return nil, fmt.Errorf("publishing card for %s: %w", entry.CharacterID, err)
			}
		}
		report.CardsImported++
	}

	for _, entry := range bundle.Consent {
		if !opts.DryRun {
			if err := consent.UpsertConsent(ctx, entry.record()); err != nil {
				return nil, fmt.Errorf("importing consent for %s: %w", entry.CharacterID, err)
			}
		}
		report.ConsentImported++
	}

	return report, nil
}
