// Package snapshot exports and imports licensing bundles: the active
// character card versions and consent grants of one deployment,
// serialized to a portable YAML file. Bundles move card and consent
// state between environments without copying the run database.
package snapshot

import (
	"time"

	"github.com/apm-labs/apm/internal/core"
)

// FormatVersion is the current bundle format version.
const FormatVersion = 1

// ConflictPolicy controls how import handles characters that already
// have an active card at the destination.
type ConflictPolicy string

const (
	ConflictSkip      ConflictPolicy = "skip"
	ConflictOverwrite ConflictPolicy = "overwrite"
	ConflictFail      ConflictPolicy = "fail"
)

// Bundle is the on-disk licensing bundle.
type Bundle struct {
	Version   int            `yaml:"version"`
	CreatedAt time.Time      `yaml:"created_at"`
	Checksum  string         `yaml:"checksum,omitempty"`
	Cards     []CardEntry    `yaml:"cards"`
	Consent   []ConsentEntry `yaml:"consent"`
}

// CardEntry is one character card version in a bundle.
type CardEntry struct {
	CharacterID string    `yaml:"character_id"`
	Version     int       `yaml:"version"`
	Canon       string    `yaml:"canon"`
	Legal       string    `yaml:"legal"`
	Safety      string    `yaml:"safety"`
	Visual      string    `yaml:"visual,omitempty"`
	Audio       string    `yaml:"audio,omitempty"`
	PublishedAt time.Time `yaml:"published_at"`
}

// ConsentEntry is one consent grant in a bundle.
type ConsentEntry struct {
	CharacterID  string    `yaml:"character_id"`
	Modality     string    `yaml:"modality"`
	Territory    string    `yaml:"territory,omitempty"`
	ValidFrom    time.Time `yaml:"valid_from"`
	ValidTo      time.Time `yaml:"valid_to"`
	StrikeActive bool      `yaml:"strike_active,omitempty"`
}

// ImportOptions configures bundle import behavior.
type ImportOptions struct {
	ConflictPolicy ConflictPolicy
	DryRun         bool
}

// ImportReport summarizes one import operation.
type ImportReport struct {
	CardsImported   int      `yaml:"cards_imported"`
	CardsSkipped    int      `yaml:"cards_skipped"`
	ConsentImported int      `yaml:"consent_imported"`
	DryRun          bool     `yaml:"dry_run,omitempty"`
	Skipped         []string `yaml:"skipped,omitempty"`
}

func cardEntry(card core.CharacterCardVersion) CardEntry {
	return CardEntry{
		CharacterID: string(card.CharacterID),
		Version:     card.Version,
		Canon:       card.Packs.Canon,
		Legal:       card.Packs.Legal,
		Safety:      card.Packs.Safety,
		Visual:      card.Packs.Visual,
		Audio:       card.Packs.Audio,
		PublishedAt: card.PublishedAt,
	}
}

func (e CardEntry) card() core.CharacterCardVersion {
	return core.CharacterCardVersion{
		CharacterID: core.CharacterID(e.CharacterID),
		Version:     e.Version,
		Packs: core.CardPacks{
			Canon:  e.Canon,
			Legal:  e.Legal,
			Safety: e.Safety,
			Visual: e.Visual,
			Audio:  e.Audio,
		},
		Status:      core.CardActive,
		PublishedAt: e.PublishedAt,
	}
}

func consentEntry(rec core.ConsentRecord) ConsentEntry {
	return ConsentEntry{
		CharacterID:  string(rec.CharacterID),
		Modality:     string(rec.Modality),
		Territory:    rec.Territory,
		ValidFrom:    rec.ValidFrom,
		ValidTo:      rec.ValidTo,
		StrikeActive: rec.StrikeActive,
	}
}

func (e ConsentEntry) record() core.ConsentRecord {
	return core.ConsentRecord{
		CharacterID:  core.CharacterID(e.CharacterID),
		Modality:     core.Modality(e.Modality),
		Territory:    e.Territory,
		ValidFrom:    e.ValidFrom,
		ValidTo:      e.ValidTo,
		StrikeActive: e.StrikeActive,
	}
}
