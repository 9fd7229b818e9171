package snapshot

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/apm-labs/apm/internal/config"
	"github.com/apm-labs/apm/internal/core"
)

// CardLister exposes the active card set for export.
type CardLister interface {
	ActiveCards(ctx context.Context) ([]core.CharacterCardVersion, error)
}

// ConsentLister exposes all consent grants for export.
type ConsentLister interface {
	AllConsent(ctx context.Context) ([]core.ConsentRecord, error)
}

// Export writes the active cards and consent grants to a bundle file.
// The write is atomic; a crash never leaves a truncated bundle.
func Export(ctx context.Context, cards CardLister, consent ConsentLister, path string) (*Bundle, error) {
	activeCards, err := cards.ActiveCards(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing active cards: %w", err)
	}
	grants, err := consent.AllConsent(ctx)
	if err != nil {
		return nil, fmt.Errorf("listing consent grants: %w", err)
	}

	bundle := &Bundle{
		Version:   FormatVersion,
		CreatedAt: time.Now().UTC(),
		Cards:     make([]CardEntry, 0, len(activeCards)),
		Consent:   make([]ConsentEntry, 0, len(grants)),
	}
	for _, card := range activeCards {
		bundle.Cards = append(bundle.Cards, cardEntry(card))
	}
	for _, rec := range grants {
		bundle.Consent = append(bundle.Consent, consentEntry(rec))
	}

	sum, err := checksum(bundle)
	if err != nil {
		return nil, err
	}
	bundle.Checksum = sum

	data, err := yaml.Marshal(bundle)
	if err != nil {
		return nil, fmt.Errorf("encoding bundle: %w", err)
	}
	if err := config.AtomicWrite(path, data); err != nil {
		return nil, fmt.Errorf("writing bundle: %w", err)
	}
	return bundle, nil
}

// checksum hashes the bundle body with the checksum field cleared, so
// the stored value covers everything else.
func checksum(bundle *Bundle) (string, error) {
	body := *bundle
	body.Checksum = ""
	data, err := yaml.Marshal(&body)
	if err != nil {
		return "", fmt.Errorf("encoding bundle for checksum: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}
