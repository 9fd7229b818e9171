// Package state persists evaluation runs, character cards, and consent
// records in SQLite. The store is the enforcement point for the run
// state machine: forward-only transitions and terminal immutability are
// checked here, not just in the pipeline, so no caller can corrupt
// history.
package state

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/apm-labs/apm/internal/core"
	_ "modernc.org/sqlite"
)

//go:embed migrations/001_initial_schema.sql
var migrationV1 string

// SQLiteStore implements core.RunStore, core.CardStore, and
// core.ConsentStore on a single SQLite database.
type SQLiteStore struct {
	dbPath string
	db     *sql.DB
	mu     sync.RWMutex
}

// SQLiteStoreOption configures the store.
type SQLiteStoreOption func(*SQLiteStore)

// NewSQLiteStore opens (or creates) the database at dbPath and runs
// pending migrations.
func NewSQLiteStore(dbPath string, opts ...SQLiteStoreOption) (*SQLiteStore, error) {
	s := &SQLiteStore{dbPath: dbPath}
	for _, opt := range opts {
		opt(s)
	}

	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("creating store directory: %w", err)
	}

	// WAL keeps readers unblocked while the pipeline appends results.
	db, err := sql.Open("sqlite", dbPath+"?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	s.db = db

	if err := s.migrate(); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			return nil, fmt.Errorf("running migrations: %w (close error: %v)", err, closeErr)
		}
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLiteStore) migrate() error {
	var version int
	err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_migrations").Scan(&version)
	if err != nil {
		// Table doesn't exist yet, run initial migration
		version = 0
	}
	if version < 1 {
		if _, err := s.db.Exec(migrationV1); err != nil {
			return fmt.Errorf("applying migration v1: %w", err)
		}
	}
	return nil
}

// =============================================================================
// core.RunStore
// =============================================================================

// Create persists a new run. The run must be in pending state.
func (s *SQLiteStore) Create(ctx context.Context, run *core.EvaluationRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if run.Status != core.StatusPending {
		return core.ErrState(core.CodeInvalidTransition,
			fmt.Sprintf("new runs must be pending, got %s", run.Status))
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO evaluation_runs (
			id, character_id, card_version, agent_id, modality, content_ref,
			territory, status, sampled, consent_verified, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`,
		run.ID, run.CharacterID, run.CardVersion, nullableString(run.AgentID),
		run.Modality, run.ContentRef, run.Territory, run.Status,
		boolInt(run.Sampled), boolInt(run.ConsentVerified), run.CreatedAt,
	)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint") {
			return core.ErrState("DUPLICATE_RUN", fmt.Sprintf("run %s already exists", run.ID))
		}
		return fmt.Errorf("inserting run: %w", err)
	}
	return nil
}

// UpdateStatus advances a run. Illegal transitions are rejected inside
// the same transaction that reads the current status, so concurrent
// writers cannot race past the state machine.
func (s *SQLiteStore) UpdateStatus(ctx context.Context, id core.RunID, status core.RunStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := s.lockStatus(ctx, tx, id)
	if err != nil {
		return err
	}
	if !current.CanTransition(status) {
		if current.Terminal() {
			return core.ErrState(core.CodeRunTerminal,
				fmt.Sprintf("run %s is terminal (%s) and cannot change", id, current))
		}
		return core.ErrState(core.CodeInvalidTransition,
			fmt.Sprintf("cannot move run %s from %s to %s", id, current, status))
	}

	if _, err := tx.ExecContext(ctx,
		"UPDATE evaluation_runs SET status = ? WHERE id = ?", status, id); err != nil {
		return fmt.Errorf("updating run status: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// AppendCriticResult records one critic outcome on a non-terminal run.
// Re-appending the same critic replaces the earlier row, which covers
// retried stages after a partial failure.
func (s *SQLiteStore) AppendCriticResult(ctx context.Context, id core.RunID, result core.CriticResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := s.lockStatus(ctx, tx, id)
	if err != nil {
		return err
	}
	if current.Terminal() {
		return core.ErrState(core.CodeRunTerminal,
			fmt.Sprintf("run %s is terminal; critic results are frozen", id))
	}

	if err := insertCriticResult(ctx, tx, id, result); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Complete moves a run terminal with its final decision, flags, critic
// results, and provenance, all in one transaction.
func (s *SQLiteStore) Complete(ctx context.Context, run *core.EvaluationRun, prov *core.ProvenanceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !run.Status.Terminal() {
		return core.ErrState(core.CodeInvalidTransition,
			fmt.Sprintf("Complete requires a terminal status, got %s", run.Status))
	}
	if run.CompletedAt == nil {
		return core.ErrState(core.CodeInvalidTransition,
			fmt.Sprintf("run %s missing completion time", run.ID))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	current, err := s.lockStatus(ctx, tx, run.ID)
	if err != nil {
		return err
	}
	if current.Terminal() {
		return core.ErrState(core.CodeRunTerminal,
			fmt.Sprintf("run %s already terminal (%s)", run.ID, current))
	}

	var score any
	if run.OverallScore != nil {
		score = *run.OverallScore
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE evaluation_runs SET
			status = ?, overall_score = ?, decision = ?, sampled = ?,
			consent_verified = ?, completed_at = ?
		WHERE id = ?
	`, run.Status, score, run.Decision, boolInt(run.Sampled),
		boolInt(run.ConsentVerified), run.CompletedAt, run.ID); err != nil {
		return fmt.Errorf("finalizing run: %w", err)
	}

	// Re-write the full result set so a crash between appends and
	// completion cannot leave a terminal run with partial results.
	if _, err := tx.ExecContext(ctx,
		"DELETE FROM critic_results WHERE run_id = ?", run.ID); err != nil {
		return fmt.Errorf("clearing critic results: %w", err)
	}
	for _, res := range run.CriticScores {
		if err := insertCriticResult(ctx, tx, run.ID, res); err != nil {
			return err
		}
	}

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM run_flags WHERE run_id = ?", run.ID); err != nil {
		return fmt.Errorf("clearing run flags: %w", err)
	}
	for _, fl := range run.AllFlags() {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO run_flags (run_id, critic_id, code, severity, message)
			VALUES (?, ?, ?, ?, ?)
		`, run.ID, fl.CriticID, fl.Code, fl.Severity, fl.Message); err != nil {
			return fmt.Errorf("inserting flag %s: %w", fl.Code, err)
		}
	}

	if prov != nil {
		payload, err := json.Marshal(prov)
		if err != nil {
			return fmt.Errorf("marshaling provenance: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO provenance_records (run_id, payload, payload_hash, embedded_at)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(run_id) DO NOTHING
		`, run.ID, string(payload), prov.PayloadHash, prov.Timestamp); err != nil {
			return fmt.Errorf("inserting provenance: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Get returns a run with its critic results and flags.
func (s *SQLiteStore) Get(ctx context.Context, id core.RunID) (*core.EvaluationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, err := s.scanRun(s.db.QueryRowContext(ctx, `
		SELECT id, character_id, card_version, agent_id, modality, content_ref,
		       territory, status, overall_score, decision, sampled,
		       consent_verified, created_at, completed_at
		FROM evaluation_runs WHERE id = ?
	`, id))
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound("run", string(id))
	}
	if err != nil {
		return nil, fmt.Errorf("loading run: %w", err)
	}

	if err := s.loadResults(ctx, run); err != nil {
		return nil, err
	}
	if err := s.loadFlags(ctx, run); err != nil {
		return nil, err
	}
	return run, nil
}

// List returns runs matching the filter, newest first.
func (s *SQLiteStore) List(ctx context.Context, filter core.RunFilter) ([]*core.EvaluationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `
		SELECT id, character_id, card_version, agent_id, modality, content_ref,
		       territory, status, overall_score, decision, sampled,
		       consent_verified, created_at, completed_at
		FROM evaluation_runs`
	var conds []string
	var args []any
	if filter.CharacterID != "" {
		conds = append(conds, "character_id = ?")
		args = append(args, filter.CharacterID)
	}
	if filter.Decision != "" {
		conds = append(conds, "decision = ?")
		args = append(args, filter.Decision)
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, filter.Status)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"
	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += " LIMIT ?"
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*core.EvaluationRun
	for rows.Next() {
		run, err := s.scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating runs: %w", err)
	}
	return runs, nil
}

// Provenance returns the stored provenance record for a terminal run.
func (s *SQLiteStore) Provenance(ctx context.Context, id core.RunID) (*core.ProvenanceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var payload string
	err := s.db.QueryRowContext(ctx,
		"SELECT payload FROM provenance_records WHERE run_id = ?", id).Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound("provenance", string(id))
	}
	if err != nil {
		return nil, fmt.Errorf("loading provenance: %w", err)
	}

	var rec core.ProvenanceRecord
	if err := json.Unmarshal([]byte(payload), &rec); err != nil {
		return nil, fmt.Errorf("unmarshaling provenance: %w", err)
	}
	return &rec, nil
}

// AddResolution appends a human review resolution. The run itself is
// never touched.
func (s *SQLiteStore) AddResolution(ctx context.Context, res *core.ReviewResolution) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var status core.RunStatus
	err := s.db.QueryRowContext(ctx,
		"SELECT status FROM evaluation_runs WHERE id = ?", res.RunID).Scan(&status)
	if err == sql.ErrNoRows {
		return core.ErrNotFound("run", string(res.RunID))
	}
	if err != nil {
		return fmt.Errorf("loading run status: %w", err)
	}
	if !status.Terminal() {
		return core.ErrState(core.CodeInvalidTransition,
			fmt.Sprintf("run %s is not terminal; resolutions apply to finished runs only", res.RunID))
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO review_resolutions (id, run_id, action, reason, resolved_by, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, res.ID, res.RunID, res.Action, nullableString(res.Reason),
		nullableString(res.ResolvedBy), res.ResolvedAt)
	if err != nil {
		return fmt.Errorf("inserting resolution: %w", err)
	}
	return nil
}

// StuckPending returns pending runs created before the cutoff.
func (s *SQLiteStore) StuckPending(ctx context.Context, cutoff time.Time) ([]*core.EvaluationRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, character_id, card_version, agent_id, modality, content_ref,
		       territory, status, overall_score, decision, sampled,
		       consent_verified, created_at, completed_at
		FROM evaluation_runs
		WHERE status = ? AND created_at < ?
		ORDER BY created_at
	`, core.StatusPending, cutoff)
	if err != nil {
		return nil, fmt.Errorf("querying stuck runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var runs []*core.EvaluationRun
	for rows.Next() {
		run, err := s.scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}

// Resolutions returns the review resolutions recorded against a run.
func (s *SQLiteStore) Resolutions(ctx context.Context, id core.RunID) ([]core.ReviewResolution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_id, action, reason, resolved_by, resolved_at
		FROM review_resolutions WHERE run_id = ? ORDER BY resolved_at
	`, id)
	if err != nil {
		return nil, fmt.Errorf("querying resolutions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []core.ReviewResolution
	for rows.Next() {
		var res core.ReviewResolution
		var reason, resolvedBy sql.NullString
		if err := rows.Scan(&res.ID, &res.RunID, &res.Action, &reason, &resolvedBy, &res.ResolvedAt); err != nil {
			return nil, fmt.Errorf("scanning resolution: %w", err)
		}
		res.Reason = reason.String
		res.ResolvedBy = resolvedBy.String
		out = append(out, res)
	}
	return out, rows.Err()
}

// =============================================================================
// core.CardStore
// =============================================================================

// GetActiveVersion returns the active card version for a character.
func (s *SQLiteStore) GetActiveVersion(ctx context.Context, characterID core.CharacterID) (*core.CharacterCardVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryCard(ctx, `
		SELECT character_id, version, canon_pack, legal_pack, safety_pack,
		       visual_pack, audio_pack, status, published_at
		FROM card_versions WHERE character_id = ? AND status = ?
	`, characterID, core.CardActive)
}

// GetVersion returns a specific card version.
func (s *SQLiteStore) GetVersion(ctx context.Context, characterID core.CharacterID, version int) (*core.CharacterCardVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.queryCard(ctx, `
		SELECT character_id, version, canon_pack, legal_pack, safety_pack,
		       visual_pack, audio_pack, status, published_at
		FROM card_versions WHERE character_id = ? AND version = ?
	`, characterID, version)
}

// PublishCard inserts a card version and makes it active, archiving the
// previous active version.
func (s *SQLiteStore) PublishCard(ctx context.Context, card *core.CharacterCardVersion) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		UPDATE card_versions SET status = ? WHERE character_id = ? AND status = ?
	`, core.CardArchived, card.CharacterID, core.CardActive); err != nil {
		return fmt.Errorf("archiving previous version: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO card_versions (
			character_id, version, canon_pack, legal_pack, safety_pack,
			visual_pack, audio_pack, status, published_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, card.CharacterID, card.Version, card.Packs.Canon, card.Packs.Legal,
		card.Packs.Safety, nullableString(card.Packs.Visual),
		nullableString(card.Packs.Audio), core.CardActive, card.PublishedAt); err != nil {
		return fmt.Errorf("inserting card version: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// ActiveCards returns the active card version for every character,
// ordered by character id. Used by the licensing bundle export.
func (s *SQLiteStore) ActiveCards(ctx context.Context) ([]core.CharacterCardVersion, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT character_id, version, canon_pack, legal_pack, safety_pack,
		       visual_pack, audio_pack, status, published_at
		FROM card_versions WHERE status = ? ORDER BY character_id
	`, core.CardActive)
	if err != nil {
		return nil, fmt.Errorf("querying active cards: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var cards []core.CharacterCardVersion
	for rows.Next() {
		var card core.CharacterCardVersion
		var visual, audio sql.NullString
		if err := rows.Scan(&card.CharacterID, &card.Version, &card.Packs.Canon,
			&card.Packs.Legal, &card.Packs.Safety, &visual, &audio,
			&card.Status, &card.PublishedAt); err != nil {
			return nil, fmt.Errorf("scanning card version: %w", err)
		}
		card.Packs.Visual = visual.String
		card.Packs.Audio = audio.String
		cards = append(cards, card)
	}
	return cards, rows.Err()
}

func (s *SQLiteStore) queryCard(ctx context.Context, query string, args ...any) (*core.CharacterCardVersion, error) {
	var card core.CharacterCardVersion
	var visual, audio sql.NullString
	err := s.db.QueryRowContext(ctx, query, args...).Scan(
		&card.CharacterID, &card.Version, &card.Packs.Canon, &card.Packs.Legal,
		&card.Packs.Safety, &visual, &audio, &card.Status, &card.PublishedAt,
	)
	if err == sql.ErrNoRows {
		return nil, core.ErrNotFound("character_card", fmt.Sprintf("%v", args[0]))
	}
	if err != nil {
		return nil, fmt.Errorf("loading card version: %w", err)
	}
	card.Packs.Visual = visual.String
	card.Packs.Audio = audio.String
	return &card, nil
}

// =============================================================================
// core.ConsentStore
// =============================================================================

// Records returns all consent records for a character.
func (s *SQLiteStore) Records(ctx context.Context, characterID core.CharacterID) ([]core.ConsentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT character_id, modality, territory, valid_from, valid_to, strike_active
		FROM consent_records WHERE character_id = ?
	`, characterID)
	if err != nil {
		return nil, fmt.Errorf("querying consent records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []core.ConsentRecord
	for rows.Next() {
		var rec core.ConsentRecord
		var strike int
		if err := rows.Scan(&rec.CharacterID, &rec.Modality, &rec.Territory,
			&rec.ValidFrom, &rec.ValidTo, &strike); err != nil {
			return nil, fmt.Errorf("scanning consent record: %w", err)
		}
		rec.StrikeActive = strike != 0
		records = append(records, rec)
	}
	return records, rows.Err()
}

// UpsertConsent records or refreshes a consent grant.
func (s *SQLiteStore) UpsertConsent(ctx context.Context, rec core.ConsentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		DELETE FROM consent_records
		WHERE character_id = ? AND modality = ? AND territory = ?
	`, rec.CharacterID, rec.Modality, rec.Territory); err != nil {
		return fmt.Errorf("clearing prior grant: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO consent_records (
			character_id, modality, territory, valid_from, valid_to, strike_active
		) VALUES (?, ?, ?, ?, ?, ?)
	`, rec.CharacterID, rec.Modality, rec.Territory,
		rec.ValidFrom, rec.ValidTo, boolInt(rec.StrikeActive)); err != nil {
		return fmt.Errorf("inserting consent record: %w", err)
	}
	return tx.Commit()
}

// AllConsent returns every consent record, ordered by character id.
// Used by the licensing bundle export.
func (s *SQLiteStore) AllConsent(ctx context.Context) ([]core.ConsentRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT character_id, modality, territory, valid_from, valid_to, strike_active
		FROM consent_records ORDER BY character_id, modality, territory
	`)
	if err != nil {
		return nil, fmt.Errorf("querying consent records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var records []core.ConsentRecord
	for rows.Next() {
		var rec core.ConsentRecord
		var strike int
		if err := rows.Scan(&rec.CharacterID, &rec.Modality, &rec.Territory,
			&rec.ValidFrom, &rec.ValidTo, &strike); err != nil {
			return nil, fmt.Errorf("scanning consent record: %w", err)
		}
		rec.StrikeActive = strike != 0
		records = append(records, rec)
	}
	return records, rows.Err()
}

// SetStrike flips the strike bit on every record for a character.
func (s *SQLiteStore) SetStrike(ctx context.Context, characterID core.CharacterID, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		UPDATE consent_records SET strike_active = ? WHERE character_id = ?
	`, boolInt(active), characterID)
	if err != nil {
		return fmt.Errorf("updating strike flag: %w", err)
	}
	return nil
}

// =============================================================================
// Helpers
// =============================================================================

// lockStatus reads the current status inside a write transaction.
func (s *SQLiteStore) lockStatus(ctx context.Context, tx *sql.Tx, id core.RunID) (core.RunStatus, error) {
	var status core.RunStatus
	err := tx.QueryRowContext(ctx,
		"SELECT status FROM evaluation_runs WHERE id = ?", id).Scan(&status)
	if err == sql.ErrNoRows {
		return "", core.ErrNotFound("run", string(id))
	}
	if err != nil {
		return "", fmt.Errorf("loading run status: %w", err)
	}
	return status, nil
}

func insertCriticResult(ctx context.Context, tx *sql.Tx, id core.RunID, res core.CriticResult) error {
	var score any
	if res.Score != nil {
		score = *res.Score
	}
	_, err := tx.ExecContext(ctx, `
		INSERT INTO critic_results (
			run_id, critic_id, score, reasoning, weight, stage,
			attempts, latency_ms, degraded, skip_reason
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(run_id, critic_id) DO UPDATE SET
			score = excluded.score,
			reasoning = excluded.reasoning,
			weight = excluded.weight,
			stage = excluded.stage,
			attempts = excluded.attempts,
			latency_ms = excluded.latency_ms,
			degraded = excluded.degraded,
			skip_reason = excluded.skip_reason
	`, id, res.CriticID, score, nullableString(res.Reasoning), res.Weight,
		res.Stage, res.Attempts, res.Latency.Milliseconds(),
		boolInt(res.Degraded), nullableString(res.SkipReason))
	if err != nil {
		return fmt.Errorf("inserting critic result %s: %w", res.CriticID, err)
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *SQLiteStore) scanRun(row rowScanner) (*core.EvaluationRun, error) {
	var run core.EvaluationRun
	var agentID, decision sql.NullString
	var score sql.NullFloat64
	var sampled, consentVerified int
	var completedAt sql.NullTime

	err := row.Scan(
		&run.ID, &run.CharacterID, &run.CardVersion, &agentID, &run.Modality,
		&run.ContentRef, &run.Territory, &run.Status, &score, &decision,
		&sampled, &consentVerified, &run.CreatedAt, &completedAt,
	)
	if err != nil {
		return nil, err
	}

	run.AgentID = agentID.String
	run.Decision = core.Decision(decision.String)
	if score.Valid {
		v := score.Float64
		run.OverallScore = &v
	}
	run.Sampled = sampled != 0
	run.ConsentVerified = consentVerified != 0
	if completedAt.Valid {
		t := completedAt.Time
		run.CompletedAt = &t
	}
	run.CriticScores = make(map[core.CriticID]core.CriticResult)
	return &run, nil
}

func (s *SQLiteStore) loadResults(ctx context.Context, run *core.EvaluationRun) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT critic_id, score, reasoning, weight, stage, attempts,
		       latency_ms, degraded, skip_reason
		FROM critic_results WHERE run_id = ?
	`, run.ID)
	if err != nil {
		return fmt.Errorf("querying critic results: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var res core.CriticResult
		var score sql.NullFloat64
		var reasoning, skipReason sql.NullString
		var latencyMS int64
		var degraded int
		if err := rows.Scan(&res.CriticID, &score, &reasoning, &res.Weight,
			&res.Stage, &res.Attempts, &latencyMS, &degraded, &skipReason); err != nil {
			return fmt.Errorf("scanning critic result: %w", err)
		}
		if score.Valid {
			v := score.Float64
			res.Score = &v
		}
		res.Reasoning = reasoning.String
		res.SkipReason = skipReason.String
		res.Latency = time.Duration(latencyMS) * time.Millisecond
		res.Degraded = degraded != 0
		run.CriticScores[res.CriticID] = res
	}
	return rows.Err()
}

func (s *SQLiteStore) loadFlags(ctx context.Context, run *core.EvaluationRun) error {
	rows, err := s.db.QueryContext(ctx, `
		SELECT critic_id, code, severity, message
		FROM run_flags WHERE run_id = ?
	`, run.ID)
	if err != nil {
		return fmt.Errorf("querying run flags: %w", err)
	}
	defer func() { _ = rows.Close() }()

	// Flags were denormalized across critic results at completion time;
	// reads surface them at run level only, which is all downstream
	// consumers need.
	critic := make(map[core.CriticID][]core.Flag)
	for rows.Next() {
		var fl core.Flag
		var message sql.NullString
		if err := rows.Scan(&fl.CriticID, &fl.Code, &fl.Severity, &message); err != nil {
			return fmt.Errorf("scanning flag: %w", err)
		}
		fl.Message = message.String
		if fl.CriticID != "" {
			critic[fl.CriticID] = append(critic[fl.CriticID], fl)
			continue
		}
		run.Flags = append(run.Flags, fl)
	}
	for id, flags := range critic {
		res, ok := run.CriticScores[id]
		if !ok {
			run.Flags = append(run.Flags, flags...)
			continue
		}
		res.Flags = flags
		run.CriticScores[id] = res
	}
	return rows.Err()
}

func nullableString(v string) sql.NullString {
	if v == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: v, Valid: true}
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
