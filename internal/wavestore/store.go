// Package wavestore is a destination wavelet store: an append-only delta log
// per wavelet in SQLite, with the current hashed version and participant set
// kept alongside. A delta is accepted only at the wavelet's current hashed
// version, which is what makes chain continuation checkable end to end.
package wavestore

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"time"

	"github.com/pressly/goose/v3"
	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/wavemigrate/wavemigrate/internal/delta"
	"github.com/wavemigrate/wavemigrate/internal/waveid"
)

// Rejections. The store refused the delta; nothing was written.
var (
	ErrVersionMismatch = errors.New("wavestore: delta not at current version")
	ErrInvalidDelta    = errors.New("wavestore: invalid operation")
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

const (
	sqlHead = `SELECT version, history_hash FROM wavelets
		WHERE wave_id = ? AND wavelet_id = ?`

	sqlInsertWavelet = `INSERT INTO wavelets
		(wave_id, wavelet_id, version, history_hash, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`

	sqlUpdateWavelet = `UPDATE wavelets SET version = ?, history_hash = ?, updated_at = ?
		WHERE wave_id = ? AND wavelet_id = ?`

	sqlInsertDelta = `INSERT INTO deltas
		(wave_id, wavelet_id, applied_version, resulting_version, resulting_hash,
		 author, op_count, delta, applied_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	sqlListDeltas = `SELECT applied_version, resulting_version, resulting_hash,
		author, op_count, delta, applied_at
		FROM deltas WHERE wave_id = ? AND wavelet_id = ?
		ORDER BY seq`

	sqlParticipants = `SELECT address FROM participants
		WHERE wave_id = ? AND wavelet_id = ? ORDER BY position`

	sqlHasParticipant = `SELECT COUNT(*) FROM participants
		WHERE wave_id = ? AND wavelet_id = ? AND address = ?`

	sqlAddParticipant = `INSERT INTO participants (wave_id, wavelet_id, address, position)
		VALUES (?, ?, ?, (SELECT COALESCE(MAX(position), -1) + 1 FROM participants
			WHERE wave_id = ? AND wavelet_id = ?))`

	sqlRemoveParticipant = `DELETE FROM participants
		WHERE wave_id = ? AND wavelet_id = ? AND address = ?`
)

// Store is a SQLite-backed wavelet store. Safe for concurrent use; writes
// are serialized by the single connection.
type Store struct {
	db     *sql.DB
	logger *slog.Logger

	// nowFunc stamps applied deltas. Injectable for tests.
	nowFunc func() time.Time
}

// Open opens (creating if needed) the database at dbPath and applies
// pending migrations.
func Open(ctx context.Context, dbPath string, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	// DSN parameters ensure pragmas apply to every connection from the pool.
	dsn := fmt.Sprintf(
		"file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(FULL)"+
			"&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)",
		dbPath,
	)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("wavestore: opening database %s: %w", dbPath, err)
	}

	db.SetMaxOpenConns(1)

	if err := migrate(ctx, db, logger); err != nil {
		db.Close()
		return nil, err
	}

	logger.Info("wavelet store opened", slog.String("db_path", dbPath))

	return &Store{db: db, logger: logger, nowFunc: time.Now}, nil
}

func migrate(ctx context.Context, db *sql.DB, logger *slog.Logger) error {
	subFS, err := fs.Sub(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("wavestore: creating migration sub-filesystem: %w", err)
	}

	provider, err := goose.NewProvider(goose.DialectSQLite3, db, subFS)
	if err != nil {
		return fmt.Errorf("wavestore: creating migration provider: %w", err)
	}

	results, err := provider.Up(ctx)
	if err != nil {
		return fmt.Errorf("wavestore: running migrations: %w", err)
	}

	for _, r := range results {
		logger.Info("applied migration",
			slog.String("source", r.Source.Path),
			slog.Int64("duration_ms", r.Duration.Milliseconds()),
		)
	}

	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// HasSnapshot reports whether the wavelet exists, i.e. at least one delta
// has been applied to it.
func (s *Store) HasSnapshot(ctx context.Context, name waveid.WaveletName) (bool, error) {
	_, ok, err := s.Head(ctx, name)
	return ok, err
}

// Head returns the wavelet's current hashed version. ok is false for a
// wavelet that does not exist yet.
func (s *Store) Head(ctx context.Context, name waveid.WaveletName) (delta.HashedVersion, bool, error) {
	return head(ctx, s.db, name)
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func head(ctx context.Context, q queryer, name waveid.WaveletName) (delta.HashedVersion, bool, error) {
	var hv delta.HashedVersion

	err := q.QueryRowContext(ctx, sqlHead, name.Wave, name.Wavelet).Scan(&hv.Version, &hv.HistoryHash)
	if errors.Is(err, sql.ErrNoRows) {
		return delta.HashedVersion{}, false, nil
	}

	if err != nil {
		return delta.HashedVersion{}, false, fmt.Errorf("wavestore: reading head of %s: %w", name, err)
	}

	return hv, true, nil
}

// Submit applies d to the wavelet and returns the resulting hashed version.
// d must be at the wavelet's current version (the genesis version for a new
// wavelet). Participant operations must be consistent with the current
// participant set. A refused delta leaves the store unchanged.
func (s *Store) Submit(ctx context.Context, name waveid.WaveletName, d *delta.WaveletDelta) (result delta.HashedVersion, err error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return delta.HashedVersion{}, fmt.Errorf("wavestore: beginning transaction: %w", err)
	}

	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	current, exists, err := head(ctx, tx, name)
	if err != nil {
		return delta.HashedVersion{}, err
	}

	if !exists {
		current = delta.Genesis(name)
	}

	if !d.HashedVersion.Equal(current) {
		return delta.HashedVersion{}, fmt.Errorf("%w: %s submitted at %s, current %s",
			ErrVersionMismatch, name, d.HashedVersion, current)
	}

	raw := d.Marshal()
	next := delta.Next(current, raw, len(d.Operations))
	now := s.nowFunc().UnixNano()

	if exists {
		_, err = tx.ExecContext(ctx, sqlUpdateWavelet, next.Version, next.HistoryHash, now, name.Wave, name.Wavelet)
	} else {
		_, err = tx.ExecContext(ctx, sqlInsertWavelet, name.Wave, name.Wavelet, next.Version, next.HistoryHash, now, now)
	}

	if err != nil {
		return delta.HashedVersion{}, fmt.Errorf("wavestore: updating head of %s: %w", name, err)
	}

	if _, err = tx.ExecContext(ctx, sqlInsertDelta,
		name.Wave, name.Wavelet, current.Version, next.Version, next.HistoryHash,
		d.Author, len(d.Operations), raw, now,
	); err != nil {
		return delta.HashedVersion{}, fmt.Errorf("wavestore: appending delta to %s: %w", name, err)
	}

	for i, op := range d.Operations {
		if err = applyParticipantOp(ctx, tx, name, op); err != nil {
			return delta.HashedVersion{}, fmt.Errorf("wavestore: operation %d: %w", i, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return delta.HashedVersion{}, fmt.Errorf("wavestore: committing delta to %s: %w", name, err)
	}

	s.logger.Debug("delta applied",
		slog.String("wavelet", name.String()),
		slog.Int64("version", next.Version),
		slog.Int("ops", len(d.Operations)),
	)

	return next, nil
}

func applyParticipantOp(ctx context.Context, tx *sql.Tx, name waveid.WaveletName, op delta.Operation) error {
	if op.Kind != delta.OpAddParticipant && op.Kind != delta.OpRemoveParticipant {
		return nil
	}

	var n int
	if err := tx.QueryRowContext(ctx, sqlHasParticipant, name.Wave, name.Wavelet, op.Participant).Scan(&n); err != nil {
		return fmt.Errorf("wavestore: checking participant: %w", err)
	}

	switch {
	case op.Kind == delta.OpAddParticipant && n > 0:
		return fmt.Errorf("%w: %s is already a participant", ErrInvalidDelta, op.Participant)
	case op.Kind == delta.OpRemoveParticipant && n == 0:
		return fmt.Errorf("%w: %s is not a participant", ErrInvalidDelta, op.Participant)
	case op.Kind == delta.OpAddParticipant:
		if _, err := tx.ExecContext(ctx, sqlAddParticipant,
			name.Wave, name.Wavelet, op.Participant, name.Wave, name.Wavelet); err != nil {
			return fmt.Errorf("wavestore: adding participant: %w", err)
		}
	default:
		if _, err := tx.ExecContext(ctx, sqlRemoveParticipant, name.Wave, name.Wavelet, op.Participant); err != nil {
			return fmt.Errorf("wavestore: removing participant: %w", err)
		}
	}

	return nil
}

// Participants returns the wavelet's participants in the order they were
// added.
func (s *Store) Participants(ctx context.Context, name waveid.WaveletName) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, sqlParticipants, name.Wave, name.Wavelet)
	if err != nil {
		return nil, fmt.Errorf("wavestore: listing participants of %s: %w", name, err)
	}
	defer rows.Close()

	var out []string

	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, fmt.Errorf("wavestore: scanning participant: %w", err)
		}

		out = append(out, p)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("wavestore: iterating participants: %w", err)
	}

	return out, nil
}

// AppliedDelta is one row of a wavelet's history.
type AppliedDelta struct {
	AppliedVersion int64
	Resulting      delta.HashedVersion
	Author         string
	OpCount        int
	Delta          []byte
	AppliedAt      time.Time
}

// History returns the wavelet's deltas in application order.
func (s *Store) History(ctx context.Context, name waveid.WaveletName) ([]AppliedDelta, error) {
	rows, err := s.db.QueryContext(ctx, sqlListDeltas, name.Wave, name.Wavelet)
	if err != nil {
		return nil, fmt.Errorf("wavestore: listing deltas of %s: %w", name, err)
	}
	defer rows.Close()

	var out []AppliedDelta

	for rows.Next() {
		var (
			ad        AppliedDelta
			appliedAt int64
		)

		if err := rows.Scan(&ad.AppliedVersion, &ad.Resulting.Version, &ad.Resulting.HistoryHash,
			&ad.Author, &ad.OpCount, &ad.Delta, &appliedAt); err != nil {
			return nil, fmt.Errorf("wavestore: scanning delta: %w", err)
		}

		ad.AppliedAt = time.Unix(0, appliedAt).UTC()
		out = append(out, ad)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("wavestore: iterating deltas: %w", err)
	}

	return out, nil
}
