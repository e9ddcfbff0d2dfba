// Package repository provides the SQL-backed model bundle registry.
package repository

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// ErrNotFound is returned when no bundle matches. Validation failures wrap
// domain.ErrInvalidInput.
var ErrNotFound = errors.New("record not found")

// SQLRepository implements domain.BundleStore using database/sql.
// Works with both SQLite and PostgreSQL drivers.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// New creates a new repository based on configuration.
func New(cfg domain.RepositoryConfig) (*SQLRepository, error) {
	var db *sql.DB
	var err error

	switch cfg.Driver {
	case "sqlite":
		db, err = openSQLite(cfg)
	case "postgres":
		db, err = openPostgres(cfg)
	default:
		return nil, fmt.Errorf("unsupported driver: %s", cfg.Driver)
	}

	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Configure connection pool
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
	}
	if cfg.MaxIdleConns > 0 {
		db.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	repo := &SQLRepository{
		db:     db,
		driver: cfg.Driver,
	}

	// Run migrations
	if err := repo.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return repo, nil
}

func (r *SQLRepository) migrate() error {
	for _, schema := range AllSchemas() {
		if _, err := r.db.Exec(schema); err != nil {
			return err
		}
	}
	return nil
}

// SaveBundle inserts or replaces a bundle artifact. The active flag of an
// existing row is kept unless rec.Active is set, in which case the bundle
// becomes the only active one.
func (r *SQLRepository) SaveBundle(ctx context.Context, rec *domain.BundleRecord) error {
	if rec.ID == "" {
		return fmt.Errorf("%w: bundle id is required", domain.ErrInvalidInput)
	}
	if len(rec.Artifact) == 0 {
		return fmt.Errorf("%w: bundle artifact is empty", domain.ErrInvalidInput)
	}

	if rec.SHA256 == "" {
		sum := sha256.Sum256(rec.Artifact)
		rec.SHA256 = hex.EncodeToString(sum[:])
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	query := `
		INSERT INTO bundles (id, version, description, sha256, artifact, active, created_at)
		VALUES (?, ?, ?, ?, ?, 0, ?)
		ON CONFLICT (id) DO UPDATE SET
			version = excluded.version,
			description = excluded.description,
			sha256 = excluded.sha256,
			artifact = excluded.artifact
	`

	if _, err := tx.ExecContext(ctx, r.rebind(query),
		rec.ID, rec.Version, rec.Description, rec.SHA256, string(rec.Artifact), rec.CreatedAt,
	); err != nil {
		return err
	}

	if rec.Active {
		if err := r.activate(ctx, tx, rec.ID); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// GetBundle retrieves a bundle by ID.
func (r *SQLRepository) GetBundle(ctx context.Context, id string) (*domain.BundleRecord, error) {
	query := `
		SELECT id, version, description, sha256, artifact, active, created_at
		FROM bundles
		WHERE id = ?
	`
	return r.scanOne(r.db.QueryRowContext(ctx, r.rebind(query), id))
}

// GetActiveBundle retrieves the active bundle.
func (r *SQLRepository) GetActiveBundle(ctx context.Context) (*domain.BundleRecord, error) {
	query := `
		SELECT id, version, description, sha256, artifact, active, created_at
		FROM bundles
		WHERE active = 1
	`
	return r.scanOne(r.db.QueryRowContext(ctx, query))
}

func (r *SQLRepository) scanOne(row *sql.Row) (*domain.BundleRecord, error) {
	var rec domain.BundleRecord
	var description sql.NullString
	var artifact string
	var active int

	err := row.Scan(
		&rec.ID, &rec.Version, &description, &rec.SHA256,
		&artifact, &active, &rec.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	rec.Description = description.String
	rec.Artifact = []byte(artifact)
	rec.Active = active == 1
	return &rec, nil
}

// ListBundles returns all bundles, newest first, without their artifacts.
func (r *SQLRepository) ListBundles(ctx context.Context) ([]*domain.BundleRecord, error) {
	query := `
		SELECT id, version, description, sha256, active, created_at
		FROM bundles
		ORDER BY created_at DESC, id
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*domain.BundleRecord
	for rows.Next() {
		var rec domain.BundleRecord
		var description sql.NullString
		var active int

		if err := rows.Scan(
			&rec.ID, &rec.Version, &description, &rec.SHA256, &active, &rec.CreatedAt,
		); err != nil {
			return nil, err
		}

		rec.Description = description.String
		rec.Active = active == 1
		records = append(records, &rec)
	}

	return records, rows.Err()
}

// ActivateBundle makes id the only active bundle.
func (r *SQLRepository) ActivateBundle(ctx context.Context, id string) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if err := r.activate(ctx, tx, id); err != nil {
		return err
	}
	return tx.Commit()
}

func (r *SQLRepository) activate(ctx context.Context, tx *sql.Tx, id string) error {
	result, err := tx.ExecContext(ctx, r.rebind(`UPDATE bundles SET active = 1 WHERE id = ?`), id)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if rows == 0 {
		return ErrNotFound
	}

	_, err = tx.ExecContext(ctx, r.rebind(`UPDATE bundles SET active = 0 WHERE id <> ?`), id)
	return err
}

// Ping checks database connectivity.
func (r *SQLRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

// rebind converts ? placeholders to $1, $2, etc. for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != "postgres" {
		return query
	}

	// Convert ? to $1, $2, etc.
	var result []byte
	n := 1
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			result = append(result, '$')
			result = append(result, fmt.Sprintf("%d", n)...)
			n++
		} else {
			result = append(result, query[i])
		}
	}
	return string(result)
}
