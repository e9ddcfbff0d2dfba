// Package domain defines the core interfaces and types for Kestrel.
package domain

import (
	"context"
	"time"
)

// BundleStore is the registry of imported model bundle artifacts.
// It holds artifacts only; applications and scores are never persisted.
type BundleStore interface {
	// SaveBundle inserts or replaces an artifact by ID.
	SaveBundle(ctx context.Context, rec *BundleRecord) error
	GetBundle(ctx context.Context, id string) (*BundleRecord, error)

	// GetActiveBundle returns the single bundle flagged active.
	GetActiveBundle(ctx context.Context) (*BundleRecord, error)
	ListBundles(ctx context.Context) ([]*BundleRecord, error)

	// ActivateBundle flags one bundle active and clears the flag on all others.
	ActivateBundle(ctx context.Context, id string) error

	// Health check
	Ping(ctx context.Context) error

	// Lifecycle
	Close() error
}

// BundleRecord is a stored model bundle artifact.
type BundleRecord struct {
	ID          string    `json:"id"`
	Version     string    `json:"version"`
	Description string    `json:"description,omitempty"`
	SHA256      string    `json:"sha256"`
	Artifact    []byte    `json:"-"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"createdAt"`
}

// RepositoryConfig holds configuration for repository initialization.
type RepositoryConfig struct {
	// Driver is the database driver: "sqlite" or "postgres"
	Driver string `json:"driver" mapstructure:"driver"`

	// SQLite specific
	SQLitePath string `json:"sqlitePath" mapstructure:"sqlitepath"`

	// PostgreSQL specific
	PostgresHost     string `json:"postgresHost" mapstructure:"postgreshost"`
	PostgresPort     int    `json:"postgresPort" mapstructure:"postgresport"`
	PostgresUser     string `json:"postgresUser" mapstructure:"postgresuser"`
	PostgresPassword string `json:"-" mapstructure:"postgrespassword"`
	PostgresDB       string `json:"postgresDb" mapstructure:"postgresdb"`
	PostgresSSLMode  string `json:"postgresSslMode" mapstructure:"postgressslmode"`

	// Connection pool settings
	MaxOpenConns    int           `json:"maxOpenConns" mapstructure:"maxopenconns"`
	MaxIdleConns    int           `json:"maxIdleConns" mapstructure:"maxidleconns"`
	ConnMaxLifetime time.Duration `json:"connMaxLifetime" mapstructure:"connmaxlifetime"`
}
