// Package database stores cameras and anomaly records in SQLite or PostgreSQL.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("record not found")

// Database wraps a SQL connection for either supported driver
type Database struct {
	db     *sql.DB
	driver string
}

// CameraRecord represents a camera stored in the database
type CameraRecord struct {
	ID        string
	Name      string
	Location  string
	Source    string
	URI       string
	IsActive  bool
	CreatedAt time.Time
}

// AnomalyRecord represents a confirmed anomaly
type AnomalyRecord struct {
	ID             string
	CameraID       string
	CameraName     string
	CameraLocation string
	Model          string
	Label          string
	Confidence     float64
	Timestamp      time.Time
	FrameSeq       int64
	ImageKey       string
	ImageURL       string
}

// New opens a database. driver is "sqlite" or "postgres".
func New(driver, dsn string) (*Database, error) {
	switch driver {
	case "sqlite", "postgres":
	default:
		return nil, fmt.Errorf("unsupported database driver %q", driver)
	}

	db, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if driver == "sqlite" {
		// WAL for concurrent readers; one writer connection avoids SQLITE_BUSY
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
		if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set busy timeout: %w", err)
		}
	} else {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to connect to postgres: %w", err)
		}
	}

	return &Database{db: db, driver: driver}, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	return d.db.Close()
}

// Driver returns the driver name
func (d *Database) Driver() string {
	return d.driver
}

// Ping checks the connection
func (d *Database) Ping(ctx context.Context) error {
	return d.db.PingContext(ctx)
}

// rebind rewrites ? placeholders to $n for postgres
func (d *Database) rebind(query string) string {
	if d.driver != "postgres" {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (d *Database) timestampType() string {
	if d.driver == "postgres" {
		return "TIMESTAMPTZ"
	}
	return "DATETIME"
}

// Migrate creates the schema
func (d *Database) Migrate() error {
	ts := d.timestampType()
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS cameras (
			id TEXT PRIMARY KEY,
			name TEXT NOT NULL,
			location TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL,
			uri TEXT NOT NULL DEFAULT '',
			is_active BOOLEAN NOT NULL DEFAULT FALSE,
			created_at ` + ts + ` NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS anomalies (
			id TEXT PRIMARY KEY,
			camera_id TEXT NOT NULL,
			camera_name TEXT NOT NULL DEFAULT '',
			camera_location TEXT NOT NULL DEFAULT '',
			model TEXT NOT NULL,
			label TEXT NOT NULL,
			confidence DOUBLE PRECISION NOT NULL,
			timestamp ` + ts + ` NOT NULL,
			frame_seq BIGINT NOT NULL DEFAULT 0,
			image_key TEXT NOT NULL DEFAULT '',
			image_url TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE TABLE IF NOT EXISTS app_config (
			key TEXT PRIMARY KEY,
			value TEXT NOT NULL,
			updated_at ` + ts + ` NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_anomalies_time ON anomalies(timestamp DESC)`,
		`CREATE INDEX IF NOT EXISTS idx_anomalies_camera_time ON anomalies(camera_id, timestamp DESC)`,
	}

	for _, migration := range migrations {
		if _, err := d.db.Exec(migration); err != nil {
			return fmt.Errorf("migration failed: %w", err)
		}
	}

	log.Printf("[Database] Migrations completed (%s)", d.driver)
	return nil
}
