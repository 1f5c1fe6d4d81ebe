// Package analytics records every dispatched anomaly in ClickHouse for reporting.
package analytics

import (
	"context"
	"fmt"
	"log"
	"regexp"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"securo/internal/pipeline"
)

// Config holds the ClickHouse connection settings
type Config struct {
	Addr     string
	Database string
	Username string
	Password string
	Table    string
}

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Writer inserts anomaly summaries into a MergeTree table
type Writer struct {
	conn  driver.Conn
	table string
}

// NewWriter connects, pings and creates the table
func NewWriter(config Config) (*Writer, error) {
	conn, err := clickhouse.Open(&clickhouse.Options{
		Addr: []string{config.Addr},
		Auth: clickhouse.Auth{
			Database: config.Database,
			Username: config.Username,
			Password: config.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		DialTimeout: 5 * time.Second,
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to ClickHouse: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := conn.Ping(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping ClickHouse: %w", err)
	}
	log.Printf("[Analytics] Connected to ClickHouse at %s", config.Addr)

	w, err := NewWriterWithConn(conn, config.Table)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := w.InitSchema(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	return w, nil
}

// NewWriterWithConn wraps an open connection
func NewWriterWithConn(conn driver.Conn, table string) (*Writer, error) {
	if table == "" {
		table = "anomaly_events"
	}
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("invalid ClickHouse table name %q", table)
	}
	return &Writer{conn: conn, table: table}, nil
}

// InitSchema creates the events table if it does not exist
func (w *Writer) InitSchema(ctx context.Context) error {
	if err := w.conn.Exec(ctx, w.schema()); err != nil {
		return fmt.Errorf("failed to create table %s: %w", w.table, err)
	}
	return nil
}

func (w *Writer) schema() string {
	return fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			timestamp   DateTime64(3),
			event_id    String,
			camera_id   LowCardinality(String),
			camera_name String,
			model       LowCardinality(String),
			label       LowCardinality(String),
			confidence  Float32,
			image_url   String
		) ENGINE = MergeTree()
		ORDER BY (camera_id, timestamp)`, w.table)
}

// Record inserts one summary
func (w *Writer) Record(ctx context.Context, s *pipeline.AnomalySummary) error {
	query := fmt.Sprintf(`INSERT INTO %s (timestamp, event_id, camera_id, camera_name, model, label, confidence, image_url)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, w.table)

	err := w.conn.Exec(ctx, query,
		s.Timestamp,
		s.ID,
		s.CameraID,
		s.CameraName,
		s.Model,
		s.Label,
		s.Confidence,
		s.ImageURL,
	)
	if err != nil {
		return fmt.Errorf("failed to insert anomaly %s: %w", s.ID, err)
	}
	return nil
}

// Run records summaries from events until ctx is cancelled or the channel closes
func (w *Writer) Run(ctx context.Context, events <-chan *pipeline.AnomalySummary) {
	for {
		select {
		case <-ctx.Done():
			return
		case s, ok := <-events:
			if !ok {
				return
			}
			insertCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := w.Record(insertCtx, s); err != nil {
				log.Printf("[Analytics] %v", err)
			}
			cancel()
		}
	}
}

// Close closes the ClickHouse connection
func (w *Writer) Close() error {
	if err := w.conn.Close(); err != nil {
		return fmt.Errorf("failed to close ClickHouse connection: %w", err)
	}
	log.Printf("[Analytics] ClickHouse connection closed")
	return nil
}
