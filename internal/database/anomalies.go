package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const anomalyColumns = `id, camera_id, camera_name, camera_location, model, label, confidence, timestamp, frame_seq, image_key, image_url`

// SaveAnomaly inserts an anomaly record
func (d *Database) SaveAnomaly(ctx context.Context, a *AnomalyRecord) error {
	query := d.rebind(`INSERT INTO anomalies (` + anomalyColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)

	_, err := d.db.ExecContext(ctx, query, a.ID, a.CameraID, a.CameraName, a.CameraLocation, a.Model, a.Label,
		a.Confidence, a.Timestamp.UTC(), a.FrameSeq, a.ImageKey, a.ImageURL)
	if err != nil {
		return fmt.Errorf("failed to save anomaly: %w", err)
	}
	return nil
}

// GetAnomaly retrieves an anomaly by ID
func (d *Database) GetAnomaly(ctx context.Context, id string) (*AnomalyRecord, error) {
	query := d.rebind(`SELECT ` + anomalyColumns + ` FROM anomalies WHERE id = ?`)

	a, err := scanAnomaly(d.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("anomaly %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get anomaly: %w", err)
	}
	return a, nil
}

// ListAnomalies returns anomalies newest first, optionally for one camera
func (d *Database) ListAnomalies(ctx context.Context, cameraID string, limit, skip int) ([]*AnomalyRecord, error) {
	query := `SELECT ` + anomalyColumns + ` FROM anomalies WHERE 1=1`
	args := []any{}

	if cameraID != "" {
		query += " AND camera_id = ?"
		args = append(args, cameraID)
	}

	query += " ORDER BY timestamp DESC, id"

	if limit > 0 {
		query += " LIMIT ? OFFSET ?"
		args = append(args, limit, skip)
	}

	rows, err := d.db.QueryContext(ctx, d.rebind(query), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list anomalies: %w", err)
	}
	defer rows.Close()

	var out []*AnomalyRecord
	for rows.Next() {
		a, err := scanAnomaly(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan anomaly: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

// CountAnomalies returns the number of stored anomalies
func (d *Database) CountAnomalies(ctx context.Context) (int, error) {
	var n int
	if err := d.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM anomalies").Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count anomalies: %w", err)
	}
	return n, nil
}

// DeleteAnomaly deletes an anomaly by ID
func (d *Database) DeleteAnomaly(ctx context.Context, id string) error {
	res, err := d.db.ExecContext(ctx, d.rebind("DELETE FROM anomalies WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("failed to delete anomaly: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("anomaly %s: %w", id, ErrNotFound)
	}
	return nil
}

func scanAnomaly(row rowScanner) (*AnomalyRecord, error) {
	var a AnomalyRecord
	if err := row.Scan(&a.ID, &a.CameraID, &a.CameraName, &a.CameraLocation, &a.Model, &a.Label,
		&a.Confidence, &a.Timestamp, &a.FrameSeq, &a.ImageKey, &a.ImageURL); err != nil {
		return nil, err
	}
	return &a, nil
}
