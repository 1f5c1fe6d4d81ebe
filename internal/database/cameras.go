package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

const cameraColumns = `id, name, location, source, uri, is_active, created_at`

// SaveCamera saves or updates a camera
func (d *Database) SaveCamera(ctx context.Context, cam *CameraRecord) error {
	query := d.rebind(`INSERT INTO cameras (` + cameraColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			location = excluded.location,
			source = excluded.source,
			uri = excluded.uri,
			is_active = excluded.is_active`)

	_, err := d.db.ExecContext(ctx, query, cam.ID, cam.Name, cam.Location, cam.Source, cam.URI, cam.IsActive, cam.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to save camera: %w", err)
	}
	return nil
}

// GetCamera retrieves a camera by ID
func (d *Database) GetCamera(ctx context.Context, id string) (*CameraRecord, error) {
	query := d.rebind(`SELECT ` + cameraColumns + ` FROM cameras WHERE id = ?`)

	cam, err := scanCamera(d.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("camera %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get camera: %w", err)
	}
	return cam, nil
}

// ActiveCamera returns the camera marked active
func (d *Database) ActiveCamera(ctx context.Context) (*CameraRecord, error) {
	query := d.rebind(`SELECT ` + cameraColumns + ` FROM cameras WHERE is_active = ? ORDER BY created_at DESC LIMIT 1`)

	cam, err := scanCamera(d.db.QueryRowContext(ctx, query, true))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("active camera: %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get active camera: %w", err)
	}
	return cam, nil
}

// ListCameras returns all cameras, newest first
func (d *Database) ListCameras(ctx context.Context) ([]*CameraRecord, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT `+cameraColumns+` FROM cameras ORDER BY created_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list cameras: %w", err)
	}
	defer rows.Close()

	var cameras []*CameraRecord
	for rows.Next() {
		cam, err := scanCamera(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan camera: %w", err)
		}
		cameras = append(cameras, cam)
	}
	return cameras, rows.Err()
}

// DeleteCamera deletes a camera by ID
func (d *Database) DeleteCamera(ctx context.Context, id string) error {
	res, err := d.db.ExecContext(ctx, d.rebind("DELETE FROM cameras WHERE id = ?"), id)
	if err != nil {
		return fmt.Errorf("failed to delete camera: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("camera %s: %w", id, ErrNotFound)
	}
	return nil
}

// SetActiveCamera marks one camera active and every other inactive
func (d *Database) SetActiveCamera(ctx context.Context, id string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, d.rebind("UPDATE cameras SET is_active = ? WHERE id = ?"), true, id)
	if err != nil {
		return fmt.Errorf("failed to activate camera: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("camera %s: %w", id, ErrNotFound)
	}
	if _, err := tx.ExecContext(ctx, d.rebind("UPDATE cameras SET is_active = ? WHERE id <> ?"), false, id); err != nil {
		return fmt.Errorf("failed to deactivate cameras: %w", err)
	}
	return tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCamera(row rowScanner) (*CameraRecord, error) {
	var cam CameraRecord
	if err := row.Scan(&cam.ID, &cam.Name, &cam.Location, &cam.Source, &cam.URI, &cam.IsActive, &cam.CreatedAt); err != nil {
		return nil, err
	}
	return &cam, nil
}
