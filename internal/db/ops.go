package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/georgysavva/scany/pgxscan"
)

var (
	ErrInsertFailed   = errors.New("insert operation failed")
	ErrSelectFailed   = errors.New("select operation failed")
	ErrDeviceNotFound = errors.New("device not found")
)

// WriteStatus persists a logical online/offline status for a device, touching
// the updated_at column. It returns true only when a row was actually
// affected. Every database failure is absorbed here: the transaction is
// rolled back, the error is logged, and the caller sees false. A missing
// device is a warning, not an error; the reconciler racing a device deletion
// is a benign case.
func (db *DB) WriteStatus(ctx context.Context, deviceID int64, status string) bool {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to start status write transaction", "device_id", deviceID, "error", err)
		return false
	}

	tag, err := tx.Exec(ctx, `
		UPDATE devices
		SET status = $1,
			updated_at = $2
		WHERE id = $3
	`, status, time.Now().UTC(), deviceID)
	if err != nil {
		tx.Rollback(ctx)
		slog.ErrorContext(ctx, "Failed to write device status", "device_id", deviceID, "status", status, "error", err)
		return false
	}
	if tag.RowsAffected() == 0 {
		tx.Rollback(ctx)
		slog.WarnContext(ctx, "Device not found for status write", "device_id", deviceID, "status", status)
		return false
	}
	if err := tx.Commit(ctx); err != nil {
		slog.ErrorContext(ctx, "Failed to commit status write", "device_id", deviceID, "error", err)
		return false
	}
	return true
}

// WriteLastSeen persists a device's last activity timestamp. Same contract as
// WriteStatus: boolean success, no propagated errors.
func (db *DB) WriteLastSeen(ctx context.Context, deviceID int64, ts time.Time) bool {
	tx, err := db.pool.Begin(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to start last seen write transaction", "device_id", deviceID, "error", err)
		return false
	}

	tag, err := tx.Exec(ctx, `
		UPDATE devices
		SET last_seen = $1,
			updated_at = $2
		WHERE id = $3
	`, ts.UTC(), time.Now().UTC(), deviceID)
	if err != nil {
		tx.Rollback(ctx)
		slog.ErrorContext(ctx, "Failed to write device last seen", "device_id", deviceID, "error", err)
		return false
	}
	if tag.RowsAffected() == 0 {
		tx.Rollback(ctx)
		slog.WarnContext(ctx, "Device not found for last seen write", "device_id", deviceID)
		return false
	}
	if err := tx.Commit(ctx); err != nil {
		slog.ErrorContext(ctx, "Failed to commit last seen write", "device_id", deviceID, "error", err)
		return false
	}
	return true
}

// CreateDevice registers a device row. Used by seeding and tests; the
// presence subsystem itself only updates existing rows.
func (db *DB) CreateDevice(ctx context.Context, name string) (int64, error) {
	const fn = "DB:CreateDevice"
	var id int64
	err := db.pool.QueryRow(ctx, `
		INSERT INTO devices (name, status)
		VALUES ($1, 'offline')
		RETURNING id
	`, name).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("%s:%w:%w", fn, ErrInsertFailed, err)
	}
	return id, nil
}

func (db *DB) GetDevice(ctx context.Context, deviceID int64) (*Device, error) {
	const fn = "DB:GetDevice"
	var device Device
	err := pgxscan.Get(ctx, db.pool, &device, `
		SELECT
			id,
			name,
			status,
			last_seen,
			created_at,
			updated_at
		FROM devices
		WHERE id = $1
	`, deviceID)
	if err != nil {
		if pgxscan.NotFound(err) {
			return nil, fmt.Errorf("%s:%w", fn, ErrDeviceNotFound)
		}
		return nil, fmt.Errorf("%s:%w:%w", fn, ErrSelectFailed, err)
	}
	return &device, nil
}
