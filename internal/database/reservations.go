package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"slotbook/internal/models"
)

func (db *DB) CreateReservation(ctx context.Context, r *models.Reservation) error {
	if !validTime(r.StartTime) || !validTime(r.EndTime) || r.EndTime <= r.StartTime {
		return ErrInvalidTimeWindow
	}

	imageName := r.ImageName
	if imageName == "" {
		imageName = models.PlaceholderImage
	}

	query := `INSERT INTO reservations (location, start_time, end_time, reserved, image_name, created_at, updated_at)
              VALUES (?, ?, ?, 0, ?, ?, ?)`
	now := time.Now()
	result, err := db.ExecContext(ctx, query, r.Location, r.StartTime, r.EndTime, imageName, now, now)
	if err != nil {
		return fmt.Errorf("failed to create reservation: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	r.ID = id
	r.Reserved = false
	r.ImageName = imageName
	r.CreatedAt = now
	r.UpdatedAt = now

	return nil
}

func (db *DB) GetReservation(ctx context.Context, id int64) (*models.Reservation, error) {
	var r models.Reservation
	query := `SELECT id, location, start_time, end_time, reserved, image_name, created_at, updated_at
              FROM reservations WHERE id = ?`
	err := db.QueryRowContext(ctx, query, id).Scan(
		&r.ID, &r.Location, &r.StartTime, &r.EndTime, &r.Reserved, &r.ImageName,
		&r.CreatedAt, &r.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get reservation: %w", err)
	}
	return &r, nil
}

// ListReservations returns one page of rows ordered by id plus the full
// unfiltered count. The count is queried separately so an out-of-range page
// yields an empty slice with the correct total.
func (db *DB) ListReservations(ctx context.Context, page, pageSize int) ([]models.Reservation, int, error) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = models.DefaultPageSize
	}

	var total int
	if err := db.QueryRowContext(ctx, `SELECT COUNT(*) FROM reservations`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count reservations: %w", err)
	}

	offset := (page - 1) * pageSize
	query := `SELECT id, location, start_time, end_time, reserved, image_name, created_at, updated_at
              FROM reservations ORDER BY id ASC LIMIT ? OFFSET ?`
	rows, err := db.QueryContext(ctx, query, pageSize, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list reservations: %w", err)
	}
	defer rows.Close()

	var reservations []models.Reservation
	for rows.Next() {
		var r models.Reservation
		err := rows.Scan(
			&r.ID, &r.Location, &r.StartTime, &r.EndTime, &r.Reserved, &r.ImageName,
			&r.CreatedAt, &r.UpdatedAt,
		)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to scan reservation: %w", err)
		}
		reservations = append(reservations, r)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("failed to read reservations: %w", err)
	}

	return reservations, total, nil
}

func (db *DB) UpdateReservation(ctx context.Context, r *models.Reservation) error {
	if !validTime(r.StartTime) || !validTime(r.EndTime) || r.EndTime <= r.StartTime {
		return ErrInvalidTimeWindow
	}

	var query string
	var args []any
	now := time.Now()
	if r.ImageName != "" {
		query = `UPDATE reservations SET location = ?, start_time = ?, end_time = ?, image_name = ?, updated_at = ? WHERE id = ?`
		args = []any{r.Location, r.StartTime, r.EndTime, r.ImageName, now, r.ID}
	} else {
		query = `UPDATE reservations SET location = ?, start_time = ?, end_time = ?, updated_at = ? WHERE id = ?`
		args = []any{r.Location, r.StartTime, r.EndTime, now, r.ID}
	}

	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("failed to update reservation: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SetReserved is the only mutator of the reserved flag. It issues one
// conditional statement and classifies the outcome by the affected-row
// count; the `reserved <> ?` guard reproduces mysql-style affected_rows
// on sqlite, which otherwise counts same-value updates as changes. On a
// zero count a read-back distinguishes a no-op from a missing row. There
// is deliberately no prior read before the write.
func (db *DB) SetReserved(ctx context.Context, id int64, desired bool) (changed bool, reserved bool, err error) {
	query := `UPDATE reservations SET reserved = ?, updated_at = ? WHERE id = ? AND reserved <> ?`
	result, err := db.ExecContext(ctx, query, desired, time.Now(), id, desired)
	if err != nil {
		return false, false, fmt.Errorf("failed to set reserved: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return false, false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	if rows > 0 {
		return true, desired, nil
	}

	var current bool
	err = db.QueryRowContext(ctx, `SELECT reserved FROM reservations WHERE id = ?`, id).Scan(&current)
	if errors.Is(err, sql.ErrNoRows) {
		return false, false, ErrNotFound
	}
	if err != nil {
		return false, false, fmt.Errorf("failed to read reserved state: %w", err)
	}
	return false, current, nil
}

// DeleteReservation removes the row and returns the image name it held so
// the caller can clean up the asset.
func (db *DB) DeleteReservation(ctx context.Context, id int64) (string, error) {
	var imageName string
	err := db.QueryRowContext(ctx, `SELECT image_name FROM reservations WHERE id = ?`, id).Scan(&imageName)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to get image name: %w", err)
	}

	result, err := db.ExecContext(ctx, `DELETE FROM reservations WHERE id = ?`, id)
	if err != nil {
		return "", fmt.Errorf("failed to delete reservation: %w", err)
	}
	rows, _ := result.RowsAffected()
	if rows == 0 {
		return "", ErrNotFound
	}
	return imageName, nil
}

// ListImageNames returns every non-placeholder image referenced by a
// reservation. Used by the janitor to decide which upload files are live.
func (db *DB) ListImageNames(ctx context.Context) (map[string]struct{}, error) {
	rows, err := db.QueryContext(ctx, `SELECT DISTINCT image_name FROM reservations WHERE image_name <> ?`, models.PlaceholderImage)
	if err != nil {
		return nil, fmt.Errorf("failed to list image names: %w", err)
	}
	defer rows.Close()

	names := make(map[string]struct{})
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("failed to scan image name: %w", err)
		}
		names[name] = struct{}{}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read image names: %w", err)
	}
	return names, nil
}
