package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"postpilot/internal/models"
)

func (db *DB) CreateService(ctx context.Context, svc *models.DeliveryService) error {
	now := time.Now().UTC()
	query := `INSERT INTO delivery_services (service_type, name, url, api_key, active, created_at, updated_at)
              VALUES (?, ?, ?, ?, ?, ?, ?)`
	result, err := db.ExecContext(ctx, query,
		svc.ServiceType, svc.Name, svc.URL, svc.APIKey, svc.Active, now, now)
	if err != nil {
		return fmt.Errorf("failed to create delivery service: %w", err)
	}
	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert id: %w", err)
	}
	svc.ID = id
	svc.CreatedAt = now
	svc.UpdatedAt = now
	return nil
}

// GetActiveService returns the active registration for a service type.
// When duplicates exist the earliest registration wins.
func (db *DB) GetActiveService(ctx context.Context, serviceType string) (*models.DeliveryService, error) {
	query := `SELECT id, service_type, name, url, api_key, active, created_at, updated_at
              FROM delivery_services
              WHERE service_type = ? AND active = 1
              ORDER BY id ASC LIMIT 1`

	var svc models.DeliveryService
	var apiKey sql.NullString
	err := db.QueryRowContext(ctx, query, serviceType).Scan(
		&svc.ID,
		&svc.ServiceType,
		&svc.Name,
		&svc.URL,
		&apiKey,
		&svc.Active,
		&svc.CreatedAt,
		&svc.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrServiceNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get delivery service: %w", err)
	}
	svc.APIKey = apiKey.String
	return &svc, nil
}

func (db *DB) ListServices(ctx context.Context) ([]*models.DeliveryService, error) {
	query := `SELECT id, service_type, name, url, api_key, active, created_at, updated_at
              FROM delivery_services ORDER BY service_type, id`

	rows, err := db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list delivery services: %w", err)
	}
	defer rows.Close()

	var services []*models.DeliveryService
	for rows.Next() {
		var svc models.DeliveryService
		var apiKey sql.NullString
		if err := rows.Scan(
			&svc.ID,
			&svc.ServiceType,
			&svc.Name,
			&svc.URL,
			&apiKey,
			&svc.Active,
			&svc.CreatedAt,
			&svc.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan delivery service: %w", err)
		}
		svc.APIKey = apiKey.String
		services = append(services, &svc)
	}
	return services, rows.Err()
}

func (db *DB) SetServiceActive(ctx context.Context, id int64, active bool) error {
	result, err := db.ExecContext(ctx,
		`UPDATE delivery_services SET active = ?, updated_at = ? WHERE id = ?`,
		active, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("failed to update delivery service: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrServiceNotFound
	}
	return nil
}
