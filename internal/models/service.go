package models

import "time"

// DeliveryService is a registered forwarding target for one service type.
type DeliveryService struct {
	ID          int64     `json:"id"`
	ServiceType string    `json:"service_type"`
	Name        string    `json:"name"`
	URL         string    `json:"url"`
	APIKey      string    `json:"-"`
	Active      bool      `json:"active"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}
