package domain

import (
	"context"

	"slotbook/internal/models"
)

// ReservationRepository is the durable store for reservation rows.
type ReservationRepository interface {
	CreateReservation(ctx context.Context, r *models.Reservation) error
	GetReservation(ctx context.Context, id int64) (*models.Reservation, error)
	ListReservations(ctx context.Context, page, pageSize int) ([]models.Reservation, int, error)
	UpdateReservation(ctx context.Context, r *models.Reservation) error
	SetReserved(ctx context.Context, id int64, desired bool) (changed bool, reserved bool, err error)
	DeleteReservation(ctx context.Context, id int64) (priorImageName string, err error)
}

// UserRepository stores registered accounts.
type UserRepository interface {
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByName(ctx context.Context, userName string) (*models.User, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
}

// AssetStore ingests and removes uploaded images.
type AssetStore interface {
	Ingest(data []byte, declaredName string) (storedName string, err error)
	Remove(name string)
}

// SessionStore keeps login sessions by token.
type SessionStore interface {
	SetSession(ctx context.Context, session *models.Session) error
	GetSession(ctx context.Context, token string) (*models.Session, error)
	DeleteSession(ctx context.Context, token string) error
}

// AuthorizationGate resolves a caller's session token into a principal.
// An empty or unknown token yields an anonymous guest, not an error.
type AuthorizationGate interface {
	Resolve(ctx context.Context, token string) (models.Principal, error)
}

// EventPublisher fans out domain events to in-process subscribers.
type EventPublisher interface {
	PublishJSON(eventType string, payload interface{}) error
}
