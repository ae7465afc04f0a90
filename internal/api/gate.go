package api

import (
	"context"

	"slotbook/internal/domain"
	"slotbook/internal/models"

	"github.com/rs/zerolog"
)

// SessionGate resolves session tokens into principals. Missing and
// unknown tokens produce the anonymous guest rather than an error, so
// read endpoints keep working when callers carry no cookie.
type SessionGate struct {
	sessions domain.SessionStore
	logger   *zerolog.Logger
}

func NewSessionGate(sessions domain.SessionStore, logger *zerolog.Logger) *SessionGate {
	return &SessionGate{sessions: sessions, logger: logger}
}

func (g *SessionGate) Resolve(ctx context.Context, token string) (models.Principal, error) {
	guest := models.Principal{Role: models.RoleGuest}
	if token == "" {
		return guest, nil
	}

	session, err := g.sessions.GetSession(ctx, token)
	if err != nil {
		g.logger.Warn().Err(err).Msg("session lookup error")
		return guest, nil
	}
	if session == nil {
		return guest, nil
	}

	return models.Principal{
		UserID:   session.UserID,
		UserName: session.UserName,
		Role:     session.Role,
	}, nil
}
