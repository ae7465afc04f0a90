package session

import (
	"context"
	"sync/atomic"
	"time"

	"slotbook/internal/domain"
	"slotbook/internal/models"

	"github.com/rs/zerolog"
)

// FailoverSessionStore serves from the primary store and falls back to a
// secondary one when the primary errors, probing the primary again after
// a cooldown.
type FailoverSessionStore struct {
	primary   domain.SessionStore
	fallback  domain.SessionStore
	logger    *zerolog.Logger
	isDown    atomic.Bool
	lastCheck atomic.Int64 // unix nanos
}

const recoveryInterval = time.Minute

func NewFailoverSessionStore(primary, fallback domain.SessionStore, logger *zerolog.Logger) *FailoverSessionStore {
	return &FailoverSessionStore{primary: primary, fallback: fallback, logger: logger}
}

func (f *FailoverSessionStore) markDown(err error) {
	f.logger.Error().Err(err).Msg("primary session store failed, falling back to memory")
	f.isDown.Store(true)
	f.lastCheck.Store(time.Now().UnixNano())
}

func (f *FailoverSessionStore) shouldProbe() bool {
	return time.Since(time.Unix(0, f.lastCheck.Load())) > recoveryInterval
}

func (f *FailoverSessionStore) SetSession(ctx context.Context, session *models.Session) error {
	if !f.isDown.Load() || f.shouldProbe() {
		err := f.primary.SetSession(ctx, session)
		if err == nil {
			f.isDown.Store(false)
			// Дублируем в fallback, чтобы сессия пережила падение Redis
			_ = f.fallback.SetSession(ctx, session)
			return nil
		}
		f.markDown(err)
	}
	return f.fallback.SetSession(ctx, session)
}

func (f *FailoverSessionStore) GetSession(ctx context.Context, token string) (*models.Session, error) {
	if !f.isDown.Load() || f.shouldProbe() {
		session, err := f.primary.GetSession(ctx, token)
		if err == nil {
			f.isDown.Store(false)
			if session != nil {
				return session, nil
			}
			return f.fallback.GetSession(ctx, token)
		}
		f.markDown(err)
	}
	return f.fallback.GetSession(ctx, token)
}

func (f *FailoverSessionStore) DeleteSession(ctx context.Context, token string) error {
	var primaryErr error
	if !f.isDown.Load() || f.shouldProbe() {
		primaryErr = f.primary.DeleteSession(ctx, token)
		if primaryErr == nil {
			f.isDown.Store(false)
		} else {
			f.markDown(primaryErr)
		}
	}
	// logout must always clear the fallback copy too
	return f.fallback.DeleteSession(ctx, token)
}
