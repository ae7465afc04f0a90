package service

import (
	"context"
	"errors"
	"fmt"

	"slotbook/internal/database"
	"slotbook/internal/domain"
	"slotbook/internal/events"
	"slotbook/internal/metrics"
	"slotbook/internal/models"

	"github.com/rs/zerolog"
)

// ErrInvalidAction is returned for actions outside {reserve, unreserve}.
var ErrInvalidAction = errors.New("invalid action (use \"reserve\" or \"unreserve\")")

// TransitionResult is the outcome of a state transition request.
type TransitionResult struct {
	// Changed is false for a no-op transition, which is a success.
	Changed bool `json:"changed"`
	// Reserved is the slot's current state after the call.
	Reserved bool `json:"reserved"`
}

// StateMachine applies reserve/unreserve as a guarded transition. All
// coordination lives in the repository's single conditional write; the
// machine itself holds no state and takes no locks.
type StateMachine struct {
	repo     domain.ReservationRepository
	eventBus domain.EventPublisher
	logger   *zerolog.Logger
}

func NewStateMachine(repo domain.ReservationRepository, eventBus domain.EventPublisher, logger *zerolog.Logger) *StateMachine {
	return &StateMachine{repo: repo, eventBus: eventBus, logger: logger}
}

// Apply executes one transition. Requesting the state the slot is already
// in returns Changed=false, never an error; concurrent identical requests
// converge with exactly one of them reporting Changed.
func (m *StateMachine) Apply(ctx context.Context, id int64, action string) (TransitionResult, error) {
	var desired bool
	switch action {
	case models.ActionReserve:
		desired = true
	case models.ActionUnreserve:
		desired = false
	default:
		return TransitionResult{}, fmt.Errorf("%w: %q", ErrInvalidAction, action)
	}

	changed, reserved, err := m.repo.SetReserved(ctx, id, desired)
	if errors.Is(err, database.ErrNotFound) {
		metrics.IncTransition(action, "not_found")
		return TransitionResult{}, err
	}
	if err != nil {
		metrics.IncTransition(action, "error")
		return TransitionResult{}, err
	}

	if changed {
		metrics.IncTransition(action, "changed")
		m.publish(id, reserved)
	} else {
		metrics.IncTransition(action, "noop")
	}

	m.logger.Debug().
		Int64("reservation_id", id).
		Str("action", action).
		Bool("changed", changed).
		Bool("reserved", reserved).
		Msg("state transition applied")

	return TransitionResult{Changed: changed, Reserved: reserved}, nil
}

func (m *StateMachine) publish(id int64, reserved bool) {
	if m.eventBus == nil {
		return
	}

	eventType := events.EventReservationReleased
	if reserved {
		eventType = events.EventReservationReserved
	}
	payload := events.ReservationEventPayload{ReservationID: id, Reserved: reserved}
	if err := m.eventBus.PublishJSON(eventType, payload); err != nil {
		m.logger.Error().Err(err).Str("event_type", eventType).Int64("reservation_id", id).Msg("publish event error")
	}
}
