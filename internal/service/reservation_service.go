package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"slotbook/internal/domain"
	"slotbook/internal/events"
	"slotbook/internal/models"

	"github.com/rs/zerolog"
)

var (
	// ErrUnauthorized means the caller presented no valid session.
	ErrUnauthorized = errors.New("authentication required")
	// ErrForbidden means the caller is logged in but lacks the admin role.
	ErrForbidden = errors.New("admin role required")
	// ErrValidation wraps caller input problems.
	ErrValidation = errors.New("validation error")
)

var shortTimeRe = regexp.MustCompile(`^\d{2}:\d{2}$`)

// normalizeTime accepts HH:MM and HH:MM:SS, canonicalizing the former to
// HH:MM:SS with zero seconds. Anything else passes through unchanged and
// is left to the repository's time validation.
func normalizeTime(s string) string {
	s = strings.TrimSpace(s)
	if shortTimeRe.MatchString(s) {
		return s + ":00"
	}
	return s
}

// ImageUpload is raw multipart file content plus the client's file name.
type ImageUpload struct {
	Data     []byte
	FileName string
}

// ReservationService orchestrates reservation CRUD: input normalization,
// admin gating for mutations, asset ingestion, and event publishing.
// State transitions are delegated to the StateMachine.
type ReservationService struct {
	repo     domain.ReservationRepository
	assets   domain.AssetStore
	state    *StateMachine
	eventBus domain.EventPublisher
	logger   *zerolog.Logger
}

func NewReservationService(repo domain.ReservationRepository, assets domain.AssetStore, state *StateMachine, eventBus domain.EventPublisher, logger *zerolog.Logger) *ReservationService {
	return &ReservationService{
		repo:     repo,
		assets:   assets,
		state:    state,
		eventBus: eventBus,
		logger:   logger,
	}
}

// requireAdmin gates mutating operations. Anonymous callers and
// non-admin users are rejected before any state is touched.
func requireAdmin(principal models.Principal) error {
	if principal.IsAnonymous() {
		return ErrUnauthorized
	}
	if !principal.IsAdmin() {
		return ErrForbidden
	}
	return nil
}

// Create inserts a new unreserved slot. The image is optional; without
// one the placeholder name is stored. Creation is open to any caller,
// matching the public booking form; only Update and Delete are gated.
func (s *ReservationService) Create(ctx context.Context, principal models.Principal, location, startTime, endTime string, upload *ImageUpload) (*models.Reservation, error) {
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, fmt.Errorf("%w: location is required", ErrValidation)
	}

	imageName := ""
	if upload != nil {
		stored, err := s.assets.Ingest(upload.Data, upload.FileName)
		if err != nil {
			return nil, err
		}
		imageName = stored
	}

	r := &models.Reservation{
		Location:  location,
		StartTime: normalizeTime(startTime),
		EndTime:   normalizeTime(endTime),
		ImageName: imageName,
	}
	if err := s.repo.CreateReservation(ctx, r); err != nil {
		// Не оставляем осиротевший файл после неудачной вставки.
		if imageName != "" {
			s.assets.Remove(imageName)
		}
		return nil, err
	}

	s.logger.Info().
		Int64("reservation_id", r.ID).
		Str("location", r.Location).
		Str("user_name", principal.UserName).
		Msg("reservation created")
	s.publish(events.EventReservationCreated, r, principal)

	return r, nil
}

// Get returns one reservation. Open to anyone.
func (s *ReservationService) Get(ctx context.Context, id int64) (*models.Reservation, error) {
	return s.repo.GetReservation(ctx, id)
}

// ClampPage normalizes caller-supplied paging values: pages start at 1,
// non-positive sizes fall back to the default, oversized ones are capped.
func ClampPage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = models.DefaultPageSize
	}
	if pageSize > models.MaxPageSize {
		pageSize = models.MaxPageSize
	}
	return page, pageSize
}

// List returns one page of reservations plus the total row count, along
// with the effective page and page size after clamping, so callers can
// report pagination metadata that matches the returned slice.
func (s *ReservationService) List(ctx context.Context, page, pageSize int) ([]models.Reservation, int, int, int, error) {
	page, pageSize = ClampPage(page, pageSize)
	items, total, err := s.repo.ListReservations(ctx, page, pageSize)
	return items, total, page, pageSize, err
}

// Update rewrites a reservation's details. A new image replaces the
// stored name but the superseded file stays on disk for the janitor to
// reclaim, so readers holding the old URL never see a broken link
// mid-session.
func (s *ReservationService) Update(ctx context.Context, principal models.Principal, id int64, location, startTime, endTime string, upload *ImageUpload) (*models.Reservation, error) {
	if err := requireAdmin(principal); err != nil {
		return nil, err
	}
	location = strings.TrimSpace(location)
	if location == "" {
		return nil, fmt.Errorf("%w: location is required", ErrValidation)
	}

	imageName := ""
	if upload != nil {
		stored, err := s.assets.Ingest(upload.Data, upload.FileName)
		if err != nil {
			return nil, err
		}
		imageName = stored
	}

	r := &models.Reservation{
		ID:        id,
		Location:  location,
		StartTime: normalizeTime(startTime),
		EndTime:   normalizeTime(endTime),
		ImageName: imageName,
	}
	if err := s.repo.UpdateReservation(ctx, r); err != nil {
		if imageName != "" {
			s.assets.Remove(imageName)
		}
		return nil, err
	}

	updated, err := s.repo.GetReservation(ctx, id)
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Int64("reservation_id", id).
		Str("user_name", principal.UserName).
		Msg("reservation updated")
	s.publish(events.EventReservationUpdated, updated, principal)

	return updated, nil
}

// Delete removes the row first, then best-effort removes its asset. A
// failed file removal is logged and swallowed; the janitor sweeps
// leftovers later.
func (s *ReservationService) Delete(ctx context.Context, principal models.Principal, id int64) error {
	if err := requireAdmin(principal); err != nil {
		return err
	}

	priorImage, err := s.repo.DeleteReservation(ctx, id)
	if err != nil {
		return err
	}
	s.assets.Remove(priorImage)

	s.logger.Info().
		Int64("reservation_id", id).
		Str("user_name", principal.UserName).
		Msg("reservation deleted")
	s.publish(events.EventReservationDeleted, &models.Reservation{ID: id, ImageName: priorImage}, principal)

	return nil
}

// SetState applies a reserve/unreserve transition. Open to anyone, same
// as the reservation listing.
func (s *ReservationService) SetState(ctx context.Context, id int64, action string) (TransitionResult, error) {
	return s.state.Apply(ctx, id, action)
}

func (s *ReservationService) publish(eventType string, r *models.Reservation, principal models.Principal) {
	if s.eventBus == nil {
		return
	}
	payload := events.ReservationEventPayload{
		ReservationID: r.ID,
		Location:      r.Location,
		StartTime:     r.StartTime,
		EndTime:       r.EndTime,
		Reserved:      r.Reserved,
		ImageName:     r.ImageName,
		ChangedBy:     principal.UserName,
	}
	if err := s.eventBus.PublishJSON(eventType, payload); err != nil {
		s.logger.Error().Err(err).Str("event_type", eventType).Int64("reservation_id", r.ID).Msg("publish event error")
	}
}
