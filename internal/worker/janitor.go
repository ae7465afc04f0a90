package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"slotbook/internal/config"
	"slotbook/internal/models"

	"github.com/rs/zerolog"
)

// ImageIndex lists the asset names currently referenced by reservations.
type ImageIndex interface {
	ListImageNames(ctx context.Context) (map[string]struct{}, error)
}

// Janitor periodically removes upload files no longer referenced by any
// reservation. Updates never delete the superseded asset inline, so the
// upload directory accumulates orphans; this worker reclaims them once
// they are older than the grace period.
type Janitor struct {
	index        ImageIndex
	uploadsDir   string
	placeholder  string
	interval     time.Duration
	gracePeriod  time.Duration
	maxDeletions int
	backoff      Backoff
	logger       *zerolog.Logger
}

const sweepRetries = 3

func NewJanitor(index ImageIndex, uploadsDir string, cfg config.JanitorConfig, logger *zerolog.Logger) *Janitor {
	interval := parseDuration(cfg.Interval, time.Hour)
	grace := parseDuration(cfg.GracePeriod, 24*time.Hour)
	maxDeletions := cfg.MaxDeletions
	if maxDeletions <= 0 {
		maxDeletions = 100
	}

	return &Janitor{
		index:        index,
		uploadsDir:   uploadsDir,
		placeholder:  models.PlaceholderImage,
		interval:     interval,
		gracePeriod:  grace,
		maxDeletions: maxDeletions,
		backoff:      Backoff{Initial: 5 * time.Second, Max: time.Minute},
		logger:       logger,
	}
}

func parseDuration(raw string, def time.Duration) time.Duration {
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// Start runs sweeps until the context is cancelled.
func (j *Janitor) Start(ctx context.Context) {
	j.logger.Info().
		Dur("interval", j.interval).
		Dur("grace_period", j.gracePeriod).
		Msg("janitor started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info().Msg("janitor stopped")
			return
		case <-ticker.C:
			j.sweepWithRetry(ctx)
		}
	}
}

func (j *Janitor) sweepWithRetry(ctx context.Context) {
	for attempt := 1; attempt <= sweepRetries; attempt++ {
		removed, err := j.Sweep(ctx)
		if err == nil {
			if removed > 0 {
				j.logger.Info().Int("removed", removed).Msg("janitor sweep done")
			}
			return
		}

		j.logger.Warn().Err(err).Int("attempt", attempt).Msg("janitor sweep error")
		if attempt == sweepRetries {
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(j.backoff.Delay(attempt)):
		}
	}
}

// Sweep removes unreferenced upload files older than the grace period
// and returns how many were deleted. Deletions are capped per sweep so
// a misconfigured grace period cannot wipe the directory in one pass.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	referenced, err := j.index.ListImageNames(ctx)
	if err != nil {
		return 0, fmt.Errorf("list referenced images: %w", err)
	}

	entries, err := os.ReadDir(j.uploadsDir)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read uploads dir: %w", err)
	}

	cutoff := time.Now().Add(-j.gracePeriod)
	removed := 0
	for _, entry := range entries {
		if removed >= j.maxDeletions {
			break
		}
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if name == j.placeholder {
			continue
		}
		if _, ok := referenced[name]; ok {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			// Еще слишком свежий, оставляем до следующего прохода.
			continue
		}

		if err := os.Remove(filepath.Join(j.uploadsDir, name)); err != nil {
			j.logger.Warn().Err(err).Str("file", name).Msg("janitor remove error")
			continue
		}
		j.logger.Debug().Str("file", name).Msg("orphaned asset removed")
		removed++
	}

	return removed, nil
}
