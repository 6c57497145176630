// Copyright 2025 GridTokenX
//
// Package epoch maps wall-clock time onto the platform's fixed 15-minute
// trading windows and drives each epoch's lifecycle.
package epoch

import (
	"context"
	"time"

	"github.com/gridtokenx/apigateway-core/pkg/database"
)

// Duration is the fixed epoch window length.
const Duration = 15 * time.Minute

// Start truncates t to the most recent 15-minute UTC boundary.
func Start(t time.Time) time.Time {
	u := t.UTC()
	minute := (u.Minute() / 15) * 15
	return time.Date(u.Year(), u.Month(), u.Day(), u.Hour(), minute, 0, 0, time.UTC)
}

// End returns the exclusive upper bound of the epoch containing t.
func End(t time.Time) time.Time {
	return Start(t).Add(Duration)
}

// Number derives the human-readable epoch tag from its start instant:
// year·10^8 + month·10^6 + day·10^4 + hour·100 + (minute/15)·15.
func Number(start time.Time) int64 {
	u := start.UTC()
	return int64(u.Year())*1e8 + int64(u.Month())*1e6 + int64(u.Day())*1e4 +
		int64(u.Hour())*100 + int64(u.Minute())
}

// Scheduler resolves and persists epochs, backed by database.EpochRepository.
type Scheduler struct {
	epochs *database.EpochRepository
}

func NewScheduler(epochs *database.EpochRepository) *Scheduler {
	return &Scheduler{epochs: epochs}
}

// GetOrCreate looks up the epoch containing t by its deterministic number,
// inserting a fresh pending row if absent, then reconciles status against
// wall-clock rules (now < end => active — transitions never revert
// cleared/settled) so a brand-new epoch is handed back already active
// rather than waiting for the next background tick.
func (s *Scheduler) GetOrCreate(ctx context.Context, t time.Time) (*database.Epoch, error) {
	start := Start(t)
	end := start.Add(Duration)
	number := Number(start)

	e, err := s.epochs.GetByNumber(ctx, number)
	if err == database.ErrEpochNotFound {
		created, err := s.epochs.CreatePending(ctx, number, start, end)
		if err != nil {
			return nil, err
		}
		e = created
	} else if err != nil {
		return nil, err
	}

	wanted := statusFor(time.Now(), e)
	if monotonicAdvance(e.Status, wanted) {
		if err := s.epochs.UpdateStatus(ctx, e.ID, wanted); err != nil {
			return nil, err
		}
		e.Status = wanted
	}
	return e, nil
}

// statusFor determines the wall-clock-implied status, never regressing
// past cleared/settled (the matching engine and settlement coordinator own
// those transitions explicitly).
func statusFor(now time.Time, e *database.Epoch) database.EpochStatus {
	if e.Status == database.EpochCleared || e.Status == database.EpochSettled {
		return e.Status
	}
	if now.Before(e.End) {
		return database.EpochActive
	}
	return e.Status // epoch close is an explicit matching-engine action, not implied by time alone
}

var order = map[database.EpochStatus]int{
	database.EpochPending: 0,
	database.EpochActive:  1,
	database.EpochCleared: 2,
	database.EpochSettled: 3,
}

func monotonicAdvance(from, to database.EpochStatus) bool {
	return order[to] > order[from]
}
