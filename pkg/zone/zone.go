// Copyright 2025 GridTokenX
//
// Package zone resolves the wheeling rate and transmission-loss factor for
// a (from_zone, to_zone) corridor at a given instant.
package zone

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/gridtokenx/apigateway-core/pkg/apperrors"
	"github.com/gridtokenx/apigateway-core/pkg/database"
	"github.com/gridtokenx/apigateway-core/pkg/money"
)

type Table struct {
	zones *database.ZoneRepository
}

func NewTable(zones *database.ZoneRepository) *Table {
	return &Table{zones: zones}
}

// Resolve returns (wheeling_rate, loss_factor) for the corridor at instant.
// A same-zone corridor is always (0, 0) without a database lookup. Any
// other corridor with no active row is UnknownCorridor, a hard error that
// must fail settlement before any side effect.
func (t *Table) Resolve(ctx context.Context, fromZone, toZone string, instant time.Time) (wheelingRate, lossFactor money.Amount, err error) {
	if fromZone == toZone {
		return money.Zero, money.Zero, nil
	}

	rate, err := t.zones.Resolve(ctx, fromZone, toZone, instant)
	if err == database.ErrZoneNotFound {
		return money.Amount{}, money.Amount{}, apperrors.UnknownCorridor(fromZone, toZone)
	}
	if err != nil {
		return money.Amount{}, money.Amount{}, apperrors.StorageError(apperrors.SubQueryFailed, "resolve zone rate", err)
	}
	return rate.WheelingRate, rate.LossFactor, nil
}

// EnsureDegenerateRate builds the (zone, zone) -> (0, 0) row required by
// spec.md §4H. It writes nothing and does not check for an existing row;
// the caller persists it once per zone at registration time (keeping this
// package free of a hidden write path).
func EnsureDegenerateRate(zoneName string) *database.ZoneRate {
	return &database.ZoneRate{
		FromZone:     zoneName,
		ToZone:       zoneName,
		WheelingRate: money.New(decimal.Zero),
		LossFactor:   money.New(decimal.Zero),
		ActiveFrom:   time.Unix(0, 0).UTC(),
		IsActive:     true,
	}
}
