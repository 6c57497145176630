// Copyright 2025 GridTokenX
//
// Package audit is the append-only, best-effort security event log of
// spec.md §4K. A write failure is logged and never propagates to the
// calling operation.
package audit

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gridtokenx/apigateway-core/pkg/database"
)

// Kind is one of the known audit event kinds spec.md §4K enumerates.
type Kind string

const (
	LoginSuccess         Kind = "login_success"
	LoginFailed          Kind = "login_failed"
	PasswordChanged      Kind = "password_changed"
	WalletCreated        Kind = "wallet_created"
	WalletExported       Kind = "wallet_exported"
	WalletRotated        Kind = "wallet_rotated"
	OrderCreated         Kind = "order_created"
	OrderCancelled       Kind = "order_cancelled"
	MatchRecorded        Kind = "match_recorded"
	SettlementSucceeded  Kind = "settlement_succeeded"
	SettlementFailed     Kind = "settlement_failed"
	RECIssued            Kind = "rec_issued"
	RECTransferred       Kind = "rec_transferred"
	RECRetired           Kind = "rec_retired"
	KeyRotationStarted   Kind = "key_rotation_started"
	KeyRotationCompleted Kind = "key_rotation_completed"
	AdminUserUpdated     Kind = "admin_user_updated"
)

// Event is the caller-facing shape of one audit record; Details is any
// JSON-marshalable value, bounded by the caller to a reasonable size.
type Event struct {
	Actor   *uuid.UUID
	Kind    Kind
	Subject *string
	IP      *string
	Agent   *string
	Details interface{}
}

// Log batches audit writes over database.AuditRepository. Writes are
// queued and flushed periodically so a burst of events (e.g. the
// settlement coordinator sweeping many matches) costs one round trip
// instead of many, while never dropping a queued event.
type Log struct {
	repo *database.AuditRepository

	mu     sync.Mutex
	queue  []*database.AuditEvent
	flush  chan struct{}
	closed chan struct{}
}

// New constructs a Log and starts its background flush loop with the
// given flush interval.
func New(repo *database.AuditRepository, flushEvery time.Duration) *Log {
	l := &Log{
		repo:   repo,
		flush:  make(chan struct{}, 1),
		closed: make(chan struct{}),
	}
	go l.run(flushEvery)
	return l
}

// Append enqueues e for the next flush. Never blocks on the database and
// never returns an error to the caller — a failure is logged at error
// level, matching spec.md §4K's best-effort contract.
func (l *Log) Append(ctx context.Context, e Event) {
	row, err := toRow(e)
	if err != nil {
		log.Printf("audit: marshal event kind=%s: %v", e.Kind, err)
		return
	}

	l.mu.Lock()
	l.queue = append(l.queue, row)
	l.mu.Unlock()

	select {
	case l.flush <- struct{}{}:
	default:
	}
}

func toRow(e Event) (*database.AuditEvent, error) {
	var details []byte
	if e.Details != nil {
		encoded, err := json.Marshal(e.Details)
		if err != nil {
			return nil, err
		}
		details = encoded
	}
	return &database.AuditEvent{
		Actor:   e.Actor,
		Kind:    string(e.Kind),
		Subject: e.Subject,
		IP:      e.IP,
		UserAgent: e.Agent,
		Details: details,
	}, nil
}

func (l *Log) run(flushEvery time.Duration) {
	ticker := time.NewTicker(flushEvery)
	defer ticker.Stop()
	for {
		select {
		case <-l.flush:
			l.drain()
		case <-ticker.C:
			l.drain()
		case <-l.closed:
			l.drain()
			return
		}
	}
}

func (l *Log) drain() {
	l.mu.Lock()
	batch := l.queue
	l.queue = nil
	l.mu.Unlock()

	if len(batch) == 0 {
		return
	}
	if err := l.repo.AppendBatch(context.Background(), batch); err != nil {
		log.Printf("audit: flush %d event(s): %v", len(batch), err)
	}
}

// Close signals the background loop to flush any queued events and stop.
// It returns without waiting for that final flush to finish.
func (l *Log) Close() {
	close(l.closed)
}
