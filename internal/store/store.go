// ABOUTME: Store interface and data types for the gateway's call ledger
// ABOUTME: Defines CallRecord and the CallStore interface implemented by SQLite and in-memory stores

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist
var ErrNotFound = errors.New("not found")

// ErrDuplicateCall is returned when a call record with the same ID already exists
var ErrDuplicateCall = errors.New("call record already exists")

// CallRecord is one ledger row describing a resources.call outcome.
// It never holds request params, response payloads, or credential material.
type CallRecord struct {
	ID         string    `json:"id"`
	EnvelopeID string    `json:"envelopeId"`
	ResourceID string    `json:"resourceId"`
	Success    bool      `json:"success"`
	Kind       string    `json:"kind,omitempty"` // error kind, empty on success
	StatusCode int       `json:"statusCode,omitempty"`
	DurationMs int64     `json:"durationMs"`
	CreatedAt  time.Time `json:"createdAt"`
}

// CallFilter narrows ListCalls results.
type CallFilter struct {
	ResourceID string // empty matches every resource
	Limit      int    // default 50, max 500
}

// CallStats aggregates the ledger per resource.
type CallStats struct {
	ResourceID string `json:"resourceId"`
	Total      int    `json:"total"`
	Failures   int    `json:"failures"`
}

// CallStore persists and lists call records.
type CallStore interface {
	RecordCall(ctx context.Context, rec *CallRecord) error
	GetCall(ctx context.Context, id string) (*CallRecord, error)
	ListCalls(ctx context.Context, f CallFilter) ([]CallRecord, error)
	CallStats(ctx context.Context) ([]CallStats, error)
	Close() error
}

// normalizeCallLimit applies the default (50) and cap (500) to a list limit.
func normalizeCallLimit(limit int) int {
	switch {
	case limit <= 0:
		return 50
	case limit > 500:
		return 500
	default:
		return limit
	}
}
