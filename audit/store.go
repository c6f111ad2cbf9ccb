// Package audit keeps a persistent trail of executed tool calls.
package audit

import (
	"context"
	"time"
)

// Record is one executed tool call.
type Record struct {
	ID         string
	SessionID  string
	CallID     string
	Tool       string
	Arguments  string
	IsError    bool
	Output     string
	Diff       string
	Approval   string
	DurationMs int64
	CreatedAt  time.Time
}

// Repository stores and lists audit records.
type Repository interface {
	Append(ctx context.Context, rec *Record) error
	Recent(ctx context.Context, limit int) ([]Record, error)
	BySession(ctx context.Context, sessionID string) ([]Record, error)
	Ping(ctx context.Context) error
	Close() error
}
