// Package stats records the outcome of every fetcher call.
// Recording is best-effort: a failing recorder never fails the call.
package stats

import (
	"context"
	"time"
)

// Event is the outcome of one logical fetcher call, retries included
type Event struct {
	Method   string
	Attempts int
	OK       bool
	// Kind is the failure class; empty on success
	Kind     string
	Duration time.Duration
	At       time.Time
}

// Recorder persists call outcomes
type Recorder interface {
	Record(ctx context.Context, ev Event) error
}

// Nop discards every event
type Nop struct{}

func (Nop) Record(context.Context, Event) error { return nil }
