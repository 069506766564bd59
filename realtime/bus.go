// Package realtime carries row-level change notifications from the gateway to
// interested cache scopes and websocket clients.
package realtime

import (
	"context"
	"errors"
	"time"
)

// Row events.
const (
	EventInsert = "INSERT"
	EventUpdate = "UPDATE"
	EventDelete = "DELETE"
	EventAny    = "*"
)

// ErrClosed is returned by Subscribe after the bus was closed.
var ErrClosed = errors.New("realtime: bus closed")

// Change describes one committed row mutation. Scope holds the column values
// subscribers filter on, e.g. {"user_id": "..."}.
type Change struct {
	Table string            `json:"table"`
	Event string            `json:"event"`
	Scope map[string]string `json:"scope,omitempty"`
	At    time.Time         `json:"at"`
}

// Filter selects changes. Empty Event or "*" matches every event; empty Column
// matches every row of Table.
type Filter struct {
	Table  string
	Event  string
	Column string
	Value  string
}

// Matches reports whether c passes the filter.
func (f Filter) Matches(c Change) bool {
	if f.Table != c.Table {
		return false
	}
	if f.Event != "" && f.Event != EventAny && f.Event != c.Event {
		return false
	}
	if f.Column == "" {
		return true
	}
	v, ok := c.Scope[f.Column]
	return ok && v == f.Value
}

// Handler receives matching changes. It must not block for long.
type Handler func(Change)

// Subscription is a live registration; Unsubscribe is idempotent.
type Subscription interface {
	Unsubscribe()
}

// Bus publishes changes and fans them out to subscribers.
type Bus interface {
	Publish(ctx context.Context, c Change) error
	Subscribe(f Filter, h Handler) (Subscription, error)
}

// NewChange is a helper for single-column scoped changes.
func NewChange(table, event string, kv ...string) Change {
	scope := make(map[string]string, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		scope[kv[i]] = kv[i+1]
	}
	return Change{Table: table, Event: event, Scope: scope, At: time.Now().UTC()}
}
