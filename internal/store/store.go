// Package store persists events, dead letter records, and the action audit
// log in Postgres.
package store

import (
	"errors"

	"github.com/sukru-can1/the-agent/core/db"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: not found")

// Stores bundles all Postgres-backed stores over a shared pool.
type Stores struct {
	Events      *EventStore
	DeadLetters *DeadLetterStore
	ActionLog   *ActionLogStore
}

func New(database *db.DB) *Stores {
	return &Stores{
		Events:      NewEventStore(database.Pool()),
		DeadLetters: NewDeadLetterStore(database.Pool()),
		ActionLog:   NewActionLogStore(database.Pool()),
	}
}
