// Package repository persists host settings and registrations.
//
// Every change to a host's registrations happens inside Store.WithHostLock,
// which serialises writers per host: usage is read, the decision is made
// and the result is written while no other writer can touch the same host.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Shivanand-hulikatti/registration-lifecycle/internal/model"
)

// ErrNotFound is returned when a requested resource does not exist.
var ErrNotFound = errors.New("not found")

// ErrWrongHost is returned when a transaction is asked to touch a record
// belonging to a host other than the one it locked.
var ErrWrongHost = errors.New("record belongs to another host")

// Tx is the view of one locked host. It is only valid inside the callback
// passed to WithHostLock.
type Tx interface {
	// Host returns the locked host's settings and registrations ordered by
	// creation time, then sequence.
	Host(ctx context.Context) (model.Host, error)
	Registration(ctx context.Context, id string) (model.Registration, error)
	SaveHostSettings(ctx context.Context, s model.HostSettings) error
	// InsertRegistration stores r and assigns its Sequence.
	InsertRegistration(ctx context.Context, r *model.Registration) error
	UpdateRegistration(ctx context.Context, r model.Registration) error
	DeleteRegistration(ctx context.Context, id string) error
}

// Store is implemented by PostgresStore and MemoryStore.
type Store interface {
	// WithHostLock runs fn with exclusive write access to hostID. Writes made
	// through the Tx are committed only when fn returns nil.
	WithHostLock(ctx context.Context, hostID string, fn func(ctx context.Context, tx Tx) error) error

	Registration(ctx context.Context, id string) (model.Registration, error)
	// Host reads a host snapshot without locking it.
	Host(ctx context.Context, hostID string) (model.Host, error)
	ListHostSettings(ctx context.Context) ([]model.HostSettings, error)
	// HeldRegistrations lists registrations of typeID in one of states whose
	// last change happened strictly before changedBefore, oldest first.
	HeldRegistrations(ctx context.Context, typeID string, states []string, changedBefore time.Time) ([]model.Registration, error)
	// EnsureHost creates settings for a host that has none; existing
	// settings are left as they are.
	EnsureHost(ctx context.Context, s model.HostSettings) error
	Ping(ctx context.Context) error
}
