// Package repository defines the Repository Port: the only seam through
// which the core touches durable storage. Grounded on the teacher's db
// package split (an interface in db/ with a sqlite-backed implementation
// in db/sqlite), generalized from the teacher's single graph-store
// interface to one narrow interface per aggregate.
package repository

import (
	"context"
	"time"

	"github.com/skylinesignage/fleetd/internal/model"
)

// Clients is the narrow persistence contract for the Client aggregate.
type Clients interface {
	Get(ctx context.Context, id string) (*model.Client, error)
	GetByMac(ctx context.Context, mac string) (*model.Client, error)
	Upsert(ctx context.Context, c *model.Client) error
	List(ctx context.Context) ([]*model.Client, error)
	Delete(ctx context.Context, id string) error
	UpdateStatus(ctx context.Context, id string, status model.ClientStatus, info model.DeviceInfo, lastSeenAt time.Time) error
}

// Layouts is read-only from the core's perspective: layout CRUD is an
// operator-administration path, out of scope here.
type Layouts interface {
	Get(ctx context.Context, id string) (*model.Layout, error)
	List(ctx context.Context) ([]*model.Layout, error)
}

// Schedules is read-only for the same reason as Layouts.
type Schedules interface {
	List(ctx context.Context) ([]*model.Schedule, error)
}

// Tokens is the Registration Token store. Consume must be atomic — a
// single call that validates and increments usedCount in one critical
// section.
type Tokens interface {
	GetByFingerprint(ctx context.Context, fingerprint string) (*model.RegistrationToken, error)
	Consume(ctx context.Context, fingerprint string) (model.ConsumeResult, error)
	Delete(ctx context.Context, fingerprint string) error
	// Create is an operator-path addition beyond the core's own use of
	// this store: the CLI's "token create" needs somewhere to put a
	// freshly generated token, and the core never calls it.
	Create(ctx context.Context, t *model.RegistrationToken) error
	List(ctx context.Context) ([]*model.RegistrationToken, error)
}

// Operators is the OperatorRegistration store.
type Operators interface {
	Get(ctx context.Context, id string) (*model.OperatorRegistration, error)
	GetByTokenFingerprint(ctx context.Context, fingerprint string) (*model.OperatorRegistration, error)
	UpdateLastSeen(ctx context.Context, id string, t time.Time) error
	// Create, List, and UpdateStatus are an operator-administration addition
	// beyond the core's read/touch-only use of this store: the CLI's
	// "operator approve|deny|revoke" needs somewhere to register a pending
	// app and move it through its admission states, and the core never
	// calls them.
	Create(ctx context.Context, o *model.OperatorRegistration) error
	List(ctx context.Context) ([]*model.OperatorRegistration, error)
	UpdateStatus(ctx context.Context, id string, status model.OperatorStatus, approvedAt *time.Time) error
}

// Repository bundles every aggregate store the core needs. Components take
// the narrower single-aggregate interface they actually use rather than
// this bundle, except top-level wiring which assembles one implementation
// and hands out its facets.
type Repository interface {
	Clients() Clients
	Layouts() Layouts
	Schedules() Schedules
	Tokens() Tokens
	Operators() Operators
	Close() error
}
