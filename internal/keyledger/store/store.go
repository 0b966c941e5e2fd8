package store

import (
	"context"
	"time"

	"github.com/openkey-lms/keyledger/internal/keyledger/credential"
)

// Watermark items.
const (
	WatermarkLog    = "log"
	WatermarkConfig = "config"
)

// LedgerReader answers range queries over the credential event log.
type LedgerReader interface {
	Query(ctx context.Context, q Query) ([]credential.Event, error)
	// LastModified returns when item last changed, or the zero time if it
	// never has.
	LastModified(ctx context.Context, item string) (time.Time, error)
}

// LedgerStore persists credential events as an append-only log. Events
// are never updated or deleted.
type LedgerStore interface {
	LedgerReader
	// Append stores ev and returns it with Seq assigned. A second member
	// in the same state for the same chain fails with constraint_violation.
	Append(ctx context.Context, ev credential.Event) (credential.Event, error)
}

// Occupancy of a room.
type Occupancy int

const (
	OccupancyVacant   Occupancy = 0
	OccupancyOccupied Occupancy = 1
)

func (o Occupancy) String() string {
	if o == OccupancyOccupied {
		return "occupied"
	}
	return "vacant"
}

// Room is the slice of the room registry the ledger needs.
type Room struct {
	FullID    string
	Building  string
	Floor     string
	RoomNo    string
	Occupancy Occupancy
	UpdatedAt time.Time
}

// RoomStore tracks rooms and their occupancy.
type RoomStore interface {
	// GetRoom fails with not_found for an unknown room.
	GetRoom(ctx context.Context, fullID string) (Room, error)
	UpsertRoom(ctx context.Context, room Room) error
	// SetOccupancy fails with referential_violation for an unknown room.
	SetOccupancy(ctx context.Context, fullID string, occ Occupancy, at time.Time) error
}

// Tx is the view of the store inside one unit of work.
type Tx interface {
	LedgerStore
	RoomStore
}

// Store is a ledger and room store that can group writes into a unit of
// work. WithTx serializes against every other writer; if fn returns an
// error nothing it wrote is kept.
type Store interface {
	Tx
	WithTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}
