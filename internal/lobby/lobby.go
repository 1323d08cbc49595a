// Package lobby implements the matchmaking service behind the presence
// backend: hosts register sessions, clients search and reserve slots, and
// owners tear their sessions down.
package lobby

import (
	"context"
	"errors"
	"time"

	"github.com/cory-johannsen/mansion/internal/online"
	"github.com/cory-johannsen/mansion/internal/online/wire"
)

// MaxFindResults caps the number of sessions a single Find returns.
const MaxFindResults = 10000

var (
	// ErrInvalidArgument is returned when a request is missing required fields.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNotFound is returned when a session id is unknown.
	ErrNotFound = errors.New("lobby session not found")
	// ErrExists is returned when a session id is already stored.
	ErrExists = errors.New("lobby session already exists")
	// ErrFull is returned when a session has no open public slots.
	ErrFull = errors.New("lobby session is full")
	// ErrPermissionDenied is returned when an owner token does not match.
	ErrPermissionDenied = errors.New("permission denied")
)

// Record is a session registered with the lobby.
type Record struct {
	ID        string
	Name      string
	OwnerName string
	Address   string
	// TokenHash is the bcrypt hash of the owner token.
	TokenHash []byte
	Settings  online.Settings
	OpenSlots int
	CreatedAt time.Time
}

// Advert converts r into the form sent to searching clients.
func (r Record) Advert() wire.Advert {
	return wire.Advert{
		SessionID:             r.ID,
		SessionName:           r.Name,
		OwnerName:             r.OwnerName,
		Address:               r.Address,
		Settings:              r.Settings,
		OpenPublicConnections: r.OpenSlots,
	}
}

// Filter selects sessions for Find.
type Filter struct {
	// LAN matches sessions whose visibility is LAN when true, online otherwise.
	LAN bool
	// PresenceOnly restricts results to sessions that use presence.
	PresenceOnly bool
	Limit        int
}

// Matches reports whether r passes the filter. Only advertised sessions match.
func (f Filter) Matches(r Record) bool {
	if !r.Settings.Advertise {
		return false
	}
	if r.Settings.IsLAN() != f.LAN {
		return false
	}
	if f.PresenceOnly && !r.Settings.UsesPresence {
		return false
	}
	return true
}

// Clamp returns f with Limit bounded to [1, MaxFindResults].
func (f Filter) Clamp() Filter {
	switch {
	case f.Limit < 1:
		f.Limit = 1
	case f.Limit > MaxFindResults:
		f.Limit = MaxFindResults
	}
	return f
}

// Store persists lobby sessions.
//
// Find returns matching records ordered by creation time, oldest first.
// Reserve atomically decrements the open slot count and returns the updated
// record, failing with ErrNotFound or ErrFull. Release gives one slot back,
// never raising the count above Settings.MaxPublicConnections, and fails with
// ErrNotFound.
type Store interface {
	Insert(ctx context.Context, r Record) error
	Get(ctx context.Context, id string) (Record, error)
	Find(ctx context.Context, f Filter) ([]Record, error)
	Reserve(ctx context.Context, id string) (Record, error)
	Release(ctx context.Context, id string) (Record, error)
	Delete(ctx context.Context, id string) error
}
