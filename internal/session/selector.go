package session

import (
	"fmt"

	"github.com/cory-johannsen/mansion/internal/online"
)

// DefaultMaxPublicConnections is the advertised capacity of a hosted session.
const DefaultMaxPublicConnections = 5

// SelectConfig returns the advertisement settings for a backend kind.
//
// Postcondition: Returns identical Settings for identical kinds, or
// ErrUnsupportedBackend for kinds without settings.
func SelectConfig(kind online.Kind) (online.Settings, error) {
	switch kind {
	case online.KindLAN:
		return online.Settings{
			Visibility:           online.VisibilityLAN,
			Advertise:            true,
			MaxPublicConnections: DefaultMaxPublicConnections,
			AllowJoinInProgress:  true,
		}, nil
	case online.KindPresence:
		return online.Settings{
			Visibility:            online.VisibilityOnline,
			Advertise:             true,
			MaxPublicConnections:  DefaultMaxPublicConnections,
			AllowJoinInProgress:   true,
			UsesPresence:          true,
			AllowJoinViaPresence:  true,
			UseLobbiesIfAvailable: true,
		}, nil
	default:
		return online.Settings{}, fmt.Errorf("%w: %s", ErrUnsupportedBackend, kind)
	}
}
