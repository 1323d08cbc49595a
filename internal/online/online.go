// Package online defines the contract between the session coordinator and an
// online-services provider: session settings, search queries and results,
// join outcomes, and the Backend interface with its completion notifications.
package online

import (
	"fmt"
	"strings"
)

// Kind classifies a backend by the matchmaking model it supports.
type Kind int

const (
	// KindUnsupported is any provider the coordinator has no settings for.
	KindUnsupported Kind = iota
	// KindLAN is an offline provider that discovers sessions by LAN broadcast.
	KindLAN
	// KindPresence is an online provider with presence/lobby based discovery.
	KindPresence
)

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case KindLAN:
		return "lan"
	case KindPresence:
		return "presence"
	default:
		return "unsupported"
	}
}

// ParseKind maps a provider name reported by a backend to a Kind.
//
// Postcondition: "NULL" yields KindLAN; "Steam" and "lobby" yield KindPresence;
// anything else yields KindUnsupported. Matching is case-insensitive.
func ParseKind(name string) Kind {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "null":
		return KindLAN
	case "steam", "lobby":
		return KindPresence
	default:
		return KindUnsupported
	}
}

// Visibility is the network scope a session is advertised on.
type Visibility int

const (
	VisibilityLAN Visibility = iota
	VisibilityOnline
)

// String returns "lan" or "online".
func (v Visibility) String() string {
	if v == VisibilityLAN {
		return "lan"
	}
	return "online"
}

// Settings describe how a hosted session is advertised.
// A Settings value is derived once per create attempt and never mutated.
type Settings struct {
	Visibility            Visibility
	Advertise             bool
	MaxPublicConnections  int
	AllowJoinInProgress   bool
	UsesPresence          bool
	AllowJoinViaPresence  bool
	UseLobbiesIfAvailable bool
}

// IsLAN reports whether the session is LAN-only.
func (s Settings) IsLAN() bool { return s.Visibility == VisibilityLAN }

// Fields returns the settings as ordered key/value pairs for logging.
func (s Settings) Fields() [][2]string {
	return [][2]string{
		{"visibility", s.Visibility.String()},
		{"advertise", fmt.Sprint(s.Advertise)},
		{"max_public_connections", fmt.Sprint(s.MaxPublicConnections)},
		{"allow_join_in_progress", fmt.Sprint(s.AllowJoinInProgress)},
		{"uses_presence", fmt.Sprint(s.UsesPresence)},
		{"allow_join_via_presence", fmt.Sprint(s.AllowJoinViaPresence)},
		{"use_lobbies_if_available", fmt.Sprint(s.UseLobbiesIfAvailable)},
	}
}

// Handle identifies a session this process hosts or has joined.
type Handle struct {
	// Name is the local session name the handle is registered under.
	Name string
	// ID is the provider-assigned session identifier.
	ID string
	// OwnerName is the display name of the hosting player.
	OwnerName string
	// Address is the connect address of the host.
	Address string
	Settings Settings
}

// SearchQuery parameterizes a session search.
type SearchQuery struct {
	// LANOnly restricts discovery to LAN broadcast.
	LANOnly bool
	// Presence is an equality filter: when true only presence sessions match.
	Presence bool
	// MaxResults caps the number of results returned.
	MaxResults int
}

// SearchResult is one discovered session.
type SearchResult struct {
	SessionID             string
	SessionName           string
	OwnerName             string
	ConnectAddress        string
	Settings              Settings
	OpenPublicConnections int
	// Metadata is provider-specific join data the coordinator passes through untouched.
	Metadata map[string]string
}

// JoinResult is the outcome a backend reports for a join request.
type JoinResult int

const (
	JoinSuccess JoinResult = iota
	JoinSessionIsFull
	JoinSessionDoesNotExist
	JoinCouldNotRetrieveAddress
	JoinAlreadyInSession
	JoinUnknownError
)

// String returns the name of the join result.
func (r JoinResult) String() string {
	switch r {
	case JoinSuccess:
		return "success"
	case JoinSessionIsFull:
		return "session_is_full"
	case JoinSessionDoesNotExist:
		return "session_does_not_exist"
	case JoinCouldNotRetrieveAddress:
		return "could_not_retrieve_address"
	case JoinAlreadyInSession:
		return "already_in_session"
	default:
		return "unknown_error"
	}
}
