package session

import "errors"

var (
	// ErrBackendUnavailable is returned when no session backend is attached.
	ErrBackendUnavailable = errors.New("session backend unavailable")
	// ErrUnsupportedBackend is returned when no settings exist for the backend kind.
	ErrUnsupportedBackend = errors.New("unsupported session backend")
	// ErrCreateStartFailed is returned when the backend refuses to start a create.
	ErrCreateStartFailed = errors.New("create session failed to start")
	// ErrCreateFailed is reported when a create completes unsuccessfully.
	ErrCreateFailed = errors.New("create session failed")
	// ErrDestroyFailed is reported when a destroy fails to start or completes unsuccessfully.
	ErrDestroyFailed = errors.New("destroy session failed")
	// ErrNoSessionsFound is reported when a search fails or finds nothing.
	ErrNoSessionsFound = errors.New("no sessions found")
	// ErrJoinResolutionFailed is reported when a joined session has no connect string.
	ErrJoinResolutionFailed = errors.New("join resolution failed")

	// ErrRequestInFlight is returned when the track is already busy with a request.
	ErrRequestInFlight = errors.New("session request already in flight")
	// ErrLingeringSession is reported when a session survives the automatic destroy.
	ErrLingeringSession = errors.New("session still present after destroy")
	// ErrSearchStartFailed is reported when the backend refuses to start a search.
	ErrSearchStartFailed = errors.New("find sessions failed to start")
	// ErrJoinStartFailed is reported when the backend refuses to start a join.
	ErrJoinStartFailed = errors.New("join session failed to start")
	// ErrNotHosting is returned by DestroyServer when no session is hosted.
	ErrNotHosting = errors.New("not hosting a session")
	// ErrNotJoined is returned by LeaveServer when no session is joined.
	ErrNotJoined = errors.New("not joined to a session")
	// ErrHostTravelFailed is reported when the host travel collaborator fails.
	ErrHostTravelFailed = errors.New("host travel failed")
	// ErrClientTravelFailed is reported when the client travel collaborator fails.
	ErrClientTravelFailed = errors.New("client travel failed")
)
