package session

import "errors"

var (
	// ErrMalformedToken is returned when the token's claims cannot be decoded.
	ErrMalformedToken = errors.New("malformed token")
	// ErrTokenExpired is returned when the token's expiry is not in the future.
	ErrTokenExpired = errors.New("token expired")
	// ErrNoSession is returned by operations that need an established session.
	ErrNoSession = errors.New("no active session")
	// ErrRefreshFailed wraps the reason a renewal call failed. The session is gone afterwards.
	ErrRefreshFailed = errors.New("token refresh failed")
	// ErrUnschedulable is returned when a token's expiry cannot drive a renewal timer.
	ErrUnschedulable = errors.New("token expiry cannot be scheduled")
	// ErrUnknownShape is returned when a cached payload does not match the expected schema.
	ErrUnknownShape = errors.New("cached payload has unknown shape")
)
