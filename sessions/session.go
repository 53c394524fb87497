package sessions

import (
	"context"
	"encoding/json"
	"errors"
)

// ErrNoSession is returned by operations that require an existing session
// (such as SetAccessToken) when the store is empty.
var ErrNoSession = errors.New("sessions: no session")

// ErrInvalidSession is returned when a session is missing one of its tokens.
var ErrInvalidSession = errors.New("sessions: invalid session")

// Session is the client-side record of an authenticated user.
type Session struct {
	AccessToken  string          `json:"access_token"`
	RefreshToken string          `json:"refresh_token"`
	Profile      json.RawMessage `json:"user,omitempty"`
}

// Validate reports whether both tokens are present.
func (s *Session) Validate() error {
	if s == nil {
		return ErrInvalidSession
	}
	if s.AccessToken == "" {
		return errors.Join(ErrInvalidSession, errors.New("access token is required"))
	}
	if s.RefreshToken == "" {
		return errors.Join(ErrInvalidSession, errors.New("refresh token is required"))
	}
	return nil
}

// Clone returns a deep copy so callers can't alias a store's internal state.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	cp := *s
	if s.Profile != nil {
		cp.Profile = append(json.RawMessage(nil), s.Profile...)
	}
	return &cp
}

// DecodeProfile unmarshals the cached profile document into ref.
func (s *Session) DecodeProfile(ref any) error {
	if s == nil || len(s.Profile) == 0 {
		return ErrNoSession
	}
	return json.Unmarshal(s.Profile, ref)
}

// Store persists the current session. Implementations must be safe for
// concurrent use.
type Store interface {
	// Get returns the current session, or (nil, nil) when there is none.
	Get(ctx context.Context) (*Session, error)

	// Set replaces the current session. The session must be valid.
	Set(ctx context.Context, s *Session) error

	// SetAccessToken replaces only the access token, keeping the refresh
	// token and the profile. Returns ErrNoSession when the store is empty.
	SetAccessToken(ctx context.Context, token string) error

	// Clear destroys the session. Clearing an empty store is not an error.
	Clear(ctx context.Context) error
}
