package sessions

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrNoExpiry is returned by AccessTokenExpiry when the token is not a JWT
// or carries no "exp" claim.
var ErrNoExpiry = errors.New("sessions: token has no expiry")

var unverifiedParser = jwt.NewParser()

// AccessTokenExpiry returns the expiry of a JWT access token. The signature
// is not checked.
func AccessTokenExpiry(token string) (time.Time, error) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := unverifiedParser.ParseUnverified(token, &claims); err != nil {
		return time.Time{}, fmt.Errorf("%w: %v", ErrNoExpiry, err)
	}
	if claims.ExpiresAt == nil {
		return time.Time{}, ErrNoExpiry
	}
	return claims.ExpiresAt.Time, nil
}

// Subject returns the "sub" claim of a JWT access token, unverified.
func Subject(token string) (string, error) {
	claims := jwt.RegisteredClaims{}
	if _, _, err := unverifiedParser.ParseUnverified(token, &claims); err != nil {
		return "", fmt.Errorf("sessions: parse token: %w", err)
	}
	return claims.Subject, nil
}
