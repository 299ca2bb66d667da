package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrMissingUserID = errors.New("identity user id is empty")
	ErrMissingToken  = errors.New("identity token is empty")
	ErrTokenExpired  = errors.New("identity token expired")
)

// Identity is the credential pair carried in the connection handshake.
type Identity struct {
	UserID string
	Token  string
}

// Validate checks the identity before dialing. The token signature is
// verified by the server; here we only parse the claims so that a session
// with an already-expired token fails fast instead of bouncing off an
// auth_error round trip.
func (id Identity) Validate(now time.Time) error {
	if id.UserID == "" {
		return ErrMissingUserID
	}
	if id.Token == "" {
		return ErrMissingToken
	}

	expiry, err := TokenExpiry(id.Token)
	if err != nil {
		// Opaque tokens are passed through for the server to judge.
		return nil
	}
	if !expiry.IsZero() && expiry.Before(now) {
		return ErrTokenExpired
	}
	return nil
}

// TokenExpiry extracts the exp claim from a JWT without verifying the
// signature. Returns an error if the token is not a parseable JWT.
func TokenExpiry(token string) (time.Time, error) {
	claims := jwt.MapClaims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(token, claims); err != nil {
		return time.Time{}, fmt.Errorf("parse token: %w", err)
	}

	exp, err := claims.GetExpirationTime()
	if err != nil || exp == nil {
		return time.Time{}, nil
	}
	return exp.Time, nil
}
