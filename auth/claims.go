package auth

import (
	gojwt "github.com/golang-jwt/jwt/v5"
)

// Claims is the identity claim set tickstream consumes for bound streams.
// Subject carries the user ID that must own the requested watchlist.
type Claims struct {
	gojwt.RegisteredClaims
}

// UserID returns the authenticated user's identifier.
func (c *Claims) UserID() string {
	return c.Subject
}
