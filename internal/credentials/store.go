// Package credentials holds the process-wide access/refresh token slot.
package credentials

import (
	"errors"
	"strings"
	"sync/atomic"

	"github.com/golang-jwt/jwt/v5"
)

// Credentials is a token pair. An empty string means the token is absent.
type Credentials struct {
	AccessToken  string
	RefreshToken string
}

// Empty reports whether both tokens are absent.
func (c Credentials) Empty() bool {
	return strings.TrimSpace(c.AccessToken) == "" && strings.TrimSpace(c.RefreshToken) == ""
}

// Complete reports whether both tokens are present.
func (c Credentials) Complete() bool {
	return strings.TrimSpace(c.AccessToken) != "" && strings.TrimSpace(c.RefreshToken) != ""
}

// Subject returns the sub claim of the access token without verifying it.
// The backend is the only party that checks signatures.
func (c Credentials) Subject() (string, error) {
	if strings.TrimSpace(c.AccessToken) == "" {
		return "", errors.New("access token required")
	}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(c.AccessToken, &claims); err != nil {
		return "", err
	}
	if claims.Subject == "" {
		return "", errors.New("subject claim required")
	}
	return claims.Subject, nil
}

// Source is the read side of a Store.
type Source interface {
	Current() Credentials
}

// Store is a single authoritative slot; the last Replace wins.
type Store struct {
	slot atomic.Pointer[Credentials]
}

// NewStore returns a store seeded with c.
func NewStore(c Credentials) *Store {
	s := &Store{}
	s.Replace(c)
	return s
}

// Current returns the credentials in the slot. It never blocks.
func (s *Store) Current() Credentials {
	if c := s.slot.Load(); c != nil {
		return *c
	}
	return Credentials{}
}

// Replace swaps the slot. Commands issued afterwards observe c.
func (s *Store) Replace(c Credentials) {
	s.slot.Store(&c)
}
