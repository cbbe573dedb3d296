// Package admin grants an identity temporary elevated privilege scoped to
// its current token: the admin session is written with exactly the token's
// remaining lifetime, so privilege can never outlive identity.
package admin

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"

	"github.com/dkotenko/relaychat-server/internal/store"
)

var (
	// ErrRateLimited is returned when an attempt follows another within the gate window.
	ErrRateLimited = errors.New("too many attempts")
	// ErrBadPassword is returned on password mismatch.
	ErrBadPassword = errors.New("invalid password")
	// ErrInvalidTokenTTL is returned when the presenting token has no remaining lifetime.
	ErrInvalidTokenTTL = errors.New("token has no remaining ttl")
	// ErrNoSession is returned when no admin session exists for the token.
	ErrNoSession = errors.New("no admin session")
	// ErrNotOwner is returned when the session belongs to another identity.
	ErrNotOwner = errors.New("session owned by another identity")
)

// attemptGate separates login and clear attempts from message rate limits.
const attemptGate = 30 * time.Second

// RoomCleaner wipes a room's message history.
type RoomCleaner interface {
	Clear(ctx context.Context, room string) error
}

// Broadcaster announces a cleared room to its members.
type Broadcaster interface {
	BroadcastRoomCleared(room string)
}

// Service elevates identities to admin and checks their grants.
type Service struct {
	store        store.Store
	passwordHash []byte
	cleaner      RoomCleaner
	broadcast    Broadcaster
	log          *zerolog.Logger
}

// NewService creates an admin service. passwordHash is a bcrypt hash.
func NewService(st store.Store, passwordHash string, cleaner RoomCleaner, broadcast Broadcaster, logger *zerolog.Logger) *Service {
	return &Service{
		store:        st,
		passwordHash: []byte(passwordHash),
		cleaner:      cleaner,
		broadcast:    broadcast,
		log:          logger,
	}
}

// Login verifies password and writes an admin session bounded by the
// remaining TTL of the identity's current token. Attempts are gated to one
// per 30 seconds per identity, counted whether or not the password matches.
func (s *Service) Login(ctx context.Context, rawToken, identity, password string) error {
	ok, err := s.store.SetNX(ctx, store.RateKey("adminLogin", identity), "1", attemptGate)
	if err != nil {
		return fmt.Errorf("login gate: %w", err)
	}
	if !ok {
		return ErrRateLimited
	}
	if bcrypt.CompareHashAndPassword(s.passwordHash, []byte(password)) != nil {
		s.log.Warn().Str("identity", identity).Msg("admin login rejected")
		return ErrBadPassword
	}
	// Unreachable for an authenticated caller unless the token expired
	// between validation and here; treated as a hard stop either way.
	ttl, err := s.store.TTL(ctx, store.TokenKey(identity))
	if err != nil || ttl <= 0 {
		return ErrInvalidTokenTTL
	}
	if err := s.store.Set(ctx, store.AdminSessionKey(rawToken), identity, ttl); err != nil {
		return fmt.Errorf("write admin session: %w", err)
	}
	s.log.Info().Str("identity", identity).Dur("ttl", ttl).Msg("admin session granted")
	return nil
}

// Status reports whether rawToken holds an admin session owned by identity.
// Ownership is re-read from the store on every call; a grant is never
// cached. Store errors read as not-admin.
func (s *Service) Status(ctx context.Context, rawToken, identity string) bool {
	owner, err := s.store.Get(ctx, store.AdminSessionKey(rawToken))
	if err != nil {
		if !errors.Is(err, store.ErrNotFound) {
			s.log.Error().Err(err).Msg("admin status lookup failed")
		}
		return false
	}
	return owner == identity
}

// Logout revokes the admin session held by rawToken. A missing session and
// a session owned by someone else are distinct authorization failures, not
// silent no-ops.
func (s *Service) Logout(ctx context.Context, rawToken, identity string) error {
	owner, err := s.store.Get(ctx, store.AdminSessionKey(rawToken))
	if errors.Is(err, store.ErrNotFound) {
		return ErrNoSession
	}
	if err != nil {
		return fmt.Errorf("read admin session: %w", err)
	}
	if owner != identity {
		s.log.Warn().Str("identity", identity).Str("owner", owner).Msg("admin logout ownership mismatch")
		return ErrNotOwner
	}
	if err := s.store.Del(ctx, store.AdminSessionKey(rawToken)); err != nil {
		return fmt.Errorf("delete admin session: %w", err)
	}
	s.log.Info().Str("identity", identity).Msg("admin session revoked")
	return nil
}

// ClearRoom wipes a room's history and notifies its members. Requires an
// owned admin session plus its own 30-second gate, independent of login.
func (s *Service) ClearRoom(ctx context.Context, rawToken, identity, room string) error {
	owner, err := s.store.Get(ctx, store.AdminSessionKey(rawToken))
	if errors.Is(err, store.ErrNotFound) {
		return ErrNoSession
	}
	if err != nil {
		return fmt.Errorf("read admin session: %w", err)
	}
	if owner != identity {
		return ErrNotOwner
	}
	ok, err := s.store.SetNX(ctx, store.RateKey("adminClear", identity), "1", attemptGate)
	if err != nil {
		return fmt.Errorf("clear gate: %w", err)
	}
	if !ok {
		return ErrRateLimited
	}
	if err := s.cleaner.Clear(ctx, room); err != nil {
		return fmt.Errorf("clear room: %w", err)
	}
	s.broadcast.BroadcastRoomCleared(room)
	s.log.Info().Str("identity", identity).Str("room", room).Msg("room cleared by admin")
	return nil
}
