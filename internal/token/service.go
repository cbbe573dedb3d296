package token

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dkotenko/relaychat-server/internal/store"
)

var usernameRe = regexp.MustCompile(`^[A-Za-z0-9 _-]{1,24}$`)

// Service issues and validates identity tokens against the shared store.
type Service struct {
	store  store.Store
	secret []byte
	ttl    time.Duration
	log    *zerolog.Logger
	now    func() time.Time
}

// NewService creates a new token service.
func NewService(st store.Store, secret []byte, ttl time.Duration, logger *zerolog.Logger) *Service {
	return &Service{
		store:  st,
		secret: secret,
		ttl:    ttl,
		log:    logger,
		now:    time.Now,
	}
}

// Issue mints a token for identity, generating a fresh identity when none is
// given, and registers it as the identity's only valid token. Any previously
// issued token for the identity stops validating immediately.
func (s *Service) Issue(ctx context.Context, identity, username string) (Token, error) {
	if identity == "" {
		identity = uuid.NewString()
	}
	issued := s.now()
	t := Token{
		Identity: identity,
		IssuedAt: issued,
		Raw:      Encode(s.secret, identity, issued),
	}
	if err := s.store.Set(ctx, store.TokenKey(identity), t.Raw, s.ttl); err != nil {
		return Token{}, fmt.Errorf("register token: %w", err)
	}
	if username = strings.TrimSpace(username); username != "" && usernameRe.MatchString(username) {
		if err := s.store.Set(ctx, store.NameKey(identity), username, s.ttl); err != nil {
			s.log.Warn().Err(err).Msg("store display name")
		}
	}
	return t, nil
}

// Validate returns the identity a token proves, or "" when it proves
// nothing. Failures are never distinguished to the caller: malformed input,
// a bad signature, expiry, a superseded token, and a store outage all
// validate to nothing. Store outages are logged since they are systemic
// rather than hostile.
func (s *Service) Validate(ctx context.Context, raw string) string {
	t, ok := Decode(s.secret, raw)
	if !ok {
		return ""
	}
	if age := s.now().Sub(t.IssuedAt); age < 0 || age > s.ttl {
		return ""
	}
	current, err := s.store.Get(ctx, store.TokenKey(t.Identity))
	if err != nil {
		if err != store.ErrNotFound {
			s.log.Error().Err(err).Msg("token validation store lookup failed")
		}
		return ""
	}
	if current != raw {
		return ""
	}
	return t.Identity
}

// DisplayName returns the identity's registered display name, falling back
// to a short identity prefix when none is registered or the lookup does not
// complete in time. Callers pass a context with a short deadline; a slow
// store must not stall message relay.
func (s *Service) DisplayName(ctx context.Context, identity string) string {
	name, err := s.store.Get(ctx, store.NameKey(identity))
	if err != nil || name == "" {
		if len(identity) > 8 {
			return "guest-" + identity[:8]
		}
		return "guest-" + identity
	}
	return name
}
