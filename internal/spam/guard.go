// Package spam implements the per-identity message gate: a fixed rate floor,
// constant-cadence flood detection, and escalating mutes.
package spam

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/dkotenko/relaychat-server/internal/store"
)

// Machine-readable rejection reasons.
const (
	ReasonMuted            = "muted"
	ReasonTooFast          = "too_fast"
	ReasonStoreUnavailable = "store_unavailable"
)

// Reference constants for cadence detection and escalation.
const (
	minMessageInterval = time.Second
	intervalTolerance  = 300 * time.Millisecond
	repeatLimit        = 3
	detectionWindow    = 60 * time.Second
	muteBase           = 30 * time.Second
	muteCap            = 600 * time.Second
	levelWindow        = 10 * time.Minute
)

// Result is the outcome of one message attempt.
type Result struct {
	Accepted bool
	// Reason is set on rejection.
	Reason string
	// MuteFor is the remaining or newly applied mute duration, when known.
	MuteFor time.Duration
}

// Guard evaluates message attempts. States per identity run
// Clear -> Suspicious(count) -> Muted(level), with the level outliving each
// mute inside a rolling memory window so repeat offenders escalate:
// mute duration is min(base * 2^level, cap).
type Guard struct {
	store store.Store
	log   *zerolog.Logger
	now   func() time.Time
}

// NewGuard creates a guard.
func NewGuard(st store.Store, logger *zerolog.Logger) *Guard {
	return &Guard{store: st, log: logger, now: time.Now}
}

func policy() store.MessagePolicy {
	return store.MessagePolicy{
		MinInterval: minMessageInterval,
		Tolerance:   intervalTolerance,
		RepeatLimit: repeatLimit,
		Window:      detectionWindow,
		MuteBase:    muteBase,
		MuteCap:     muteCap,
		LevelWindow: levelWindow,
	}
}

// Check decides whether identity may post a message right now and records
// the attempt.
//
// The two store trips have opposite failure policies, deliberately: the
// mute-presence probe fails closed (an outage must not let a muted identity
// post), while the bookkeeping step fails open (an outage must not silence
// legitimate chat).
func (g *Guard) Check(ctx context.Context, identity string) Result {
	rem, err := g.store.TTL(ctx, store.MuteKey(identity))
	switch {
	case err == nil:
		return Result{Reason: ReasonMuted, MuteFor: rem}
	case !errors.Is(err, store.ErrNotFound):
		g.log.Error().Err(err).Str("identity", identity).Msg("mute check failed, rejecting")
		return Result{Reason: ReasonStoreUnavailable}
	}

	adm, err := g.store.AdmitMessage(ctx, store.MessageKeysFor(identity), policy(), g.now())
	if err != nil {
		g.log.Error().Err(err).Str("identity", identity).Msg("admission bookkeeping failed, accepting")
		return Result{Accepted: true}
	}
	switch adm.Verdict {
	case store.VerdictTooFast:
		return Result{Reason: ReasonTooFast}
	case store.VerdictMuted:
		return Result{Reason: ReasonMuted, MuteFor: adm.MuteFor}
	case store.VerdictMutedNow:
		g.log.Info().Str("identity", identity).Dur("mute", adm.MuteFor).Msg("identity muted for flooding")
		return Result{Reason: ReasonMuted, MuteFor: adm.MuteFor}
	default:
		return Result{Accepted: true}
	}
}
