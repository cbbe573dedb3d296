// Package history keeps a bounded per-room message ring in the shared
// store. Best-effort: the relay never blocks on persistence.
package history

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/dkotenko/relaychat-server/internal/store"
)

// Entry is one persisted chat message.
type Entry struct {
	From string `json:"from"`
	Name string `json:"name"`
	Text string `json:"text"`
	TS   int64  `json:"ts"`
}

// Service appends to and reads the per-room rings.
type Service struct {
	store store.Store
	limit int64
	log   *zerolog.Logger
}

// NewService creates a history service keeping at most limit messages per room.
func NewService(st store.Store, limit int64, logger *zerolog.Logger) *Service {
	return &Service{store: st, limit: limit, log: logger}
}

// Append records a message in the room's ring. Failures are logged only.
func (s *Service) Append(ctx context.Context, room string, e Entry) {
	data, err := json.Marshal(e)
	if err != nil {
		s.log.Error().Err(err).Msg("encode history entry")
		return
	}
	if err := s.store.PushTrim(ctx, store.HistoryKey(room), string(data), s.limit); err != nil {
		s.log.Warn().Err(err).Str("room", room).Msg("append history")
	}
}

// Recent returns the room's retained messages, oldest first. Entries that
// fail to decode are skipped.
func (s *Service) Recent(ctx context.Context, room string) ([]Entry, error) {
	raw, err := s.store.Range(ctx, store.HistoryKey(room), 0, -1)
	if err != nil {
		return nil, fmt.Errorf("read history: %w", err)
	}
	out := make([]Entry, 0, len(raw))
	for _, r := range raw {
		var e Entry
		if err := json.Unmarshal([]byte(r), &e); err != nil {
			s.log.Warn().Err(err).Str("room", room).Msg("skip bad history entry")
			continue
		}
		out = append(out, e)
	}
	return out, nil
}

// Clear deletes the room's ring.
func (s *Service) Clear(ctx context.Context, room string) error {
	return s.store.Del(ctx, store.HistoryKey(room))
}
