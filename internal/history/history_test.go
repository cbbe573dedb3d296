package history

import (
	"context"
	"testing"

	"github.com/rs/zerolog"

	"github.com/dkotenko/relaychat-server/internal/store"
	"github.com/dkotenko/relaychat-server/internal/store/memory"
)

func newTestService(t *testing.T) (*Service, *memory.Store) {
	t.Helper()
	st := memory.New()
	logger := zerolog.Nop()
	return NewService(st, 3, &logger), st
}

func TestAppendKeepsNewest(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	for i := int64(1); i <= 5; i++ {
		svc.Append(ctx, "general", Entry{From: "a", Name: "A", Text: "msg", TS: i})
	}
	got, err := svc.Recent(ctx, "general")
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 3 || got[0].TS != 3 || got[2].TS != 5 {
		t.Fatalf("recent = %+v; want ts 3..5 oldest first", got)
	}
}

func TestRecentSkipsBadEntries(t *testing.T) {
	svc, st := newTestService(t)
	ctx := context.Background()

	svc.Append(ctx, "general", Entry{From: "a", Name: "A", Text: "ok", TS: 1})
	if err := st.PushTrim(ctx, store.HistoryKey("general"), "{not json", 3); err != nil {
		t.Fatalf("push junk: %v", err)
	}
	svc.Append(ctx, "general", Entry{From: "b", Name: "B", Text: "also ok", TS: 2})

	got, err := svc.Recent(ctx, "general")
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 2 || got[0].Text != "ok" || got[1].Text != "also ok" {
		t.Fatalf("recent = %+v; want the two valid entries", got)
	}
}

func TestClear(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	svc.Append(ctx, "general", Entry{Text: "gone soon", TS: 1})
	if err := svc.Clear(ctx, "general"); err != nil {
		t.Fatalf("clear: %v", err)
	}
	got, err := svc.Recent(ctx, "general")
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("recent after clear = %+v; want empty", got)
	}
}

func TestRoomsAreIsolated(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	svc.Append(ctx, "general", Entry{Text: "here", TS: 1})
	got, err := svc.Recent(ctx, "random")
	if err != nil {
		t.Fatalf("recent: %v", err)
	}
	if len(got) != 0 {
		t.Fatalf("foreign room history = %+v; want empty", got)
	}
}
