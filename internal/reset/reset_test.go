package reset

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/dkotenko/relaychat-server/internal/store"
	"github.com/dkotenko/relaychat-server/internal/store/memory"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

type fakeRooms struct {
	names []string
}

func (f *fakeRooms) RoomNames() []string { return f.names }

type fakeNotifier struct {
	notices map[string]string
}

func (f *fakeNotifier) BroadcastNotice(room, text string) {
	if f.notices == nil {
		f.notices = make(map[string]string)
	}
	f.notices[room] = text
}

func newTestCoordinator(t *testing.T) (*Coordinator, *memory.Store, *fakeClock, *fakeNotifier) {
	t.Helper()
	clk := &fakeClock{t: time.Date(2026, time.August, 15, 12, 0, 0, 0, time.UTC)}
	st := memory.NewWithClock(clk.Now)
	notify := &fakeNotifier{}
	logger := zerolog.Nop()
	c := New(st, &fakeRooms{names: []string{"general", "random"}}, notify, time.UTC, "instance-1", &logger)
	c.now = clk.Now
	return c, st, clk, notify
}

func TestFirstRunWipesAndStampsMonth(t *testing.T) {
	c, st, _, notify := newTestCoordinator(t)
	ctx := context.Background()

	_ = st.Set(ctx, "token:stale", "x", time.Hour)

	performed, err := c.RunIfDue(ctx)
	if err != nil || !performed {
		t.Fatalf("RunIfDue = %v, %v; want performed", performed, err)
	}
	if _, err := st.Get(ctx, "token:stale"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("stale key survived reset: %v", err)
	}
	month, err := st.Get(ctx, store.CurrentMonthKey)
	if err != nil || month != "2026-08" {
		t.Fatalf("month marker = %q, %v; want 2026-08", month, err)
	}
	if len(notify.notices) != 2 {
		t.Fatalf("notices = %v; want both rooms notified", notify.notices)
	}
}

func TestSameMonthIsNoop(t *testing.T) {
	c, st, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	if performed, err := c.RunIfDue(ctx); err != nil || !performed {
		t.Fatalf("first run = %v, %v", performed, err)
	}
	_ = st.Set(ctx, "token:fresh", "x", time.Hour)

	performed, err := c.RunIfDue(ctx)
	if err != nil || performed {
		t.Fatalf("second run = %v, %v; want noop", performed, err)
	}
	if _, err := st.Get(ctx, "token:fresh"); err != nil {
		t.Fatalf("same-month run wiped live state: %v", err)
	}
}

func TestMonthRolloverTriggersWipe(t *testing.T) {
	c, st, clk, _ := newTestCoordinator(t)
	ctx := context.Background()

	if performed, err := c.RunIfDue(ctx); err != nil || !performed {
		t.Fatalf("first run = %v, %v", performed, err)
	}
	clk.t = time.Date(2026, time.September, 1, 0, 5, 0, 0, time.UTC)

	performed, err := c.RunIfDue(ctx)
	if err != nil || !performed {
		t.Fatalf("rollover run = %v, %v; want performed", performed, err)
	}
	month, err := st.Get(ctx, store.CurrentMonthKey)
	if err != nil || month != "2026-09" {
		t.Fatalf("month marker = %q, %v; want 2026-09", month, err)
	}
}

func TestLockHeldElsewhereSkips(t *testing.T) {
	c, st, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	_ = st.Set(ctx, "token:stale", "x", time.Hour)
	if ok, err := st.SetNX(ctx, store.ResetLockKey, "instance-2", 30*time.Second); err != nil || !ok {
		t.Fatalf("pre-acquire lock: %v, %v", ok, err)
	}

	performed, err := c.RunIfDue(ctx)
	if err != nil || performed {
		t.Fatalf("run with foreign lock = %v, %v; want skipped", performed, err)
	}
	if _, err := st.Get(ctx, "token:stale"); err != nil {
		t.Fatalf("skipped run still wiped state: %v", err)
	}
}

func TestMarkerRecheckedUnderLock(t *testing.T) {
	c, st, _, _ := newTestCoordinator(t)
	ctx := context.Background()

	// A peer finished the wipe between this instance's first marker read
	// and its lock acquisition. The re-read under the lock must turn the
	// call into a noop and release the lock.
	first := true
	c.store = &markerRacingStore{Store: st, onFirstMiss: func() {
		if first {
			first = false
			_ = st.Set(ctx, store.CurrentMonthKey, "2026-08", 0)
		}
	}}

	performed, err := c.RunIfDue(ctx)
	if err != nil || performed {
		t.Fatalf("raced run = %v, %v; want noop", performed, err)
	}
	if _, err := st.Get(ctx, store.ResetLockKey); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("lock not released after raced noop: %v", err)
	}
}

// markerRacingStore triggers a callback when the month marker first reads as
// missing, simulating a peer completing the reset concurrently.
type markerRacingStore struct {
	store.Store
	onFirstMiss func()
}

func (m *markerRacingStore) Get(ctx context.Context, key string) (string, error) {
	v, err := m.Store.Get(ctx, key)
	if key == store.CurrentMonthKey && errors.Is(err, store.ErrNotFound) && m.onFirstMiss != nil {
		m.onFirstMiss()
	}
	return v, err
}
