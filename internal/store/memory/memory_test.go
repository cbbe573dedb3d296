package memory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dkotenko/relaychat-server/internal/store"
)

type fakeClock struct {
	t time.Time
}

func (c *fakeClock) Now() time.Time { return c.t }

func (c *fakeClock) Advance(d time.Duration) { c.t = c.t.Add(d) }

func newTestStore(t *testing.T) (*Store, *fakeClock) {
	t.Helper()
	clk := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	return NewWithClock(clk.Now), clk
}

func TestSetGetExpiry(t *testing.T) {
	st, clk := newTestStore(t)
	ctx := context.Background()

	if err := st.Set(ctx, "k", "v", 10*time.Second); err != nil {
		t.Fatalf("set: %v", err)
	}
	v, err := st.Get(ctx, "k")
	if err != nil || v != "v" {
		t.Fatalf("get = %q, %v", v, err)
	}
	ttl, err := st.TTL(ctx, "k")
	if err != nil || ttl != 10*time.Second {
		t.Fatalf("ttl = %v, %v", ttl, err)
	}

	clk.Advance(11 * time.Second)
	if _, err := st.Get(ctx, "k"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound after expiry, got %v", err)
	}
	if _, err := st.TTL(ctx, "k"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected ErrNotFound ttl after expiry, got %v", err)
	}
}

func TestTTLWithoutExpiry(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	if err := st.Set(ctx, "k", "v", 0); err != nil {
		t.Fatalf("set: %v", err)
	}
	ttl, err := st.TTL(ctx, "k")
	if err != nil || ttl != 0 {
		t.Fatalf("ttl = %v, %v; want 0, nil", ttl, err)
	}
}

func TestSetNX(t *testing.T) {
	st, clk := newTestStore(t)
	ctx := context.Background()

	ok, err := st.SetNX(ctx, "lock", "a", 30*time.Second)
	if err != nil || !ok {
		t.Fatalf("first SetNX = %v, %v", ok, err)
	}
	ok, err = st.SetNX(ctx, "lock", "b", 30*time.Second)
	if err != nil || ok {
		t.Fatalf("second SetNX = %v, %v; want denied", ok, err)
	}

	clk.Advance(31 * time.Second)
	ok, err = st.SetNX(ctx, "lock", "c", 30*time.Second)
	if err != nil || !ok {
		t.Fatalf("SetNX after expiry = %v, %v", ok, err)
	}
}

func TestIncrDecrDel(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		n, err := st.Incr(ctx, "count")
		if err != nil || n != want {
			t.Fatalf("incr = %d, %v; want %d", n, err, want)
		}
	}
	n, err := st.Decr(ctx, "count")
	if err != nil || n != 2 {
		t.Fatalf("decr = %d, %v; want 2", n, err)
	}
	if err := st.Del(ctx, "count"); err != nil {
		t.Fatalf("del: %v", err)
	}
	n, err = st.Incr(ctx, "count")
	if err != nil || n != 1 {
		t.Fatalf("incr after del = %d, %v; want 1", n, err)
	}
}

func TestPushTrimKeepsTail(t *testing.T) {
	st, _ := newTestStore(t)
	ctx := context.Background()

	for _, v := range []string{"a", "b", "c", "d", "e"} {
		if err := st.PushTrim(ctx, "list", v, 3); err != nil {
			t.Fatalf("push: %v", err)
		}
	}
	got, err := st.Range(ctx, "list", 0, -1)
	if err != nil {
		t.Fatalf("range: %v", err)
	}
	if len(got) != 3 || got[0] != "c" || got[2] != "e" {
		t.Fatalf("range = %v; want [c d e]", got)
	}
}

func TestTakeTokenBurstThenDeny(t *testing.T) {
	st, clk := newTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		ok, err := st.TakeToken(ctx, "rate:test:x", 5, 0, clk.Now())
		if err != nil || !ok {
			t.Fatalf("call %d = %v, %v; want allowed", i+1, ok, err)
		}
	}
	ok, err := st.TakeToken(ctx, "rate:test:x", 5, 0, clk.Now())
	if err != nil || ok {
		t.Fatalf("sixth call = %v, %v; want denied", ok, err)
	}
}

func TestTakeTokenRefill(t *testing.T) {
	st, clk := newTestStore(t)
	ctx := context.Background()

	if ok, _ := st.TakeToken(ctx, "rate:test:y", 1, 1, clk.Now()); !ok {
		t.Fatalf("first call should be allowed")
	}
	if ok, _ := st.TakeToken(ctx, "rate:test:y", 1, 1, clk.Now()); ok {
		t.Fatalf("immediate second call should be denied")
	}
	clk.Advance(time.Second)
	if ok, _ := st.TakeToken(ctx, "rate:test:y", 1, 1, clk.Now()); !ok {
		t.Fatalf("call after refill period should be allowed")
	}
}

func testPolicy() store.MessagePolicy {
	return store.MessagePolicy{
		MinInterval: time.Second,
		Tolerance:   300 * time.Millisecond,
		RepeatLimit: 3,
		Window:      60 * time.Second,
		MuteBase:    30 * time.Second,
		MuteCap:     600 * time.Second,
		LevelWindow: 10 * time.Minute,
	}
}

func admit(t *testing.T, st *Store, clk *fakeClock, identity string) store.Admission {
	t.Helper()
	adm, err := st.AdmitMessage(context.Background(), store.MessageKeysFor(identity), testPolicy(), clk.Now())
	if err != nil {
		t.Fatalf("admit: %v", err)
	}
	return adm
}

func TestAdmitMessageTooFast(t *testing.T) {
	st, clk := newTestStore(t)

	if adm := admit(t, st, clk, "id"); adm.Verdict != store.VerdictAccepted {
		t.Fatalf("first message verdict = %v", adm.Verdict)
	}
	clk.Advance(500 * time.Millisecond)
	if adm := admit(t, st, clk, "id"); adm.Verdict != store.VerdictTooFast {
		t.Fatalf("rapid message verdict = %v; want too fast", adm.Verdict)
	}
}

func TestAdmitMessageCadenceEscalation(t *testing.T) {
	st, clk := newTestStore(t)
	ctx := context.Background()

	// Constant two-second cadence: the fourth message carries the third
	// matching interval and trips the mute.
	for i := 0; i < 3; i++ {
		if adm := admit(t, st, clk, "id"); adm.Verdict != store.VerdictAccepted {
			t.Fatalf("message %d verdict = %v", i+1, adm.Verdict)
		}
		clk.Advance(2 * time.Second)
	}
	adm := admit(t, st, clk, "id")
	if adm.Verdict != store.VerdictMutedNow || adm.MuteFor != 30*time.Second {
		t.Fatalf("first offense = %+v; want muted 30s", adm)
	}

	// While muted every attempt is rejected with the remaining time.
	clk.Advance(10 * time.Second)
	adm = admit(t, st, clk, "id")
	if adm.Verdict != store.VerdictMuted || adm.MuteFor != 20*time.Second {
		t.Fatalf("muted attempt = %+v; want 20s remaining", adm)
	}

	// After the mute expires the level is still remembered: a second
	// offense inside the memory window doubles the duration.
	clk.Advance(25 * time.Second)
	for i := 0; i < 3; i++ {
		if adm := admit(t, st, clk, "id"); adm.Verdict != store.VerdictAccepted {
			t.Fatalf("post-mute message %d verdict = %v", i+1, adm.Verdict)
		}
		clk.Advance(2 * time.Second)
	}
	adm = admit(t, st, clk, "id")
	if adm.Verdict != store.VerdictMutedNow || adm.MuteFor != 60*time.Second {
		t.Fatalf("second offense = %+v; want muted 60s", adm)
	}

	level, err := st.Get(ctx, store.MuteLevelKey("id"))
	if err != nil || level != "2" {
		t.Fatalf("mute level = %q, %v; want 2", level, err)
	}
}

func TestWipeLeavesOnlyMonthMarker(t *testing.T) {
	st, clk := newTestStore(t)
	ctx := context.Background()

	_ = st.Set(ctx, "token:a", "x", time.Hour)
	_ = st.PushTrim(ctx, "history:general", "m", 50)
	_, _ = st.TakeToken(ctx, "rate:token:z", 5, 0, clk.Now())

	if err := st.Wipe(ctx, store.CurrentMonthKey, "2026-08"); err != nil {
		t.Fatalf("wipe: %v", err)
	}

	if _, err := st.Get(ctx, "token:a"); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("token survived wipe: %v", err)
	}
	if got, _ := st.Range(ctx, "history:general", 0, -1); len(got) != 0 {
		t.Fatalf("history survived wipe: %v", got)
	}
	month, err := st.Get(ctx, store.CurrentMonthKey)
	if err != nil || month != "2026-08" {
		t.Fatalf("month marker = %q, %v", month, err)
	}
}
