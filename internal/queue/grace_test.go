package queue

import (
	"context"
	"testing"
	"time"
)

func graceEngine(t *testing.T, d time.Duration) (*Engine, uint) {
	t.Helper()
	e, _, q := newEngine(t, Queue{}, WithDefaults(Defaults{GracePeriod: d, PullBatchSize: 1}))
	return e, q
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestGraceExpiryRemoves(t *testing.T) {
	ctx := context.Background()
	e, q := graceEngine(t, 20*time.Millisecond)
	_, _ = e.Join(ctx, q, "A", "")
	_, _ = e.Join(ctx, q, "B", "")

	if err := e.StartGrace(ctx, q, "A"); err != nil {
		t.Fatal(err)
	}
	if !e.Pending(q, "A") {
		t.Fatal("A should be pending removal")
	}
	waitFor(t, func() bool { return len(order(t, e, q)) == 1 })
	if got := order(t, e, q); got[0] != "B" {
		t.Fatalf("want [B], got %v", got)
	}
	if e.Pending(q, "A") {
		t.Fatal("expired timer should be gone")
	}
}

func TestGraceRejoinKeepsPosition(t *testing.T) {
	ctx := context.Background()
	e, q := graceEngine(t, 40*time.Millisecond)
	_, _ = e.Join(ctx, q, "A", "")
	_, _ = e.Join(ctx, q, "B", "")

	_ = e.StartGrace(ctx, q, "A")
	rank, err := e.Join(ctx, q, "A", "")
	if err != nil || rank != 0 {
		t.Fatalf("rejoin within grace: rank=%d err=%v", rank, err)
	}

	time.Sleep(100 * time.Millisecond)
	if got := order(t, e, q); len(got) != 2 || got[0] != "A" {
		t.Fatalf("canceled timer removed A: %v", got)
	}
}

func TestGraceStaleTimerIsNoop(t *testing.T) {
	ctx := context.Background()
	e, q := graceEngine(t, time.Hour)
	_, _ = e.Join(ctx, q, "A", "")

	_ = e.StartGrace(ctx, q, "A")
	stale := e.grace.pending[graceKey{q, "A"}].startedAt
	_ = e.StartGrace(ctx, q, "A") // re-armed, new identity

	if err := e.OnGracePeriodExpired(ctx, q, "A", stale); err != nil {
		t.Fatal(err)
	}
	if got := order(t, e, q); len(got) != 1 {
		t.Fatalf("stale timer removed the member: %v", got)
	}

	e.CancelGrace(q, "A")
	live := time.Now()
	if err := e.OnGracePeriodExpired(ctx, q, "A", live); err != nil {
		t.Fatal(err)
	}
	if got := order(t, e, q); len(got) != 1 {
		t.Fatalf("timer fired after cancel removed the member: %v", got)
	}
	if e.CancelGrace(q, "A") {
		t.Fatal("second cancel should report nothing pending")
	}
}

func TestGraceZeroRemovesImmediately(t *testing.T) {
	ctx := context.Background()
	e, q := graceEngine(t, 0)
	_, _ = e.Join(ctx, q, "A", "")
	if err := e.StartGrace(ctx, q, "A"); err != nil {
		t.Fatal(err)
	}
	if got := order(t, e, q); len(got) != 0 {
		t.Fatalf("want empty queue, got %v", got)
	}
}

func TestGraceUsesGuildSetting(t *testing.T) {
	ctx := context.Background()
	e, q := graceEngine(t, time.Hour)
	if err := e.SaveSettings(ctx, GuildSettings{GuildID: "g", GracePeriodSeconds: 0}); err != nil {
		t.Fatal(err)
	}
	_, _ = e.Join(ctx, q, "A", "")
	_ = e.StartGrace(ctx, q, "A")
	if got := order(t, e, q); len(got) != 0 {
		t.Fatalf("guild grace of 0 should remove at once, got %v", got)
	}
}

func TestGraceNotQueued(t *testing.T) {
	e, q := graceEngine(t, time.Second)
	if err := e.StartGrace(context.Background(), q, "ghost"); err != ErrNotQueued {
		t.Fatalf("want ErrNotQueued, got %v", err)
	}
}
