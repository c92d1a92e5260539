package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jose-valero/voice-queue-bot/internal/queue"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := Open(Options{
		Type: "sqlite",
		DSN:  fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
	})
	require.NoError(t, err)
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return New(db)
}

func createQueue(t *testing.T, s *Store, capacity int) uint {
	t.Helper()
	q := &queue.Queue{GuildID: "g", SourceID: "voice", Capacity: capacity, PullBatchSize: 1}
	require.NoError(t, s.CreateQueue(context.Background(), q))
	require.NotZero(t, q.ID)
	return q.ID
}

func TestStoreQueueLifecycle(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	id := createQueue(t, s, 3)

	err := s.CreateQueue(ctx, &queue.Queue{GuildID: "g", SourceID: "voice", PullBatchSize: 1})
	assert.ErrorIs(t, err, queue.ErrQueueExists)

	q, err := s.GetQueue(ctx, id)
	require.NoError(t, err)
	q.AutoFill = true
	q.DestinationID = "arena"
	require.NoError(t, s.UpdateQueue(ctx, q))

	byDest, err := s.QueuesByDestination(ctx, "g", "arena")
	require.NoError(t, err)
	require.Len(t, byDest, 1)
	assert.True(t, byDest[0].AutoFill)

	bySrc, err := s.QueueBySource(ctx, "g", "voice")
	require.NoError(t, err)
	assert.Equal(t, id, bySrc.ID)

	_, err = s.GetQueue(ctx, 404)
	assert.ErrorIs(t, err, queue.ErrQueueNotFound)
}

func TestStoreMembershipRanks(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	id := createQueue(t, s, 2)

	_, rank, err := s.InsertMembership(ctx, id, "A", "brb")
	require.NoError(t, err)
	assert.Equal(t, 0, rank)
	_, rank, err = s.InsertMembership(ctx, id, "B", "")
	require.NoError(t, err)
	assert.Equal(t, 1, rank)

	_, _, err = s.InsertMembership(ctx, id, "C", "")
	assert.ErrorIs(t, err, queue.ErrQueueFull)
	_, _, err = s.InsertMembership(ctx, id, "A", "")
	assert.ErrorIs(t, err, queue.ErrAlreadyQueued)

	rank, err = s.RemoveMembership(ctx, id, "A")
	require.NoError(t, err)
	assert.Equal(t, 0, rank)
	_, err = s.RemoveMembership(ctx, id, "A")
	assert.ErrorIs(t, err, queue.ErrNotQueued)

	_, rank, err = s.InsertMembership(ctx, id, "C", "")
	require.NoError(t, err)
	assert.Equal(t, 1, rank)

	ms, err := s.ListOrdered(ctx, id, 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "C"}, queue.MemberIDs(ms))
	assert.True(t, ms[0].JoinedAt.Before(ms[1].JoinedAt))

	m, rank, err := s.GetMembership(ctx, id, "C")
	require.NoError(t, err)
	assert.Equal(t, 1, rank)
	assert.Equal(t, "C", m.MemberID)
}

func TestStorePopFrontConcurrent(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	id := createQueue(t, s, 0)
	for i := 0; i < 10; i++ {
		_, _, err := s.InsertMembership(ctx, id, fmt.Sprintf("P%d", i), "")
		require.NoError(t, err)
	}

	var (
		mu  sync.Mutex
		got []string
		wg  sync.WaitGroup
	)
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 3; j++ {
				ms, err := s.PopFront(ctx, id, 1)
				assert.NoError(t, err)
				mu.Lock()
				got = append(got, queue.MemberIDs(ms)...)
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	require.Len(t, got, 10)
	sort.Strings(got)
	for i := 1; i < len(got); i++ {
		assert.NotEqual(t, got[i-1], got[i])
	}
	n, err := s.CountMembers(ctx, id)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestStoreShuffleAndClear(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	id := createQueue(t, s, 0)
	want := []string{"A", "B", "C", "D", "E", "F", "G", "H"}
	for _, m := range want {
		_, _, err := s.InsertMembership(ctx, id, m, "")
		require.NoError(t, err)
	}

	shuffled, err := s.Shuffle(ctx, id)
	require.NoError(t, err)
	listed, err := s.ListOrdered(ctx, id, 0)
	require.NoError(t, err)
	assert.Equal(t, queue.MemberIDs(shuffled), queue.MemberIDs(listed))
	assert.ElementsMatch(t, want, queue.MemberIDs(listed))

	// new joins still land at the back
	_, rank, err := s.InsertMembership(ctx, id, "Z", "")
	require.NoError(t, err)
	assert.Equal(t, len(want), rank)

	n, err := s.Clear(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, len(want)+1, n)
}

func TestStoreSurfacesAndCascade(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)
	id := createQueue(t, s, 0)

	sf := &queue.DisplaySurface{QueueID: id, ChannelID: "text"}
	require.NoError(t, s.CreateSurface(ctx, sf))
	require.NoError(t, s.SetSurfaceBlocks(ctx, sf.ID, []string{"m1", "m2"}))

	got, err := s.SurfaceByChannel(ctx, id, "text")
	require.NoError(t, err)
	assert.Equal(t, []string{"m1", "m2"}, got.BlockIDs)

	_, _, err = s.InsertMembership(ctx, id, "A", "")
	require.NoError(t, err)

	removed, err := s.DeleteQueue(ctx, id)
	require.NoError(t, err)
	require.Len(t, removed, 1)
	assert.Equal(t, []string{"m1", "m2"}, removed[0].BlockIDs)

	_, err = s.GetSurface(ctx, sf.ID)
	assert.ErrorIs(t, err, queue.ErrSurfaceNotFound)
	_, err = s.ListOrdered(ctx, id, 0)
	assert.ErrorIs(t, err, queue.ErrQueueNotFound)
}

func TestStoreGuildSettings(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	gs, err := s.GuildSettings(ctx, "g")
	require.NoError(t, err)
	assert.Equal(t, -1, gs.GracePeriodSeconds)

	require.NoError(t, s.SaveGuildSettings(ctx, queue.GuildSettings{GuildID: "g", GracePeriodSeconds: 0, PullBatchSize: 3}))
	gs, err = s.GuildSettings(ctx, "g")
	require.NoError(t, err)
	assert.Equal(t, 0, gs.GracePeriodSeconds)
	assert.Equal(t, 3, gs.PullBatchSize)
}

func TestStoreWorksUnderEngine(t *testing.T) {
	ctx := context.Background()
	e := queue.NewEngine(openTestStore(t))
	q, err := e.CreateQueue(ctx, queue.Queue{GuildID: "g", SourceID: "voice", AutoFill: true})
	require.NoError(t, err)
	for _, m := range []string{"A", "B", "C"} {
		_, err := e.Join(ctx, q.ID, m, "")
		require.NoError(t, err)
	}
	res, err := e.OnDestinationVacancy(ctx, q.ID)
	require.NoError(t, err)
	require.Equal(t, 1, res.Actual)
	assert.Equal(t, "A", res.Members[0].MemberID)

	st, err := e.Status(ctx, q.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"B", "C"}, queue.MemberIDs(st.Members))
}
