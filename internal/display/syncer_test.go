package display

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"github.com/jose-valero/voice-queue-bot/internal/queue"
)

type fakeRenderer struct {
	mu      sync.Mutex
	next    int
	blocks  map[string]Block
	creates int
	updates int
	retires int
	// failUpdates makes UpdateBlock of block index i fail n times
	failUpdates map[int]int
	failCreates bool
	failRetires int // next n RetireBlock calls fail
}

func newFakeRenderer() *fakeRenderer {
	return &fakeRenderer{blocks: map[string]Block{}, failUpdates: map[int]int{}}
}

func (f *fakeRenderer) CreateBlock(_ context.Context, _ string, b Block) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failCreates {
		return "", errors.New("503")
	}
	f.next++
	id := fmt.Sprintf("b%d", f.next)
	f.blocks[id] = b
	f.creates++
	return id, nil
}

func (f *fakeRenderer) UpdateBlock(_ context.Context, _ string, id string, b Block) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failUpdates[b.Index] > 0 {
		f.failUpdates[b.Index]--
		return errors.New("503")
	}
	if _, ok := f.blocks[id]; !ok {
		return ErrBlockGone
	}
	f.blocks[id] = b
	f.updates++
	return nil
}

func (f *fakeRenderer) RetireBlock(_ context.Context, _ string, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failRetires > 0 {
		f.failRetires--
		return errors.New("503")
	}
	if _, ok := f.blocks[id]; !ok {
		return ErrBlockGone
	}
	delete(f.blocks, id)
	f.retires++
	return nil
}

func (f *fakeRenderer) live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.blocks)
}

func (f *fakeRenderer) counts() (creates, updates, retires int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.creates, f.updates, f.retires
}

func testOptions() Options {
	return Options{
		BlockCapacity: 2,
		Debounce:      time.Hour, // passes run through SyncNow unless a test shortens it
		Rate:          rate.Inf,
		MaxAttempts:   2,
		Backoff:       ConstantBackoff{Interval: time.Millisecond},
	}
}

type fixture struct {
	engine   *queue.Engine
	store    *queue.MemoryStore
	renderer *fakeRenderer
	syncer   *Syncer
	queueID  uint
	surface  *queue.DisplaySurface
}

func newFixture(t *testing.T, opts Options) *fixture {
	t.Helper()
	ctx := context.Background()
	store := queue.NewMemoryStore()
	r := newFakeRenderer()
	s := New(store, r, opts)
	t.Cleanup(s.Close)

	e := queue.NewEngine(store, queue.WithNotifier(queue.NotifierFunc(s.OnChange)))
	q, err := e.CreateQueue(ctx, queue.Queue{GuildID: "g", SourceID: "voice"})
	require.NoError(t, err)
	sf, err := s.Attach(ctx, q.ID, "text")
	require.NoError(t, err)
	return &fixture{engine: e, store: store, renderer: r, syncer: s, queueID: q.ID, surface: sf}
}

func (f *fixture) join(t *testing.T, members ...string) {
	t.Helper()
	for _, m := range members {
		_, err := f.engine.Join(context.Background(), f.queueID, m, "")
		require.NoError(t, err)
	}
}

func (f *fixture) blockIDs(t *testing.T) []string {
	t.Helper()
	sf, err := f.store.GetSurface(context.Background(), f.surface.ID)
	require.NoError(t, err)
	return sf.BlockIDs
}

func TestChunk(t *testing.T) {
	ms := make([]queue.Membership, 5)
	for i := range ms {
		ms[i].MemberID = fmt.Sprintf("m%d", i)
	}
	blocks := Chunk(queue.Queue{ID: 1}, ms, 2)
	require.Len(t, blocks, 3)
	assert.Equal(t, 4, blocks[2].Offset)
	assert.Len(t, blocks[2].Members, 1)
	assert.Equal(t, 3, blocks[0].Total)

	empty := Chunk(queue.Queue{ID: 1}, nil, 2)
	require.Len(t, empty, 1)
	assert.Empty(t, empty[0].Members)

	assert.Equal(t, 1, BlockCount(2, 2))
	assert.Equal(t, 2, BlockCount(3, 2))
}

func TestSyncGrowsAndShrinksBlocks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testOptions())

	f.join(t, "A")
	_, err := f.syncer.SyncNow(ctx, f.queueID)
	require.NoError(t, err)
	assert.Len(t, f.blockIDs(t), 1)

	f.join(t, "B", "C")
	res, err := f.syncer.SyncNow(ctx, f.queueID)
	require.NoError(t, err)
	require.Len(t, res, 1)
	assert.Equal(t, 1, res[0].Created)
	ids := f.blockIDs(t)
	require.Len(t, ids, 2)
	assert.Equal(t, 2, f.renderer.live())

	_, err = f.engine.Leave(ctx, f.queueID, "B")
	require.NoError(t, err)
	_, err = f.engine.Leave(ctx, f.queueID, "C")
	require.NoError(t, err)
	res, err = f.syncer.SyncNow(ctx, f.queueID)
	require.NoError(t, err)
	assert.Equal(t, 1, res[0].Retired)
	assert.Equal(t, ids[:1], f.blockIDs(t))
	assert.Equal(t, 1, f.renderer.live())
}

func TestSyncPartialFailureIsRetried(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testOptions())
	f.join(t, "A", "B", "C")
	_, err := f.syncer.SyncNow(ctx, f.queueID)
	require.NoError(t, err)

	// block 1 fails on both attempts of this pass, block 0 goes through
	f.renderer.mu.Lock()
	f.renderer.failUpdates[1] = 2
	f.renderer.mu.Unlock()

	f.join(t, "D")
	res, err := f.syncer.SyncNow(ctx, f.queueID)
	require.NoError(t, err)
	assert.Equal(t, 1, res[0].Updated)
	assert.Equal(t, 1, res[0].Failed)
	assert.Len(t, f.blockIDs(t), 2)

	res, err = f.syncer.SyncNow(ctx, f.queueID)
	require.NoError(t, err)
	assert.Equal(t, 2, res[0].Updated)
	assert.Zero(t, res[0].Failed)
}

func TestSyncRecreatesGoneBlock(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testOptions())
	f.join(t, "A")
	_, err := f.syncer.SyncNow(ctx, f.queueID)
	require.NoError(t, err)
	old := f.blockIDs(t)[0]

	f.renderer.mu.Lock()
	delete(f.renderer.blocks, old)
	f.renderer.mu.Unlock()

	res, err := f.syncer.SyncNow(ctx, f.queueID)
	require.NoError(t, err)
	assert.Equal(t, 1, res[0].Created)
	ids := f.blockIDs(t)
	require.Len(t, ids, 1)
	assert.NotEqual(t, old, ids[0])
}

func TestNotifyCoalescesBursts(t *testing.T) {
	opts := testOptions()
	opts.Debounce = 100 * time.Millisecond
	f := newFixture(t, opts)

	// Attach already scheduled a pass; the joins collapse into it
	f.join(t, "A", "B", "C", "D", "E")

	require.Eventually(t, func() bool { return f.renderer.live() == 3 }, time.Second, 5*time.Millisecond)
	time.Sleep(2 * opts.Debounce)
	creates, updates, _ := f.renderer.counts()
	assert.Equal(t, 3, creates)
	assert.Zero(t, updates)
}

func TestCreateFailureSchedulesRetry(t *testing.T) {
	opts := testOptions()
	opts.Debounce = 20 * time.Millisecond
	f := newFixture(t, opts)
	f.renderer.mu.Lock()
	f.renderer.failCreates = true
	f.renderer.mu.Unlock()

	f.join(t, "A")
	time.Sleep(3 * opts.Debounce)
	assert.Zero(t, f.renderer.live())

	f.renderer.mu.Lock()
	f.renderer.failCreates = false
	f.renderer.mu.Unlock()

	// no new notification: the failed pass reschedules itself
	require.Eventually(t, func() bool { return f.renderer.live() == 1 }, 2*time.Second, 5*time.Millisecond)
}

func TestDetachAndDeleteRetireBlocks(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testOptions())
	f.join(t, "A", "B", "C")
	_, err := f.syncer.SyncNow(ctx, f.queueID)
	require.NoError(t, err)

	other, err := f.syncer.Attach(ctx, f.queueID, "text-2")
	require.NoError(t, err)
	_, err = f.syncer.SyncNow(ctx, f.queueID)
	require.NoError(t, err)
	assert.Equal(t, 4, f.renderer.live())

	again, err := f.syncer.Attach(ctx, f.queueID, "text-2")
	require.NoError(t, err)
	assert.Equal(t, other.ID, again.ID)

	require.NoError(t, f.syncer.Detach(ctx, f.queueID, "text-2"))
	assert.Equal(t, 2, f.renderer.live())
	assert.ErrorIs(t, f.syncer.Detach(ctx, f.queueID, "text-2"), queue.ErrSurfaceNotFound)

	require.NoError(t, f.engine.DeleteQueue(ctx, f.queueID))
	require.Eventually(t, func() bool { return f.renderer.live() == 0 }, time.Second, 5*time.Millisecond)
}

func TestAttachUnknownQueue(t *testing.T) {
	s := New(queue.NewMemoryStore(), newFakeRenderer(), testOptions())
	defer s.Close()
	_, err := s.Attach(context.Background(), 42, "text")
	assert.ErrorIs(t, err, queue.ErrQueueNotFound)
	_, err = s.Attach(context.Background(), 42, "")
	assert.ErrorIs(t, err, queue.ErrInvalidArgument)
}

func TestJitterBackoffStaysInRange(t *testing.T) {
	b := JitterBackoff{Initial: 10 * time.Millisecond, Max: 40 * time.Millisecond}
	for a := 1; a <= 10; a++ {
		d := b.Delay(a)
		assert.GreaterOrEqual(t, d, time.Duration(0))
		assert.LessOrEqual(t, d, 40*time.Millisecond)
	}
}

func (f *fakeRenderer) setFailRetires(n int) {
	f.mu.Lock()
	f.failRetires = n
	f.mu.Unlock()
}

func (s *Syncer) orphanCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, o := range s.orphans {
		n += len(o.BlockIDs)
	}
	return n
}

func TestChunkFitSplitsOnSize(t *testing.T) {
	ms := make([]queue.Membership, 5)
	for i := range ms {
		ms[i].MemberID = fmt.Sprintf("m%d", i)
	}
	twoFit := func(b Block) bool { return len(b.Members) <= 2 }
	blocks := ChunkFit(queue.Queue{ID: 1}, ms, 10, twoFit)
	require.Len(t, blocks, 3)
	assert.Equal(t, []int{0, 2, 4}, []int{blocks[0].Offset, blocks[1].Offset, blocks[2].Offset})
	assert.Equal(t, 3, blocks[2].Total)

	// a member that never fits still gets its own block
	never := func(Block) bool { return false }
	assert.Len(t, ChunkFit(queue.Queue{ID: 1}, ms, 10, never), 5)

	// capacity still bounds blocks that would fit
	assert.Len(t, ChunkFit(queue.Queue{ID: 1}, ms, 2, func(Block) bool { return true }), 3)
}

func TestSyncUsesFitFunc(t *testing.T) {
	ctx := context.Background()
	opts := testOptions()
	opts.Fits = func(b Block) bool { return len(b.Members) <= 1 }
	f := newFixture(t, opts)
	f.join(t, "A", "B")
	_, err := f.syncer.SyncNow(ctx, f.queueID)
	require.NoError(t, err)
	assert.Len(t, f.blockIDs(t), 2)
}

func TestSyncGoneBlockKeepsOrder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testOptions())
	f.join(t, "A", "B", "C", "D", "E")
	_, err := f.syncer.SyncNow(ctx, f.queueID)
	require.NoError(t, err)
	require.Equal(t, []string{"b1", "b2", "b3"}, f.blockIDs(t))

	f.renderer.mu.Lock()
	delete(f.renderer.blocks, "b1")
	f.renderer.mu.Unlock()

	res, err := f.syncer.SyncNow(ctx, f.queueID)
	require.NoError(t, err)
	assert.Equal(t, 3, res[0].Created)
	assert.Equal(t, 2, res[0].Retired)
	assert.Equal(t, []string{"b4", "b5", "b6"}, f.blockIDs(t))
	assert.Equal(t, 3, f.renderer.live())
}

func TestDetachRetriesFailedRetires(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testOptions())
	f.join(t, "A", "B", "C")
	_, err := f.syncer.SyncNow(ctx, f.queueID)
	require.NoError(t, err)
	require.Equal(t, 2, f.renderer.live())

	// both blocks fail every attempt
	f.renderer.setFailRetires(4)
	require.NoError(t, f.syncer.Detach(ctx, f.queueID, "text"))
	assert.Equal(t, 2, f.renderer.live())
	assert.Equal(t, 2, f.syncer.orphanCount())

	require.NoError(t, f.syncer.Resync(ctx))
	_, err = f.syncer.SyncNow(ctx, f.queueID)
	require.NoError(t, err)
	assert.Zero(t, f.renderer.live())
	assert.Zero(t, f.syncer.orphanCount())
}

func TestDeletedQueueRetriesFailedRetires(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, testOptions())
	f.join(t, "A", "B", "C")
	_, err := f.syncer.SyncNow(ctx, f.queueID)
	require.NoError(t, err)

	f.renderer.setFailRetires(4)
	require.NoError(t, f.engine.DeleteQueue(ctx, f.queueID))
	require.Eventually(t, func() bool { return f.syncer.orphanCount() == 2 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 2, f.renderer.live())

	assert.Zero(t, f.syncer.RetireOrphans(ctx))
	assert.Zero(t, f.renderer.live())
}
