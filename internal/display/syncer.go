// Package display keeps the rendered displays of every queue in line with
// the store. It never mutates queue membership.
package display

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/jose-valero/voice-queue-bot/internal/queue"
)

// Result describes one surface reconciliation. Failed > 0 is a partial sync:
// the failed blocks keep their previous content and are retried later.
type Result struct {
	SurfaceID uint
	Blocks    int
	Updated   int
	Created   int
	Retired   int
	Failed    int
}

// Observer hears about block failures and finished surface passes.
type Observer interface {
	BlockFailed(surface queue.DisplaySurface, index, attempt int, err error)
	SurfaceSynced(surface queue.DisplaySurface, r Result)
}

type logObserver struct{}

func (logObserver) BlockFailed(sf queue.DisplaySurface, index, attempt int, err error) {
	log.Printf("[display] surface %d block %d attempt %d failed: %v", sf.ID, index, attempt, err)
}

func (logObserver) SurfaceSynced(sf queue.DisplaySurface, r Result) {
	if r.Failed > 0 {
		log.Printf("[display] surface %d partial sync: %d/%d blocks failed", sf.ID, r.Failed, r.Blocks)
	}
}

// Options tunes a Syncer. Zero values take the defaults.
type Options struct {
	BlockCapacity int           // members per block (25)
	Debounce      time.Duration // coalescing window (1.5s)
	Rate          rate.Limit    // calls per second per surface (1)
	Burst         int           // (5)
	MaxAttempts   int           // per block and pass (3)
	Backoff       Backoff
	Observer      Observer
	Fits          FitFunc // content-size limit of the render target
}

func (o *Options) fill() {
	if o.BlockCapacity < 1 {
		o.BlockCapacity = 25
	}
	if o.Debounce <= 0 {
		o.Debounce = 1500 * time.Millisecond
	}
	if o.Rate <= 0 {
		o.Rate = 1
	}
	if o.Burst < 1 {
		o.Burst = 5
	}
	if o.MaxAttempts < 1 {
		o.MaxAttempts = 3
	}
	if o.Backoff == nil {
		o.Backoff = DefaultBackoff()
	}
	if o.Observer == nil {
		o.Observer = logObserver{}
	}
}

type queueState struct {
	timer    *time.Timer
	running  bool
	dirty    bool
	failures int
}

// Syncer coalesces change notifications per queue and reconciles every
// surface of the queue with its current membership.
type Syncer struct {
	store    queue.Store
	renderer Renderer
	opts     Options

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	closed   bool
	queues   map[uint]*queueState
	limiters map[uint]*rate.Limiter // surfaceID -> limiter
	orphans  map[uint]queue.DisplaySurface // surfaceID -> blocks still to retire

	passLocks    sync.Map // queueID -> *sync.Mutex
	surfaceLocks sync.Map // surfaceID -> *sync.Mutex
}

func New(store queue.Store, renderer Renderer, opts Options) *Syncer {
	opts.fill()
	ctx, cancel := context.WithCancel(context.Background())
	return &Syncer{
		store:    store,
		renderer: renderer,
		opts:     opts,
		ctx:      ctx,
		cancel:   cancel,
		queues:   make(map[uint]*queueState),
		limiters: make(map[uint]*rate.Limiter),
		orphans:  make(map[uint]queue.DisplaySurface),
	}
}

// Close stops pending passes and waits for running ones.
func (s *Syncer) Close() {
	s.mu.Lock()
	s.closed = true
	for _, st := range s.queues {
		if st.timer != nil {
			st.timer.Stop()
		}
	}
	s.mu.Unlock()
	s.cancel()
	s.wg.Wait()
}

// OnChange routes an engine change: deleted queues get their blocks
// retired, everything else schedules a pass.
func (s *Syncer) OnChange(c queue.Change) {
	if c.Kind == queue.ChangeDeleted {
		s.mu.Lock()
		if s.closed {
			s.mu.Unlock()
			return
		}
		if st, ok := s.queues[c.Queue.ID]; ok && st.timer != nil {
			st.timer.Stop()
		}
		delete(s.queues, c.Queue.ID)
		s.wg.Add(1)
		s.mu.Unlock()
		go func() {
			defer s.wg.Done()
			for _, sf := range c.Surfaces {
				s.retireSurface(s.ctx, sf)
			}
		}()
		return
	}
	s.Notify(c.Queue.ID)
}

// Notify schedules a reconciliation of queueID. Notifications arriving
// while one is scheduled collapse into it; arriving while one runs, they
// schedule exactly one more. It never blocks on I/O.
func (s *Syncer) Notify(queueID uint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	st, ok := s.queues[queueID]
	if !ok {
		st = &queueState{}
		s.queues[queueID] = st
	}
	if st.running {
		st.dirty = true
		return
	}
	if st.timer != nil {
		return
	}
	s.scheduleLocked(queueID, st, s.opts.Debounce)
}

func (s *Syncer) scheduleLocked(queueID uint, st *queueState, d time.Duration) {
	st.timer = time.AfterFunc(d, func() { s.run(queueID) })
}

func (s *Syncer) run(queueID uint) {
	s.mu.Lock()
	st, ok := s.queues[queueID]
	if s.closed || !ok {
		s.mu.Unlock()
		return
	}
	st.timer = nil
	st.running = true
	s.wg.Add(1)
	s.mu.Unlock()
	defer s.wg.Done()

	failed, err := s.sync(s.ctx, queueID)
	if err != nil {
		log.Printf("[display] queue %d: %v", queueID, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st.running = false
	if s.closed {
		return
	}
	if s.queues[queueID] != st {
		return // queue deleted meanwhile
	}
	switch {
	case failed || err != nil:
		st.failures++
		st.dirty = false
		s.scheduleLocked(queueID, st, max(s.opts.Debounce, s.opts.Backoff.Delay(st.failures)))
	case st.dirty:
		st.failures = 0
		st.dirty = false
		s.scheduleLocked(queueID, st, s.opts.Debounce)
	default:
		delete(s.queues, queueID)
	}
}

// SyncNow reconciles queueID right away, bypassing the debounce window.
func (s *Syncer) SyncNow(ctx context.Context, queueID uint) ([]Result, error) {
	unlock := lockKey(&s.passLocks, queueID)
	defer unlock()
	return s.reconcile(ctx, queueID)
}

func (s *Syncer) sync(ctx context.Context, queueID uint) (bool, error) {
	unlock := lockKey(&s.passLocks, queueID)
	defer unlock()
	results, err := s.reconcile(ctx, queueID)
	for _, r := range results {
		if r.Failed > 0 {
			return true, err
		}
	}
	return false, err
}

// Resync retries blocks left behind by earlier retire failures and
// schedules a pass for every queue. Used by the periodic job.
func (s *Syncer) Resync(ctx context.Context) error {
	if n := s.RetireOrphans(ctx); n > 0 {
		log.Printf("[display] %d blocks still waiting to be retired", n)
	}
	qs, err := s.store.AllQueues(ctx)
	if err != nil {
		return err
	}
	for _, q := range qs {
		s.Notify(q.ID)
	}
	return nil
}

// Attach binds a display to queueID in channelID. Attaching twice to the
// same channel returns the existing surface.
func (s *Syncer) Attach(ctx context.Context, queueID uint, channelID string) (*queue.DisplaySurface, error) {
	if channelID == "" {
		return nil, fmt.Errorf("%w: channel is required", queue.ErrInvalidArgument)
	}
	if _, err := s.store.GetQueue(ctx, queueID); err != nil {
		return nil, err
	}
	sf, err := s.store.SurfaceByChannel(ctx, queueID, channelID)
	if err == nil {
		s.Notify(queueID)
		return sf, nil
	}
	if !errors.Is(err, queue.ErrSurfaceNotFound) {
		return nil, err
	}
	sf = &queue.DisplaySurface{QueueID: queueID, ChannelID: channelID}
	if err := s.store.CreateSurface(ctx, sf); err != nil {
		return nil, err
	}
	log.Printf("[display] surface %d attached queue=%d ch=%s", sf.ID, queueID, channelID)
	s.Notify(queueID)
	return sf, nil
}

// Detach removes the display of queueID in channelID and retires its blocks.
func (s *Syncer) Detach(ctx context.Context, queueID uint, channelID string) error {
	sf, err := s.store.SurfaceByChannel(ctx, queueID, channelID)
	if err != nil {
		return err
	}
	unlock := lockKey(&s.surfaceLocks, sf.ID)
	defer unlock()

	sf, err = s.store.GetSurface(ctx, sf.ID)
	if err != nil {
		return err
	}
	if err := s.store.DeleteSurface(ctx, sf.ID); err != nil {
		return err
	}
	s.retireDetached(ctx, sf, sf.BlockIDs)
	log.Printf("[display] surface %d detached", sf.ID)
	return nil
}

// ------------------- reconciliation -------------------

func (s *Syncer) reconcile(ctx context.Context, queueID uint) ([]Result, error) {
	q, err := s.store.GetQueue(ctx, queueID)
	if errors.Is(err, queue.ErrQueueNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	ms, err := s.store.ListOrdered(ctx, queueID, 0)
	if err != nil {
		return nil, err
	}
	surfaces, err := s.store.Surfaces(ctx, queueID)
	if err != nil {
		return nil, err
	}
	blocks := ChunkFit(*q, ms, s.opts.BlockCapacity, s.opts.Fits)

	results := make([]Result, len(surfaces))
	var wg sync.WaitGroup
	for i, sf := range surfaces {
		wg.Add(1)
		go func(i int, surfaceID uint) {
			defer wg.Done()
			results[i] = s.syncSurface(ctx, surfaceID, blocks)
		}(i, sf.ID)
	}
	wg.Wait()
	return results, nil
}

func (s *Syncer) syncSurface(ctx context.Context, surfaceID uint, blocks []Block) Result {
	unlock := lockKey(&s.surfaceLocks, surfaceID)
	defer unlock()

	res := Result{SurfaceID: surfaceID, Blocks: len(blocks)}
	sf, err := s.store.GetSurface(ctx, surfaceID)
	if err != nil {
		// detached meanwhile
		return res
	}
	ids := append([]string(nil), sf.BlockIDs...)

	// existing blocks are independent of each other
	n := min(len(ids), len(blocks))
	errs := make([]error, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			errs[i] = s.update(ctx, sf, ids[i], blocks[i])
		}(i)
	}
	wg.Wait()
	gone := -1
	for i, err := range errs {
		if errors.Is(err, ErrBlockGone) {
			gone = i
			break
		}
		if err == nil {
			res.Updated++
		} else {
			res.Failed++
		}
	}
	if gone >= 0 {
		// a replacement is posted below the later blocks, so those are
		// reposted after it to keep the on-screen order
		later := ids[gone+1:]
		ids = ids[:gone:gone]
		kept := s.retireBlocks(ctx, sf, later)
		res.Retired += len(later) - len(kept)
		s.leaveBehind(sf, kept)
	}

	// new blocks are created in display order
	for i := len(ids); i < len(blocks); i++ {
		id, err := s.create(ctx, sf, blocks[i])
		if err != nil {
			res.Failed += len(blocks) - i
			break
		}
		ids = append(ids, id)
		res.Created++
	}

	if len(ids) > len(blocks) {
		kept := s.retireBlocks(ctx, sf, ids[len(blocks):])
		res.Retired += len(ids) - len(blocks) - len(kept)
		res.Failed += len(kept)
		ids = append(ids[:len(blocks)], kept...)
	}

	if err := s.store.SetSurfaceBlocks(ctx, sf.ID, ids); err != nil {
		if errors.Is(err, queue.ErrSurfaceNotFound) {
			// the queue went away under us; nobody else knows these ids
			s.retireDetached(ctx, sf, ids)
			return res
		}
		log.Printf("[display] surface %d: saving block ids: %v", sf.ID, err)
		res.Failed++
	}
	s.opts.Observer.SurfaceSynced(*sf, res)
	return res
}

func (s *Syncer) update(ctx context.Context, sf *queue.DisplaySurface, blockID string, b Block) error {
	return s.attempt(ctx, sf, b.Index, func() error {
		return s.renderer.UpdateBlock(ctx, sf.ChannelID, blockID, b)
	})
}

func (s *Syncer) create(ctx context.Context, sf *queue.DisplaySurface, b Block) (string, error) {
	var id string
	err := s.attempt(ctx, sf, b.Index, func() error {
		var err error
		id, err = s.renderer.CreateBlock(ctx, sf.ChannelID, b)
		return err
	})
	return id, err
}

// retireBlocks retires ids and returns those that could not be retired.
func (s *Syncer) retireBlocks(ctx context.Context, sf *queue.DisplaySurface, ids []string) []string {
	var kept []string
	for _, id := range ids {
		err := s.attempt(ctx, sf, -1, func() error {
			return s.renderer.RetireBlock(ctx, sf.ChannelID, id)
		})
		if err != nil && !errors.Is(err, ErrBlockGone) {
			kept = append(kept, id)
		}
	}
	return kept
}

func (s *Syncer) retireSurface(ctx context.Context, sf *queue.DisplaySurface) {
	unlock := lockKey(&s.surfaceLocks, sf.ID)
	defer unlock()
	s.retireDetached(ctx, sf, sf.BlockIDs)
}

// retireDetached retires the blocks of a surface whose row is gone. Blocks
// that fail are kept for RetireOrphans. Callers hold the surface lock.
func (s *Syncer) retireDetached(ctx context.Context, sf *queue.DisplaySurface, ids []string) {
	if kept := s.retireBlocks(ctx, sf, ids); len(kept) > 0 {
		log.Printf("[display] surface %d: %d blocks left for a later retry", sf.ID, len(kept))
		s.leaveBehind(sf, kept)
		return
	}
	s.dropLimiter(sf.ID)
}

// leaveBehind records blocks no surface row tracks anymore.
func (s *Syncer) leaveBehind(sf *queue.DisplaySurface, ids []string) {
	if len(ids) == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orphans[sf.ID]
	if !ok {
		o = queue.DisplaySurface{ID: sf.ID, QueueID: sf.QueueID, ChannelID: sf.ChannelID}
	}
	o.BlockIDs = append(o.BlockIDs, ids...)
	s.orphans[sf.ID] = o
}

// RetireOrphans retries every block left behind by a failed retire and
// returns how many are still pending. Orphans live in memory only.
func (s *Syncer) RetireOrphans(ctx context.Context) int {
	s.mu.Lock()
	pending := s.orphans
	s.orphans = make(map[uint]queue.DisplaySurface)
	s.mu.Unlock()

	left := 0
	for id, o := range pending {
		func() {
			unlock := lockKey(&s.surfaceLocks, id)
			defer unlock()
			kept := s.retireBlocks(ctx, &o, o.BlockIDs)
			s.leaveBehind(&o, kept)
			left += len(kept)
			if len(kept) == 0 {
				if _, err := s.store.GetSurface(ctx, id); errors.Is(err, queue.ErrSurfaceNotFound) {
					s.dropLimiter(id)
				}
			}
		}()
	}
	return left
}

// attempt runs call under the surface's rate limit, retrying with backoff.
// ErrBlockGone is final. Other failures come back as ErrSurfaceUnavailable.
func (s *Syncer) attempt(ctx context.Context, sf *queue.DisplaySurface, index int, call func() error) error {
	lim := s.limiter(sf.ID)
	var err error
	for a := 1; a <= s.opts.MaxAttempts; a++ {
		if werr := lim.Wait(ctx); werr != nil {
			return fmt.Errorf("%w: %v", queue.ErrSurfaceUnavailable, werr)
		}
		err = call()
		if err == nil || errors.Is(err, ErrBlockGone) {
			return err
		}
		s.opts.Observer.BlockFailed(*sf, index, a, err)
		if a == s.opts.MaxAttempts {
			break
		}
		t := time.NewTimer(s.opts.Backoff.Delay(a))
		select {
		case <-ctx.Done():
			t.Stop()
			return fmt.Errorf("%w: %v", queue.ErrSurfaceUnavailable, ctx.Err())
		case <-t.C:
		}
	}
	return fmt.Errorf("%w: %v", queue.ErrSurfaceUnavailable, err)
}

func (s *Syncer) limiter(surfaceID uint) *rate.Limiter {
	s.mu.Lock()
	defer s.mu.Unlock()
	lim, ok := s.limiters[surfaceID]
	if !ok {
		lim = rate.NewLimiter(s.opts.Rate, s.opts.Burst)
		s.limiters[surfaceID] = lim
	}
	return lim
}

func (s *Syncer) dropLimiter(surfaceID uint) {
	s.mu.Lock()
	delete(s.limiters, surfaceID)
	s.mu.Unlock()
}

func lockKey(m *sync.Map, key uint) func() {
	v, _ := m.LoadOrStore(key, &sync.Mutex{})
	mu := v.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}
