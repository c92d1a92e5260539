package queue

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"
)

// ChangeKind says what kind of mutation produced a Change.
type ChangeKind string

const (
	ChangeCreated  ChangeKind = "created"
	ChangeUpdated  ChangeKind = "updated"
	ChangeDeleted  ChangeKind = "deleted"
	ChangeJoined   ChangeKind = "joined"
	ChangeLeft     ChangeKind = "left"
	ChangeKicked   ChangeKind = "kicked"
	ChangeExpired  ChangeKind = "expired"
	ChangePulled   ChangeKind = "pulled"
	ChangeShuffled ChangeKind = "shuffled"
	ChangeCleared  ChangeKind = "cleared"
)

// Change is emitted after every committed mutation.
type Change struct {
	Kind     ChangeKind
	Queue    Queue
	Members  []Membership      // members affected, if any
	Surfaces []*DisplaySurface // surfaces removed with a deleted queue
}

// Notifier receives Changes once they are committed. Notify must not block
// for long; the engine calls it while still holding the queue's lock so that
// changes of one queue arrive in commit order.
type Notifier interface {
	Notify(Change)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Change)

func (f NotifierFunc) Notify(c Change) { f(c) }

// Defaults are used when neither the queue nor the guild says otherwise.
type Defaults struct {
	GracePeriod   time.Duration
	PullBatchSize int
}

// Engine owns every mutation of queue membership. Mutations of one queue are
// serialized; different queues proceed independently.
type Engine struct {
	store    Store
	notifier Notifier
	defaults Defaults
	locks    keyedMutex
	grace    *graceRegistry
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithNotifier sets who hears about committed changes.
func WithNotifier(n Notifier) EngineOption {
	return func(e *Engine) { e.notifier = n }
}

// WithDefaults sets the fallback grace period and pull size.
func WithDefaults(d Defaults) EngineOption {
	return func(e *Engine) { e.defaults = d }
}

// WithClock replaces time.Now for grace timer identities.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.grace = newGraceRegistry(now) }
}

func NewEngine(store Store, opts ...EngineOption) *Engine {
	e := &Engine{
		store:    store,
		notifier: NotifierFunc(func(Change) {}),
		defaults: Defaults{GracePeriod: 30 * time.Second, PullBatchSize: 1},
		grace:    newGraceRegistry(time.Now),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.defaults.PullBatchSize < 1 {
		e.defaults.PullBatchSize = 1
	}
	return e
}

// Store exposes the underlying store for read-only collaborators.
func (e *Engine) Store() Store { return e.store }

// ------------------- queue lifecycle -------------------

// CreateQueue stores a new queue. A zero PullBatchSize takes the guild's
// default.
func (e *Engine) CreateQueue(ctx context.Context, q Queue) (*Queue, error) {
	if q.GuildID == "" || q.SourceID == "" {
		return nil, fmt.Errorf("%w: guild and source are required", ErrInvalidArgument)
	}
	if q.Capacity < 0 || q.PullBatchSize < 0 {
		return nil, fmt.Errorf("%w: capacity and pull size must not be negative", ErrInvalidArgument)
	}
	if q.PullBatchSize == 0 {
		q.PullBatchSize = e.pullDefault(ctx, q.GuildID)
	}
	if err := e.store.CreateQueue(ctx, &q); err != nil {
		return nil, err
	}
	log.Printf("[engine] queue %d created guild=%s source=%s dest=%s cap=%d", q.ID, q.GuildID, q.SourceID, q.DestinationID, q.Capacity)
	e.notifier.Notify(Change{Kind: ChangeCreated, Queue: q})
	return &q, nil
}

// UpdateQueue applies patch. Lowering the capacity below the current size
// only blocks new joins; nobody is evicted.
func (e *Engine) UpdateQueue(ctx context.Context, queueID uint, patch QueuePatch) (*Queue, error) {
	unlock := e.locks.lock(queueID)
	defer unlock()

	q, err := e.store.GetQueue(ctx, queueID)
	if err != nil {
		return nil, err
	}
	if patch.Capacity != nil {
		if *patch.Capacity < 0 {
			return nil, fmt.Errorf("%w: capacity must not be negative", ErrInvalidArgument)
		}
		q.Capacity = *patch.Capacity
	}
	if patch.PullBatchSize != nil {
		if *patch.PullBatchSize < 1 {
			return nil, fmt.Errorf("%w: pull size must be at least 1", ErrInvalidArgument)
		}
		q.PullBatchSize = *patch.PullBatchSize
	}
	if patch.AutoFill != nil {
		q.AutoFill = *patch.AutoFill
	}
	if patch.DestinationID != nil {
		q.DestinationID = *patch.DestinationID
	}
	if err := e.store.UpdateQueue(ctx, q); err != nil {
		return nil, err
	}
	e.notifier.Notify(Change{Kind: ChangeUpdated, Queue: *q})
	return q, nil
}

// DeleteQueue removes a queue, its members and its displays.
func (e *Engine) DeleteQueue(ctx context.Context, queueID uint) error {
	unlock := e.locks.lock(queueID)
	defer unlock()

	q, err := e.store.GetQueue(ctx, queueID)
	if err != nil {
		return err
	}
	surfaces, err := e.store.DeleteQueue(ctx, queueID)
	if err != nil {
		return err
	}
	e.grace.cancelQueue(queueID)
	log.Printf("[engine] queue %d deleted (%d displays)", queueID, len(surfaces))
	e.notifier.Notify(Change{Kind: ChangeDeleted, Queue: *q, Surfaces: surfaces})
	return nil
}

// ------------------- membership -------------------

// Join appends memberID and returns its rank. A member waiting out a grace
// period keeps its old position and the pending removal is canceled.
func (e *Engine) Join(ctx context.Context, queueID uint, memberID, note string) (int, error) {
	unlock := e.locks.lock(queueID)
	defer unlock()

	q, err := e.store.GetQueue(ctx, queueID)
	if err != nil {
		return 0, err
	}

	if e.grace.cancel(graceKey{queueID, memberID}) {
		_, rank, err := e.store.GetMembership(ctx, queueID, memberID)
		if err == nil {
			log.Printf("[engine] queue %d: %s returned within grace (rank %d)", queueID, memberID, rank)
			return rank, nil
		}
		if !errors.Is(err, ErrNotQueued) {
			return 0, err
		}
	}

	m, rank, err := e.store.InsertMembership(ctx, queueID, memberID, note)
	if err != nil {
		return 0, err
	}
	log.Printf("[engine] queue %d: %s joined (rank %d)", queueID, memberID, rank)
	e.notifier.Notify(Change{Kind: ChangeJoined, Queue: *q, Members: []Membership{m}})
	return rank, nil
}

// Leave removes memberID and returns its former rank.
func (e *Engine) Leave(ctx context.Context, queueID uint, memberID string) (int, error) {
	return e.remove(ctx, queueID, memberID, ChangeLeft)
}

// Kick is Leave issued by a moderator.
func (e *Engine) Kick(ctx context.Context, queueID uint, memberID string) (int, error) {
	return e.remove(ctx, queueID, memberID, ChangeKicked)
}

func (e *Engine) remove(ctx context.Context, queueID uint, memberID string, kind ChangeKind) (int, error) {
	unlock := e.locks.lock(queueID)
	defer unlock()
	return e.removeLocked(ctx, queueID, memberID, kind)
}

func (e *Engine) removeLocked(ctx context.Context, queueID uint, memberID string, kind ChangeKind) (int, error) {
	q, err := e.store.GetQueue(ctx, queueID)
	if err != nil {
		return 0, err
	}
	m, _, err := e.store.GetMembership(ctx, queueID, memberID)
	if err != nil {
		return 0, err
	}
	rank, err := e.store.RemoveMembership(ctx, queueID, memberID)
	if err != nil {
		return 0, err
	}
	e.grace.cancel(graceKey{queueID, memberID})
	log.Printf("[engine] queue %d: %s %s (was rank %d)", queueID, memberID, kind, rank)
	e.notifier.Notify(Change{Kind: kind, Queue: *q, Members: []Membership{m}})
	return rank, nil
}

// Pull removes up to count members from the front. count <= 0 uses the
// queue's pull batch size.
func (e *Engine) Pull(ctx context.Context, queueID uint, count int) (PullResult, error) {
	unlock := e.locks.lock(queueID)
	defer unlock()

	q, err := e.store.GetQueue(ctx, queueID)
	if err != nil {
		return PullResult{}, err
	}
	return e.pullLocked(ctx, q, count)
}

func (e *Engine) pullLocked(ctx context.Context, q *Queue, count int) (PullResult, error) {
	if count <= 0 {
		count = q.PullBatchSize
	}
	if count <= 0 {
		count = e.defaults.PullBatchSize
	}
	popped, err := e.store.PopFront(ctx, q.ID, count)
	if err != nil {
		return PullResult{}, err
	}
	for _, m := range popped {
		e.grace.cancel(graceKey{q.ID, m.MemberID})
	}
	res := PullResult{Requested: count, Actual: len(popped), Members: popped}
	if res.Actual > 0 {
		log.Printf("[engine] queue %d: pulled %d/%d", q.ID, res.Actual, res.Requested)
		e.notifier.Notify(Change{Kind: ChangePulled, Queue: *q, Members: popped})
	}
	return res, nil
}

// Shuffle randomizes the order; the member set is unchanged.
func (e *Engine) Shuffle(ctx context.Context, queueID uint) ([]Membership, error) {
	unlock := e.locks.lock(queueID)
	defer unlock()

	q, err := e.store.GetQueue(ctx, queueID)
	if err != nil {
		return nil, err
	}
	ms, err := e.store.Shuffle(ctx, queueID)
	if err != nil {
		return nil, err
	}
	log.Printf("[engine] queue %d: shuffled %d members", queueID, len(ms))
	e.notifier.Notify(Change{Kind: ChangeShuffled, Queue: *q, Members: ms})
	return ms, nil
}

// Clear empties the queue and returns how many members were removed.
func (e *Engine) Clear(ctx context.Context, queueID uint) (int, error) {
	unlock := e.locks.lock(queueID)
	defer unlock()

	q, err := e.store.GetQueue(ctx, queueID)
	if err != nil {
		return 0, err
	}
	n, err := e.store.Clear(ctx, queueID)
	if err != nil {
		return 0, err
	}
	e.grace.cancelQueue(queueID)
	log.Printf("[engine] queue %d: cleared %d members", queueID, n)
	e.notifier.Notify(Change{Kind: ChangeCleared, Queue: *q})
	return n, nil
}

// OnDestinationVacancy pulls one member when the queue auto-fills. An empty
// queue or a queue without auto-fill yields an empty result, not an error.
func (e *Engine) OnDestinationVacancy(ctx context.Context, queueID uint) (PullResult, error) {
	unlock := e.locks.lock(queueID)
	defer unlock()

	q, err := e.store.GetQueue(ctx, queueID)
	if err != nil {
		return PullResult{}, err
	}
	if !q.AutoFill {
		return PullResult{}, nil
	}
	return e.pullLocked(ctx, q, 1)
}

// ------------------- grace period -------------------

// StartGrace marks memberID as pending removal. If it does not Join again
// before the guild's grace period runs out it is removed. A zero grace
// period removes it right away.
func (e *Engine) StartGrace(ctx context.Context, queueID uint, memberID string) error {
	unlock := e.locks.lock(queueID)
	defer unlock()

	q, err := e.store.GetQueue(ctx, queueID)
	if err != nil {
		return err
	}
	if _, _, err := e.store.GetMembership(ctx, queueID, memberID); err != nil {
		return err
	}

	d := e.gracePeriod(ctx, q.GuildID)
	if d <= 0 {
		_, err := e.removeLocked(ctx, queueID, memberID, ChangeExpired)
		return err
	}
	e.grace.start(graceKey{queueID, memberID}, d, func(startedAt time.Time) {
		if err := e.OnGracePeriodExpired(context.Background(), queueID, memberID, startedAt); err != nil {
			log.Printf("[engine] queue %d: grace expiry for %s failed: %v", queueID, memberID, err)
		}
	})
	log.Printf("[engine] queue %d: %s pending removal in %s", queueID, memberID, d)
	return nil
}

// CancelGrace stops a pending removal. It reports whether one was pending.
func (e *Engine) CancelGrace(queueID uint, memberID string) bool {
	unlock := e.locks.lock(queueID)
	defer unlock()
	return e.grace.cancel(graceKey{queueID, memberID})
}

// OnGracePeriodExpired removes the member if the timer that started at
// startedAt is still the live one. Stale timers are a no-op.
func (e *Engine) OnGracePeriodExpired(ctx context.Context, queueID uint, memberID string, startedAt time.Time) error {
	unlock := e.locks.lock(queueID)
	defer unlock()

	if !e.grace.take(graceKey{queueID, memberID}, startedAt) {
		return nil
	}
	_, err := e.removeLocked(ctx, queueID, memberID, ChangeExpired)
	if errors.Is(err, ErrNotQueued) || errors.Is(err, ErrQueueNotFound) {
		return nil
	}
	return err
}

// Pending reports whether memberID is waiting out a grace period.
func (e *Engine) Pending(queueID uint, memberID string) bool {
	return e.grace.isPending(graceKey{queueID, memberID})
}

// ------------------- reads -------------------

// Status returns the queue and a snapshot of its ordered members.
func (e *Engine) Status(ctx context.Context, queueID uint) (*Status, error) {
	q, err := e.store.GetQueue(ctx, queueID)
	if err != nil {
		return nil, err
	}
	ms, err := e.store.ListOrdered(ctx, queueID, 0)
	if err != nil {
		return nil, err
	}
	return &Status{Queue: *q, Members: ms}, nil
}

// Queue returns one queue.
func (e *Engine) Queue(ctx context.Context, queueID uint) (*Queue, error) {
	return e.store.GetQueue(ctx, queueID)
}

// Queues lists the queues of a guild.
func (e *Engine) Queues(ctx context.Context, guildID string) ([]*Queue, error) {
	return e.store.Queues(ctx, guildID)
}

// QueueBySource resolves the queue fed by a source channel.
func (e *Engine) QueueBySource(ctx context.Context, guildID, sourceID string) (*Queue, error) {
	return e.store.QueueBySource(ctx, guildID, sourceID)
}

// Settings returns the guild's settings.
func (e *Engine) Settings(ctx context.Context, guildID string) (GuildSettings, error) {
	return e.store.GuildSettings(ctx, guildID)
}

// SaveSettings validates and stores gs.
func (e *Engine) SaveSettings(ctx context.Context, gs GuildSettings) error {
	if gs.GuildID == "" || gs.PullBatchSize < 0 || gs.GracePeriodSeconds < -1 {
		return ErrInvalidArgument
	}
	return e.store.SaveGuildSettings(ctx, gs)
}

func (e *Engine) gracePeriod(ctx context.Context, guildID string) time.Duration {
	gs, err := e.store.GuildSettings(ctx, guildID)
	if err != nil || gs.GracePeriodSeconds < 0 {
		return e.defaults.GracePeriod
	}
	return time.Duration(gs.GracePeriodSeconds) * time.Second
}

func (e *Engine) pullDefault(ctx context.Context, guildID string) int {
	gs, err := e.store.GuildSettings(ctx, guildID)
	if err != nil || gs.PullBatchSize < 1 {
		return e.defaults.PullBatchSize
	}
	return gs.PullBatchSize
}
