package queue

import (
	"context"
	"math/rand"
	"sync"
	"time"
)

// MemoryStore is an in-process Store. It backs tests and single-process
// runs without a database; one RWMutex guards everything so every method
// is atomic and reads see a consistent snapshot.
type MemoryStore struct {
	mu sync.RWMutex

	nextQueueID   uint
	nextSurfaceID uint

	queues   map[uint]*Queue
	members  map[uint][]Membership // queueID -> members in Seq order
	lastSeq  map[uint]int64
	lastJoin map[uint]time.Time
	surfaces map[uint]*DisplaySurface
	guilds   map[string]GuildSettings

	now func() time.Time
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		queues:   make(map[uint]*Queue),
		members:  make(map[uint][]Membership),
		lastSeq:  make(map[uint]int64),
		lastJoin: make(map[uint]time.Time),
		surfaces: make(map[uint]*DisplaySurface),
		guilds:   make(map[string]GuildSettings),
		now:      time.Now,
	}
}

var _ Store = (*MemoryStore)(nil)

func (m *MemoryStore) CreateQueue(_ context.Context, q *Queue) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, existing := range m.queues {
		if existing.GuildID == q.GuildID && existing.SourceID == q.SourceID {
			return ErrQueueExists
		}
	}
	m.nextQueueID++
	q.ID = m.nextQueueID
	if q.CreatedAt.IsZero() {
		q.CreatedAt = m.now()
	}
	m.queues[q.ID] = snapshotQueue(q)
	return nil
}

func (m *MemoryStore) GetQueue(_ context.Context, queueID uint) (*Queue, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	q, ok := m.queues[queueID]
	if !ok {
		return nil, ErrQueueNotFound
	}
	return snapshotQueue(q), nil
}

func (m *MemoryStore) UpdateQueue(_ context.Context, q *Queue) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.queues[q.ID]; !ok {
		return ErrQueueNotFound
	}
	m.queues[q.ID] = snapshotQueue(q)
	return nil
}

func (m *MemoryStore) DeleteQueue(_ context.Context, queueID uint) ([]*DisplaySurface, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.queues[queueID]; !ok {
		return nil, ErrQueueNotFound
	}
	var removed []*DisplaySurface
	for id, s := range m.surfaces {
		if s.QueueID == queueID {
			removed = append(removed, snapshotSurface(s))
			delete(m.surfaces, id)
		}
	}
	delete(m.queues, queueID)
	delete(m.members, queueID)
	delete(m.lastSeq, queueID)
	delete(m.lastJoin, queueID)
	return removed, nil
}

func (m *MemoryStore) Queues(_ context.Context, guildID string) ([]*Queue, error) {
	return m.filterQueues(func(q *Queue) bool { return q.GuildID == guildID }), nil
}

func (m *MemoryStore) AllQueues(_ context.Context) ([]*Queue, error) {
	return m.filterQueues(func(*Queue) bool { return true }), nil
}

func (m *MemoryStore) QueueBySource(_ context.Context, guildID, sourceID string) (*Queue, error) {
	qs := m.filterQueues(func(q *Queue) bool { return q.GuildID == guildID && q.SourceID == sourceID })
	if len(qs) == 0 {
		return nil, ErrQueueNotFound
	}
	return qs[0], nil
}

func (m *MemoryStore) QueuesByDestination(_ context.Context, guildID, destinationID string) ([]*Queue, error) {
	if destinationID == "" {
		return nil, nil
	}
	return m.filterQueues(func(q *Queue) bool {
		return q.GuildID == guildID && q.DestinationID == destinationID
	}), nil
}

// filterQueues returns copies of matching queues ordered by id.
func (m *MemoryStore) filterQueues(keep func(*Queue) bool) []*Queue {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*Queue
	for id := uint(1); id <= m.nextQueueID; id++ {
		if q, ok := m.queues[id]; ok && keep(q) {
			out = append(out, snapshotQueue(q))
		}
	}
	return out
}

func (m *MemoryStore) InsertMembership(_ context.Context, queueID uint, memberID, note string) (Membership, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	q, ok := m.queues[queueID]
	if !ok {
		return Membership{}, 0, ErrQueueNotFound
	}
	ms := m.members[queueID]
	if locateMember(ms, memberID) >= 0 {
		return Membership{}, 0, ErrAlreadyQueued
	}
	if q.Bounded() && len(ms) >= q.Capacity {
		return Membership{}, 0, ErrQueueFull
	}

	// joinedAt is kept strictly increasing even when the clock is coarse
	at := m.now()
	if last := m.lastJoin[queueID]; !at.After(last) {
		at = last.Add(time.Nanosecond)
	}
	m.lastJoin[queueID] = at
	m.lastSeq[queueID]++

	mem := Membership{
		QueueID:  queueID,
		MemberID: memberID,
		Note:     note,
		JoinedAt: at,
		Seq:      m.lastSeq[queueID],
	}
	m.members[queueID] = append(ms, mem)
	return mem, len(ms), nil
}

func (m *MemoryStore) RemoveMembership(_ context.Context, queueID uint, memberID string) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.queues[queueID]; !ok {
		return 0, ErrQueueNotFound
	}
	ms := m.members[queueID]
	idx := locateMember(ms, memberID)
	if idx < 0 {
		return 0, ErrNotQueued
	}
	m.members[queueID] = append(ms[:idx:idx], ms[idx+1:]...)
	return idx, nil
}

func (m *MemoryStore) GetMembership(_ context.Context, queueID uint, memberID string) (Membership, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.queues[queueID]; !ok {
		return Membership{}, 0, ErrQueueNotFound
	}
	ms := m.members[queueID]
	idx := locateMember(ms, memberID)
	if idx < 0 {
		return Membership{}, 0, ErrNotQueued
	}
	return ms[idx], idx, nil
}

func (m *MemoryStore) ListOrdered(_ context.Context, queueID uint, limit int) ([]Membership, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.queues[queueID]; !ok {
		return nil, ErrQueueNotFound
	}
	ms := m.members[queueID]
	if limit > 0 && limit < len(ms) {
		ms = ms[:limit]
	}
	return append([]Membership(nil), ms...), nil
}

func (m *MemoryStore) CountMembers(_ context.Context, queueID uint) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if _, ok := m.queues[queueID]; !ok {
		return 0, ErrQueueNotFound
	}
	return len(m.members[queueID]), nil
}

func (m *MemoryStore) PopFront(_ context.Context, queueID uint, count int) ([]Membership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.queues[queueID]; !ok {
		return nil, ErrQueueNotFound
	}
	ms := m.members[queueID]
	if count > len(ms) {
		count = len(ms)
	}
	if count <= 0 {
		return nil, nil
	}
	popped := append([]Membership(nil), ms[:count]...)
	m.members[queueID] = append([]Membership(nil), ms[count:]...)
	return popped, nil
}

func (m *MemoryStore) Shuffle(_ context.Context, queueID uint) ([]Membership, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.queues[queueID]; !ok {
		return nil, ErrQueueNotFound
	}
	ms := m.members[queueID]
	out := ShuffleOrder(ms)
	m.members[queueID] = out
	return append([]Membership(nil), out...), nil
}

// ShuffleOrder hands the existing (Seq, JoinedAt) slots to a random
// permutation of the members. ms must be in Seq order; so is the result.
func ShuffleOrder(ms []Membership) []Membership {
	out := append([]Membership(nil), ms...)
	rand.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	for i := range out {
		out[i].Seq = ms[i].Seq
		out[i].JoinedAt = ms[i].JoinedAt
	}
	return out
}

func (m *MemoryStore) Clear(_ context.Context, queueID uint) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.queues[queueID]; !ok {
		return 0, ErrQueueNotFound
	}
	n := len(m.members[queueID])
	delete(m.members, queueID)
	return n, nil
}

func (m *MemoryStore) CreateSurface(_ context.Context, s *DisplaySurface) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.queues[s.QueueID]; !ok {
		return ErrQueueNotFound
	}
	m.nextSurfaceID++
	s.ID = m.nextSurfaceID
	m.surfaces[s.ID] = snapshotSurface(s)
	return nil
}

func (m *MemoryStore) GetSurface(_ context.Context, surfaceID uint) (*DisplaySurface, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.surfaces[surfaceID]
	if !ok {
		return nil, ErrSurfaceNotFound
	}
	return snapshotSurface(s), nil
}

func (m *MemoryStore) SurfaceByChannel(_ context.Context, queueID uint, channelID string) (*DisplaySurface, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, s := range m.surfaces {
		if s.QueueID == queueID && s.ChannelID == channelID {
			return snapshotSurface(s), nil
		}
	}
	return nil, ErrSurfaceNotFound
}

func (m *MemoryStore) Surfaces(_ context.Context, queueID uint) ([]*DisplaySurface, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*DisplaySurface
	for id := uint(1); id <= m.nextSurfaceID; id++ {
		if s, ok := m.surfaces[id]; ok && s.QueueID == queueID {
			out = append(out, snapshotSurface(s))
		}
	}
	return out, nil
}

func (m *MemoryStore) SetSurfaceBlocks(_ context.Context, surfaceID uint, blockIDs []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.surfaces[surfaceID]
	if !ok {
		return ErrSurfaceNotFound
	}
	s.BlockIDs = append([]string(nil), blockIDs...)
	return nil
}

func (m *MemoryStore) DeleteSurface(_ context.Context, surfaceID uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.surfaces[surfaceID]; !ok {
		return ErrSurfaceNotFound
	}
	delete(m.surfaces, surfaceID)
	return nil
}

func (m *MemoryStore) GuildSettings(_ context.Context, guildID string) (GuildSettings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if gs, ok := m.guilds[guildID]; ok {
		return gs, nil
	}
	return DefaultSettings(guildID), nil
}

func (m *MemoryStore) SaveGuildSettings(_ context.Context, gs GuildSettings) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.guilds[gs.GuildID] = gs
	return nil
}
