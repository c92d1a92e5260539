package queue

import "context"

// Store is the durable record of queues, memberships and display surfaces.
//
// Membership methods must be atomic on their own: PopFront called
// concurrently on the same queue hands every member to exactly one caller,
// and ListOrdered returns a consistent snapshot. Ranks are 0-based and
// derived from Seq order at query time.
type Store interface {
	CreateQueue(ctx context.Context, q *Queue) error
	GetQueue(ctx context.Context, queueID uint) (*Queue, error)
	UpdateQueue(ctx context.Context, q *Queue) error
	// DeleteQueue removes the queue with its memberships and surfaces and
	// returns the surfaces that were removed.
	DeleteQueue(ctx context.Context, queueID uint) ([]*DisplaySurface, error)
	Queues(ctx context.Context, guildID string) ([]*Queue, error)
	AllQueues(ctx context.Context) ([]*Queue, error)
	QueueBySource(ctx context.Context, guildID, sourceID string) (*Queue, error)
	QueuesByDestination(ctx context.Context, guildID, destinationID string) ([]*Queue, error)

	InsertMembership(ctx context.Context, queueID uint, memberID, note string) (Membership, int, error)
	RemoveMembership(ctx context.Context, queueID uint, memberID string) (int, error)
	GetMembership(ctx context.Context, queueID uint, memberID string) (Membership, int, error)
	// ListOrdered returns members in rank order; limit <= 0 means all.
	ListOrdered(ctx context.Context, queueID uint, limit int) ([]Membership, error)
	CountMembers(ctx context.Context, queueID uint) (int, error)
	PopFront(ctx context.Context, queueID uint, count int) ([]Membership, error)
	Shuffle(ctx context.Context, queueID uint) ([]Membership, error)
	Clear(ctx context.Context, queueID uint) (int, error)

	CreateSurface(ctx context.Context, s *DisplaySurface) error
	GetSurface(ctx context.Context, surfaceID uint) (*DisplaySurface, error)
	SurfaceByChannel(ctx context.Context, queueID uint, channelID string) (*DisplaySurface, error)
	Surfaces(ctx context.Context, queueID uint) ([]*DisplaySurface, error)
	SetSurfaceBlocks(ctx context.Context, surfaceID uint, blockIDs []string) error
	DeleteSurface(ctx context.Context, surfaceID uint) error

	GuildSettings(ctx context.Context, guildID string) (GuildSettings, error)
	SaveGuildSettings(ctx context.Context, gs GuildSettings) error
}
