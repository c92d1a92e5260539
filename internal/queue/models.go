package queue

import "time"

// Queue is one ordered line bound to a source voice channel.
type Queue struct {
	ID            uint      // durable row id
	GuildID       string    // discord guild
	SourceID      string    // channel members wait in
	DestinationID string    // channel members are pulled into ("" = none)
	Capacity      int       // max members, 0 = unbounded
	AutoFill      bool      // pull on destination vacancy
	PullBatchSize int       // default count for Pull, >= 1
	CreatedAt     time.Time // when the queue was created
}

// Bounded reports whether the queue has a member limit.
func (q *Queue) Bounded() bool { return q.Capacity > 0 }

// Membership is one member's occupancy of a queue.
// Seq is strictly increasing per queue and defines FIFO rank; JoinedAt
// travels with it and is only informational.
type Membership struct {
	QueueID  uint
	MemberID string // discord user ID
	Note     string // optional text given at join
	JoinedAt time.Time
	Seq      int64
}

// DisplaySurface is a rendering target for one queue. BlockIDs are the
// message ids of the rendered chunks, in order; only the display syncer
// writes them.
type DisplaySurface struct {
	ID        uint
	QueueID   uint
	ChannelID string // text channel the blocks are posted in
	BlockIDs  []string
}

// GuildSettings holds the per-guild values the engine reads.
type GuildSettings struct {
	GuildID            string
	GracePeriodSeconds int // -1 = unset, fall back to defaults
	PullBatchSize      int // 0 = unset
	Color              int // embed color, 0 = default
}

// QueuePatch is a partial update for UpdateQueue; nil fields are left as is.
type QueuePatch struct {
	DestinationID *string
	Capacity      *int
	AutoFill      *bool
	PullBatchSize *int
}

// PullResult reports a pull. Actual may be lower than Requested when the
// queue runs short; that is not an error.
type PullResult struct {
	Requested int
	Actual    int
	Members   []Membership
}

// Status is a read-only view of a queue and its ordered members.
type Status struct {
	Queue   Queue
	Members []Membership
}
