package storage

import (
	"time"

	"gorm.io/datatypes"

	"github.com/jose-valero/voice-queue-bot/internal/queue"
)

// QueueChannel is the row of one queue.
type QueueChannel struct {
	ID            uint      `gorm:"primaryKey"`
	GuildID       string    `gorm:"size:32;not null;uniqueIndex:idx_queue_source"`
	SourceID      string    `gorm:"size:32;not null;uniqueIndex:idx_queue_source"`
	DestinationID string    `gorm:"size:32;index"`
	Capacity      int       `gorm:"not null;default:0"` // 0 = unbounded
	AutoFill      bool      `gorm:"not null;default:false"`
	PullBatchSize int       `gorm:"not null;default:1"`
	CreatedAt     time.Time
}

func (QueueChannel) TableName() string { return "queue_channels" }

// QueueMember is one membership row. Seq orders the queue.
type QueueMember struct {
	ID       uint      `gorm:"primaryKey"`
	QueueID  uint      `gorm:"not null;uniqueIndex:idx_queue_member;index:idx_queue_seq,priority:1"`
	MemberID string    `gorm:"size:32;not null;uniqueIndex:idx_queue_member"`
	Note     string    `gorm:"size:256"`
	JoinedAt time.Time `gorm:"not null"`
	Seq      int64     `gorm:"not null;index:idx_queue_seq,priority:2"`
}

func (QueueMember) TableName() string { return "queue_members" }

// DisplayChannel is one display surface and the message ids rendered for it.
type DisplayChannel struct {
	ID        uint                        `gorm:"primaryKey"`
	QueueID   uint                        `gorm:"not null;index"`
	ChannelID string                      `gorm:"size:32;not null"`
	BlockIDs  datatypes.JSONSlice[string] `gorm:"column:embed_ids"`
}

func (DisplayChannel) TableName() string { return "display_channels" }

// QueueGuild holds per-guild settings.
type QueueGuild struct {
	GuildID            string `gorm:"primaryKey;size:32"`
	GracePeriodSeconds int    `gorm:"not null"`
	PullBatchSize      int    `gorm:"not null"`
	Color              int    `gorm:"not null"`
}

func (QueueGuild) TableName() string { return "queue_guilds" }

// Models lists every table for AutoMigrate.
func Models() []any {
	return []any{&QueueChannel{}, &QueueMember{}, &DisplayChannel{}, &QueueGuild{}}
}

func toQueue(r QueueChannel) *queue.Queue {
	return &queue.Queue{
		ID:            r.ID,
		GuildID:       r.GuildID,
		SourceID:      r.SourceID,
		DestinationID: r.DestinationID,
		Capacity:      r.Capacity,
		AutoFill:      r.AutoFill,
		PullBatchSize: r.PullBatchSize,
		CreatedAt:     r.CreatedAt,
	}
}

func fromQueue(q *queue.Queue) QueueChannel {
	return QueueChannel{
		ID:            q.ID,
		GuildID:       q.GuildID,
		SourceID:      q.SourceID,
		DestinationID: q.DestinationID,
		Capacity:      q.Capacity,
		AutoFill:      q.AutoFill,
		PullBatchSize: q.PullBatchSize,
		CreatedAt:     q.CreatedAt,
	}
}

func toMembership(r QueueMember) queue.Membership {
	return queue.Membership{
		QueueID:  r.QueueID,
		MemberID: r.MemberID,
		Note:     r.Note,
		JoinedAt: r.JoinedAt,
		Seq:      r.Seq,
	}
}

func toMemberships(rs []QueueMember) []queue.Membership {
	out := make([]queue.Membership, len(rs))
	for i, r := range rs {
		out[i] = toMembership(r)
	}
	return out
}

func toSurface(r DisplayChannel) *queue.DisplaySurface {
	return &queue.DisplaySurface{
		ID:        r.ID,
		QueueID:   r.QueueID,
		ChannelID: r.ChannelID,
		BlockIDs:  append([]string(nil), r.BlockIDs...),
	}
}
