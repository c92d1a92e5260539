package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/jose-valero/voice-queue-bot/internal/queue"
)

// Store implements queue.Store on gorm. Every membership mutation runs in
// one transaction that first locks the queue row, so concurrent writers of
// the same queue (even from other processes) see a consistent rank order.
type Store struct {
	db  *gorm.DB
	now func() time.Time
}

func New(db *gorm.DB) *Store {
	return &Store{db: db, now: time.Now}
}

var _ queue.Store = (*Store)(nil)

// unavailable wraps infrastructure failures; domain errors pass through.
func unavailable(err error) error {
	if err == nil {
		return nil
	}
	if isDomain(err) {
		return err
	}
	return fmt.Errorf("%w: %v", queue.ErrStoreUnavailable, err)
}

func isDomain(err error) bool {
	for _, d := range []error{
		queue.ErrQueueExists, queue.ErrQueueNotFound, queue.ErrQueueFull,
		queue.ErrAlreadyQueued, queue.ErrNotQueued, queue.ErrSurfaceNotFound,
		queue.ErrInvalidArgument, queue.ErrStoreUnavailable,
	} {
		if errors.Is(err, d) {
			return true
		}
	}
	return false
}

// lockQueue loads the queue row inside tx, holding a row lock where the
// dialect has one.
func lockQueue(tx *gorm.DB, queueID uint) (*QueueChannel, error) {
	var row QueueChannel
	q := tx
	if tx.Dialector.Name() != "sqlite" {
		q = tx.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	if err := q.First(&row, queueID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, queue.ErrQueueNotFound
		}
		return nil, err
	}
	return &row, nil
}

func (s *Store) tx(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return unavailable(s.db.WithContext(ctx).Transaction(fn))
}

// ------------------- queues -------------------

func (s *Store) CreateQueue(ctx context.Context, q *queue.Queue) error {
	return s.tx(ctx, func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&QueueChannel{}).
			Where("guild_id = ? AND source_id = ?", q.GuildID, q.SourceID).
			Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return queue.ErrQueueExists
		}
		row := fromQueue(q)
		if row.CreatedAt.IsZero() {
			row.CreatedAt = s.now()
		}
		if err := tx.Create(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return queue.ErrQueueExists
			}
			return err
		}
		q.ID, q.CreatedAt = row.ID, row.CreatedAt
		return nil
	})
}

func (s *Store) GetQueue(ctx context.Context, queueID uint) (*queue.Queue, error) {
	var row QueueChannel
	if err := s.db.WithContext(ctx).First(&row, queueID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, queue.ErrQueueNotFound
		}
		return nil, unavailable(err)
	}
	return toQueue(row), nil
}

func (s *Store) UpdateQueue(ctx context.Context, q *queue.Queue) error {
	return s.tx(ctx, func(tx *gorm.DB) error {
		if _, err := lockQueue(tx, q.ID); err != nil {
			return err
		}
		return tx.Model(&QueueChannel{ID: q.ID}).Updates(map[string]any{
			"destination_id":  q.DestinationID,
			"capacity":        q.Capacity,
			"auto_fill":       q.AutoFill,
			"pull_batch_size": q.PullBatchSize,
		}).Error
	})
}

func (s *Store) DeleteQueue(ctx context.Context, queueID uint) ([]*queue.DisplaySurface, error) {
	var removed []*queue.DisplaySurface
	err := s.tx(ctx, func(tx *gorm.DB) error {
		if _, err := lockQueue(tx, queueID); err != nil {
			return err
		}
		var rows []DisplayChannel
		if err := tx.Where("queue_id = ?", queueID).Order("id").Find(&rows).Error; err != nil {
			return err
		}
		for _, r := range rows {
			removed = append(removed, toSurface(r))
		}
		if err := tx.Where("queue_id = ?", queueID).Delete(&DisplayChannel{}).Error; err != nil {
			return err
		}
		if err := tx.Where("queue_id = ?", queueID).Delete(&QueueMember{}).Error; err != nil {
			return err
		}
		return tx.Delete(&QueueChannel{}, queueID).Error
	})
	if err != nil {
		return nil, err
	}
	return removed, nil
}

func (s *Store) findQueues(ctx context.Context, query any, args ...any) ([]*queue.Queue, error) {
	var rows []QueueChannel
	db := s.db.WithContext(ctx)
	if query != nil {
		db = db.Where(query, args...)
	}
	if err := db.Order("id").Find(&rows).Error; err != nil {
		return nil, unavailable(err)
	}
	out := make([]*queue.Queue, len(rows))
	for i, r := range rows {
		out[i] = toQueue(r)
	}
	return out, nil
}

func (s *Store) Queues(ctx context.Context, guildID string) ([]*queue.Queue, error) {
	return s.findQueues(ctx, "guild_id = ?", guildID)
}

func (s *Store) AllQueues(ctx context.Context) ([]*queue.Queue, error) {
	return s.findQueues(ctx, nil)
}

func (s *Store) QueueBySource(ctx context.Context, guildID, sourceID string) (*queue.Queue, error) {
	qs, err := s.findQueues(ctx, "guild_id = ? AND source_id = ?", guildID, sourceID)
	if err != nil {
		return nil, err
	}
	if len(qs) == 0 {
		return nil, queue.ErrQueueNotFound
	}
	return qs[0], nil
}

func (s *Store) QueuesByDestination(ctx context.Context, guildID, destinationID string) ([]*queue.Queue, error) {
	if destinationID == "" {
		return nil, nil
	}
	return s.findQueues(ctx, "guild_id = ? AND destination_id = ?", guildID, destinationID)
}

// ------------------- memberships -------------------

func (s *Store) InsertMembership(ctx context.Context, queueID uint, memberID, note string) (queue.Membership, int, error) {
	var (
		row  QueueMember
		rank int
	)
	err := s.tx(ctx, func(tx *gorm.DB) error {
		qrow, err := lockQueue(tx, queueID)
		if err != nil {
			return err
		}

		var dup int64
		if err := tx.Model(&QueueMember{}).
			Where("queue_id = ? AND member_id = ?", queueID, memberID).
			Count(&dup).Error; err != nil {
			return err
		}
		if dup > 0 {
			return queue.ErrAlreadyQueued
		}

		var count int64
		if err := tx.Model(&QueueMember{}).Where("queue_id = ?", queueID).Count(&count).Error; err != nil {
			return err
		}
		if qrow.Capacity > 0 && int(count) >= qrow.Capacity {
			return queue.ErrQueueFull
		}

		// the tail row carries both the highest seq and the latest joined_at
		var tail []QueueMember
		if err := tx.Where("queue_id = ?", queueID).Order("seq DESC").Limit(1).Find(&tail).Error; err != nil {
			return err
		}

		at := s.now().UTC()
		seq := int64(1)
		if len(tail) == 1 {
			seq = tail[0].Seq + 1
			if !at.After(tail[0].JoinedAt) {
				at = tail[0].JoinedAt.Add(time.Microsecond)
			}
		}
		row = QueueMember{
			QueueID:  queueID,
			MemberID: memberID,
			Note:     note,
			JoinedAt: at,
			Seq:      seq,
		}
		if err := tx.Create(&row).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return queue.ErrAlreadyQueued
			}
			return err
		}
		rank = int(count)
		return nil
	})
	if err != nil {
		return queue.Membership{}, 0, err
	}
	return toMembership(row), rank, nil
}

// rankOf counts the members ahead of seq.
func rankOf(tx *gorm.DB, queueID uint, seq int64) (int, error) {
	var n int64
	err := tx.Model(&QueueMember{}).Where("queue_id = ? AND seq < ?", queueID, seq).Count(&n).Error
	return int(n), err
}

func findMember(tx *gorm.DB, queueID uint, memberID string) (*QueueMember, error) {
	var row QueueMember
	err := tx.Where("queue_id = ? AND member_id = ?", queueID, memberID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, queue.ErrNotQueued
	}
	return &row, err
}

func (s *Store) RemoveMembership(ctx context.Context, queueID uint, memberID string) (int, error) {
	var rank int
	err := s.tx(ctx, func(tx *gorm.DB) error {
		if _, err := lockQueue(tx, queueID); err != nil {
			return err
		}
		row, err := findMember(tx, queueID, memberID)
		if err != nil {
			return err
		}
		if rank, err = rankOf(tx, queueID, row.Seq); err != nil {
			return err
		}
		return tx.Delete(&QueueMember{}, row.ID).Error
	})
	return rank, err
}

func (s *Store) GetMembership(ctx context.Context, queueID uint, memberID string) (queue.Membership, int, error) {
	var (
		m    queue.Membership
		rank int
	)
	err := s.tx(ctx, func(tx *gorm.DB) error {
		if err := tx.First(&QueueChannel{}, queueID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return queue.ErrQueueNotFound
			}
			return err
		}
		row, err := findMember(tx, queueID, memberID)
		if err != nil {
			return err
		}
		m = toMembership(*row)
		rank, err = rankOf(tx, queueID, row.Seq)
		return err
	})
	return m, rank, err
}

func (s *Store) ListOrdered(ctx context.Context, queueID uint, limit int) ([]queue.Membership, error) {
	var rows []QueueMember
	err := s.tx(ctx, func(tx *gorm.DB) error {
		if err := tx.First(&QueueChannel{}, queueID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return queue.ErrQueueNotFound
			}
			return err
		}
		q := tx.Where("queue_id = ?", queueID).Order("seq")
		if limit > 0 {
			q = q.Limit(limit)
		}
		return q.Find(&rows).Error
	})
	if err != nil {
		return nil, err
	}
	return toMemberships(rows), nil
}

func (s *Store) CountMembers(ctx context.Context, queueID uint) (int, error) {
	if _, err := s.GetQueue(ctx, queueID); err != nil {
		return 0, err
	}
	var n int64
	if err := s.db.WithContext(ctx).Model(&QueueMember{}).Where("queue_id = ?", queueID).Count(&n).Error; err != nil {
		return 0, unavailable(err)
	}
	return int(n), nil
}

func (s *Store) PopFront(ctx context.Context, queueID uint, count int) ([]queue.Membership, error) {
	if count <= 0 {
		return nil, nil
	}
	var rows []QueueMember
	err := s.tx(ctx, func(tx *gorm.DB) error {
		if _, err := lockQueue(tx, queueID); err != nil {
			return err
		}
		if err := tx.Where("queue_id = ?", queueID).Order("seq").Limit(count).Find(&rows).Error; err != nil {
			return err
		}
		if len(rows) == 0 {
			return nil
		}
		ids := make([]uint, len(rows))
		for i, r := range rows {
			ids[i] = r.ID
		}
		return tx.Where("id IN ?", ids).Delete(&QueueMember{}).Error
	})
	if err != nil {
		return nil, err
	}
	return toMemberships(rows), nil
}

func (s *Store) Shuffle(ctx context.Context, queueID uint) ([]queue.Membership, error) {
	var out []queue.Membership
	err := s.tx(ctx, func(tx *gorm.DB) error {
		if _, err := lockQueue(tx, queueID); err != nil {
			return err
		}
		var rows []QueueMember
		if err := tx.Where("queue_id = ?", queueID).Order("seq").Find(&rows).Error; err != nil {
			return err
		}
		out = queue.ShuffleOrder(toMemberships(rows))
		for _, m := range out {
			if err := tx.Model(&QueueMember{}).
				Where("queue_id = ? AND member_id = ?", queueID, m.MemberID).
				Updates(map[string]any{"seq": m.Seq, "joined_at": m.JoinedAt}).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) Clear(ctx context.Context, queueID uint) (int, error) {
	var n int64
	err := s.tx(ctx, func(tx *gorm.DB) error {
		if _, err := lockQueue(tx, queueID); err != nil {
			return err
		}
		res := tx.Where("queue_id = ?", queueID).Delete(&QueueMember{})
		n = res.RowsAffected
		return res.Error
	})
	return int(n), err
}

// ------------------- display surfaces -------------------

func (s *Store) CreateSurface(ctx context.Context, sf *queue.DisplaySurface) error {
	return s.tx(ctx, func(tx *gorm.DB) error {
		if err := tx.First(&QueueChannel{}, sf.QueueID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return queue.ErrQueueNotFound
			}
			return err
		}
		row := DisplayChannel{QueueID: sf.QueueID, ChannelID: sf.ChannelID, BlockIDs: blockColumn(sf.BlockIDs)}
		if err := tx.Create(&row).Error; err != nil {
			return err
		}
		sf.ID = row.ID
		return nil
	})
}

func (s *Store) GetSurface(ctx context.Context, surfaceID uint) (*queue.DisplaySurface, error) {
	var row DisplayChannel
	if err := s.db.WithContext(ctx).First(&row, surfaceID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, queue.ErrSurfaceNotFound
		}
		return nil, unavailable(err)
	}
	return toSurface(row), nil
}

func (s *Store) SurfaceByChannel(ctx context.Context, queueID uint, channelID string) (*queue.DisplaySurface, error) {
	var row DisplayChannel
	err := s.db.WithContext(ctx).
		Where("queue_id = ? AND channel_id = ?", queueID, channelID).
		First(&row).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, queue.ErrSurfaceNotFound
		}
		return nil, unavailable(err)
	}
	return toSurface(row), nil
}

func (s *Store) Surfaces(ctx context.Context, queueID uint) ([]*queue.DisplaySurface, error) {
	var rows []DisplayChannel
	if err := s.db.WithContext(ctx).Where("queue_id = ?", queueID).Order("id").Find(&rows).Error; err != nil {
		return nil, unavailable(err)
	}
	out := make([]*queue.DisplaySurface, len(rows))
	for i, r := range rows {
		out[i] = toSurface(r)
	}
	return out, nil
}

func (s *Store) SetSurfaceBlocks(ctx context.Context, surfaceID uint, blockIDs []string) error {
	res := s.db.WithContext(ctx).Model(&DisplayChannel{ID: surfaceID}).
		Update("embed_ids", blockColumn(blockIDs))
	if res.Error != nil {
		return unavailable(res.Error)
	}
	if res.RowsAffected == 0 {
		return queue.ErrSurfaceNotFound
	}
	return nil
}

func (s *Store) DeleteSurface(ctx context.Context, surfaceID uint) error {
	res := s.db.WithContext(ctx).Delete(&DisplayChannel{}, surfaceID)
	if res.Error != nil {
		return unavailable(res.Error)
	}
	if res.RowsAffected == 0 {
		return queue.ErrSurfaceNotFound
	}
	return nil
}

// blockColumn never stores JSON null.
func blockColumn(ids []string) datatypes.JSONSlice[string] {
	if ids == nil {
		ids = []string{}
	}
	return datatypes.JSONSlice[string](ids)
}

// ------------------- guild settings -------------------

func (s *Store) GuildSettings(ctx context.Context, guildID string) (queue.GuildSettings, error) {
	var row QueueGuild
	err := s.db.WithContext(ctx).Where("guild_id = ?", guildID).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return queue.DefaultSettings(guildID), nil
	}
	if err != nil {
		return queue.GuildSettings{}, unavailable(err)
	}
	return queue.GuildSettings{
		GuildID:            row.GuildID,
		GracePeriodSeconds: row.GracePeriodSeconds,
		PullBatchSize:      row.PullBatchSize,
		Color:              row.Color,
	}, nil
}

func (s *Store) SaveGuildSettings(ctx context.Context, gs queue.GuildSettings) error {
	row := QueueGuild{
		GuildID:            gs.GuildID,
		GracePeriodSeconds: gs.GracePeriodSeconds,
		PullBatchSize:      gs.PullBatchSize,
		Color:              gs.Color,
	}
	return unavailable(s.db.WithContext(ctx).Save(&row).Error)
}
