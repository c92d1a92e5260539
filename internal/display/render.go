package display

import (
	"context"
	"errors"

	"github.com/jose-valero/voice-queue-bot/internal/queue"
)

// ErrBlockGone is returned by a Renderer when the block was removed on the
// other side (deleted message, deleted channel). The syncer recreates it.
var ErrBlockGone = errors.New("display: render block no longer exists")

// Block is one chunk of a queue's rendered membership.
type Block struct {
	Queue   queue.Queue
	Index   int // 0-based position among the surface's blocks
	Total   int
	Offset  int // rank of Members[0]
	Members []queue.Membership
	Size    int // members in the whole queue
}

// Renderer is the external render primitive. Only the Syncer calls it.
type Renderer interface {
	CreateBlock(ctx context.Context, channelID string, b Block) (string, error)
	UpdateBlock(ctx context.Context, channelID, blockID string, b Block) error
	RetireBlock(ctx context.Context, channelID, blockID string) error
}

// FitFunc reports whether a block still fits the surface's content limit.
// Total is not set yet when it is called. A nil FitFunc bounds blocks by
// member count only.
type FitFunc func(b Block) bool

// BlockCount is how many blocks n members need at capacity per block.
// An empty queue still gets one block so the display stays visible.
func BlockCount(n, capacity int) int {
	if capacity < 1 {
		capacity = 1
	}
	if n <= 0 {
		return 1
	}
	return (n + capacity - 1) / capacity
}

// Chunk splits ms (rank order) into blocks of at most capacity members.
func Chunk(q queue.Queue, ms []queue.Membership, capacity int) []Block {
	return ChunkFit(q, ms, capacity, nil)
}

// ChunkFit splits ms into as few blocks as possible where each block holds
// at most capacity members and passes fits. A block always takes at least
// one member, so a single member that never fits still gets its own block.
func ChunkFit(q queue.Queue, ms []queue.Membership, capacity int, fits FitFunc) []Block {
	if capacity < 1 {
		capacity = 1
	}
	if len(ms) == 0 {
		return []Block{{Queue: q, Total: 1}}
	}
	var blocks []Block
	for lo := 0; lo < len(ms); {
		b := Block{Queue: q, Index: len(blocks), Offset: lo, Size: len(ms)}
		hi := lo + 1
		for hi < len(ms) && hi-lo < capacity {
			if fits != nil {
				b.Members = ms[lo : hi+1]
				if !fits(b) {
					break
				}
			}
			hi++
		}
		b.Members = append([]queue.Membership(nil), ms[lo:hi]...)
		blocks = append(blocks, b)
		lo = hi
	}
	for i := range blocks {
		blocks[i].Total = len(blocks)
	}
	return blocks
}
