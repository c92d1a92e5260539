// Package events - types.go
package events

import "github.com/jose-valero/voice-queue-bot/internal/queue"

// QueueChanged is emitted after every committed queue mutation, in commit
// order per queue.
type QueueChanged struct {
	queue.Change
}
