package app

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jose-valero/voice-queue-bot/internal/display"
	"github.com/jose-valero/voice-queue-bot/internal/queue"
)

func TestBusNotifierReachesSinks(t *testing.T) {
	ctx := context.Background()
	store := queue.NewMemoryStore()
	s := display.New(store, nopRenderer{}, display.Options{Debounce: time.Hour})
	t.Cleanup(s.Close)
	b := &Bot{Syncer: s}

	var (
		mu    sync.Mutex
		kinds []queue.ChangeKind
	)
	stop := b.StartEventSubscribers(ChangeSinkFunc(func(c queue.Change) {
		mu.Lock()
		kinds = append(kinds, c.Kind)
		mu.Unlock()
	}))

	e := queue.NewEngine(store, queue.WithNotifier(BusNotifier{}))
	q, err := e.CreateQueue(ctx, queue.Queue{GuildID: "g", SourceID: "lobby"})
	require.NoError(t, err)
	_, err = e.Join(ctx, q.ID, "A", "")
	require.NoError(t, err)

	stop()
	_, err = e.Join(ctx, q.ID, "B", "")
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []queue.ChangeKind{queue.ChangeCreated, queue.ChangeJoined}, kinds)
}
