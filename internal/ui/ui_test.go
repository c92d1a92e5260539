package ui

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jose-valero/voice-queue-bot/internal/display"
	"github.com/jose-valero/voice-queue-bot/internal/queue"
)

func TestRenderBlock(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	q := queue.Queue{ID: 7, SourceID: "src", DestinationID: "dst", Capacity: 10, PullBatchSize: 2, AutoFill: true}
	ms := []queue.Membership{
		{MemberID: "a", JoinedAt: now.Add(-90 * time.Minute)},
		{MemberID: "b", JoinedAt: now.Add(-5 * time.Minute), Note: "back in *5*"},
		{MemberID: "c", JoinedAt: now},
	}
	blocks := display.Chunk(q, ms, 2)
	require.Len(t, blocks, 2)

	first := RenderBlock(blocks[0], 0, now)
	assert.Equal(t, "Queue #7 (1/2)", first.Title)
	assert.Equal(t, DefaultColor, first.Color)
	assert.Contains(t, first.Description, "<#src>")
	assert.Contains(t, first.Description, "<@a> · 1h 30m")
	assert.Contains(t, first.Description, "_back in 5_")
	assert.Equal(t, "3/10 in queue • pull 2 • auto-fill on", first.Footer.Text)

	second := RenderBlock(blocks[1], 0xff0000, now)
	assert.True(t, strings.HasPrefix(second.Description, "` 3.` <@c>"))
	assert.Equal(t, 0xff0000, second.Color)

	empty := RenderBlock(display.Chunk(q, nil, 2)[0], 0, now)
	assert.Equal(t, "Queue #7", empty.Title)
	assert.Contains(t, empty.Description, "Nobody waiting")
}

func TestParseButton(t *testing.T) {
	comps := BlockComponents(12, 0)
	require.Len(t, comps, 1)
	assert.Empty(t, BlockComponents(12, 1))

	action, id, ok := ParseButton("queue_join:12")
	assert.True(t, ok)
	assert.Equal(t, "queue_join", action)
	assert.Equal(t, uint(12), id)

	action, _, ok = ParseButton("queue_leave:3")
	assert.True(t, ok)
	assert.Equal(t, "queue_leave", action)

	_, _, ok = ParseButton("queue_join:x")
	assert.False(t, ok)
	_, _, ok = ParseButton("other")
	assert.False(t, ok)
}

func TestTruncate(t *testing.T) {
	assert.Equal(t, "short", truncate(" short ", 10))
	got := truncate(strings.Repeat("é", 20), 5)
	assert.Equal(t, "éééé…", got)
}

func TestBlocksFitDescriptionLimit(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	q := queue.Queue{ID: 1, SourceID: "123456789012345678", DestinationID: "876543210987654321"}
	cases := []struct {
		name     string
		capacity int
		note     string
	}{
		{"multi-byte notes", 25, strings.Repeat("順", 80)},
		{"ascii notes at max capacity", 50, strings.Repeat("x", 80)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ms := make([]queue.Membership, tc.capacity)
			for i := range ms {
				ms[i] = queue.Membership{
					MemberID: fmt.Sprintf("1000000000000000%02d", i),
					JoinedAt: now.Add(-time.Duration(i) * 1000 * time.Hour),
					Note:     tc.note,
				}
			}
			blocks := display.ChunkFit(q, ms, tc.capacity, BlockFits)
			require.Greater(t, len(blocks), 1)

			shown := 0
			for i, b := range blocks {
				assert.Equal(t, len(blocks), b.Total)
				assert.Equal(t, shown, b.Offset)
				desc := RenderBlock(b, 0, now).Description
				assert.LessOrEqual(t, len(desc), descriptionMax)
				for _, m := range b.Members {
					assert.Contains(t, desc, "<@"+m.MemberID+">", "block %d", i)
				}
				shown += len(b.Members)
			}
			assert.Equal(t, len(ms), shown)
		})
	}
}
