package ui

import (
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/jose-valero/voice-queue-bot/internal/display"
	"github.com/jose-valero/voice-queue-bot/internal/queue"
)

const (
	DefaultColor = 0x57F287
	noteMax      = 80
	// discord rejects descriptions over 4096 chars
	descriptionMax = 4096
)

// widestSince is longer than anything humanSince prints for a realistic
// wait, so a block measured with it still fits later renders.
const widestSince = "99999h 59m"

func memberLine(rank int, m queue.Membership, since string) string {
	line := fmt.Sprintf("`%2d.` <@%s> · %s", rank+1, m.MemberID, since)
	if note := truncate(m.Note, noteMax); note != "" {
		line += " · _" + note + "_"
	}
	return line
}

func describe(b display.Block, since func(queue.Membership) string) string {
	if b.Size == 0 {
		return fmt.Sprintf("Nobody waiting in <#%s>. Join the channel or press **Join**.", b.Queue.SourceID)
	}
	var sb strings.Builder
	if b.Index == 0 {
		fmt.Fprintf(&sb, "Waiting in <#%s>", b.Queue.SourceID)
		if b.Queue.DestinationID != "" {
			fmt.Fprintf(&sb, " for <#%s>", b.Queue.DestinationID)
		}
		sb.WriteString("\n\n")
	}
	for i, m := range b.Members {
		sb.WriteString(memberLine(b.Offset+i, m, since(m)))
		sb.WriteByte('\n')
	}
	return strings.TrimRight(sb.String(), "\n")
}

func blockDescription(b display.Block, now time.Time) string {
	return describe(b, func(m queue.Membership) string { return humanSince(m.JoinedAt, now) })
}

// BlockFits reports whether b renders within the embed description limit.
// It is the display.FitFunc for discord surfaces.
func BlockFits(b display.Block) bool {
	desc := describe(b, func(queue.Membership) string { return widestSince })
	return len(desc) <= descriptionMax
}

func blockTitle(b display.Block) string {
	if b.Total > 1 {
		return fmt.Sprintf("Queue #%d (%d/%d)", b.Queue.ID, b.Index+1, b.Total)
	}
	return fmt.Sprintf("Queue #%d", b.Queue.ID)
}

func blockFooter(b display.Block) string {
	size := fmt.Sprintf("%d in queue", b.Size)
	if b.Queue.Bounded() {
		size = fmt.Sprintf("%d/%d in queue", b.Size, b.Queue.Capacity)
	}
	fill := "auto-fill off"
	if b.Queue.AutoFill {
		fill = "auto-fill on"
	}
	return fmt.Sprintf("%s • pull %d • %s", size, b.Queue.PullBatchSize, fill)
}

// RenderBlock builds the embed of one display block.
func RenderBlock(b display.Block, color int, now time.Time) *discordgo.MessageEmbed {
	if color == 0 {
		color = DefaultColor
	}
	return &discordgo.MessageEmbed{
		Title:       blockTitle(b),
		Description: blockDescription(b, now),
		Color:       color,
		Footer:      &discordgo.MessageEmbedFooter{Text: blockFooter(b)},
	}
}

// RenderQueueList is the /queue list answer.
func RenderQueueList(qs []*queue.Queue, sizes map[uint]int, color int) *discordgo.MessageEmbed {
	if color == 0 {
		color = DefaultColor
	}
	emb := &discordgo.MessageEmbed{Title: "Queues", Color: color}
	if len(qs) == 0 {
		emb.Description = "No queues yet. Use `/queue create` to make the first one."
		return emb
	}
	for _, q := range qs {
		val := fmt.Sprintf("source <#%s>", q.SourceID)
		if q.DestinationID != "" {
			val += fmt.Sprintf(" → <#%s>", q.DestinationID)
		}
		capacity := "∞"
		if q.Bounded() {
			capacity = fmt.Sprint(q.Capacity)
		}
		val += fmt.Sprintf("\n%d/%s waiting • pull %d • auto-fill %s", sizes[q.ID], capacity, q.PullBatchSize, onOff(q.AutoFill))
		emb.Fields = append(emb.Fields, &discordgo.MessageEmbedField{
			Name:  fmt.Sprintf("Queue #%d", q.ID),
			Value: val,
		})
	}
	return emb
}
