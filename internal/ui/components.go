// internal/ui/components.go
// Buttons attached to display blocks.

package ui

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/bwmarrin/discordgo"
)

const (
	JoinPrefix  = "queue_join:"
	LeavePrefix = "queue_leave:"
)

// BlockComponents returns the Join / Leave row. Only the first block of a
// surface carries it.
func BlockComponents(queueID uint, index int) []discordgo.MessageComponent {
	if index > 0 {
		return []discordgo.MessageComponent{}
	}
	return []discordgo.MessageComponent{
		discordgo.ActionsRow{
			Components: []discordgo.MessageComponent{
				discordgo.Button{
					Label:    "Join",
					Style:    discordgo.PrimaryButton,
					CustomID: fmt.Sprintf("%s%d", JoinPrefix, queueID),
					Emoji:    &discordgo.ComponentEmoji{Name: "🙋"},
				},
				discordgo.Button{
					Label:    "Leave",
					Style:    discordgo.SecondaryButton,
					CustomID: fmt.Sprintf("%s%d", LeavePrefix, queueID),
					Emoji:    &discordgo.ComponentEmoji{Name: "👋"},
				},
			},
		},
	}
}

// ParseButton splits a button custom id into its action and queue id.
func ParseButton(customID string) (action string, queueID uint, ok bool) {
	for _, p := range []string{JoinPrefix, LeavePrefix} {
		rest, found := strings.CutPrefix(customID, p)
		if !found {
			continue
		}
		id, err := strconv.ParseUint(rest, 10, 64)
		if err != nil || id == 0 {
			return "", 0, false
		}
		return strings.TrimSuffix(p, ":"), uint(id), true
	}
	return "", 0, false
}
