// internal/app/commands.go
package app

import (
	"github.com/bwmarrin/discordgo"
)

var (
	voiceChannel = []discordgo.ChannelType{discordgo.ChannelTypeGuildVoice, discordgo.ChannelTypeGuildStageVoice}
	adminPerm    = int64(discordgo.PermissionManageChannels)
)

// queueOption picks the queue by its source voice channel. Optional
// commands fall back to the current channel or the caller's voice channel.
func queueOption(required bool) *discordgo.ApplicationCommandOption {
	return &discordgo.ApplicationCommandOption{
		Type:         discordgo.ApplicationCommandOptionChannel,
		Name:         "channel",
		Description:  "Voice channel of the queue",
		ChannelTypes: voiceChannel,
		Required:     required,
	}
}

func queueSettingsOptions() []*discordgo.ApplicationCommandOption {
	return []*discordgo.ApplicationCommandOption{
		{
			Type:         discordgo.ApplicationCommandOptionChannel,
			Name:         "destination",
			Description:  "Voice channel pulled members are moved to",
			ChannelTypes: voiceChannel,
		},
		{
			Type:        discordgo.ApplicationCommandOptionInteger,
			Name:        "capacity",
			Description: "Max members waiting (0 = unlimited)",
			MinValue:    ptr(0.0),
		},
		{
			Type:        discordgo.ApplicationCommandOptionBoolean,
			Name:        "autofill",
			Description: "Pull the next member when someone leaves the destination",
		},
		{
			Type:        discordgo.ApplicationCommandOptionInteger,
			Name:        "pull",
			Description: "Members pulled per /pull",
			MinValue:    ptr(1.0),
		},
	}
}

var commands = []*discordgo.ApplicationCommand{
	{
		Name:                     "queue",
		Description:              "Manage queues",
		DefaultMemberPermissions: &adminPerm,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "create",
				Description: "Turn a voice channel into a queue",
				Options:     append([]*discordgo.ApplicationCommandOption{queueOption(true)}, queueSettingsOptions()...),
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "edit",
				Description: "Change a queue",
				Options:     append([]*discordgo.ApplicationCommandOption{queueOption(true)}, queueSettingsOptions()...),
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "delete",
				Description: "Delete a queue with its members and displays",
				Options:     []*discordgo.ApplicationCommandOption{queueOption(true)},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "list",
				Description: "List the queues of this server",
			},
		},
	},
	{
		Name:        "join",
		Description: "Join a queue",
		Options: []*discordgo.ApplicationCommandOption{
			queueOption(false),
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "note",
				Description: "Shown next to your name",
				MaxLength:   256,
			},
		},
	},
	{
		Name:        "leave",
		Description: "Leave a queue",
		Options:     []*discordgo.ApplicationCommandOption{queueOption(false)},
	},
	{
		Name:        "kick",
		Description: "Remove a member from a queue",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionUser,
				Name:        "user",
				Description: "Member to remove",
				Required:    true,
			},
			queueOption(false),
		},
	},
	{
		Name:        "pull",
		Description: "Pull members from the front of a queue",
		Options: []*discordgo.ApplicationCommandOption{
			queueOption(false),
			{
				Type:        discordgo.ApplicationCommandOptionInteger,
				Name:        "count",
				Description: "How many (defaults to the queue's pull size)",
				MinValue:    ptr(1.0),
			},
		},
	},
	{
		Name:        "shuffle",
		Description: "Shuffle a queue",
		Options:     []*discordgo.ApplicationCommandOption{queueOption(false)},
	},
	{
		Name:        "clear",
		Description: "Remove everyone from a queue",
		Options:     []*discordgo.ApplicationCommandOption{queueOption(false)},
	},
	{
		Name:        "display",
		Description: "Show a live queue display in this channel",
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "attach",
				Description: "Attach a display here",
				Options:     []*discordgo.ApplicationCommandOption{queueOption(true)},
			},
			{
				Type:        discordgo.ApplicationCommandOptionSubCommand,
				Name:        "detach",
				Description: "Remove the display from here",
				Options:     []*discordgo.ApplicationCommandOption{queueOption(true)},
			},
		},
	},
	{
		Name:        "status",
		Description: "Show a queue",
		Options:     []*discordgo.ApplicationCommandOption{queueOption(false)},
	},
	{
		Name:                     "settings",
		Description:              "Server-wide queue settings",
		DefaultMemberPermissions: &adminPerm,
		Options: []*discordgo.ApplicationCommandOption{
			{
				Type:        discordgo.ApplicationCommandOptionInteger,
				Name:        "grace",
				Description: "Seconds a member may be disconnected before losing their spot (-1 = default)",
				MinValue:    ptr(-1.0),
			},
			{
				Type:        discordgo.ApplicationCommandOptionInteger,
				Name:        "pull",
				Description: "Default pull size for new queues (0 = default)",
				MinValue:    ptr(0.0),
			},
			{
				Type:        discordgo.ApplicationCommandOptionString,
				Name:        "color",
				Description: "Display color, hex like #57F287",
			},
		},
	},
}

// RegisterCommands creates (or updates) the commands; an empty guildID
// registers them globally.
func RegisterCommands(s *discordgo.Session, appID, guildID string) error {
	_, err := s.ApplicationCommandBulkOverwrite(appID, guildID, commands)
	return err
}

func ptr[T any](v T) *T { return &v }
