package discord

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/bwmarrin/discordgo"

	"github.com/jose-valero/voice-queue-bot/internal/display"
	"github.com/jose-valero/voice-queue-bot/internal/ui"
)

// MessageAPI is the part of *discordgo.Session the publisher needs.
type MessageAPI interface {
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageDelete(channelID, messageID string, options ...discordgo.RequestOption) error
}

// Publisher renders display blocks as channel messages, one embed each.
type Publisher struct {
	api   MessageAPI
	color func(ctx context.Context, guildID string) int
	now   func() time.Time
}

var _ display.Renderer = (*Publisher)(nil)

// NewPublisher builds a Publisher. color may be nil.
func NewPublisher(api MessageAPI, color func(ctx context.Context, guildID string) int) *Publisher {
	if color == nil {
		color = func(context.Context, string) int { return ui.DefaultColor }
	}
	return &Publisher{api: api, color: color, now: time.Now}
}

func (p *Publisher) embed(ctx context.Context, b display.Block) ([]*discordgo.MessageEmbed, []discordgo.MessageComponent) {
	emb := ui.RenderBlock(b, p.color(ctx, b.Queue.GuildID), p.now())
	return []*discordgo.MessageEmbed{emb}, ui.BlockComponents(b.Queue.ID, b.Index)
}

func (p *Publisher) CreateBlock(ctx context.Context, channelID string, b display.Block) (string, error) {
	embeds, comps := p.embed(ctx, b)
	msg, err := p.api.ChannelMessageSendComplex(channelID, &discordgo.MessageSend{
		Embeds:     embeds,
		Components: comps,
	}, discordgo.WithContext(ctx))
	if err != nil {
		return "", mapGone(err)
	}
	log.Printf("[publisher] CREATE id=%s ch=%s queue=%d block=%d", msg.ID, channelID, b.Queue.ID, b.Index)
	return msg.ID, nil
}

func (p *Publisher) UpdateBlock(ctx context.Context, channelID, blockID string, b display.Block) error {
	embeds, comps := p.embed(ctx, b)
	_, err := p.api.ChannelMessageEditComplex(&discordgo.MessageEdit{
		Channel:    channelID,
		ID:         blockID,
		Embeds:     &embeds,
		Components: &comps,
	}, discordgo.WithContext(ctx))
	return mapGone(err)
}

func (p *Publisher) RetireBlock(ctx context.Context, channelID, blockID string) error {
	err := p.api.ChannelMessageDelete(channelID, blockID, discordgo.WithContext(ctx))
	if err == nil {
		log.Printf("[publisher] DELETE id=%s ch=%s", blockID, channelID)
	}
	return mapGone(err)
}

// mapGone turns "unknown message/channel" (10008/10003) into display.ErrBlockGone
// so the syncer recreates or forgets the block.
func mapGone(err error) error {
	if err == nil {
		return nil
	}
	var re *discordgo.RESTError
	if errors.As(err, &re) && re.Message != nil {
		switch re.Message.Code {
		case discordgo.ErrCodeUnknownMessage, discordgo.ErrCodeUnknownChannel:
			return display.ErrBlockGone
		}
	}
	return err
}
