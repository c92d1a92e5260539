// Presence: turns voice state changes into queue operations and keeps a
// "last voice channel" cache used to move pulled members.

package discord

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/bwmarrin/discordgo"

	"github.com/jose-valero/voice-queue-bot/internal/queue"
)

// QueueOps is what presence needs from the engine.
type QueueOps interface {
	Join(ctx context.Context, queueID uint, memberID, note string) (int, error)
	StartGrace(ctx context.Context, queueID uint, memberID string) error
	OnDestinationVacancy(ctx context.Context, queueID uint) (queue.PullResult, error)
}

// QueueLookup resolves channels to queues.
type QueueLookup interface {
	QueueBySource(ctx context.Context, guildID, sourceID string) (*queue.Queue, error)
	QueuesByDestination(ctx context.Context, guildID, destinationID string) ([]*queue.Queue, error)
}

// Mover moves a member between voice channels.
type Mover interface {
	GuildMemberMove(guildID string, userID string, channelID *string, options ...discordgo.RequestOption) error
}

type Presence struct {
	ops    QueueOps
	lookup QueueLookup
	mover  Mover

	// (guildID:userID) -> last voice channelID
	lastVoice sync.Map
}

func NewPresence(ops QueueOps, lookup QueueLookup, mover Mover) *Presence {
	return &Presence{ops: ops, lookup: lookup, mover: mover}
}

// OnVoiceStateUpdate is the discordgo handler. Register it in app.Bot.
func (p *Presence) OnVoiceStateUpdate(_ *discordgo.Session, ev *discordgo.VoiceStateUpdate) {
	if ev == nil || ev.VoiceState == nil {
		return
	}
	vs := ev.VoiceState
	if vs.Member != nil && vs.Member.User != nil && vs.Member.User.Bot {
		return
	}
	before := ""
	if ev.BeforeUpdate != nil {
		before = ev.BeforeUpdate.ChannelID
	} else if ch, ok := p.LastVoice(vs.GuildID, vs.UserID); ok {
		before = ch
	}
	p.Handle(context.Background(), vs.GuildID, vs.UserID, before, vs.ChannelID)
}

// Handle applies one move of userID from channel before to channel after
// (either may be empty).
func (p *Presence) Handle(ctx context.Context, guildID, userID, before, after string) {
	p.lastVoice.Store(guildID+":"+userID, after)
	if before == after {
		return
	}

	if before != "" {
		p.leftSource(ctx, guildID, userID, before)
		p.vacated(ctx, guildID, before)
	}
	if after != "" {
		p.enteredSource(ctx, guildID, userID, after)
	}
}

func (p *Presence) enteredSource(ctx context.Context, guildID, userID, channelID string) {
	q, err := p.lookup.QueueBySource(ctx, guildID, channelID)
	if err != nil {
		logUnexpected("lookup source", err)
		return
	}
	rank, err := p.ops.Join(ctx, q.ID, userID, "")
	switch {
	case err == nil:
		log.Printf("[presence] %s in queue %d at rank %d", userID, q.ID, rank)
	case errors.Is(err, queue.ErrAlreadyQueued), errors.Is(err, queue.ErrQueueFull):
	default:
		log.Printf("[presence] join queue %d for %s: %v", q.ID, userID, err)
	}
}

func (p *Presence) leftSource(ctx context.Context, guildID, userID, channelID string) {
	q, err := p.lookup.QueueBySource(ctx, guildID, channelID)
	if err != nil {
		logUnexpected("lookup source", err)
		return
	}
	if err := p.ops.StartGrace(ctx, q.ID, userID); err != nil && !errors.Is(err, queue.ErrNotQueued) {
		log.Printf("[presence] grace for %s in queue %d: %v", userID, q.ID, err)
	}
}

func (p *Presence) vacated(ctx context.Context, guildID, channelID string) {
	qs, err := p.lookup.QueuesByDestination(ctx, guildID, channelID)
	if err != nil {
		logUnexpected("lookup destination", err)
		return
	}
	for _, q := range qs {
		if _, err := p.ops.OnDestinationVacancy(ctx, q.ID); err != nil {
			log.Printf("[presence] auto-fill queue %d: %v", q.ID, err)
		}
	}
}

// MovePulled moves pulled members that are in voice into the destination.
// Members that are not connected stay where they are.
func (p *Presence) MovePulled(q queue.Queue, ms []queue.Membership) {
	if q.DestinationID == "" || p.mover == nil {
		return
	}
	dest := q.DestinationID
	for _, m := range ms {
		ch, ok := p.LastVoice(q.GuildID, m.MemberID)
		if !ok || ch == "" || ch == dest {
			continue
		}
		if err := p.mover.GuildMemberMove(q.GuildID, m.MemberID, &dest); err != nil {
			log.Printf("[presence] move %s to %s: %v", m.MemberID, dest, err)
		}
	}
}

// LastVoice returns the last voice channel seen for userID.
func (p *Presence) LastVoice(guildID, userID string) (string, bool) {
	v, ok := p.lastVoice.Load(guildID + ":" + userID)
	if !ok {
		return "", false
	}
	return v.(string), true
}

func logUnexpected(what string, err error) {
	if !errors.Is(err, queue.ErrQueueNotFound) {
		log.Printf("[presence] %s: %v", what, err)
	}
}
