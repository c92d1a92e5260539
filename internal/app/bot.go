package app

import (
	"context"
	"log"

	"github.com/bwmarrin/discordgo"
	"github.com/robfig/cron/v3"
	"golang.org/x/time/rate"

	disc "github.com/jose-valero/voice-queue-bot/internal/adapters/discord"
	"github.com/jose-valero/voice-queue-bot/internal/display"
	"github.com/jose-valero/voice-queue-bot/internal/queue"
	"github.com/jose-valero/voice-queue-bot/internal/ui"
	"github.com/jose-valero/voice-queue-bot/pkg/config"
)

type Bot struct {
	Sess     *discordgo.Session
	Cfg      *config.Config
	Engine   *queue.Engine
	Syncer   *display.Syncer
	Presence *disc.Presence
	Router   *Router

	cancelBus func()
	cron      *cron.Cron
}

// NewBot wires the engine, displays and presence around one session.
func NewBot(s *discordgo.Session, cfg *config.Config, store queue.Store) *Bot {
	b := &Bot{Sess: s, Cfg: cfg}

	b.Engine = queue.NewEngine(store,
		queue.WithNotifier(BusNotifier{}),
		queue.WithDefaults(queue.Defaults{GracePeriod: cfg.GracePeriod, PullBatchSize: cfg.PullBatchSize}),
	)
	b.Syncer = display.New(store, disc.NewPublisher(s, b.colorFor), display.Options{
		BlockCapacity: cfg.BlockCapacity,
		Debounce:      cfg.Debounce,
		Rate:          rate.Limit(cfg.RatePerSecond),
		Burst:         cfg.RateBurst,
		Fits:          ui.BlockFits,
	})
	b.Presence = disc.NewPresence(b.Engine, store, s)
	b.Router = NewRouter(b.Engine, b.Syncer, disc.NewPolicy(cfg.AdminRoleIDs), b.Presence, b.colorFor)
	return b
}

// RegisterHandlers hooks the bot into the gateway and the bus. extra sinks
// (the HTTP hub) receive every change too.
func (b *Bot) RegisterHandlers(extra ...ChangeSink) {
	// 1) voice presence: joins, grace timers, auto-fill
	b.Sess.AddHandler(b.Presence.OnVoiceStateUpdate)

	// 2) slash commands and buttons
	b.Sess.AddHandler(b.Router.HandleInteraction)

	// 3) bus subscribers: displays, hub, member moves
	b.cancelBus = b.StartEventSubscribers(extra...)

	// 4) register/update slash commands once the session is ready
	b.Sess.AddHandlerOnce(func(s *discordgo.Session, _ *discordgo.Ready) {
		if err := RegisterCommands(s, b.Cfg.AppID, b.Cfg.GuildID); err != nil {
			log.Printf("[bot] register commands: %v", err)
		}
	})

	// 5) periodic display resync
	if b.Cfg.ResyncSchedule != "" {
		c, err := b.StartResync(b.Cfg.ResyncSchedule)
		if err != nil {
			log.Printf("[bot] resync disabled: %v", err)
		}
		b.cron = c
	}
}

// Stop unsubscribes from the bus and drains the displays.
func (b *Bot) Stop() {
	if b.cron != nil {
		<-b.cron.Stop().Done()
	}
	if b.cancelBus != nil {
		b.cancelBus()
	}
	b.Syncer.Close()
}

func (b *Bot) colorFor(ctx context.Context, guildID string) int {
	if gs, err := b.Engine.Settings(ctx, guildID); err == nil && gs.Color != 0 {
		return gs.Color
	}
	return b.Cfg.QueueColor
}
