// Command bot starts the voice queue bot.
//
// this binary:
//  1. loads config from environment variables (.env during dev)
//  2. opens the database and migrates it
//  3. creates a discord session and registers the app handlers
//  4. serves the read-only HTTP API when HTTP_ADDR is set
//  5. opens the gateway and waits for a signal from the OS to exit
package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/bwmarrin/discordgo"

	"github.com/jose-valero/voice-queue-bot/internal/app"
	"github.com/jose-valero/voice-queue-bot/internal/httpapi"
	"github.com/jose-valero/voice-queue-bot/internal/storage"
	"github.com/jose-valero/voice-queue-bot/pkg/config"
)

func main() {
	// config.Load reads .env first
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	db, err := storage.Open(storage.Options{Type: cfg.DatabaseType, DSN: cfg.DatabaseDSN, Log: cfg.DatabaseLog})
	if err != nil {
		log.Fatalf("database error: %v", err)
	}
	store := storage.New(db)

	// the prefix "Bot " is required for bot tokens
	sess, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		log.Fatalf("discord session error: %v", err)
	}
	// voice states drive joins, grace timers and auto-fill
	sess.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildVoiceStates

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, os.Interrupt)
	defer stop()

	b := app.NewBot(sess, cfg, store)
	if cfg.HTTPAddr != "" {
		srv := httpapi.NewServer(b.Engine)
		b.RegisterHandlers(app.ChangeSinkFunc(srv.Hub().Publish))
		go func() {
			if err := srv.Run(ctx, cfg.HTTPAddr); err != nil {
				log.Printf("[http] %v", err)
			}
		}()
	} else {
		b.RegisterHandlers()
	}

	if err := sess.Open(); err != nil {
		log.Fatalf("open gateway error: %v", err)
	}
	defer sess.Close()

	log.Printf("🤖 bot ready - %s", cfg.Redacted())

	// block till SIGINT/SIGTERM for a clean shutdown
	<-ctx.Done()
	log.Printf("shutting down")
	b.Stop()
}
