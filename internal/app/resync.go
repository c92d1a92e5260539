// internal/app/resync.go
package app

import (
	"context"
	"log"
	"time"

	"github.com/robfig/cron/v3"
)

// StartResync re-notifies every display on spec (standard cron syntax or
// descriptors like "@every 10m") so displays heal after restarts and lost
// edits. It runs once right away.
func (b *Bot) StartResync(spec string) (*cron.Cron, error) {
	resync := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := b.Syncer.Resync(ctx); err != nil {
			log.Printf("[resync] %v", err)
		}
	}

	c := cron.New()
	if _, err := c.AddFunc(spec, resync); err != nil {
		return nil, err
	}
	c.Start()
	go resync()
	log.Printf("[resync] scheduled %q", spec)
	return c, nil
}
