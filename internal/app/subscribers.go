// internal/app/subscribers.go
package app

import (
	"log"

	events "github.com/jose-valero/voice-queue-bot/internal/domain/events"
	"github.com/jose-valero/voice-queue-bot/internal/queue"
)

// BusNotifier publishes engine changes on the event bus.
type BusNotifier struct{}

func (BusNotifier) Notify(c queue.Change) { events.Publish(events.QueueChanged{Change: c}) }

// ChangeSink is anything that wants every queue change. Sinks are called
// while the engine still holds the queue lock and must not block.
type ChangeSink interface {
	OnChange(queue.Change)
}

// ChangeSinkFunc adapts a function to ChangeSink.
type ChangeSinkFunc func(queue.Change)

func (f ChangeSinkFunc) OnChange(c queue.Change) { f(c) }

// StartEventSubscribers wires the bus to the displays, the HTTP hub and the
// voice mover. The returned func unsubscribes everything.
func (b *Bot) StartEventSubscribers(extra ...ChangeSink) func() {
	var cancels []func()

	cancels = append(cancels, events.Subscribe(func(ev events.QueueChanged) {
		b.Syncer.OnChange(ev.Change)
	}))

	cancels = append(cancels, events.Subscribe(func(ev events.QueueChanged) {
		if ev.Kind != queue.ChangePulled || b.Presence == nil {
			return
		}
		// moving members is REST I/O
		go b.Presence.MovePulled(ev.Queue, ev.Members)
	}))

	for _, sink := range extra {
		sink := sink
		cancels = append(cancels, events.Subscribe(func(ev events.QueueChanged) {
			sink.OnChange(ev.Change)
		}))
	}

	log.Printf("[bus] subscribers registered: QueueChanged=%d", events.Count[events.QueueChanged]())

	return func() {
		for _, c := range cancels {
			c()
		}
	}
}
