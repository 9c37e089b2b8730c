package server

import (
	"sync"

	"feedloop/notify"

	log "github.com/sirupsen/logrus"
)

// Broadcaster fans change events out to SSE clients. It subscribes to the
// change notifier and forwards every event to each client channel with a
// non-blocking send, so one slow consumer never stalls a store mutation.
type Broadcaster struct {
	sync.RWMutex
	clients map[string]chan notify.Event
}

// Constructor
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		clients: make(map[string]chan notify.Event),
	}
}

// Broadcast delivers the event to every connected client. Registered with
// Notifier.Subscribe, so it runs synchronously after each mutation.
func (b *Broadcaster) Broadcast(event notify.Event) {
	b.RLock()
	defer b.RUnlock()

	for id, client := range b.clients {
		select {
		case client <- event: // Non-blocking send
		default:
			log.Warnf("Client channel full, skipping event for client: %v", id)
		}
	}
}

// Function to add a client to the broadcaster
func (b *Broadcaster) AddClient(key string, client chan notify.Event) {
	b.Lock()
	defer b.Unlock()
	b.clients[key] = client

	log.WithFields(log.Fields{
		"key":   key,
		"count": len(b.clients),
	}).Info("Adding client to broadcaster")
}

// Function to remove a client from the broadcaster
func (b *Broadcaster) RemoveClient(key string) {
	b.Lock()
	defer b.Unlock()

	if client, ok := b.clients[key]; ok {
		close(client)
		delete(b.clients, key)
	}

	log.WithFields(log.Fields{
		"key":   key,
		"count": len(b.clients),
	}).Info("Removed client from broadcaster")
}

func (b *Broadcaster) Shutdown() {
	log.Info("Shutting down broadcaster")
	b.Lock()
	defer b.Unlock()
	for key, client := range b.clients {
		close(client)
		delete(b.clients, key)
	}
}
