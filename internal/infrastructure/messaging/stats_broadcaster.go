// Package messaging pushes periodic stats snapshots to connected dashboard
// clients over websockets.
package messaging

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/AtRiskMedia/assetsign/internal/infrastructure/observability/logging"
)

const defaultBroadcastInterval = 5 * time.Second

// StatsClient represents a single connected dashboard client.
type StatsClient struct {
	Conn *websocket.Conn
	Send chan []byte
}

// NewStatsClient wraps conn with a small send buffer
func NewStatsClient(conn *websocket.Conn) *StatsClient {
	return &StatsClient{Conn: conn, Send: make(chan []byte, 4)}
}

// StatsBroadcaster manages all connected clients and broadcasts snapshots.
type StatsBroadcaster struct {
	clients    map[*StatsClient]bool
	register   chan *StatsClient
	unregister chan *StatsClient
	done       chan struct{}
	snapshot   func() any
	interval   time.Duration
	logger     *logging.ChanneledLogger
	mu         sync.RWMutex
}

// NewStatsBroadcaster creates a broadcaster that sends snapshot() every interval.
func NewStatsBroadcaster(snapshot func() any, interval time.Duration, logger *logging.ChanneledLogger) *StatsBroadcaster {
	if interval <= 0 {
		interval = defaultBroadcastInterval
	}
	return &StatsBroadcaster{
		clients:    make(map[*StatsClient]bool),
		register:   make(chan *StatsClient),
		unregister: make(chan *StatsClient),
		done:       make(chan struct{}),
		snapshot:   snapshot,
		interval:   interval,
		logger:     logging.OrNop(logger),
	}
}

// Run starts the broadcaster's main loop. This should be run as a goroutine.
// Every client's Send channel is closed when ctx ends.
func (b *StatsBroadcaster) Run(ctx context.Context) {
	ticker := time.NewTicker(b.interval)
	defer ticker.Stop()
	defer b.closeAll()

	for {
		select {
		case client := <-b.register:
			b.mu.Lock()
			b.clients[client] = true
			count := len(b.clients)
			b.mu.Unlock()
			b.logger.HTTP().Debug("Stats client registered", "clients", count)
			// New clients get a snapshot right away.
			b.send(client, b.encode())

		case client := <-b.unregister:
			b.mu.Lock()
			if b.clients[client] {
				delete(b.clients, client)
				close(client.Send)
			}
			count := len(b.clients)
			b.mu.Unlock()
			b.logger.HTTP().Debug("Stats client unregistered", "clients", count)

		case <-ticker.C:
			b.broadcast()

		case <-ctx.Done():
			return
		}
	}
}

// Register queues a client for registration. It reports false once the
// broadcaster has stopped.
func (b *StatsBroadcaster) Register(client *StatsClient) bool {
	select {
	case b.register <- client:
		return true
	case <-b.done:
		return false
	}
}

// Unregister queues a client for unregistration.
func (b *StatsBroadcaster) Unregister(client *StatsClient) {
	select {
	case b.unregister <- client:
	case <-b.done:
	}
}

// ClientCount returns the number of registered clients
func (b *StatsBroadcaster) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

func (b *StatsBroadcaster) encode() []byte {
	message, err := json.Marshal(b.snapshot())
	if err != nil {
		b.logger.HTTP().Error("Error marshaling stats snapshot", "error", err.Error())
		return nil
	}
	return message
}

func (b *StatsBroadcaster) broadcast() {
	b.mu.RLock()
	empty := len(b.clients) == 0
	b.mu.RUnlock()
	if empty {
		return
	}

	message := b.encode()
	b.mu.RLock()
	defer b.mu.RUnlock()
	for client := range b.clients {
		b.send(client, message)
	}
}

// send drops the message for clients that are not keeping up
func (b *StatsBroadcaster) send(client *StatsClient, message []byte) {
	if message == nil {
		return
	}
	select {
	case client.Send <- message:
	default:
	}
}

func (b *StatsBroadcaster) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	for client := range b.clients {
		close(client.Send)
	}
	b.clients = make(map[*StatsClient]bool)
	close(b.done)
}
