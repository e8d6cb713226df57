// Package bridge delivers agent events to connected views and dispatches the
// requests views send back. Delivery is at most once: a client whose send fails
// is dropped and never retried.
package bridge

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// Client is one connected view.
type Client interface {
	ID() string
	Send(ctx context.Context, msg Message) error
	Close() error
}

// Handler answers one inbound message type. from is the client that sent it.
type Handler func(ctx context.Context, from Client, msg Message)

type Logger interface {
	Printf(format string, args ...any)
}

type Options struct {
	Metrics     *Metrics
	Logger      Logger
	SendTimeout time.Duration
	// OriginPatterns is passed to the websocket handshake. Empty means same
	// host only.
	OriginPatterns []string
	Now            func() time.Time
}

type Bridge struct {
	metrics        *Metrics
	logger         Logger
	sendTimeout    time.Duration
	originPatterns []string
	now            func() time.Time

	mu       sync.RWMutex
	clients  map[string]Client
	handlers map[string]Handler
}

func New(opts Options) *Bridge {
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 5 * time.Second
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	b := &Bridge{
		metrics:        opts.Metrics,
		logger:         opts.Logger,
		sendTimeout:    opts.SendTimeout,
		originPatterns: append([]string(nil), opts.OriginPatterns...),
		now:            opts.Now,
		clients:        map[string]Client{},
		handlers:       map[string]Handler{},
	}
	b.Handle(TypeGetMetrics, b.replyMetrics)
	return b
}

// Register adds c to the broadcast set. The returned func removes it again.
func (b *Bridge) Register(c Client) func() {
	b.mu.Lock()
	b.clients[c.ID()] = c
	b.mu.Unlock()
	return func() { b.remove(c.ID()) }
}

func (b *Bridge) remove(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.clients[id]
	delete(b.clients, id)
	return ok
}

func (b *Bridge) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}

func (b *Bridge) snapshotClients() []Client {
	b.mu.RLock()
	clients := make([]Client, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	b.mu.RUnlock()
	sort.Slice(clients, func(i, j int) bool { return clients[i].ID() < clients[j].ID() })
	return clients
}

// Broadcast sends msg to every registered client and returns how many received
// it. Clients whose send fails are dropped.
func (b *Bridge) Broadcast(ctx context.Context, msg Message) int {
	delivered := 0
	for _, c := range b.snapshotClients() {
		if b.deliver(ctx, c, msg) {
			delivered++
		}
	}
	return delivered
}

func (b *Bridge) deliver(ctx context.Context, c Client, msg Message) bool {
	ctx, cancel := context.WithTimeout(ctx, b.sendTimeout)
	defer cancel()
	if err := c.Send(ctx, msg); err != nil {
		if b.remove(c.ID()) {
			b.metrics.clientDropped()
			b.logf("dropping client %s after failed %s delivery: %v", c.ID(), msg.Type, err)
			_ = c.Close()
		}
		return false
	}
	b.metrics.messageSent()
	return true
}

// Claim announces that this agent generation now controls every open view.
func (b *Bridge) Claim(ctx context.Context, version string) int {
	return b.Broadcast(ctx, ClientsClaimed(version, b.now()))
}

// Handle installs h for inbound messages of msgType, replacing any previous
// handler.
func (b *Bridge) Handle(msgType string, h Handler) {
	msgType = strings.ToUpper(strings.TrimSpace(msgType))
	b.mu.Lock()
	defer b.mu.Unlock()
	if h == nil {
		delete(b.handlers, msgType)
		return
	}
	b.handlers[msgType] = h
}

// Dispatch routes an inbound message. Unknown types are ignored.
func (b *Bridge) Dispatch(ctx context.Context, from Client, msg Message) {
	b.mu.RLock()
	h, ok := b.handlers[strings.ToUpper(strings.TrimSpace(msg.Type))]
	b.mu.RUnlock()
	if !ok {
		b.logf("ignoring unknown message type %q", msg.Type)
		return
	}
	h(ctx, from, msg)
}

// Reply sends msg to a single client, dropping it on failure.
func (b *Bridge) Reply(ctx context.Context, to Client, msg Message) bool {
	if to == nil {
		return false
	}
	return b.deliver(ctx, to, msg)
}

func (b *Bridge) replyMetrics(ctx context.Context, from Client, _ Message) {
	b.Reply(ctx, from, Message{
		Type:      TypeMetrics,
		Timestamp: formatTime(b.now()),
		Payload:   b.metrics.Snapshot(b.now()),
	})
}

// Close disconnects every client.
func (b *Bridge) Close() {
	for _, c := range b.snapshotClients() {
		b.remove(c.ID())
		_ = c.Close()
	}
}

func (b *Bridge) logf(format string, args ...any) {
	if b.logger != nil {
		b.logger.Printf(format, args...)
	}
}
