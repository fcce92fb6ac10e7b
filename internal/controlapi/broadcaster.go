// Broadcaster fans completed scan results out to connected control-plane
// clients. Adapted from internal/server/websocket.Broadcaster, repointed
// from dashboard alerts to inspector.ScanResult events.
package controlapi

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/hollows-hunter/agent/internal/inspector"
)

// ScanEventData is the structured payload sent to control-plane clients as
// part of a ScanEvent envelope.
type ScanEventData struct {
	Pid        uint32 `json:"pid"`
	ImageName  string `json:"image_name"`
	Suspicious bool   `json:"suspicious"`
}

// ScanEvent is the top-level JSON envelope pushed to control-plane clients.
// Type is always "scan_result".
type ScanEvent struct {
	Type string        `json:"type"`
	Data ScanEventData `json:"data"`
}

// Client represents a single connected control-plane client.
type Client struct {
	id      string
	send    chan []byte
	Dropped atomic.Int64
}

// ID returns the client's unique identifier.
func (c *Client) ID() string { return c.id }

// Send returns a receive-only channel on which JSON-encoded scan event
// frames are delivered. The channel is closed when the client is
// unregistered.
func (c *Client) Send() <-chan []byte { return c.send }

// Broadcaster fans scan results out to all currently-connected
// control-plane clients (Register/Unregister/Broadcast) and to all
// anonymous channel subscribers (Subscribe/Unsubscribe/Publish). Safe for
// concurrent use.
type Broadcaster struct {
	clients   sync.Map // map[string]*Client
	clientCnt atomic.Int64

	subs sync.Map // map[<-chan inspector.ScanResult]chan inspector.ScanResult

	bufSize int
	logger  *slog.Logger

	closed    atomic.Bool
	closeOnce sync.Once
}

// NewBroadcaster creates a Broadcaster. bufSize is the per-client and
// per-subscriber channel buffer depth; pass 0 to use the default of 64.
func NewBroadcaster(logger *slog.Logger, bufSize int) *Broadcaster {
	if bufSize <= 0 {
		bufSize = 64
	}
	return &Broadcaster{bufSize: bufSize, logger: logger}
}

// Register creates a new Client with the given id and returns it. The
// caller must call Unregister(id) when the client disconnects.
func (b *Broadcaster) Register(id string) *Client {
	c := &Client{id: id, send: make(chan []byte, b.bufSize)}
	if b.closed.Load() {
		close(c.send)
		return c
	}
	b.clients.Store(id, c)
	b.clientCnt.Add(1)
	return c
}

// Unregister removes the client with id and closes its Send channel.
// Calling Unregister with an unknown id is a no-op.
func (b *Broadcaster) Unregister(id string) {
	if v, loaded := b.clients.LoadAndDelete(id); loaded {
		close(v.(*Client).send)
		b.clientCnt.Add(-1)
	}
}

// ClientCount returns the number of currently registered clients.
func (b *Broadcaster) ClientCount() int {
	return int(b.clientCnt.Load())
}

// Broadcast marshals msg to JSON and delivers it to every registered client
// using a non-blocking send. A full buffer drops the message and increments
// the client's Dropped counter.
func (b *Broadcaster) Broadcast(msg ScanEvent) {
	if b.closed.Load() {
		return
	}

	raw, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("controlapi broadcaster: marshal failed", slog.Any("error", err))
		return
	}

	b.clients.Range(func(_, v any) bool {
		c := v.(*Client)
		select {
		case c.send <- raw:
		default:
			c.Dropped.Add(1)
			b.logger.Warn("controlapi broadcaster: client buffer full, dropping scan event",
				slog.String("client_id", c.id),
			)
		}
		return true
	})
}

// Subscribe registers an anonymous subscriber and returns a channel on
// which inspector.ScanResult values will be delivered. The channel is
// closed when ctx is cancelled or Close is called.
func (b *Broadcaster) Subscribe(ctx context.Context) <-chan inspector.ScanResult {
	ch := make(chan inspector.ScanResult, b.bufSize)
	if b.closed.Load() {
		close(ch)
		return ch
	}
	b.subs.Store(ch, ch)

	if ctx != nil {
		go func() {
			<-ctx.Done()
			b.Unsubscribe(ch)
		}()
	}

	return ch
}

// Unsubscribe removes the subscription associated with ch and closes it.
// Safe to call after the broadcaster has been closed.
func (b *Broadcaster) Unsubscribe(ch <-chan inspector.ScanResult) {
	if actual, loaded := b.subs.LoadAndDelete(ch); loaded {
		close(actual.(chan inspector.ScanResult))
	}
}

// Publish delivers res to every anonymous subscriber and broadcasts the
// equivalent ScanEvent to every registered client.
func (b *Broadcaster) Publish(res inspector.ScanResult) {
	if b.closed.Load() {
		return
	}

	b.subs.Range(func(key, value any) bool {
		ch := value.(chan inspector.ScanResult)
		select {
		case ch <- res:
		default:
			b.logger.Warn("controlapi broadcaster: subscriber buffer full, dropping scan event",
				slog.Int("pid", int(res.Pid)),
			)
		}
		return true
	})

	b.Broadcast(ScanEvent{
		Type: "scan_result",
		Data: ScanEventData{
			Pid:        uint32(res.Pid),
			ImageName:  res.ImageName,
			Suspicious: res.Finding.Suspicious,
		},
	})
}

// Close removes all subscriptions and registered clients, closing every
// channel. After Close returns, Publish and Broadcast are no-ops and
// Subscribe returns a closed channel.
func (b *Broadcaster) Close() {
	b.closeOnce.Do(func() {
		b.closed.Store(true)

		b.subs.Range(func(key, value any) bool {
			b.subs.Delete(key)
			close(value.(chan inspector.ScanResult))
			return true
		})

		b.clients.Range(func(key, value any) bool {
			b.clients.Delete(key)
			c := value.(*Client)
			close(c.send)
			b.clientCnt.Add(-1)
			return true
		})
	})
}
