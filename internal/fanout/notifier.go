// ABOUTME: Best-effort event fanout to every live connection of a channel or user
// ABOUTME: Keyed worker queues keep per-target order while never blocking the caller

package fanout

import (
	"encoding/json"
	"hash/fnv"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/2389/chathub/internal/presence"
)

const (
	// DefaultWorkers is the number of delivery workers when none is configured.
	DefaultWorkers = 16
	// DefaultQueueSize is the per-worker job buffer when none is configured.
	DefaultQueueSize = 1024
)

// Transport pushes an encoded frame to a single live connection.
type Transport interface {
	SendToConnection(connID string, frame []byte) error
}

// Presence is the registry view the notifier needs to resolve recipients.
type Presence interface {
	MembersOf(channelID string) []string
	ConnectionsOf(userID string) []string
}

// Frame is the wire shape of every pushed event.
type Frame struct {
	Event string `json:"event"`
	Data  any    `json:"data"`
}

type job struct {
	target string
	event  string
	frame  []byte
	conns  []string
}

// Notifier delivers events asynchronously. Jobs for the same target always land
// on the same worker, so two events sent to one channel arrive in call order.
// Delivery may silently fail per recipient; failures are logged, never returned.
type Notifier struct {
	presence  Presence
	transport Transport
	logger    *slog.Logger

	mu     sync.RWMutex // guards queues against Close
	queues []chan job
	closed bool
	wg     sync.WaitGroup

	dropped atomic.Uint64
}

// NewNotifier starts the delivery workers. Call Close to stop them.
func NewNotifier(p Presence, t Transport, workers, queueSize int, logger *slog.Logger) *Notifier {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	if queueSize <= 0 {
		queueSize = DefaultQueueSize
	}
	if logger == nil {
		logger = slog.Default()
	}

	n := &Notifier{
		presence:  p,
		transport: t,
		logger:    logger.With("component", "fanout"),
		queues:    make([]chan job, workers),
	}
	for i := range n.queues {
		n.queues[i] = make(chan job, queueSize)
		n.wg.Add(1)
		go n.worker(n.queues[i])
	}
	return n
}

// ToChannel sends the event to every connection of every user present in the
// channel, skipping the excluded user ids. Recipients are resolved now, not at
// delivery time.
func (n *Notifier) ToChannel(channelID, event string, payload any, exclude ...string) {
	var conns []string
	for _, userID := range n.presence.MembersOf(channelID) {
		if slices.Contains(exclude, userID) {
			continue
		}
		conns = append(conns, n.presence.ConnectionsOf(userID)...)
	}
	n.enqueue(channelID, event, payload, conns)
}

// ToUser sends the event to every live connection of the user. It shares
// ordering with ToChannel on the user's personal channel.
func (n *Notifier) ToUser(userID, event string, payload any) {
	n.enqueue(presence.UserChannel(userID), event, payload, n.presence.ConnectionsOf(userID))
}

// Dropped returns how many jobs were discarded because a worker queue was full.
func (n *Notifier) Dropped() uint64 {
	return n.dropped.Load()
}

func (n *Notifier) enqueue(target, event string, payload any, conns []string) {
	if len(conns) == 0 {
		return
	}

	frame, err := json.Marshal(Frame{Event: event, Data: payload})
	if err != nil {
		n.logger.Error("failed to encode event", "event", event, "target", target, "error", err)
		return
	}

	n.mu.RLock()
	defer n.mu.RUnlock()
	if n.closed {
		n.logger.Debug("notifier closed, dropping event", "event", event, "target", target)
		return
	}

	q := n.queues[workerIndex(target, len(n.queues))]
	select {
	case q <- job{target: target, event: event, frame: frame, conns: conns}:
	default:
		n.dropped.Add(1)
		n.logger.Warn("fanout queue full, dropping event",
			"event", event,
			"target", target,
			"recipients", len(conns))
	}
}

func (n *Notifier) worker(q <-chan job) {
	defer n.wg.Done()
	for j := range q {
		for _, connID := range j.conns {
			if err := n.transport.SendToConnection(connID, j.frame); err != nil {
				n.logger.Debug("delivery failed",
					"event", j.event,
					"target", j.target,
					"conn_id", connID,
					"error", err)
			}
		}
	}
}

// Close stops accepting events, delivers what is already queued, and waits
// for the workers to exit.
func (n *Notifier) Close() {
	n.mu.Lock()
	if n.closed {
		n.mu.Unlock()
		return
	}
	n.closed = true
	for _, q := range n.queues {
		close(q)
	}
	n.mu.Unlock()

	n.wg.Wait()
	n.logger.Debug("notifier closed", "dropped", n.dropped.Load())
}

func workerIndex(key string, n int) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}
