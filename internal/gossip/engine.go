// Package gossip implements the Gossip Engine: heartbeat emission,
// flood-forwarding of unique gossip datagrams, and peer discovery.
package gossip

import (
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/omnode/omnode/internal/peer"
	"github.com/omnode/omnode/internal/wire"
	"github.com/omnode/omnode/pkg/log"
)

// DefaultFanout is the number of peers a unique gossip message (or
// heartbeat) is forwarded to. Must exceed 1 for mesh healing (spec §4.B).
const DefaultFanout = 3

// DefaultSeenCapacity is the minimum LRU size spec §4.B requires.
const DefaultSeenCapacity = 1024

// DefaultHeartbeatInterval is how often Tick emits a heartbeat.
const DefaultHeartbeatInterval = 60 * time.Second

// Transport sends a raw UDP payload to a peer. Implemented by the Node
// Orchestrator, which owns the socket.
type Transport interface {
	Send(host string, port int, payload []byte) error
}

// Engine is the Gossip Engine. Only the heartbeat timing is guarded by a
// mutex; OnReceive and the Set* methods are not safe for concurrent use,
// and the Node Orchestrator calls every method from its single owning
// goroutine.
type Engine struct {
	selfHost string
	selfPort int
	selfKey  string

	table     *peer.Table
	transport Transport
	logger    log.Logger
	metrics   *Metrics

	fanout            int
	heartbeatInterval time.Duration

	seen *seenSet

	mu            sync.Mutex
	lastHeartbeat time.Time
}

// NewEngine constructs a Gossip Engine bound to this node's own UDP
// endpoint.
func NewEngine(selfHost string, selfPort int, table *peer.Table, transport Transport, logger log.Logger, metrics *Metrics) *Engine {
	return &Engine{
		selfHost:          selfHost,
		selfPort:          selfPort,
		selfKey:           peer.Key(selfHost, selfPort),
		table:             table,
		transport:         transport,
		logger:            logger,
		metrics:           metrics,
		fanout:            DefaultFanout,
		heartbeatInterval: DefaultHeartbeatInterval,
		seen:              newSeenSet(DefaultSeenCapacity),
	}
}

// SetFanout overrides the number of peers a unique gossip message is
// forwarded to. Intended to be called once, right after construction, from
// the Node Orchestrator's configured gossip.fanout.
func (e *Engine) SetFanout(fanout int) {
	e.fanout = fanout
}

// SetHeartbeatInterval overrides how often Tick emits a heartbeat.
func (e *Engine) SetHeartbeatInterval(interval time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.heartbeatInterval = interval
}

// SetSeenCapacity overrides the duplicate-suppression LRU's capacity.
func (e *Engine) SetSeenCapacity(capacity int) {
	e.seen = newSeenSet(capacity)
}

// OnReceive handles an inbound gossip datagram from senderHost/senderPort
// (the immediate UDP source, which may differ from msg.Host/msg.Port once
// the message has been relayed).
func (e *Engine) OnReceive(msg *wire.Gossip, senderHost string, senderPort int, now time.Time) {
	senderKey := peer.Key(senderHost, senderPort)

	if !e.seen.Add(msg.ID) {
		e.metrics.Duplicate.Inc()
		return
	}

	announcerKey := peer.Key(msg.Host, msg.Port)
	// This node's own heartbeat relayed back to it is never stored in the
	// Peer Table.
	isNew := announcerKey != e.selfKey && e.table.Observe(msg.Host, msg.Port, now)

	exclude := make(map[string]struct{}, len(msg.Path)+2)
	exclude[senderKey] = struct{}{}
	exclude[e.selfKey] = struct{}{}
	for _, p := range msg.Path {
		exclude[p] = struct{}{}
	}

	targets := e.table.RandomSubset(e.fanout, exclude)
	if len(targets) > 0 {
		path := appendPath(msg.Path, e.selfKey)
		for _, t := range targets {
			fwd := &wire.Gossip{ID: msg.ID, Host: msg.Host, Port: msg.Port, Path: path}
			e.sendTo(fwd, t.Host, t.Port)
			e.metrics.Forwarded.Inc()
		}
	}

	if isNew && announcerKey != e.selfKey {
		e.replyDirect(msg.Host, msg.Port)
		e.metrics.RepliesNew.Inc()
	}
}

// replyDirect sends a fresh heartbeat straight to host:port, used to speed
// up convergence when that peer was previously unknown (SPEC_FULL
// supplement: gossip reply-on-new-peer).
func (e *Engine) replyDirect(host string, port int) {
	msg := &wire.Gossip{ID: e.newID(), Host: e.selfHost, Port: e.selfPort}
	e.sendTo(msg, host, port)
}

// Tick fires a heartbeat if the heartbeat interval has elapsed since the
// last one. Intended to be called at the 1s granularity the Node
// Orchestrator drives its whole event loop at (spec §4.F).
func (e *Engine) Tick(now time.Time) {
	e.mu.Lock()
	due := now.Sub(e.lastHeartbeat) >= e.heartbeatInterval
	e.mu.Unlock()

	if due {
		e.Heartbeat(now)
	}
}

// Heartbeat immediately emits a fresh heartbeat to up to fanout known
// peers, with an empty path.
func (e *Engine) Heartbeat(now time.Time) {
	e.mu.Lock()
	e.lastHeartbeat = now
	e.mu.Unlock()

	targets := e.table.RandomSubset(e.fanout, map[string]struct{}{e.selfKey: {}})
	e.announce(targets)
}

// AnnounceTo sends an immediate heartbeat to every given peer, regardless
// of fanout. Used at startup to reach the bootstrap list before any
// gossip has arrived (SPEC_FULL supplement: bootstrap announce-to-well-known).
func (e *Engine) AnnounceTo(now time.Time, targets []peer.Peer) {
	e.mu.Lock()
	e.lastHeartbeat = now
	e.mu.Unlock()

	e.announce(targets)
}

func (e *Engine) announce(targets []peer.Peer) {
	msg := &wire.Gossip{ID: e.newID(), Host: e.selfHost, Port: e.selfPort}
	for _, t := range targets {
		e.sendTo(msg, t.Host, t.Port)
		e.metrics.Sent.Inc()
	}
}

func (e *Engine) sendTo(msg *wire.Gossip, host string, port int) {
	payload, err := wire.EncodeGossip(msg)
	if err != nil {
		e.logger.Warn("encode gossip", zap.Error(err))
		return
	}
	if len(payload) > wire.MaxDatagramSize {
		e.logger.Warn("gossip payload exceeds datagram budget")
	}
	if err := e.transport.Send(host, port, payload); err != nil {
		e.logger.Warn("send gossip", zap.Error(err))
	}
}

func (e *Engine) newID() string {
	return e.selfKey + ":" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

func appendPath(path []string, key string) []string {
	out := make([]string, 0, len(path)+1)
	out = append(out, path...)
	out = append(out, key)
	return out
}
