package consensus

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/omnode/omnode/internal/database"
	"github.com/omnode/omnode/internal/lying"
	"github.com/omnode/omnode/internal/peer"
	"github.com/omnode/omnode/internal/wire"
	"github.com/omnode/omnode/pkg/log"
)

// baseRoundTimeout is the `base` in roundTimeout(om) = base * (om + 1),
// spec §4.D.5.
const baseRoundTimeout = 5 * time.Second

// Transport sends a raw UDP payload to a peer. Implemented by the Node
// Orchestrator, which owns the socket.
type Transport interface {
	Send(host string, port int, payload []byte) error
}

// Engine is the Consensus Engine: it starts root rounds, processes
// inbound forwards and reports, resolves rounds, and sweeps deadlines.
type Engine struct {
	selfHost string
	selfPort int
	selfKey  string

	// Engine has no internal locking: every exported method must only
	// ever be called from the Node Orchestrator's single owning
	// goroutine (spec §5's serialization discipline). CLI-injected
	// operations are threaded through that goroutine via a channel
	// rather than calling the engine directly from a CLI session's own
	// goroutine.
	state       *State
	table       *peer.Table
	db          *database.Database
	lying       *lying.Policy
	transport   Transport
	logger      log.Logger
	metrics     *Metrics
	baseTimeout time.Duration
}

// NewEngine constructs a Consensus Engine.
func NewEngine(
	selfHost string,
	selfPort int,
	table *peer.Table,
	db *database.Database,
	lyingPolicy *lying.Policy,
	transport Transport,
	logger log.Logger,
	metrics *Metrics,
) *Engine {
	return &Engine{
		selfHost:    selfHost,
		selfPort:    selfPort,
		selfKey:     peer.Key(selfHost, selfPort),
		state:       NewState(),
		table:       table,
		db:          db,
		lying:       lyingPolicy,
		transport:   transport,
		logger:      logger,
		metrics:     metrics,
		baseTimeout: baseRoundTimeout,
	}
}

// SetBaseTimeout overrides the base round timeout used by roundTimeout.
// Intended to be called once, right after construction, from the Node
// Orchestrator's configured consensus.base-timeout.
func (e *Engine) SetBaseTimeout(d time.Duration) {
	e.baseTimeout = d
}

// PendingRounds reports how many rounds (participant and relay, resolved
// and not-yet-GC'd) this node is currently tracking.
func (e *Engine) PendingRounds() int {
	return e.state.Len()
}

// StartRoot begins a new root round for the given database index and
// proposed word, triggered by the CLI `consensus <index> <word>` command.
func (e *Engine) StartRoot(index int, word string, now time.Time) (string, error) {
	if index < 0 || index >= database.Size {
		return "", fmt.Errorf("index %d out of range [0,%d)", index, database.Size)
	}

	peers := e.table.Snapshot()
	// peer.Table never stores self, so the peer count fed into the spec's
	// formula must add self back in before subtracting one.
	om := omFromPeerCount(len(peers) + 1)
	id := e.newMessageID()

	r := &round{
		id:         id,
		parentID:   "",
		om:         om,
		index:      index,
		origin:     e.selfKey,
		path:       []string{e.selfKey},
		replyTo:    "",
		hasOwnVote: true,
		value:      word,
		children:   make(map[string]*childVote, len(peers)),
		deadline:   now.Add(e.roundTimeout(om)),
	}
	for _, p := range peers {
		r.children[p.Key] = &childVote{}
	}
	e.state.addRound(r)
	e.metrics.RoundsStarted.Inc()

	for _, p := range peers {
		fwd := &wire.Consensus{
			Kind: wire.KindForward, ID: id, ParentID: "", OM: om, Index: index,
			Value: e.lying.Choose(word), Origin: e.selfKey, Path: r.path,
		}
		e.sendForward(fwd, p.Host, p.Port)
	}

	if len(r.children) == 0 {
		e.resolve(r, now)
	}
	return id, nil
}

// OnForward handles an inbound consensus forward from senderKey (the
// immediate UDP source, resolved to a peerKey by the caller).
func (e *Engine) OnForward(msg *wire.Consensus, senderKey string, now time.Time) {
	if containsPath(msg.Path, e.selfKey) {
		return
	}
	if _, exists := e.state.findRound(msg.ID); exists {
		return
	}

	r := &round{
		id:         msg.ID,
		parentID:   msg.ParentID,
		om:         msg.OM,
		index:      msg.Index,
		origin:     msg.Origin,
		path:       msg.Path,
		replyTo:    senderKey,
		hasOwnVote: true,
		value:      msg.Value,
		children:   make(map[string]*childVote),
		deadline:   now.Add(e.roundTimeout(msg.OM)),
	}
	e.state.addRound(r)
	e.metrics.RoundsReceived.Inc()

	visited := make(map[string]struct{}, len(msg.Path)+1)
	for _, p := range msg.Path {
		visited[p] = struct{}{}
	}
	visited[e.selfKey] = struct{}{}

	var targets []peer.Peer
	for _, p := range e.table.Snapshot() {
		if _, skip := visited[p.Key]; !skip {
			targets = append(targets, p)
		}
	}

	if msg.OM == 0 || len(targets) == 0 {
		e.resolve(r, now)
		return
	}

	childPath := appendPath(msg.Path, e.selfKey)
	for _, p := range targets {
		childID := e.newMessageID()
		r.children[p.Key] = &childVote{}

		relay := &round{
			id:         childID,
			parentID:   r.id,
			hasOwnVote: false,
			children:   map[string]*childVote{p.Key: {}},
			deadline:   now.Add(e.roundTimeout(msg.OM - 1)),
		}
		e.state.addRound(relay)

		fwd := &wire.Consensus{
			Kind: wire.KindForward, ID: childID, ParentID: r.id, OM: msg.OM - 1,
			Index: msg.Index, Value: e.lying.Choose(msg.Value), Origin: msg.Origin, Path: childPath,
		}
		e.sendForward(fwd, p.Host, p.Port)
	}
}

// OnReport handles an inbound consensus report from senderKey.
func (e *Engine) OnReport(msg *wire.Consensus, senderKey string, now time.Time) {
	target, ok := e.state.findRound(msg.ParentID)
	if !ok || target.resolved {
		return
	}

	childKey := msg.Reporter
	if childKey == "" {
		childKey = senderKey
	}
	e.recordChild(target, childKey, msg.Value, now)
}

func (e *Engine) recordChild(r *round, childKey, value string, now time.Time) {
	c, exists := r.children[childKey]
	if !exists || c.reported {
		return
	}
	c.reported = true
	c.value = value

	if r.allReported() {
		e.resolve(r, now)
	}
}

// Sweep force-resolves any round past its deadline and garbage-collects
// long-resolved rounds. Intended to be called once per tick (spec §4.D.5).
func (e *Engine) Sweep(now time.Time) {
	expired := e.state.sweepExpired(now, func(r *round) {
		e.resolve(r, now)
	})
	for range expired {
		e.metrics.RoundsExpired.Inc()
	}
}

func (e *Engine) resolve(r *round, now time.Time) {
	if r.resolved {
		return
	}

	candidates := make([]string, 0, len(r.children)+1)
	if r.hasOwnVote {
		candidates = append(candidates, r.value)
	}
	for _, c := range r.children {
		if c.reported {
			candidates = append(candidates, c.value)
		} else {
			candidates = append(candidates, DefaultSentinel)
		}
	}

	r.result = majority(candidates)
	r.resolved = true
	r.resolvedAt = now
	e.metrics.RoundsResolved.Inc()

	if !r.hasOwnVote {
		// Relay: fold the single child's result into the round it was
		// spawned from. Purely local; no network message is ever sent
		// for a relay round.
		parent, ok := e.state.findRound(r.parentID)
		if !ok || parent.resolved {
			return
		}
		var soleChild string
		for key := range r.children {
			soleChild = key
		}
		e.recordChild(parent, soleChild, r.result, now)
		return
	}

	if r.parentID == "" {
		// The root round and each peer's round for the root's own forward
		// carry no parentID: every one of those nodes records its decision.
		if err := e.db.Set(r.index, r.result); err != nil {
			e.logger.Warn("write resolved root value", zap.Error(err))
		}
	}

	if r.replyTo == "" {
		// True root: this node initiated it, nothing to report upward.
		return
	}

	outgoing := e.lying.Choose(r.result)
	e.sendReport(r.id, outgoing, r.replyTo)
}

func (e *Engine) sendForward(msg *wire.Consensus, host string, port int) {
	payload, err := wire.EncodeConsensus(msg)
	if err != nil {
		e.logger.Warn("encode consensus forward", zap.Error(err))
		return
	}
	if len(payload) > wire.MaxDatagramSize {
		e.logger.Warn("consensus forward exceeds datagram budget", zap.Int("bytes", len(payload)))
	}
	if err := e.transport.Send(host, port, payload); err != nil {
		e.logger.Warn("send consensus forward", zap.Error(err))
	}
}

func (e *Engine) sendReport(roundID, value, replyToKey string) {
	p, ok := e.table.Get(replyToKey)
	if !ok {
		e.logger.Warn("report target no longer known", zap.String("peer", replyToKey))
		return
	}

	msg := &wire.Consensus{
		Kind: wire.KindReport, ID: e.newMessageID(), ParentID: roundID,
		Reporter: e.selfKey, Value: value,
	}
	payload, err := wire.EncodeConsensus(msg)
	if err != nil {
		e.logger.Warn("encode consensus report", zap.Error(err))
		return
	}
	if err := e.transport.Send(p.Host, p.Port, payload); err != nil {
		e.logger.Warn("send consensus report", zap.Error(err))
	}
}

func (e *Engine) newMessageID() string {
	return e.selfKey + ":" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// omFromPeerCount implements spec §4.D.1 / §9's chosen OM depth mapping:
// om = max(0, numPeers - 1), where numPeers is self-inclusive (mirroring
// original_source/omnode/consensus.py's peer_count = len({self} | peers)).
func omFromPeerCount(n int) int {
	if n <= 0 {
		return 0
	}
	return n - 1
}

func (e *Engine) roundTimeout(om int) time.Duration {
	return e.baseTimeout * time.Duration(om+1)
}

// majority computes the strict majority of candidates, falling back to
// DefaultSentinel when no value holds more than half the votes (spec
// §4.D.4's tie-break).
func majority(candidates []string) string {
	counts := make(map[string]int, len(candidates))
	for _, v := range candidates {
		counts[v]++
	}
	total := len(candidates)
	for v, c := range counts {
		if c*2 > total {
			return v
		}
	}
	return DefaultSentinel
}

func containsPath(path []string, key string) bool {
	for _, p := range path {
		if p == key {
			return true
		}
	}
	return false
}

func appendPath(path []string, key string) []string {
	out := make([]string, 0, len(path)+1)
	out = append(out, path...)
	out = append(out, key)
	return out
}
