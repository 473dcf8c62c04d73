package consensus_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnode/omnode/internal/consensus"
	"github.com/omnode/omnode/internal/database"
	"github.com/omnode/omnode/internal/lying"
	"github.com/omnode/omnode/internal/peer"
	"github.com/omnode/omnode/internal/wire"
	"github.com/omnode/omnode/pkg/log"
)

// node bundles an Engine with the state a two-node test needs to route
// datagrams between engines without a real socket.
type node struct {
	host    string
	port    int
	key     string
	table   *peer.Table
	db      *database.Database
	engine  *consensus.Engine
	inbox   *router
}

// router hands a node's outbound sends to whichever peer engine is
// listening at that host:port, synchronously, recording every send.
type router struct {
	nodes map[string]*node
	sent  []routedPacket
}

type routedPacket struct {
	fromKey string
	toHost  string
	toPort  int
	msg     *wire.Consensus
}

type transport struct {
	from   *node
	router *router
}

func (t *transport) Send(host string, port int, payload []byte) error {
	decoded, err := wire.Decode(payload)
	if err != nil {
		return err
	}
	t.router.sent = append(t.router.sent, routedPacket{fromKey: t.from.key, toHost: host, toPort: port, msg: decoded.Consensus})

	to, ok := t.router.nodes[peer.Key(host, port)]
	if !ok {
		return nil
	}

	now := time.Now()
	switch decoded.Consensus.Kind {
	case wire.KindForward:
		to.engine.OnForward(decoded.Consensus, t.from.key, now)
	case wire.KindReport:
		to.engine.OnReport(decoded.Consensus, t.from.key, now)
	}
	return nil
}

func newNode(r *router, host string, port int) *node {
	n := &node{host: host, port: port, key: peer.Key(host, port), table: peer.NewTable(), db: database.New()}
	n.engine = consensus.NewEngine(host, port, n.table, n.db, lying.NewPolicy(), &transport{from: n, router: r}, log.NewNopLogger(), consensus.NewMetrics(nil))
	r.nodes[n.key] = n
	return n
}

func TestStartRootZeroPeersResolvesImmediately(t *testing.T) {
	r := &router{nodes: map[string]*node{}}
	a := newNode(r, "127.0.0.1", 7000)

	id, err := a.engine.StartRoot(2, "apple", time.Now())
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	snap := a.db.Snapshot()
	assert.Equal(t, "apple", snap[2])
}

func TestStartRootRejectsBadIndex(t *testing.T) {
	r := &router{nodes: map[string]*node{}}
	a := newNode(r, "127.0.0.1", 7000)

	_, err := a.engine.StartRoot(5, "foo", time.Now())
	assert.Error(t, err)
}

func TestTwoHonestNodesConverge(t *testing.T) {
	r := &router{nodes: map[string]*node{}}
	a := newNode(r, "127.0.0.1", 7000)
	b := newNode(r, "127.0.0.1", 7001)

	now := time.Now()
	a.table.Observe(b.host, b.port, now)
	b.table.Observe(a.host, a.port, now)

	_, err := a.engine.StartRoot(0, "hello", now)
	require.NoError(t, err)

	assert.Equal(t, "hello", a.db.Snapshot()[0])
	assert.Equal(t, "hello", b.db.Snapshot()[0])
}

func TestLyingPeerDoesNotFlipHonestMajority(t *testing.T) {
	r := &router{nodes: map[string]*node{}}
	a := newNode(r, "127.0.0.1", 7000)
	b := newNode(r, "127.0.0.1", 7001)
	c := newNode(r, "127.0.0.1", 7002)

	now := time.Now()
	// b and c each only know a (not each other), so regardless of a's own
	// om, each lieutenant's own recursion target set is empty and each
	// reports its own direct vote straight back to a.
	for _, pair := range [][2]*node{{a, b}, {a, c}} {
		pair[0].table.Observe(pair[1].host, pair[1].port, now)
		pair[1].table.Observe(pair[0].host, pair[0].port, now)
	}

	cLying := lying.NewPolicy()
	cLying.SetPercent(100)
	c.engine = consensus.NewEngine(c.host, c.port, c.table, c.db, cLying, &transport{from: c, router: r}, log.NewNopLogger(), consensus.NewMetrics(nil))
	r.nodes[c.key] = c

	_, err := a.engine.StartRoot(1, "sky", now)
	require.NoError(t, err)

	assert.Equal(t, "sky", a.db.Snapshot()[1])
	assert.Equal(t, "sky", b.db.Snapshot()[1])
}

// TestStartRootOMCountsSelfAsAPeer covers spec §8 S6: four peered nodes,
// each with three other peers in its table, must compute om=3 — the peer
// count fed into the spec's om formula includes the node itself, since
// peer.Table never stores an entry for self.
func TestStartRootOMCountsSelfAsAPeer(t *testing.T) {
	r := &router{nodes: map[string]*node{}}
	nodes := []*node{
		newNode(r, "127.0.0.1", 7000),
		newNode(r, "127.0.0.1", 7001),
		newNode(r, "127.0.0.1", 7002),
		newNode(r, "127.0.0.1", 7003),
	}

	now := time.Now()
	for _, a := range nodes {
		for _, b := range nodes {
			if a != b {
				a.table.Observe(b.host, b.port, now)
			}
		}
	}

	_, err := nodes[0].engine.StartRoot(2, "consensus", now)
	require.NoError(t, err)

	forwardsFromRoot := 0
	for _, p := range r.sent {
		if p.fromKey == nodes[0].key && p.msg.Kind == wire.KindForward && p.msg.ParentID == "" {
			assert.Equal(t, 3, p.msg.OM)
			forwardsFromRoot++
		}
	}
	assert.Equal(t, 3, forwardsFromRoot)
}

func TestSweepForceResolvesExpiredRoundWithDefault(t *testing.T) {
	r := &router{nodes: map[string]*node{}}
	a := newNode(r, "127.0.0.1", 7000)

	now := time.Now()
	// a knows about a peer that never answers (not registered in the
	// router), simulating a datagram that is silently lost.
	a.table.Observe("127.0.0.1", 9999, now)

	_, err := a.engine.StartRoot(3, "tree", now)
	require.NoError(t, err)
	assert.Equal(t, "word3", a.db.Snapshot()[3], "round should not resolve before the deadline")

	future := now.Add(10 * time.Minute)
	a.engine.Sweep(future)
	assert.Equal(t, consensus.DefaultSentinel, a.db.Snapshot()[3], "own vote and one defaulted child tie 1-1, so the tie-break yields the default sentinel")
}

func TestDuplicateForwardIsIgnored(t *testing.T) {
	r := &router{nodes: map[string]*node{}}
	a := newNode(r, "127.0.0.1", 7000)
	b := newNode(r, "127.0.0.1", 7001)
	now := time.Now()

	fwd := &wire.Consensus{Kind: wire.KindForward, ID: "a:1:dup", ParentID: "", OM: 0, Index: 0, Value: "x", Origin: a.key, Path: []string{a.key}}
	b.engine.OnForward(fwd, a.key, now)
	before := b.engine.PendingRounds()
	b.engine.OnForward(fwd, a.key, now)
	assert.Equal(t, before, b.engine.PendingRounds())
}

func TestSelfInPathIsDropped(t *testing.T) {
	r := &router{nodes: map[string]*node{}}
	b := newNode(r, "127.0.0.1", 7001)
	now := time.Now()

	fwd := &wire.Consensus{Kind: wire.KindForward, ID: "a:1:loop", ParentID: "", OM: 1, Index: 0, Value: "x", Origin: "x:1", Path: []string{b.key}}
	b.engine.OnForward(fwd, "x:1", now)
	assert.Equal(t, 0, b.engine.PendingRounds())
}
