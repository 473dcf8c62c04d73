// Package peer holds the Peer Table: the set of known gossip endpoints
// and their last-heard timestamps.
package peer

import (
	"fmt"
	"math/rand"
	"net"
	"strconv"
	"sync"
	"time"
)

// Peer is a known endpoint in the mesh.
type Peer struct {
	Key       string
	Host      string
	Port      int
	LastHeard time.Time
}

// Key renders the canonical "host:port" identity string for an endpoint.
// Host is expected to already be a resolved IP literal.
func Key(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Table is the mutex-serialized Peer Table. All operations are safe for
// concurrent use.
type Table struct {
	mu    sync.Mutex
	peers map[string]*Peer
	rand  *rand.Rand
}

// NewTable constructs an empty Peer Table.
func NewTable() *Table {
	return &Table{
		peers: make(map[string]*Peer),
		rand:  rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Observe records a sighting of a peer, creating it if unknown. It is
// idempotent with respect to identity: repeated calls only ever advance
// lastHeard. Returns true if this is the first time the peer was seen.
func (t *Table) Observe(host string, port int, now time.Time) (isNew bool) {
	key := Key(host, port)
	t.mu.Lock()
	defer t.mu.Unlock()

	p, ok := t.peers[key]
	if !ok {
		t.peers[key] = &Peer{Key: key, Host: host, Port: port, LastHeard: now}
		return true
	}
	if now.After(p.LastHeard) {
		p.LastHeard = now
	}
	return false
}

// Get returns a snapshot copy of a single peer, if known.
func (t *Table) Get(key string) (Peer, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.peers[key]
	if !ok {
		return Peer{}, false
	}
	return *p, true
}

// Snapshot returns a consistent point-in-time copy of all known peers.
func (t *Table) Snapshot() []Peer {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Peer, 0, len(t.peers))
	for _, p := range t.peers {
		out = append(out, *p)
	}
	return out
}

// Len reports the number of known peers.
func (t *Table) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.peers)
}

// Prune removes peers whose lastHeard is older than horizon, returning the
// keys removed.
func (t *Table) Prune(now time.Time, horizon time.Duration) []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	var removed []string
	for key, p := range t.peers {
		if now.Sub(p.LastHeard) > horizon {
			delete(t.peers, key)
			removed = append(removed, key)
		}
	}
	return removed
}

// RandomSubset returns up to k peers chosen uniformly at random, excluding
// any peer key present in exclude.
func (t *Table) RandomSubset(k int, exclude map[string]struct{}) []Peer {
	t.mu.Lock()
	defer t.mu.Unlock()

	candidates := make([]Peer, 0, len(t.peers))
	for key, p := range t.peers {
		if _, skip := exclude[key]; skip {
			continue
		}
		candidates = append(candidates, *p)
	}

	shuffle(candidates, t.rand)
	if k >= len(candidates) {
		return candidates
	}
	return candidates[:k]
}

func shuffle(peers []Peer, r *rand.Rand) {
	r.Shuffle(len(peers), func(i, j int) { peers[i], peers[j] = peers[j], peers[i] })
}

// String is used by status/debug output.
func (p Peer) String() string {
	return fmt.Sprintf("%s (last heard %s ago)", p.Key, time.Since(p.LastHeard))
}
