// Package consensus implements the recursive OM (Oral Messages) protocol:
// the Consensus State (component C, the round tree bookkeeping) and the
// Consensus Engine (component D, round lifecycle and reporting).
package consensus

import "time"

// DefaultSentinel is the fixed value substituted for a child that has not
// reported by its round's deadline, and the tie-break output when no
// strict majority exists. Fixed at build time per spec §6; every node in
// a deployment must agree on it.
const DefaultSentinel = "?"

// childVote records whether a peer has reported for a round, and what.
type childVote struct {
	reported bool
	value    string
}

// round is an entry in the Consensus State, keyed by id.
//
// Two shapes share this struct. A "participant" round (hasOwnVote=true)
// is one this node itself received a forward for (or originated as root):
// it carries its own valueReceived and reports upward via replyTo when
// resolved. A "relay" round (hasOwnVote=false) is bookkeeping this node
// created for exactly one recipient when fanning a participant round's
// forward out further down the tree; resolving a relay round never sends
// a network message, it folds its single child's result directly into
// parentID's children map.
type round struct {
	id       string
	parentID string // "" for the true root and for a peer's round of the root's own forward
	om       int
	index    int
	origin   string
	path     []string

	replyTo    string // peerKey to report to when resolved; "" for root and relays
	hasOwnVote bool
	value      string // valueReceived: this node's own vote at this level, never lied

	children map[string]*childVote

	deadline   time.Time
	resolved   bool
	resolvedAt time.Time
	result     string
}

func (r *round) allReported() bool {
	for _, c := range r.children {
		if !c.reported {
			return false
		}
	}
	return true
}

// State is the Consensus State: the map of in-flight (and briefly
// retained, resolved) rounds on this node.
type State struct {
	rounds map[string]*round
}

// NewState constructs an empty Consensus State.
func NewState() *State {
	return &State{rounds: make(map[string]*round)}
}

func (s *State) addRound(r *round) {
	s.rounds[r.id] = r
}

func (s *State) findRound(id string) (*round, bool) {
	r, ok := s.rounds[id]
	return r, ok
}

// Len reports the number of rounds currently tracked (participant and
// relay, resolved and unresolved) — used by the admin status surface.
func (s *State) Len() int {
	return len(s.rounds)
}

// gcGrace is how long a resolved round is retained after resolving, as a
// fallback in case its parent's resolution is itself lost to message
// drop (invariant 4: "retained until parent resolves or deadline elapses,
// then garbage-collected").
const gcGrace = 30 * time.Second

// sweepExpired resolves any unresolved round whose deadline has passed,
// substituting DefaultSentinel for every outstanding child, and then
// garbage-collects rounds that resolved more than gcGrace ago. Returns the
// ids force-resolved by deadline, for logging/metrics.
func (s *State) sweepExpired(now time.Time, onResolve func(r *round)) []string {
	var expired []string
	for id, r := range s.rounds {
		if !r.resolved && now.After(r.deadline) {
			for key, c := range r.children {
				if !c.reported {
					r.children[key] = &childVote{reported: true, value: DefaultSentinel}
				}
			}
			onResolve(r)
			expired = append(expired, id)
		}
	}
	for id, r := range s.rounds {
		if r.resolved && now.Sub(r.resolvedAt) > gcGrace {
			delete(s.rounds, id)
		}
	}
	return expired
}
