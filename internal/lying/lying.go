// Package lying implements the process-wide Lying Policy: a percentage
// chance of substituting a deterministic alternate word whenever this
// node emits a consensus value.
package lying

import (
	"math/rand"
	"sync"
	"time"

	"go.uber.org/atomic"
)

// substituteChar replaces a value's first character when this node
// decides to lie. Fixed at build time; every node in a deployment must
// agree on it (spec §6).
const substituteChar = '!'

// Policy holds the current lie percentage and decides, independently per
// call, whether to substitute the outbound value.
type Policy struct {
	percent *atomic.Int64

	mu   sync.Mutex
	rand *rand.Rand
}

// NewPolicy constructs a truthful (0%) policy seeded non-deterministically,
// per spec §5's "random source ... MUST be seeded non-deterministically".
func NewPolicy() *Policy {
	return &Policy{
		percent: atomic.NewInt64(0),
		rand:    rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// SetPercent sets the lie probability, clamped to [0, 100].
func (p *Policy) SetPercent(percent int) {
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}
	p.percent.Store(int64(percent))
}

// Percent returns the current lie probability.
func (p *Policy) Percent() int {
	return int(p.percent.Load())
}

// Choose independently decides whether to lie about value, returning the
// (possibly substituted) word to emit. Lying is applied at emission only;
// callers must never apply it to values being recorded on receipt.
func (p *Policy) Choose(value string) string {
	percent := p.percent.Load()
	if percent <= 0 {
		return value
	}
	if percent >= 100 {
		return lie(value)
	}

	p.mu.Lock()
	roll := p.rand.Int63n(100)
	p.mu.Unlock()

	if roll < percent {
		return lie(value)
	}
	return value
}

func lie(value string) string {
	if value == "" {
		return value
	}
	return string(substituteChar) + value[1:]
}
