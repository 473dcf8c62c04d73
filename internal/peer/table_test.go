package peer_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/omnode/omnode/internal/peer"
)

func TestObserveIdempotent(t *testing.T) {
	table := peer.NewTable()
	now := time.Now()

	isNew := table.Observe("127.0.0.1", 7000, now)
	assert.True(t, isNew)

	later := now.Add(5 * time.Second)
	isNew = table.Observe("127.0.0.1", 7000, later)
	assert.False(t, isNew)

	p, ok := table.Get(peer.Key("127.0.0.1", 7000))
	assert.True(t, ok)
	assert.Equal(t, later, p.LastHeard)
	assert.Equal(t, 1, table.Len())
}

func TestPruneRemovesStalePeers(t *testing.T) {
	table := peer.NewTable()
	now := time.Now()
	table.Observe("127.0.0.1", 7000, now.Add(-200*time.Second))
	table.Observe("127.0.0.1", 7001, now)

	removed := table.Prune(now, 120*time.Second)
	assert.Equal(t, []string{peer.Key("127.0.0.1", 7000)}, removed)
	assert.Equal(t, 1, table.Len())
}

func TestRandomSubsetExcludesAndBounds(t *testing.T) {
	table := peer.NewTable()
	now := time.Now()
	for i := 0; i < 5; i++ {
		table.Observe("127.0.0.1", 7000+i, now)
	}

	exclude := map[string]struct{}{peer.Key("127.0.0.1", 7000): {}}
	subset := table.RandomSubset(3, exclude)
	assert.Len(t, subset, 3)
	for _, p := range subset {
		assert.NotEqual(t, peer.Key("127.0.0.1", 7000), p.Key)
	}
}

func TestSnapshotIsPointInTime(t *testing.T) {
	table := peer.NewTable()
	now := time.Now()
	table.Observe("127.0.0.1", 7000, now)

	snap := table.Snapshot()
	table.Observe("127.0.0.1", 7001, now)

	assert.Len(t, snap, 1)
	assert.Equal(t, 2, table.Len())
}
