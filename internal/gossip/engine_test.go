package gossip_test

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnode/omnode/internal/gossip"
	"github.com/omnode/omnode/internal/peer"
	"github.com/omnode/omnode/internal/wire"
	"github.com/omnode/omnode/pkg/log"
)

type fakeTransport struct {
	mu   sync.Mutex
	sent []sentPacket
}

type sentPacket struct {
	host string
	port int
	msg  *wire.Gossip
}

func (f *fakeTransport) Send(host string, port int, payload []byte) error {
	decoded, err := wire.Decode(payload)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, sentPacket{host: host, port: port, msg: decoded.Gossip})
	return nil
}

func (f *fakeTransport) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sent)
}

func newTestEngine() (*gossip.Engine, *peer.Table, *fakeTransport) {
	table := peer.NewTable()
	transport := &fakeTransport{}
	metrics := gossip.NewMetrics(nil)
	engine := gossip.NewEngine("127.0.0.1", 7000, table, transport, log.NewNopLogger(), metrics)
	return engine, table, transport
}

func TestOnReceiveForwardsUniqueAndObservesAnnouncer(t *testing.T) {
	engine, table, transport := newTestEngine()
	now := time.Now()

	for i := 0; i < 5; i++ {
		table.Observe("127.0.0.1", 8000+i, now)
	}

	msg := &wire.Gossip{ID: "x:1:abc", Host: "127.0.0.1", Port: 9000}
	engine.OnReceive(msg, "127.0.0.1", 8000, now)

	require.True(t, transport.count() > 0)
	assert.LessOrEqual(t, transport.count(), gossip.DefaultFanout+1)

	_, ok := table.Get(peer.Key("127.0.0.1", 9000))
	assert.True(t, ok, "announcer should be observed")
}

func TestOnReceiveDuplicateDoesNotReforward(t *testing.T) {
	engine, table, transport := newTestEngine()
	now := time.Now()
	for i := 0; i < 5; i++ {
		table.Observe("127.0.0.1", 8000+i, now)
	}

	msg := &wire.Gossip{ID: "x:1:dup", Host: "127.0.0.1", Port: 9000}
	engine.OnReceive(msg, "127.0.0.1", 8000, now)
	first := transport.count()

	engine.OnReceive(msg, "127.0.0.1", 8000, now)
	assert.Equal(t, first, transport.count())
}

func TestOnReceiveRepliesDirectlyToUnknownAnnouncer(t *testing.T) {
	engine, _, transport := newTestEngine()
	now := time.Now()

	msg := &wire.Gossip{ID: "x:1:new", Host: "127.0.0.1", Port: 9000}
	engine.OnReceive(msg, "127.0.0.1", 9000, now)

	found := false
	for _, p := range transport.sent {
		if p.host == "127.0.0.1" && p.port == 9000 && p.msg.Host == "127.0.0.1" && p.msg.Port == 7000 {
			found = true
		}
	}
	assert.True(t, found, "expected a direct reply to the new announcer")
}

func TestTickOnlyHeartbeatsAfterInterval(t *testing.T) {
	engine, table, transport := newTestEngine()
	now := time.Now()
	table.Observe("127.0.0.1", 8000, now)

	engine.Tick(now)
	assert.Equal(t, 1, transport.count())

	engine.Tick(now.Add(time.Second))
	assert.Equal(t, 1, transport.count(), "heartbeat should not repeat before the interval elapses")

	engine.Tick(now.Add(gossip.DefaultHeartbeatInterval))
	assert.Equal(t, 2, transport.count())
}
