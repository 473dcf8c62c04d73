package cli_test

import (
	"bufio"
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/omnode/omnode/internal/cli"
	"github.com/omnode/omnode/internal/consensus"
	"github.com/omnode/omnode/internal/database"
	"github.com/omnode/omnode/internal/lying"
	"github.com/omnode/omnode/internal/peer"
	"github.com/omnode/omnode/pkg/log"
)

type noopTransport struct{}

func (noopTransport) Send(host string, port int, payload []byte) error { return nil }

func TestServerSendsWelcomeBannerAndHandlesCommands(t *testing.T) {
	table := peer.NewTable()
	db := database.New()
	lyingPolicy := lying.NewPolicy()
	engine := consensus.NewEngine("127.0.0.1", 7000, table, db, lyingPolicy, noopTransport{}, log.NewNopLogger(), consensus.NewMetrics(nil))
	deps := cli.Dependencies{Table: table, Database: db, Consensus: engine, Lying: lyingPolicy}

	server := cli.NewServer(deps, log.NewNopLogger(), cli.NewMetrics(nil))

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go server.Serve(ln)
	defer func() {
		_ = server.Shutdown(context.Background())
		_ = ln.Close()
	}()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	reader := bufio.NewReader(conn)
	banner, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Contains(t, banner, "Welcome to the OM node CLI")

	_, err = conn.Write([]byte("current\n"))
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		assert.Contains(t, line, "word")
	}

	_, err = conn.Write([]byte("exit\n"))
	require.NoError(t, err)
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	line, err := reader.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "ok: goodbye\n", line)
}
