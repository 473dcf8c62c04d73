// Package node implements the Node Orchestrator (component F): it owns the
// UDP socket, the TCP CLI and admin listeners, and the single owning
// goroutine that serializes every mutation of the Peer Table, Gossip
// Engine, Consensus Engine and Local Database, per spec §5's
// serialization discipline.
//
// Raw socket I/O (the only blocking operations) happens in dedicated
// reader goroutines that do no more than parse a datagram and hand it to
// the owning goroutine over a channel — translating the original's
// select()-over-fds multiplexer into Go's idiomatic channel-select
// equivalent (spec §4.F).
package node

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/oklog/run"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/omnode/omnode/internal/admin"
	"github.com/omnode/omnode/internal/cli"
	"github.com/omnode/omnode/internal/config"
	"github.com/omnode/omnode/internal/consensus"
	"github.com/omnode/omnode/internal/database"
	"github.com/omnode/omnode/internal/gossip"
	"github.com/omnode/omnode/internal/lying"
	"github.com/omnode/omnode/internal/peer"
	"github.com/omnode/omnode/internal/wire"
	"github.com/omnode/omnode/pkg/log"
)

const udpRecvBufferSize = 2048

// recvEvent is a decoded datagram handed from a udpReader goroutine to the
// owning goroutine.
type recvEvent struct {
	decoded    *wire.Decoded
	senderHost string
	senderPort int
}

type startRootRequest struct {
	index int
	word  string
	now   time.Time
	resp  chan startRootResult
}

type startRootResult struct {
	id  string
	err error
}

// Orchestrator wires the Peer Table, Gossip Engine, Consensus Engine,
// Local Database and Lying Policy together and drives them from one
// owning goroutine.
type Orchestrator struct {
	conf   *config.Config
	logger log.Logger

	table       *peer.Table
	db          *database.Database
	lyingPolicy *lying.Policy
	gossipEng   *gossip.Engine
	consensus   *consensus.Engine

	udpConn net.PacketConn

	cliServer   *cli.Server
	adminServer *admin.Server

	recvCh      chan recvEvent
	startRootCh chan startRootRequest
	done        chan struct{}
}

// New constructs an Orchestrator and binds its UDP socket. The CLI and
// admin TCP listeners are bound separately by Run, since oklog/run needs
// them constructed before the group starts.
func New(conf *config.Config, logger log.Logger, registry *prometheus.Registry) (*Orchestrator, error) {
	udpConn, err := net.ListenPacket("udp", conf.Node.BindAddr)
	if err != nil {
		return nil, fmt.Errorf("listen udp: %s: %w", conf.Node.BindAddr, err)
	}

	host, portStr, err := net.SplitHostPort(udpConn.LocalAddr().String())
	if err != nil {
		return nil, fmt.Errorf("invalid udp local addr: %w", err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, fmt.Errorf("invalid udp local port: %w", err)
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "127.0.0.1"
	}

	transport := &udpTransport{conn: udpConn}

	table := peer.NewTable()
	db := database.New()
	lyingPolicy := lying.NewPolicy()

	gossipEng := gossip.NewEngine(host, port, table, transport, logger.WithSubsystem("gossip"), gossip.NewMetrics(registry))
	gossipEng.SetFanout(conf.Gossip.Fanout)
	gossipEng.SetHeartbeatInterval(conf.Gossip.HeartbeatInterval)
	gossipEng.SetSeenCapacity(conf.Gossip.SeenCapacity)

	consensusEng := consensus.NewEngine(host, port, table, db, lyingPolicy, transport, logger.WithSubsystem("consensus"), consensus.NewMetrics(registry))
	consensusEng.SetBaseTimeout(conf.Consensus.BaseTimeout)

	o := &Orchestrator{
		conf:        conf,
		logger:      logger.WithSubsystem("node"),
		table:       table,
		db:          db,
		lyingPolicy: lyingPolicy,
		gossipEng:   gossipEng,
		consensus:   consensusEng,
		udpConn:     udpConn,
		recvCh:      make(chan recvEvent, 64),
		startRootCh: make(chan startRootRequest),
		done:        make(chan struct{}),
	}

	deps := cli.Dependencies{Table: table, Database: db, Consensus: o, Lying: lyingPolicy}
	o.cliServer = cli.NewServer(deps, logger, cli.NewMetrics(registry))

	o.adminServer = admin.NewServer(registry, logger)
	o.adminServer.AddStatus("/peers", admin.NewPeerStatus(table))
	o.adminServer.AddStatus("/consensus", admin.NewConsensusStatus(consensusEng))
	o.adminServer.AddStatus("/database", admin.NewDatabaseStatus(db))

	return o, nil
}

// StartRoot implements cli.ConsensusInjector: it threads the CLI's request
// through the owning goroutine rather than calling the Consensus Engine
// directly from the CLI session's own goroutine.
func (o *Orchestrator) StartRoot(index int, word string, now time.Time) (string, error) {
	req := startRootRequest{index: index, word: word, now: now, resp: make(chan startRootResult, 1)}
	select {
	case o.startRootCh <- req:
	case <-o.done:
		return "", fmt.Errorf("node is shutting down")
	}
	select {
	case res := <-req.resp:
		return res.id, res.err
	case <-o.done:
		return "", fmt.Errorf("node is shutting down")
	}
}

// Run binds the CLI and admin listeners, starts the owning goroutine and
// the UDP reader, and blocks until ctx is cancelled or a component fails.
func (o *Orchestrator) Run(ctx context.Context) error {
	cliLn, err := net.Listen("tcp", o.conf.CLI.BindAddr)
	if err != nil {
		return fmt.Errorf("cli listen: %s: %w", o.conf.CLI.BindAddr, err)
	}
	adminLn, err := net.Listen("tcp", o.conf.Admin.BindAddr)
	if err != nil {
		return fmt.Errorf("admin listen: %s: %w", o.conf.Admin.BindAddr, err)
	}

	var group run.Group

	runCtx, cancel := context.WithCancel(ctx)
	group.Add(func() error {
		return o.eventLoop(runCtx)
	}, func(error) {
		cancel()
		close(o.done)
	})

	group.Add(func() error {
		o.udpReadLoop(runCtx)
		return nil
	}, func(error) {
		_ = o.udpConn.Close()
	})

	group.Add(func() error {
		return o.cliServer.Serve(cliLn)
	}, func(error) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), o.conf.Node.GracefulShutdownTimeout)
		defer cancel()
		_ = o.cliServer.Shutdown(shutdownCtx)
		_ = cliLn.Close()
	})

	group.Add(func() error {
		return o.adminServer.Serve(adminLn)
	}, func(error) {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), o.conf.Node.GracefulShutdownTimeout)
		defer cancel()
		_ = o.adminServer.Shutdown(shutdownCtx)
	})

	group.Add(func() error {
		<-runCtx.Done()
		return nil
	}, func(error) {
		cancel()
	})

	return group.Run()
}

// eventLoop is the owning goroutine: it serializes every mutation of
// shared state behind a single select loop, starts with the bootstrap
// announce (SPEC_FULL supplement 1), and ticks heartbeat/prune/sweep.
func (o *Orchestrator) eventLoop(ctx context.Context) error {
	o.announceToWellKnown()

	ticker := time.NewTicker(o.conf.Node.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-o.recvCh:
			o.handleRecv(ev)
		case req := <-o.startRootCh:
			id, err := o.consensus.StartRoot(req.index, req.word, req.now)
			req.resp <- startRootResult{id: id, err: err}
		case now := <-ticker.C:
			o.gossipEng.Tick(now)
			o.table.Prune(now, o.conf.Node.PeerPruneHorizon)
			o.consensus.Sweep(now)
		}
	}
}

func (o *Orchestrator) announceToWellKnown() {
	targets := make([]peer.Peer, 0, len(o.conf.Node.BootstrapPeers))
	for _, addr := range o.conf.Node.BootstrapPeers {
		host, portStr, err := net.SplitHostPort(addr)
		if err != nil {
			o.logger.Warn("invalid bootstrap peer address", zap.String("addr", addr), zap.Error(err))
			continue
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			o.logger.Warn("invalid bootstrap peer port", zap.String("addr", addr), zap.Error(err))
			continue
		}
		targets = append(targets, peer.Peer{Key: peer.Key(host, port), Host: host, Port: port})
	}
	if len(targets) == 0 {
		return
	}
	o.gossipEng.AnnounceTo(time.Now(), targets)
}

func (o *Orchestrator) handleRecv(ev recvEvent) {
	now := time.Now()
	switch {
	case ev.decoded.Gossip != nil:
		o.gossipEng.OnReceive(ev.decoded.Gossip, ev.senderHost, ev.senderPort, now)
	case ev.decoded.Consensus != nil:
		senderKey := peer.Key(ev.senderHost, ev.senderPort)
		switch ev.decoded.Consensus.Kind {
		case wire.KindForward:
			o.consensus.OnForward(ev.decoded.Consensus, senderKey, now)
		case wire.KindReport:
			o.consensus.OnReport(ev.decoded.Consensus, senderKey, now)
		}
	}
}

// udpReadLoop only parses datagrams and forwards them to the owning
// goroutine; it performs no state mutation itself (spec §4.F:
// "Suspension points: only at the multiplexer wait. No blocking I/O
// inside handlers").
func (o *Orchestrator) udpReadLoop(ctx context.Context) {
	buf := make([]byte, udpRecvBufferSize)
	for {
		n, addr, err := o.udpConn.ReadFrom(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
				o.logger.Warn("udp read failed", zap.Error(err))
				return
			}
		}

		decoded, err := wire.Decode(buf[:n])
		if err != nil {
			o.logger.Debug("dropping malformed datagram", zap.Error(err))
			continue
		}

		host, portStr, err := net.SplitHostPort(addr.String())
		if err != nil {
			continue
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			continue
		}

		select {
		case o.recvCh <- recvEvent{decoded: decoded, senderHost: host, senderPort: port}:
		case <-ctx.Done():
			return
		}
	}
}
