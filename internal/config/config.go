// Package config defines the OM node's configuration tree: one struct per
// subsystem, each able to register its own flags and validate itself,
// following the teacher's server/config layout.
package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"

	"github.com/omnode/omnode/pkg/log"
)

// NodeConfig controls the UDP peer socket and bootstrap behaviour (spec
// §3/§4.A, SPEC_FULL supplement 1).
type NodeConfig struct {
	// BindAddr is the UDP address to listen for gossip and consensus
	// datagrams on.
	BindAddr string `json:"bind_addr" yaml:"bind_addr"`

	// BootstrapPeers is the list of well-known host:port addresses
	// announced to on startup, regardless of whether they are already
	// known, replacing the original's hard-coded WELL_KNOWN_PEERS.
	BootstrapPeers []string `json:"bootstrap_peers" yaml:"bootstrap_peers"`

	// TickInterval is the granularity of the node's main loop ticker,
	// driving heartbeat/prune/sweep checks (spec §4.A/§4.B/§4.D.5).
	TickInterval time.Duration `json:"tick_interval" yaml:"tick_interval"`

	// PeerPruneHorizon is how long a peer may go unheard from before it
	// is dropped from the table (spec §3, 120s default).
	PeerPruneHorizon time.Duration `json:"peer_prune_horizon" yaml:"peer_prune_horizon"`

	// GracefulShutdownTimeout bounds how long shutdown waits for in-flight
	// admin HTTP requests to finish. Open CLI sessions are closed at once.
	GracefulShutdownTimeout time.Duration `json:"graceful_shutdown_timeout" yaml:"graceful_shutdown_timeout"`
}

func (c *NodeConfig) Validate() error {
	if c.BindAddr == "" {
		return fmt.Errorf("missing bind addr")
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("tick interval must be positive")
	}
	if c.PeerPruneHorizon <= 0 {
		return fmt.Errorf("peer prune horizon must be positive")
	}
	return nil
}

func (c *NodeConfig) RegisterFlags(fs *pflag.FlagSet) {
	fs.StringVar(
		&c.BindAddr,
		"node.bind-addr",
		":7000",
		`
The host/port to listen for UDP gossip and consensus datagrams.

If the host is unspecified it defaults to all interfaces, such as
'--node.bind-addr :7000' will listen on '0.0.0.0:7000'.`,
	)
	fs.StringSliceVar(
		&c.BootstrapPeers,
		"node.bootstrap-peers",
		nil,
		`
A list of well-known host:port addresses to announce to on startup,
regardless of whether they are already known.`,
	)
	fs.DurationVar(
		&c.TickInterval,
		"node.tick-interval",
		time.Second,
		`
The granularity of the node's main loop ticker, driving heartbeat, peer
pruning and consensus deadline sweeps.`,
	)
	fs.DurationVar(
		&c.PeerPruneHorizon,
		"node.peer-prune-horizon",
		120*time.Second,
		`
How long a peer may go unheard from before it is pruned from the peer
table.`,
	)
	fs.DurationVar(
		&c.GracefulShutdownTimeout,
		"node.graceful-shutdown-timeout",
		5*time.Second,
		`
The duration to wait for in-flight admin HTTP requests to finish during
shutdown. Open CLI sessions are closed immediately.`,
	)
}

// GossipConfig controls the Gossip Engine (spec §4.B).
type GossipConfig struct {
	// Fanout is the number of peers each gossip message is forwarded to.
	Fanout int `json:"fanout" yaml:"fanout"`

	// HeartbeatInterval is how often this node announces itself to a
	// random subset of known peers.
	HeartbeatInterval time.Duration `json:"heartbeat_interval" yaml:"heartbeat_interval"`

	// SeenCapacity bounds the LRU of gossip ids used for duplicate
	// suppression.
	SeenCapacity int `json:"seen_capacity" yaml:"seen_capacity"`
}

func (c *GossipConfig) Validate() error {
	if c.Fanout <= 0 {
		return fmt.Errorf("fanout must be positive")
	}
	if c.HeartbeatInterval <= 0 {
		return fmt.Errorf("heartbeat interval must be positive")
	}
	if c.SeenCapacity <= 0 {
		return fmt.Errorf("seen capacity must be positive")
	}
	return nil
}

func (c *GossipConfig) RegisterFlags(fs *pflag.FlagSet) {
	fs.IntVar(
		&c.Fanout,
		"gossip.fanout",
		3,
		`
The number of peers each received gossip message is forwarded to.`,
	)
	fs.DurationVar(
		&c.HeartbeatInterval,
		"gossip.heartbeat-interval",
		60*time.Second,
		`
How often this node announces itself to a random subset of known peers.`,
	)
	fs.IntVar(
		&c.SeenCapacity,
		"gossip.seen-capacity",
		1024,
		`
The maximum number of gossip ids retained for duplicate suppression.`,
	)
}

// ConsensusConfig controls the Consensus Engine (spec §4.D).
type ConsensusConfig struct {
	// BaseTimeout is the `base` in roundTimeout(om) = base * (om + 1)
	// (spec §4.D.5).
	BaseTimeout time.Duration `json:"base_timeout" yaml:"base_timeout"`
}

func (c *ConsensusConfig) Validate() error {
	if c.BaseTimeout <= 0 {
		return fmt.Errorf("base timeout must be positive")
	}
	return nil
}

func (c *ConsensusConfig) RegisterFlags(fs *pflag.FlagSet) {
	fs.DurationVar(
		&c.BaseTimeout,
		"consensus.base-timeout",
		5*time.Second,
		`
The base round timeout. A round at OM level 'om' is given
base-timeout * (om + 1) to resolve before its outstanding children are
defaulted.`,
	)
}

// CLIConfig controls the line-oriented TCP CLI dispatcher (spec §4.E).
type CLIConfig struct {
	// BindAddr is the TCP address to listen for CLI connections on.
	BindAddr string `json:"bind_addr" yaml:"bind_addr"`
}

func (c *CLIConfig) Validate() error {
	if c.BindAddr == "" {
		return fmt.Errorf("missing bind addr")
	}
	return nil
}

func (c *CLIConfig) RegisterFlags(fs *pflag.FlagSet) {
	fs.StringVar(
		&c.BindAddr,
		"cli.bind-addr",
		":7001",
		`
The host/port to listen for incoming CLI connections.`,
	)
}

// AdminConfig controls the read-only admin HTTP surface (SPEC_FULL
// addition, grounded on the teacher's server/admin).
type AdminConfig struct {
	// BindAddr is the HTTP address to listen for admin connections on.
	BindAddr string `json:"bind_addr" yaml:"bind_addr"`
}

func (c *AdminConfig) Validate() error {
	if c.BindAddr == "" {
		return fmt.Errorf("missing bind addr")
	}
	return nil
}

func (c *AdminConfig) RegisterFlags(fs *pflag.FlagSet) {
	fs.StringVar(
		&c.BindAddr,
		"admin.bind-addr",
		":7002",
		`
The host/port to listen for incoming admin HTTP connections.`,
	)
}

// Config is the root of the node's configuration tree.
type Config struct {
	Node      NodeConfig      `json:"node" yaml:"node"`
	Gossip    GossipConfig    `json:"gossip" yaml:"gossip"`
	Consensus ConsensusConfig `json:"consensus" yaml:"consensus"`
	CLI       CLIConfig       `json:"cli" yaml:"cli"`
	Admin     AdminConfig     `json:"admin" yaml:"admin"`
	Log       log.Config      `json:"log" yaml:"log"`
}

func (c *Config) Validate() error {
	if err := c.Node.Validate(); err != nil {
		return fmt.Errorf("node: %w", err)
	}
	if err := c.Gossip.Validate(); err != nil {
		return fmt.Errorf("gossip: %w", err)
	}
	if err := c.Consensus.Validate(); err != nil {
		return fmt.Errorf("consensus: %w", err)
	}
	if err := c.CLI.Validate(); err != nil {
		return fmt.Errorf("cli: %w", err)
	}
	if err := c.Admin.Validate(); err != nil {
		return fmt.Errorf("admin: %w", err)
	}
	if err := c.Log.Validate(); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	return nil
}

func (c *Config) RegisterFlags(fs *pflag.FlagSet) {
	c.Node.RegisterFlags(fs)
	c.Gossip.RegisterFlags(fs)
	c.Consensus.RegisterFlags(fs)
	c.CLI.RegisterFlags(fs)
	c.Admin.RegisterFlags(fs)
	c.Log.RegisterFlags(fs)
}

// Default returns a Config populated with the node's default settings,
// ready to have flags registered against it.
func Default() *Config {
	return &Config{
		Node: NodeConfig{
			BindAddr:                ":7000",
			TickInterval:            time.Second,
			PeerPruneHorizon:        120 * time.Second,
			GracefulShutdownTimeout: 5 * time.Second,
		},
		Gossip: GossipConfig{
			Fanout:            3,
			HeartbeatInterval: 60 * time.Second,
			SeenCapacity:      1024,
		},
		Consensus: ConsensusConfig{
			BaseTimeout: 5 * time.Second,
		},
		CLI: CLIConfig{
			BindAddr: ":7001",
		},
		Admin: AdminConfig{
			BindAddr: ":7002",
		},
		Log: log.Config{
			Level: "info",
		},
	}
}
