package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/omnode/omnode/internal/database"
	"github.com/omnode/omnode/internal/lying"
	"github.com/omnode/omnode/internal/peer"
)

// welcomeBanner is sent to every newly accepted session, per SPEC_FULL
// supplement 3 (original's _accept_cli_client banner).
const welcomeBanner = "Welcome to the OM node CLI. Commands: peers, current, consensus <idx> <word>, lie [pct], truth, exit\n"

// defaultLiePercent is the rate `lie` sets when called with no argument
// (spec §6).
const defaultLiePercent = 100

// ConsensusInjector starts a root consensus round. The Node Orchestrator
// is the only legitimate implementation: it threads the call through its
// single owning goroutine so a CLI session's own goroutine never touches
// the Consensus Engine directly (spec §5's serialization discipline).
type ConsensusInjector interface {
	StartRoot(index int, word string, now time.Time) (string, error)
}

// Dependencies are the node subsystems the CLI Dispatcher reads snapshots
// from and injects operations into (spec §4.E). Table, Database and Lying
// are each safe for concurrent use directly (they guard their own state);
// Consensus is not, hence the narrower ConsensusInjector indirection.
type Dependencies struct {
	Table     *peer.Table
	Database  *database.Database
	Consensus ConsensusInjector
	Lying     *lying.Policy
}

// dispatch parses and executes a single CLI line against deps, returning
// the text to write back to the session and whether the session should
// close after writing it (the `exit` command).
func dispatch(deps Dependencies, line string, now time.Time) (response string, exit bool) {
	parts := strings.Fields(line)
	if len(parts) == 0 {
		return "", false
	}

	switch strings.ToLower(parts[0]) {
	case "peers":
		return peersResponse(deps.Table, now), false
	case "current":
		return currentResponse(deps.Database), false
	case "consensus":
		return consensusResponse(deps.Consensus, parts, now), false
	case "lie":
		return lieResponse(deps.Lying, parts), false
	case "truth":
		deps.Lying.SetPercent(0)
		return "ok: lying disabled\n", false
	case "exit":
		return "ok: goodbye\n", true
	default:
		return "error: unknown command\n", false
	}
}

func peersResponse(table *peer.Table, now time.Time) string {
	snap := table.Snapshot()
	if len(snap) == 0 {
		return "No peers known.\n"
	}
	var b strings.Builder
	for _, p := range snap {
		age := now.Sub(p.LastHeard).Seconds()
		fmt.Fprintf(&b, "%s  age=%.1fs\n", p.Key, age)
	}
	return b.String()
}

func currentResponse(db *database.Database) string {
	words := db.Snapshot()
	var b strings.Builder
	for i, w := range words {
		fmt.Fprintf(&b, "%d: %s\n", i, w)
	}
	return b.String()
}

func consensusResponse(engine ConsensusInjector, parts []string, now time.Time) string {
	if len(parts) < 3 {
		return "error: usage: consensus <index> <word>\n"
	}
	idx, err := strconv.Atoi(parts[1])
	if err != nil {
		return "error: invalid index\n"
	}
	value := strings.Join(parts[2:], " ")
	id, err := engine.StartRoot(idx, value, now)
	if err != nil {
		return fmt.Sprintf("error: %s\n", err)
	}
	return fmt.Sprintf("ok: round %s started\n", id)
}

func lieResponse(policy *lying.Policy, parts []string) string {
	percent := defaultLiePercent
	if len(parts) > 1 {
		p, err := strconv.Atoi(parts[1])
		if err != nil {
			return "error: invalid percent\n"
		}
		percent = p
	}
	policy.SetPercent(percent)
	return fmt.Sprintf("ok: lying enabled at %d%%\n", policy.Percent())
}
