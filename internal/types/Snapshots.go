/*

Types persisted at the end of every rebalance cycle. These mirror what the
orchestrator decided, not the pool's live state: the pool migrates toward the
recorded targets over subsequent swaps.

*/

package types

import "time"

// CycleKind distinguishes the two rebalance operations.
type CycleKind string

const (
	CycleReweigh CycleKind = "REWEIGH"
	CycleReindex CycleKind = "REINDEX"
)

// TokenTarget records the desired weight written for one constituent during a
// cycle, along with the market cap that produced it. Weights and caps are
// rendered as decimal strings so the snapshot survives schema-free in JSONB.
type TokenTarget struct {
	Symbol        string `json:"symbol"`
	Address       string `json:"address"`
	MarketCap     string `json:"market_cap"`
	DesiredWeight string `json:"desired_weight"`
}

// RebalanceSnapshot is the persistent record of one reweigh or reindex cycle.
type RebalanceSnapshot struct {
	SnapshotID  int64         `json:"snapshot_id,omitempty"` // assigned by the database
	CycleNumber int           `json:"cycle_number"`
	CycleID     string        `json:"cycle_id"` // uuid for log correlation
	Kind        CycleKind     `json:"kind"`
	Timestamp   time.Time     `json:"timestamp"`
	Targets     []TokenTarget `json:"targets"`
	Added       []string      `json:"added,omitempty"`   // token addresses bound this cycle
	Removed     []string      `json:"removed,omitempty"` // token addresses scheduled out this cycle
	PoolValue   string        `json:"pool_value"`        // extrapolated pool value in the reference asset
	Duration    time.Duration `json:"duration"`
}
