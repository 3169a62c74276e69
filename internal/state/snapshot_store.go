package state

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/lib/pq" // array support
	"github.com/rs/zerolog/log"

	"github.com/openweight/simm/internal/types"
)

// SaveRebalanceSnapshot persists the outcome of one rebalance cycle.
func SaveRebalanceSnapshot(snapshot types.RebalanceSnapshot) (int64, error) {
	if DB == nil {
		return 0, fmt.Errorf("database not initialized")
	}

	targetsJSON, err := json.Marshal(snapshot.Targets)
	if err != nil {
		return 0, fmt.Errorf("failed to marshal targets: %w", err)
	}

	query := `
		INSERT INTO rebalance_snapshots (
			cycle_number, cycle_id, kind, snapshot_timestamp,
			targets, added_tokens, removed_tokens,
			pool_value, duration_ms
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING snapshot_id;
	`

	var snapshotID int64
	err = DB.QueryRow(
		query,
		snapshot.CycleNumber, snapshot.CycleID, string(snapshot.Kind), snapshot.Timestamp,
		targetsJSON, pq.Array(snapshot.Added), pq.Array(snapshot.Removed),
		snapshot.PoolValue, snapshot.Duration.Milliseconds(),
	).Scan(&snapshotID)
	if err != nil {
		return 0, fmt.Errorf("failed to save rebalance snapshot: %w", err)
	}

	log.Info().
		Int64("snapshot_id", snapshotID).
		Int("cycle_number", snapshot.CycleNumber).
		Str("kind", string(snapshot.Kind)).
		Msg("Rebalance snapshot saved to database")

	return snapshotID, nil
}

// GetRecentSnapshots returns the newest snapshots, most recent first.
func GetRecentSnapshots(limit int) ([]types.RebalanceSnapshot, error) {
	if DB == nil {
		return nil, fmt.Errorf("database not initialized")
	}
	if limit <= 0 {
		limit = 20
	}

	query := `
		SELECT snapshot_id, cycle_number, cycle_id, kind, snapshot_timestamp,
		       targets, added_tokens, removed_tokens, pool_value, duration_ms
		FROM rebalance_snapshots
		ORDER BY snapshot_timestamp DESC
		LIMIT $1;
	`

	rows, err := DB.Query(query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []types.RebalanceSnapshot
	for rows.Next() {
		var (
			snap        types.RebalanceSnapshot
			kind        string
			targetsJSON []byte
			durationMs  int64
		)
		err := rows.Scan(
			&snap.SnapshotID, &snap.CycleNumber, &snap.CycleID, &kind, &snap.Timestamp,
			&targetsJSON, pq.Array(&snap.Added), pq.Array(&snap.Removed),
			&snap.PoolValue, &durationMs,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}
		snap.Kind = types.CycleKind(kind)
		snap.Duration = time.Duration(durationMs) * time.Millisecond
		if len(targetsJSON) > 0 {
			if err := json.Unmarshal(targetsJSON, &snap.Targets); err != nil {
				return nil, fmt.Errorf("failed to unmarshal targets for snapshot %d: %w", snap.SnapshotID, err)
			}
		}
		snapshots = append(snapshots, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed iterating snapshot rows: %w", err)
	}
	return snapshots, nil
}

// Store adapts the package-level persistence functions to the narrow
// sink interfaces consumers declare.
type Store struct{}

func (Store) SaveRebalanceSnapshot(snap types.RebalanceSnapshot) error {
	_, err := SaveRebalanceSnapshot(snap)
	return err
}

func (Store) IncrementCycleNumber() (int, error) {
	return IncrementCycleNumber()
}
