// Package baseline persists the detector's last-observed guest statuses so a
// process restart resumes without re-alerting on already-known states.
package baseline

import (
	"context"
	"time"
)

// Record is the durable per-guest entry: the raw last-observed status and
// when it was last observed. Keyed by "node/vmid".
type Record struct {
	Status string    `json:"status"`
	Seen   time.Time `json:"seen"`
}

// Store defines the interface for baseline persistence. The whole map is
// loaded and replaced as one unit: a crash mid-cycle loses at most one poll's
// worth of updates, never partial state.
type Store interface {
	// Load reads the full baseline map. A store with no prior state returns
	// an empty map, not an error.
	Load(ctx context.Context) (map[string]Record, error)

	// Save atomically replaces the full baseline map
	Save(ctx context.Context, records map[string]Record) error

	// Close releases the underlying storage
	Close() error
}
