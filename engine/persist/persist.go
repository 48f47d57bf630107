// Package persist is the durability boundary for the in-memory graph:
// whole snapshots go out, whole snapshots come back. There is no partial
// or streaming persistence contract.
package persist

import (
	"context"

	"github.com/cortexkg/cortex/engine/domain"
)

// Store saves and loads graph snapshots.
type Store interface {
	Save(ctx context.Context, snap domain.Snapshot) error
	Load(ctx context.Context) (domain.Snapshot, error)
}
