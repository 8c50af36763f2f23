package snapshotter

import (
	"context"
	"fmt"
)

type CleanupResult struct {
	SnapshotsDeleted      int64 `json:"snapshots_deleted"`
	OrphanPointersDeleted int64 `json:"orphan_pointers_deleted"`
	ClientsDeleted        int64 `json:"clients_deleted"`
}

// Cleanup enforces retention. Pruning runs before the orphan sweep so that pointers to
// snapshots pruned in this pass are removed in the same pass.
func (s *Snapshotter) Cleanup(ctx context.Context) (*CleanupResult, error) {
	result := &CleanupResult{}
	now := s.clock.Now()

	n, err := s.store.PruneSnapshots(ctx, s.cfg.Sweep.RetainSnapshotsPerSource)
	if err != nil {
		return nil, fmt.Errorf("prune snapshots: %w", err)
	}
	result.SnapshotsDeleted = n
	s.metrics.recordCleanup(ctx, "snapshots", n)

	n, err = s.store.DeleteOrphanPointers(ctx)
	if err != nil {
		return nil, fmt.Errorf("delete orphan pointers: %w", err)
	}
	result.OrphanPointersDeleted = n
	s.metrics.recordCleanup(ctx, "pointers", n)

	n, err = s.store.DeleteInactiveClients(ctx, now.Add(-s.cfg.Sweep.ClientTTL))
	if err != nil {
		return nil, fmt.Errorf("delete inactive clients: %w", err)
	}
	result.ClientsDeleted = n
	s.metrics.recordCleanup(ctx, "clients", n)

	if *result != (CleanupResult{}) {
		s.log.Sugar().Infow("Cleanup removed expired rows",
			"snapshots", result.SnapshotsDeleted,
			"pointers", result.OrphanPointersDeleted,
			"clients", result.ClientsDeleted,
		)
	}
	return result, nil
}
