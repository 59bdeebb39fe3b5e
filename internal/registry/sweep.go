package registry

import (
	"context"
	"sort"
	"time"

	"github.com/mushrhyme/rebate/constants"
)

// StoreProbe answers whether the versioned store holds data for a document.
// Implemented by the repository layer; the sweep uses it to spot "completed"
// entries with no backing data.
type StoreProbe interface {
	HasDocument(ctx context.Context, document string, latestOnly bool) (bool, error)
}

// Sweep reclaims ghost entries: processing records whose heartbeat is older
// than staleAfter, and completed records the store has no data for. Returns
// the names of the reclaimed entries, sorted. A nil probe skips the
// completed-record check.
func (r *Registry) Sweep(ctx context.Context, staleAfter time.Duration, probe StoreProbe) ([]string, error) {
	var reclaimed []string
	err := r.withLock(func(recs map[string]Record) (bool, error) {
		now := r.now()
		for name, rec := range recs {
			switch rec.Status {
			case constants.JobStatusProcessing, constants.JobStatusPending:
				if now.Sub(rec.LastUpdated) > staleAfter {
					delete(recs, name)
					reclaimed = append(reclaimed, name)
					r.log.Warn("registry.sweep.stale", "document", name,
						"status", string(rec.Status), "last_updated", rec.LastUpdated)
				}
			case constants.JobStatusCompleted:
				if probe == nil {
					continue
				}
				has, err := probe.HasDocument(ctx, name+".pdf", true)
				if err != nil {
					return false, err
				}
				if !has {
					delete(recs, name)
					reclaimed = append(reclaimed, name)
					r.log.Warn("registry.sweep.orphan_completed", "document", name)
				}
			}
		}
		return len(reclaimed) > 0, nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(reclaimed)
	return reclaimed, nil
}
