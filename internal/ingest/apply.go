package ingest

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/example/airbear/internal/dispatch"
	"github.com/example/airbear/internal/geo"
	"github.com/example/airbear/internal/models"
	"github.com/example/airbear/internal/storage"
)

// Applier folds a location update into the store, refreshes the geo index
// and announces the vehicle change on the feed.
type Applier struct {
	Store   storage.VehicleStore
	Index   geo.Index
	Changes dispatch.Publisher
	Log     *slog.Logger
}

// Apply returns the updated vehicle. Index and feed failures are logged, the
// store remains the source of truth.
func (a *Applier) Apply(ctx context.Context, u models.LocationUpdate) (models.Vehicle, error) {
	if err := ValidateLocation(u); err != nil {
		return models.Vehicle{}, err
	}
	before, after, err := a.Store.ApplyLocation(ctx, u)
	if err != nil {
		return models.Vehicle{}, fmt.Errorf("apply location %s: %w", u.VehicleID, err)
	}
	log := a.Log
	if log == nil {
		log = slog.Default()
	}
	if a.Index != nil {
		if err := a.Index.Upsert(ctx, after); err != nil {
			log.Warn("geo index upsert failed", "vehicle_id", after.ID, "error", err)
		}
	}
	dispatch.Emit(ctx, a.Changes, log, models.TableAirbears, models.EventUpdate, after, before)
	return after, nil
}
