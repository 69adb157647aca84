package feed

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/example/sharetrack/internal/share"
	"github.com/example/sharetrack/internal/tracking"
)

// Ingestor applies position reports: it updates the driver's stored
// position and queues a location update for the share watching the driver.
// Activity transitions additionally queue an activity change event.
type Ingestor struct {
	store  *share.Store
	events *share.Outbox
	log    *zap.Logger

	mu           sync.Mutex
	lastActivity map[string]int
}

// NewIngestor builds an Ingestor queueing push events into the outbox.
func NewIngestor(store *share.Store, events *share.Outbox, logger *zap.Logger) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Ingestor{
		store:        store,
		events:       events,
		log:          logger,
		lastActivity: make(map[string]int),
	}
}

// activityChanged records the driver's latest activity and reports whether
// it differs from the previous one. Apply runs on every stream handler
// goroutine, so the map is guarded.
func (i *Ingestor) activityChanged(driverUUID string, activity int) bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	prev, seen := i.lastActivity[driverUUID]
	i.lastActivity[driverUUID] = activity
	return seen && prev != activity
}

// Apply handles one position report. Unroutable reports (no share watching
// the driver) still update the position store.
func (i *Ingestor) Apply(ctx context.Context, report *PositionReport) error {
	point := tracking.GeoPoint{Lat: report.Lat, Lng: report.Lng}
	if err := i.store.UpdateDriverPosition(ctx, report.DriverUuid, point); err != nil {
		return err
	}

	shareUUID, err := i.store.ShareByDriver(ctx, report.DriverUuid)
	if errors.Is(err, share.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	changed := i.activityChanged(report.DriverUuid, int(report.Activity))
	if i.events == nil {
		return nil
	}
	if changed {
		if err := i.events.Enqueue(ctx, shareUUID, tracking.EventActivityChange,
			map[string]any{"activity": report.Activity}); err != nil {
			i.log.Warn("activity enqueue failed", zap.Error(err))
		}
	}

	return i.events.Enqueue(ctx, shareUUID, tracking.EventLocationUpdate, tracking.LocationMessage{
		Success:    true,
		CurrentLat: point.Lat,
		CurrentLng: point.Lng,
	})
}
