// internal/app/services/fanout/fanout.go
package fanout

import (
	"context"
	"sync"
	"time"

	"github.com/josefm09/tracker/internal/app/system/metrics"
	"github.com/josefm09/tracker/internal/domain/geofence"
	"github.com/josefm09/tracker/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// PlaceStates stores the places each user was last seen inside. Save
// reports false when state from a newer sample is already stored.
type PlaceStates interface {
	Get(ctx context.Context, userID primitive.ObjectID) (models.PlaceState, error)
	Save(ctx context.Context, userID primitive.ObjectID, sampleAt time.Time, inside []models.PlaceVisit) (bool, error)
}

// Broadcaster delivers events to connected clients.
type Broadcaster interface {
	LocationUpdate(owner *models.User, families []models.Family, sample models.LocationSample, originConnID string) int
	DeliverPlaceAlerts(alerts []geofence.Alert, families []models.Family) int
}

// Service runs everything that follows a stored sample: the location
// broadcast, geofence evaluation and place alerts. Failures are logged
// and dropped.
type Service struct {
	states  PlaceStates
	out     Broadcaster
	metrics metrics.Recorder
	log     *zap.Logger
	locks   userLocks
}

// New wires a fan-out service.
func New(states PlaceStates, out Broadcaster, rec metrics.Recorder, log *zap.Logger) *Service {
	if rec == nil {
		rec = metrics.Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{
		states:  states,
		out:     out,
		metrics: rec,
		log:     log,
		locks:   userLocks{m: make(map[primitive.ObjectID]*userLock)},
	}
}

// AfterIngest broadcasts sample and evaluates geofences for its owner.
// Evaluations for one user never overlap. Callers hand samples over in
// arrival order; a sample older than the stored state is broadcast but
// not evaluated.
func (s *Service) AfterIngest(ctx context.Context, owner *models.User, families []models.Family, sample models.LocationSample, originConnID string) {
	n := s.out.LocationUpdate(owner, families, sample, originConnID)
	s.log.Debug("fanout: location update",
		zap.String("user_id", owner.ID.Hex()),
		zap.String("conn_id", originConnID),
		zap.Int("delivered", n))

	unlock := s.locks.lock(owner.ID)
	defer unlock()

	prior, err := s.states.Get(ctx, owner.ID)
	if err != nil {
		s.log.Warn("fanout: load place state failed; skipping geofence evaluation",
			zap.String("user_id", owner.ID.Hex()), zap.Error(err))
		return
	}
	if sample.Timestamp.Before(prior.LastSampleAt) {
		s.log.Debug("fanout: sample older than place state; skipping geofence evaluation",
			zap.String("user_id", owner.ID.Hex()),
			zap.Time("sample_at", sample.Timestamp),
			zap.Time("state_at", prior.LastSampleAt))
		return
	}

	alerts, next := geofence.Evaluate(owner, families, sample, prior.Inside)
	saved, err := s.states.Save(ctx, owner.ID, sample.Timestamp, next)
	switch {
	case err != nil:
		s.log.Warn("fanout: save place state failed",
			zap.String("user_id", owner.ID.Hex()), zap.Error(err))
	case !saved:
		// Another instance stored a newer sample in the meantime.
		s.log.Debug("fanout: place state moved on; dropping alerts",
			zap.String("user_id", owner.ID.Hex()))
		return
	}
	if len(alerts) == 0 {
		return
	}

	for _, a := range alerts {
		s.metrics.PlaceAlert(string(a.Type))
	}
	delivered := s.out.DeliverPlaceAlerts(alerts, families)
	s.log.Info("fanout: place alerts",
		zap.String("user_id", owner.ID.Hex()),
		zap.Int("alerts", len(alerts)),
		zap.Int("delivered", delivered))
}

type userLock struct {
	sync.Mutex
	refs int
}

// userLocks hands out one mutex per user and frees it when unused.
type userLocks struct {
	mu sync.Mutex
	m  map[primitive.ObjectID]*userLock
}

func (l *userLocks) lock(id primitive.ObjectID) func() {
	l.mu.Lock()
	ul := l.m[id]
	if ul == nil {
		ul = &userLock{}
		l.m[id] = ul
	}
	ul.refs++
	l.mu.Unlock()

	ul.Lock()
	return func() {
		ul.Unlock()
		l.mu.Lock()
		ul.refs--
		if ul.refs == 0 {
			delete(l.m, id)
		}
		l.mu.Unlock()
	}
}
