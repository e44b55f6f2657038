// internal/app/services/ingest/pipeline.go
package ingest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/josefm09/tracker/internal/app/system/apperr"
	"github.com/josefm09/tracker/internal/app/system/htmlsanitize"
	"github.com/josefm09/tracker/internal/app/system/metrics"
	"github.com/josefm09/tracker/internal/app/system/ratelimit"
	"github.com/josefm09/tracker/internal/app/system/timeouts"
	"github.com/josefm09/tracker/internal/domain/geofence"
	"github.com/josefm09/tracker/internal/domain/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// UserStore loads the sample owner.
type UserStore interface {
	GetByID(ctx context.Context, id primitive.ObjectID) (*models.User, error)
}

// FamilyStore loads the owner's families in membership order.
type FamilyStore interface {
	ListByIDs(ctx context.Context, ids []primitive.ObjectID) ([]models.Family, error)
}

// LocationStore persists samples.
type LocationStore interface {
	Create(ctx context.Context, sample models.LocationSample) (models.LocationSample, error)
}

// Notifier runs after a sample is stored. It must not assume the caller
// is still waiting.
type Notifier interface {
	AfterIngest(ctx context.Context, owner *models.User, families []models.Family, sample models.LocationSample, originConnID string)
}

// Input is one sample submitted by an authenticated user. OriginConnID is
// set when the sample arrived over a realtime connection.
type Input struct {
	UserID       primitive.ObjectID
	Sample       *RawSample
	OriginConnID string
}

// Pipeline validates, tags and stores location samples, then hands them
// to the Notifier without waiting for it.
type Pipeline struct {
	users     UserStore
	families  FamilyStore
	locations LocationStore
	notifier  Notifier
	limiter   *ratelimit.Limiter
	metrics   metrics.Recorder
	log       *zap.Logger
	now       func() time.Time

	wg     sync.WaitGroup
	qmu    sync.Mutex
	queues map[primitive.ObjectID]*followUps
}

// followUps holds one user's pending notifications in arrival order.
type followUps struct {
	jobs []func()
}

// New wires a pipeline. limiter and notifier may be nil.
func New(users UserStore, families FamilyStore, locations LocationStore, notifier Notifier, limiter *ratelimit.Limiter, rec metrics.Recorder, log *zap.Logger) *Pipeline {
	if rec == nil {
		rec = metrics.Nop{}
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Pipeline{
		users:     users,
		families:  families,
		locations: locations,
		notifier:  notifier,
		limiter:   limiter,
		metrics:   rec,
		log:       log,
		now:       func() time.Time { return time.Now().UTC() },
		queues:    make(map[primitive.ObjectID]*followUps),
	}
}

// RetryAfter is how long a rate-limited caller should wait.
func (p *Pipeline) RetryAfter() time.Duration {
	if p.limiter == nil {
		return 0
	}
	return p.limiter.RetryAfter()
}

// Ingest validates and stores one sample and returns the stored record.
// Nothing is written when it returns an error. Fan-out runs afterwards in
// the background and its failures never reach the caller.
func (p *Pipeline) Ingest(ctx context.Context, in Input) (models.LocationSample, error) {
	const op = "ingest.Ingest"

	if p.limiter != nil && !p.limiter.Allow(in.UserID.Hex()) {
		p.metrics.SampleRejected("rate_limited")
		return models.LocationSample{}, apperr.New(apperr.KindRateLimit, op, "too many location updates; slow down")
	}

	if err := in.Sample.Validate(); err != nil {
		p.metrics.SampleRejected("validation")
		return models.LocationSample{}, apperr.Wrap(apperr.KindValidation, op, err.Error(), err)
	}

	owner, err := p.users.GetByID(ctx, in.UserID)
	switch {
	case errors.Is(err, mongo.ErrNoDocuments):
		p.metrics.SampleRejected("permission")
		return models.LocationSample{}, apperr.New(apperr.KindPermission, op, "account is not available")
	case err != nil:
		p.metrics.SampleRejected("storage")
		return models.LocationSample{}, apperr.Wrap(apperr.KindStorage, op, "failed to load account", err)
	}
	if !owner.IsActive() {
		p.metrics.SampleRejected("permission")
		return models.LocationSample{}, apperr.New(apperr.KindPermission, op, "account is not available")
	}
	if !owner.LocationSettings.ShareLocation {
		p.metrics.SampleRejected("permission")
		return models.LocationSample{}, apperr.New(apperr.KindPermission, op, "location sharing is turned off")
	}

	sample := p.normalize(owner.ID, in.Sample)

	families, err := p.families.ListByIDs(ctx, owner.FamilyIDs())
	if err != nil {
		p.metrics.SampleRejected("storage")
		return models.LocationSample{}, apperr.Wrap(apperr.KindStorage, op, "failed to load families", err)
	}
	if place, ok := geofence.FirstMatch(families, sample.Coordinates); ok {
		sample.ResolvedPlace = place
	}
	sample.FamilyIDsSnapshot = owner.FamilyIDs()

	stored, err := p.locations.Create(ctx, sample)
	if err != nil {
		p.metrics.SampleRejected("storage")
		return models.LocationSample{}, apperr.Wrap(apperr.KindStorage, op, "failed to save location", err)
	}
	p.metrics.SampleIngested()

	p.notify(ctx, owner, families, stored, in.OriginConnID)
	return stored, nil
}

func (p *Pipeline) normalize(userID primitive.ObjectID, raw *RawSample) models.LocationSample {
	s := models.LocationSample{
		UserID:           userID,
		Coordinates:      raw.coordinates(),
		Altitude:         raw.Altitude,
		AltitudeAccuracy: raw.AltitudeAccuracy,
		Heading:          raw.Heading,
		Speed:            raw.Speed,
		Timestamp:        p.parseTimestamp(raw.Timestamp),
		LocationMethod:   models.LocationMethod(raw.LocationMethod),
		IsManual:         raw.IsManual,
	}
	if raw.Accuracy != nil {
		s.Accuracy = *raw.Accuracy
	}
	if s.LocationMethod == "" {
		s.LocationMethod = models.MethodGPS
	}
	if raw.Battery != nil {
		s.Battery = &models.Battery{Level: *raw.Battery.Level, IsCharging: raw.Battery.IsCharging}
	}
	if d := raw.DeviceInfo; d != nil {
		s.DeviceInfo = &models.DeviceInfo{
			Platform:   htmlsanitize.PlainTextMax(d.Platform, 64),
			Model:      htmlsanitize.PlainTextMax(d.Model, 128),
			OSVersion:  htmlsanitize.PlainTextMax(d.OSVersion, 64),
			AppVersion: htmlsanitize.PlainTextMax(d.AppVersion, 64),
		}
	}
	return s
}

// parseTimestamp accepts RFC 3339 and falls back to the ingestion time.
func (p *Pipeline) parseTimestamp(v string) time.Time {
	if v != "" {
		if t, err := time.Parse(time.RFC3339Nano, v); err == nil {
			return t.UTC()
		}
	}
	return p.now()
}

// notify queues the follow-up for sample. Follow-ups of one user run one
// at a time in the order their samples were stored; different users run
// in parallel.
func (p *Pipeline) notify(ctx context.Context, owner *models.User, families []models.Family, sample models.LocationSample, originConnID string) {
	if p.notifier == nil {
		return
	}
	base := context.WithoutCancel(ctx)
	job := func() {
		defer p.wg.Done()
		defer func() {
			if r := recover(); r != nil {
				p.log.Error("ingest: notifier panicked",
					zap.String("user_id", owner.ID.Hex()),
					zap.Any("panic", r))
			}
		}()
		fctx, cancel := context.WithTimeout(base, timeouts.Fanout())
		defer cancel()
		p.notifier.AfterIngest(fctx, owner, families, sample, originConnID)
	}

	p.wg.Add(1)
	p.qmu.Lock()
	q, running := p.queues[owner.ID]
	if !running {
		q = &followUps{}
		p.queues[owner.ID] = q
	}
	q.jobs = append(q.jobs, job)
	p.qmu.Unlock()

	if !running {
		go p.drain(owner.ID, q)
	}
}

// drain runs q until it is empty, then retires it.
func (p *Pipeline) drain(userID primitive.ObjectID, q *followUps) {
	for {
		p.qmu.Lock()
		if len(q.jobs) == 0 {
			delete(p.queues, userID)
			p.qmu.Unlock()
			return
		}
		job := q.jobs[0]
		q.jobs[0] = nil
		q.jobs = q.jobs[1:]
		p.qmu.Unlock()

		job()
	}
}

// Wait blocks until every pending notification has finished.
func (p *Pipeline) Wait() {
	p.wg.Wait()
}
