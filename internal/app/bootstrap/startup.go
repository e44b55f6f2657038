// internal/app/bootstrap/startup.go
package bootstrap

import (
	"context"
	"errors"

	"github.com/dalemusser/waffle/config"
	"github.com/josefm09/tracker/internal/app/realtime"
	"github.com/josefm09/tracker/internal/app/services/familysvc"
	"github.com/josefm09/tracker/internal/app/services/fanout"
	"github.com/josefm09/tracker/internal/app/services/ingest"
	auditstore "github.com/josefm09/tracker/internal/app/store/audit"
	familystore "github.com/josefm09/tracker/internal/app/store/families"
	locationstore "github.com/josefm09/tracker/internal/app/store/locations"
	placestatestore "github.com/josefm09/tracker/internal/app/store/placestates"
	userstore "github.com/josefm09/tracker/internal/app/store/users"
	"github.com/josefm09/tracker/internal/app/system/auditlog"
	"github.com/josefm09/tracker/internal/app/system/auth"
	"github.com/josefm09/tracker/internal/app/system/metrics"
	"github.com/josefm09/tracker/internal/app/system/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// Services are the long-lived components shared by every request.
type Services struct {
	Users     *userstore.Store
	Families  *familystore.Store
	Locations *locationstore.Store

	Audit    *auditlog.Logger
	Auth     *auth.Manager
	Limiter  *ratelimit.Limiter
	Hub      *realtime.Hub
	Router   *realtime.Router
	Pipeline *ingest.Pipeline
	Family   *familysvc.Service

	// Registry is nil when metrics are disabled.
	Registry *prometheus.Registry
}

// Startup runs one-time application initialization after DB connections and
// schema setup are complete, but before the HTTP handler is built. It wires
// the stores, the real-time hub and router, the ingestion pipeline and the
// family service.
func Startup(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	if deps.Services == nil {
		return errors.New("bootstrap: DBDeps.Services is nil")
	}
	svc, err := buildServices(appCfg, deps.MongoDatabase, coreCfg.Env == "prod", logger)
	if err != nil {
		return err
	}
	*deps.Services = *svc
	logger.Info("services started",
		zap.Bool("metrics", svc.Registry != nil),
		zap.Duration("location_retention", appCfg.LocationRetention))
	return nil
}

func buildServices(appCfg AppConfig, db *mongo.Database, secure bool, logger *zap.Logger) (*Services, error) {
	s := &Services{
		Users:     userstore.New(db),
		Families:  familystore.New(db),
		Locations: locationstore.New(db),
	}

	var rec metrics.Recorder = metrics.Nop{}
	if appCfg.MetricsEnabled {
		s.Registry = prometheus.NewRegistry()
		s.Registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		rec = metrics.NewCollector(s.Registry)
	}

	mgr, err := auth.NewManager(auth.Config{
		SessionKey:  appCfg.SessionKey,
		SessionName: appCfg.SessionName,
		Domain:      appCfg.SessionDomain,
		Secure:      secure,
		JWTSecret:   appCfg.JWTSecret,
		JWTIssuer:   appCfg.JWTIssuer,
	}, logger)
	if err != nil {
		logger.Error("auth manager init failed", zap.Error(err))
		return nil, err
	}
	// Refresh the identity on every request so deactivation takes effect
	// immediately and first-time identities get an account.
	mgr.SetFetcher(userstore.NewFetcher(db))
	s.Auth = mgr

	s.Audit = auditlog.New(auditstore.New(db), logger, auditlog.Config{
		Membership: appCfg.AuditLogMembership,
		Account:    appCfg.AuditLogAccount,
		Safety:     appCfg.AuditLogSafety,
	})

	states := placestatestore.New(db)
	s.Hub = realtime.NewHub(logger, rec)
	s.Router = realtime.NewRouter(s.Hub, s.Users, s.Families, s.Locations, s.Audit, logger, realtime.Config{
		LowBatteryThreshold: appCfg.LowBatteryThreshold,
	})

	s.Limiter = ratelimit.New(ratelimit.Config{
		PerMinute: appCfg.IngestRatePerMin,
		Burst:     appCfg.IngestBurst,
	})
	fan := fanout.New(states, s.Router, rec, logger)
	s.Pipeline = ingest.New(s.Users, s.Families, s.Locations, fan, s.Limiter, rec, logger)

	historyDays := int(appCfg.LocationRetention.Hours() / 24)
	s.Family = familysvc.New(s.Families, s.Users, states, s.Hub, s.Audit, logger, familysvc.Config{
		DefaultPlaceRadius: appCfg.PlaceDefaultRadius,
		MaxHistoryDays:     historyDays,
	})
	return s, nil
}
