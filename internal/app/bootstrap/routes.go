// internal/app/bootstrap/routes.go
package bootstrap

import (
	"errors"
	"net/http"

	"github.com/dalemusser/waffle/config"
	"github.com/go-chi/chi/v5"
	accountfeature "github.com/josefm09/tracker/internal/app/features/account"
	channelfeature "github.com/josefm09/tracker/internal/app/features/channel"
	familiesfeature "github.com/josefm09/tracker/internal/app/features/families"
	healthfeature "github.com/josefm09/tracker/internal/app/features/health"
	locationsfeature "github.com/josefm09/tracker/internal/app/features/locations"
	"github.com/josefm09/tracker/internal/app/system/metrics"
	"go.uber.org/zap"
)

// BuildHandler constructs the root HTTP handler (router) for this WAFFLE app.
//
// WAFFLE calls this after configuration, DB connections, schema setup, and
// the Startup hook have completed. Every route sees the authenticated
// identity, if any, through auth.CurrentUser(r):
//
//	/health          liveness and Mongo ping
//	/metrics         Prometheus scrape (when enabled)
//	/ws              real-time channel
//	/api/locations   location submit, queries and deletion
//	/api/families    families, members, places
//	/api/account     profile, settings, sessions, deactivation
func BuildHandler(coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) (http.Handler, error) {
	svc := deps.Services
	if svc == nil || svc.Auth == nil {
		return nil, errors.New("bootstrap: services not started")
	}

	r := chi.NewRouter()

	// Global auth middleware: loads the identity into context when the
	// request carries a valid token or session cookie.
	r.Use(svc.Auth.LoadUser)

	// Health check endpoint for load balancers and orchestrators
	healthHandler := healthfeature.NewHandler(deps.MongoClient, svc.Hub, logger)
	r.Mount("/health", healthfeature.Routes(healthHandler))

	if svc.Registry != nil {
		r.Handle("/metrics", metrics.Handler(svc.Registry))
	}

	// Real-time channel
	channelHandler := channelfeature.NewHandler(svc.Router, svc.Pipeline, channelfeature.Config{
		SendBuffer:     appCfg.WSSendBuffer,
		WriteTimeout:   appCfg.WSWriteTimeout,
		AllowedOrigins: appCfg.WSAllowedOrigins,
	}, logger)
	channelHandler.MountRoutes(r)

	// REST
	locationsHandler := locationsfeature.NewHandler(deps.MongoDatabase, svc.Pipeline, svc.Audit, logger)
	r.Mount("/api/locations", locationsfeature.Routes(locationsHandler))

	familiesHandler := familiesfeature.NewHandler(svc.Family, svc.Router, logger)
	r.Mount("/api/families", familiesfeature.Routes(familiesHandler))

	accountHandler := accountfeature.NewHandler(svc.Users, svc.Family, svc.Auth, svc.Hub, svc.Audit, logger)
	r.Mount("/api/account", accountfeature.Routes(accountHandler))

	return r, nil
}
