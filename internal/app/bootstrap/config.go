// internal/app/bootstrap/config.go
package bootstrap

import (
	"fmt"
	"strings"
	"time"

	"github.com/dalemusser/waffle/config"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.uber.org/zap"
)

// Bounds on location_retention. Zero disables expiry.
const (
	MinLocationRetention = 24 * time.Hour
	MaxLocationRetention = 10 * 365 * 24 * time.Hour
)

// appConfigKeys defines the configuration keys for the tracker.
// These are loaded via WAFFLE's config system with support for:
//   - Config files: mongo_uri, jwt_secret, etc.
//   - Environment variables: TRACKER_MONGO_URI, TRACKER_JWT_SECRET, etc.
//   - Command-line flags: --mongo_uri, --jwt_secret, etc.
var appConfigKeys = []config.AppKey{
	{Name: "mongo_uri", Default: "mongodb://localhost:27017", Desc: "MongoDB connection URI"},
	{Name: "mongo_database", Default: "tracker", Desc: "MongoDB database name"},
	{Name: "mongo_max_pool_size", Default: 100, Desc: "MongoDB max connection pool size (default: 100)"},
	{Name: "mongo_min_pool_size", Default: 10, Desc: "MongoDB min connection pool size (default: 10)"},
	{Name: "session_key", Default: "dev-only-change-me-please-0123456789ABCDEF", Desc: "Session signing key (must be strong in production)"},
	{Name: "session_name", Default: "tracker-session", Desc: "Session cookie name"},
	{Name: "session_domain", Default: "", Desc: "Session cookie domain (blank means current host)"},

	// Identity provider
	{Name: "jwt_secret", Default: "", Desc: "HS256 secret for access tokens (required in prod)"},
	{Name: "jwt_issuer", Default: "", Desc: "Expected token issuer (blank skips the check)"},

	// Location data
	{Name: "location_retention", Default: "2160h", Desc: "How long location samples are kept (0 keeps them forever)"},
	{Name: "low_battery_threshold", Default: 20, Desc: "Battery percentage at or below which low_battery alerts fire"},
	{Name: "place_default_radius", Default: 100, Desc: "Default place radius in meters"},

	// Ingestion rate limit
	{Name: "ingest_rate_per_min", Default: 60, Desc: "Sustained location updates per user per minute"},
	{Name: "ingest_burst", Default: 20, Desc: "Burst of location updates allowed per user"},

	// Real-time channel
	{Name: "ws_send_buffer", Default: 64, Desc: "Outbound events buffered per connection"},
	{Name: "ws_write_timeout", Default: "10s", Desc: "Write deadline for one outbound frame"},
	{Name: "ws_allowed_origins", Default: "", Desc: "Comma-separated browser origins allowed on /ws (blank means same host, * allows all)"},

	// Audit logging settings
	{Name: "audit_log_membership", Default: "all", Desc: "Membership event logging: 'all' (db+log), 'db', 'log', or 'off'"},
	{Name: "audit_log_account", Default: "all", Desc: "Account event logging: 'all' (db+log), 'db', 'log', or 'off'"},
	{Name: "audit_log_safety", Default: "all", Desc: "Emergency event logging: 'all' (db+log), 'db', 'log', or 'off'"},

	{Name: "metrics_enabled", Default: true, Desc: "Expose Prometheus metrics at /metrics"},
}

// LoadConfig loads WAFFLE core config and app-specific config.
//
// WAFFLE's config.LoadWithAppConfig handles:
//   - Loading from .env files
//   - Loading from config.yaml/json/toml files
//   - Reading environment variables (WAFFLE_* for core, TRACKER_* for app)
//   - Parsing command-line flags
//   - Merging with precedence: flags > env > files > defaults
func LoadConfig(logger *zap.Logger) (*config.CoreConfig, AppConfig, error) {
	coreCfg, appValues, err := config.LoadWithAppConfig(logger, "TRACKER", appConfigKeys)
	if err != nil {
		return nil, AppConfig{}, err
	}

	appCfg := AppConfig{
		MongoURI:         appValues.String("mongo_uri"),
		MongoDatabase:    appValues.String("mongo_database"),
		MongoMaxPoolSize: uint64(appValues.Int("mongo_max_pool_size")),
		MongoMinPoolSize: uint64(appValues.Int("mongo_min_pool_size")),
		SessionKey:       appValues.String("session_key"),
		SessionName:      appValues.String("session_name"),
		SessionDomain:    appValues.String("session_domain"),

		JWTSecret: appValues.String("jwt_secret"),
		JWTIssuer: appValues.String("jwt_issuer"),

		LocationRetention:   appValues.Duration("location_retention", 90*24*time.Hour),
		LowBatteryThreshold: float64(appValues.Int("low_battery_threshold")),
		PlaceDefaultRadius:  float64(appValues.Int("place_default_radius")),

		IngestRatePerMin: appValues.Int("ingest_rate_per_min"),
		IngestBurst:      appValues.Int("ingest_burst"),

		WSSendBuffer:     appValues.Int("ws_send_buffer"),
		WSWriteTimeout:   appValues.Duration("ws_write_timeout", 10*time.Second),
		WSAllowedOrigins: splitList(appValues.String("ws_allowed_origins")),

		AuditLogMembership: appValues.String("audit_log_membership"),
		AuditLogAccount:    appValues.String("audit_log_account"),
		AuditLogSafety:     appValues.String("audit_log_safety"),

		MetricsEnabled: appValues.Bool("metrics_enabled"),
	}

	// Local development gets a throwaway secret so tokens can be minted
	// with the same value; ValidateConfig refuses this in prod.
	if appCfg.JWTSecret == "" && coreCfg.Env != "prod" {
		appCfg.JWTSecret = devJWTSecret
		logger.Warn("no jwt_secret configured; using the development secret")
	}

	return coreCfg, appCfg, nil
}

const devJWTSecret = "dev-only-jwt-secret-change-me"

// splitList parses a comma-separated config value, dropping blanks.
func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// ValidateConfig performs app-specific config validation.
//
// Return nil to accept the loaded config, or an error to abort startup.
// This is the right place to enforce required fields or invariants that
// involve both the core and app configs.
func ValidateConfig(coreCfg *config.CoreConfig, appCfg AppConfig, logger *zap.Logger) error {
	if err := wafflemongo.ValidateURI(appCfg.MongoURI); err != nil {
		logger.Error("invalid MongoDB URI", zap.Error(err))
		return fmt.Errorf("invalid MongoDB URI: %w", err)
	}

	if appCfg.JWTSecret == "" {
		return fmt.Errorf("jwt_secret is required")
	}
	if coreCfg.Env == "prod" && appCfg.JWTSecret == devJWTSecret {
		return fmt.Errorf("jwt_secret must be set in prod")
	}

	if r := appCfg.LocationRetention; r != 0 && (r < MinLocationRetention || r > MaxLocationRetention) {
		return fmt.Errorf("location_retention must be 0 or between %s and %s, got %s",
			MinLocationRetention, MaxLocationRetention, r)
	}
	if t := appCfg.LowBatteryThreshold; t < 1 || t > 100 {
		return fmt.Errorf("low_battery_threshold must be between 1 and 100, got %v", t)
	}
	if appCfg.IngestRatePerMin <= 0 || appCfg.IngestBurst <= 0 {
		return fmt.Errorf("ingest_rate_per_min and ingest_burst must be positive")
	}
	if appCfg.WSSendBuffer <= 0 {
		return fmt.Errorf("ws_send_buffer must be positive")
	}

	return nil
}
