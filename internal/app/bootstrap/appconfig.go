// internal/app/bootstrap/appconfig.go
package bootstrap

import "time"

// AppConfig holds service-specific configuration for this WAFFLE app.
//
// These values come from environment variables, configuration files, or
// command-line flags (loaded in LoadConfig). They represent *app-level*
// configuration, not WAFFLE core configuration.
//
// WAFFLE's CoreConfig handles framework-level settings like:
//   - HTTP/HTTPS ports and TLS configuration
//   - Logging level and format
//   - CORS settings
//   - Request body size limits
//
// AppConfig carries everything specific to the tracker: the document
// store, identity verification, retention and the real-time channel.
type AppConfig struct {
	// MongoDB connection configuration
	MongoURI         string // MongoDB connection string (e.g., mongodb://localhost:27017)
	MongoDatabase    string // Database name within MongoDB
	MongoMaxPoolSize uint64
	MongoMinPoolSize uint64

	// Browser session cookie (established from a bearer token)
	SessionKey    string // Secret key for signing session cookies (must be strong in production)
	SessionName   string // Cookie name for sessions (default: tracker-session)
	SessionDomain string // Cookie domain (blank means current host)

	// Identity provider tokens
	JWTSecret string // HS256 secret shared with the identity provider
	JWTIssuer string // Expected iss claim; blank skips the check

	// Location data
	LocationRetention   time.Duration // TTL for stored samples; 0 keeps them forever
	LowBatteryThreshold float64       // battery percentage that triggers low_battery alerts
	PlaceDefaultRadius  float64       // meters, when a place is created without one

	// Ingestion rate limit, per user
	IngestRatePerMin int
	IngestBurst      int

	// Real-time channel
	WSSendBuffer     int           // outbound events buffered per connection
	WSWriteTimeout   time.Duration // per-frame write deadline
	WSAllowedOrigins []string      // browser origins allowed to open /ws; empty means same host

	// Audit logging modes: "all", "db", "log" or "off"
	AuditLogMembership string
	AuditLogAccount    string
	AuditLogSafety     string

	MetricsEnabled bool // serve /metrics and count ingestion and delivery
}
