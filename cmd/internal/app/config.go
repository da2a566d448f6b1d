package app

import (
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/posflag"
	"github.com/knadh/koanf/v2"
	"github.com/samber/oops"
	"github.com/spf13/pflag"
)

// Config is the process-level runtime configuration. Session, password,
// auth API and realtime settings are loaded by their own packages.
type Config struct {
	HTTPAddr  string
	LogLevel  string
	LogFormat string

	ReadHeaderTimeout time.Duration
	ReadTimeout       time.Duration
	WriteTimeout      time.Duration
	IdleTimeout       time.Duration
	MaxHeaderBytes    int

	// Empty selects the in-memory stores.
	DatabaseURL      string
	DBMaxConns       int32
	DBMinConns       int32
	DBConnectRetries int
	AutoMigrate      bool

	// If true, /readyz returns 503 unless a database is configured and reachable.
	ReadinessRequireDB bool

	// If true, INSTANT_TOKEN_HMAC_KEY must be set (>= 32 bytes) so refresh
	// tokens are stored as HMAC digests.
	RequireTokenHMAC bool

	CORSAllowedOrigins   []string
	CORSAllowCredentials bool
	CORSMaxAgeSeconds    int

	MetricsEnabled bool
}

// Config keys shared by the YAML file and CLI flags (dashes become underscores).
const (
	keyHTTPAddr             = "http_addr"
	keyLogLevel             = "log_level"
	keyLogFormat            = "log_format"
	keyReadHeaderTimeout    = "read_header_timeout"
	keyReadTimeout          = "read_timeout"
	keyWriteTimeout         = "write_timeout"
	keyIdleTimeout          = "idle_timeout"
	keyMaxHeaderBytes       = "max_header_bytes"
	keyDatabaseURL          = "database_url"
	keyDBMaxConns           = "db_max_conns"
	keyDBMinConns           = "db_min_conns"
	keyDBConnectRetries     = "db_connect_retries"
	keyAutoMigrate          = "auto_migrate"
	keyReadinessRequireDB   = "readiness_require_db"
	keyRequireTokenHMAC     = "require_token_hmac"
	keyCORSAllowedOrigins   = "cors_allowed_origins"
	keyCORSAllowCredentials = "cors_allow_credentials"
	keyCORSMaxAgeSeconds    = "cors_max_age_seconds"
	keyMetricsEnabled       = "metrics_enabled"
)

// LoadConfig loads Config from INSTANT_* environment variables with defaults.
func LoadConfig() Config {
	return Config{
		HTTPAddr:  EnvString("INSTANT_HTTP_ADDR", "0.0.0.0:8080"),
		LogLevel:  EnvString("INSTANT_LOG_LEVEL", "info"),
		LogFormat: EnvString("INSTANT_LOG_FORMAT", "json"),

		ReadHeaderTimeout: EnvDuration("INSTANT_HTTP_READ_HEADER_TIMEOUT", 5*time.Second),
		ReadTimeout:       EnvDuration("INSTANT_HTTP_READ_TIMEOUT", 15*time.Second),
		WriteTimeout:      EnvDuration("INSTANT_HTTP_WRITE_TIMEOUT", 15*time.Second),
		IdleTimeout:       EnvDuration("INSTANT_HTTP_IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    EnvInt("INSTANT_HTTP_MAX_HEADER_BYTES", 1<<20),

		DatabaseURL:      EnvString("INSTANT_DATABASE_URL", ""),
		DBMaxConns:       EnvInt32("INSTANT_DB_MAX_CONNS", 10),
		DBMinConns:       EnvInt32("INSTANT_DB_MIN_CONNS", 0),
		DBConnectRetries: EnvInt("INSTANT_DB_CONNECT_RETRIES", 5),
		AutoMigrate:      EnvBool("INSTANT_AUTO_MIGRATE", false),

		ReadinessRequireDB: EnvBool("INSTANT_READINESS_REQUIRE_DB", false),
		RequireTokenHMAC:   EnvBool("INSTANT_REQUIRE_TOKEN_HMAC", false),

		CORSAllowedOrigins:   EnvCSV("INSTANT_CORS_ALLOWED_ORIGINS", ""),
		CORSAllowCredentials: EnvBool("INSTANT_CORS_ALLOW_CREDENTIALS", false),
		CORSMaxAgeSeconds:    EnvInt("INSTANT_CORS_MAX_AGE_SECONDS", 600),

		MetricsEnabled: EnvBool("INSTANT_METRICS_ENABLED", true),
	}
}

// LoadConfigWithSources layers, lowest first: environment (LoadConfig), the
// YAML file at path (if non-empty), then flags explicitly set on fs.
func LoadConfigWithSources(path string, fs *pflag.FlagSet) (Config, error) {
	k := koanf.New(".")
	base := LoadConfig()
	for key, val := range base.toMap() {
		if err := k.Set(key, val); err != nil {
			return Config{}, oops.In("config").Code("CONFIG_INVALID").With("key", key).Wrap(err)
		}
	}

	if path = strings.TrimSpace(path); path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return Config{}, oops.In("config").Code("CONFIG_FILE").With("path", path).Wrap(err)
		}
	}

	if fs != nil {
		provider := posflag.ProviderWithFlag(fs, ".", k, func(f *pflag.Flag) (string, interface{}) {
			return strings.ReplaceAll(f.Name, "-", "_"), posflag.FlagVal(fs, f)
		})
		if err := k.Load(provider, nil); err != nil {
			return Config{}, oops.In("config").Code("CONFIG_FLAGS").Wrap(err)
		}
	}

	return fromKoanf(k), nil
}

func (c Config) toMap() map[string]any {
	return map[string]any{
		keyHTTPAddr:             c.HTTPAddr,
		keyLogLevel:             c.LogLevel,
		keyLogFormat:            c.LogFormat,
		keyReadHeaderTimeout:    c.ReadHeaderTimeout.String(),
		keyReadTimeout:          c.ReadTimeout.String(),
		keyWriteTimeout:         c.WriteTimeout.String(),
		keyIdleTimeout:          c.IdleTimeout.String(),
		keyMaxHeaderBytes:       c.MaxHeaderBytes,
		keyDatabaseURL:          c.DatabaseURL,
		keyDBMaxConns:           int(c.DBMaxConns),
		keyDBMinConns:           int(c.DBMinConns),
		keyDBConnectRetries:     c.DBConnectRetries,
		keyAutoMigrate:          c.AutoMigrate,
		keyReadinessRequireDB:   c.ReadinessRequireDB,
		keyRequireTokenHMAC:     c.RequireTokenHMAC,
		keyCORSAllowedOrigins:   c.CORSAllowedOrigins,
		keyCORSAllowCredentials: c.CORSAllowCredentials,
		keyCORSMaxAgeSeconds:    c.CORSMaxAgeSeconds,
		keyMetricsEnabled:       c.MetricsEnabled,
	}
}

func fromKoanf(k *koanf.Koanf) Config {
	return Config{
		HTTPAddr:  k.String(keyHTTPAddr),
		LogLevel:  k.String(keyLogLevel),
		LogFormat: k.String(keyLogFormat),

		ReadHeaderTimeout: k.Duration(keyReadHeaderTimeout),
		ReadTimeout:       k.Duration(keyReadTimeout),
		WriteTimeout:      k.Duration(keyWriteTimeout),
		IdleTimeout:       k.Duration(keyIdleTimeout),
		MaxHeaderBytes:    k.Int(keyMaxHeaderBytes),

		DatabaseURL:      k.String(keyDatabaseURL),
		DBMaxConns:       int32(k.Int(keyDBMaxConns)),
		DBMinConns:       int32(k.Int(keyDBMinConns)),
		DBConnectRetries: k.Int(keyDBConnectRetries),
		AutoMigrate:      k.Bool(keyAutoMigrate),

		ReadinessRequireDB: k.Bool(keyReadinessRequireDB),
		RequireTokenHMAC:   k.Bool(keyRequireTokenHMAC),

		CORSAllowedOrigins:   k.Strings(keyCORSAllowedOrigins),
		CORSAllowCredentials: k.Bool(keyCORSAllowCredentials),
		CORSMaxAgeSeconds:    k.Int(keyCORSMaxAgeSeconds),

		MetricsEnabled: k.Bool(keyMetricsEnabled),
	}
}

// BindServeFlags declares the serve flags. Defaults are informational: only
// flags the user sets override the environment and config file.
func BindServeFlags(fs *pflag.FlagSet) {
	fs.String("http-addr", "0.0.0.0:8080", "HTTP listen address")
	fs.String("log-level", "info", "log level (debug|info|warn|error)")
	fs.String("log-format", "json", "log format (json|text|pretty)")
	fs.String("database-url", "", "PostgreSQL URL; empty uses in-memory stores")
	fs.Bool("auto-migrate", false, "apply pending migrations before serving")
}
