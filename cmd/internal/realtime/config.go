package realtime

import (
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAllowedOrigins = "http://localhost,http://127.0.0.1"
	defaultBroadcastRoom  = "broadcast"

	defaultWriteTimeout = 5 * time.Second
	defaultReadIdle     = 2 * time.Minute

	defaultMaxFrameBytes = 64 << 10
	defaultSendQueueSize = 256
	minSendQueueSize     = 32

	defaultHeartbeatInterval = 25 * time.Second
	defaultHeartbeatTimeout  = 5 * time.Second

	// events per window, per connection
	defaultRateEvents = 120
	defaultRateWindow = 10 * time.Second
)

// Config tunes the websocket gateway.
type Config struct {
	// OriginRequired rejects handshakes without an Origin header.
	OriginRequired bool
	// AllowedOrigins is the origin allow-list (see package origin).
	AllowedOrigins []string
	// DevInsecure disables the websocket library's own origin check. Dev only.
	DevInsecure bool

	WriteTimeout    time.Duration
	ReadIdleTimeout time.Duration
	SendQueueSize   int
	MaxFrameBytes   int64

	HeartbeatInterval time.Duration
	HeartbeatTimeout  time.Duration

	RateEvents int
	RateWindow time.Duration

	// BroadcastRoom is joined by every connection in addition to its user room.
	BroadcastRoom string
}

// DefaultConfig returns the production defaults: Origin required and only
// localhost allowed.
func DefaultConfig() Config {
	return Config{
		OriginRequired:    true,
		AllowedOrigins:    splitCSV(defaultAllowedOrigins),
		WriteTimeout:      defaultWriteTimeout,
		ReadIdleTimeout:   defaultReadIdle,
		SendQueueSize:     defaultSendQueueSize,
		MaxFrameBytes:     defaultMaxFrameBytes,
		HeartbeatInterval: defaultHeartbeatInterval,
		HeartbeatTimeout:  defaultHeartbeatTimeout,
		RateEvents:        defaultRateEvents,
		RateWindow:        defaultRateWindow,
		BroadcastRoom:     defaultBroadcastRoom,
	}
}

// LoadConfigFromEnv reads INSTANT_WS_* over DefaultConfig. Invalid values
// fall back to the default.
func LoadConfigFromEnv() Config {
	d := DefaultConfig()
	cfg := Config{
		OriginRequired:    envBoolWS("INSTANT_WS_ORIGIN_REQUIRED", d.OriginRequired),
		AllowedOrigins:    envCSVWS("INSTANT_WS_ALLOWED_ORIGINS", defaultAllowedOrigins),
		DevInsecure:       envBoolWS("INSTANT_WS_DEV_INSECURE", false),
		WriteTimeout:      envDurationWS("INSTANT_WS_WRITE_TIMEOUT", d.WriteTimeout),
		ReadIdleTimeout:   envDurationWS("INSTANT_WS_READ_IDLE_TIMEOUT", d.ReadIdleTimeout),
		SendQueueSize:     envIntWS("INSTANT_WS_SEND_QUEUE", d.SendQueueSize),
		MaxFrameBytes:     int64(envIntWS("INSTANT_WS_MAX_FRAME_BYTES", int(d.MaxFrameBytes))),
		HeartbeatInterval: envDurationWS("INSTANT_WS_HEARTBEAT_INTERVAL", d.HeartbeatInterval),
		HeartbeatTimeout:  envDurationWS("INSTANT_WS_HEARTBEAT_TIMEOUT", d.HeartbeatTimeout),
		RateEvents:        envIntWS("INSTANT_WS_RATE_EVENTS", d.RateEvents),
		RateWindow:        envDurationWS("INSTANT_WS_RATE_WINDOW", d.RateWindow),
		BroadcastRoom:     envStringWS("INSTANT_WS_BROADCAST_ROOM", d.BroadcastRoom),
	}
	return cfg.withDefaults()
}

// withDefaults fills zero fields and clamps the send queue.
func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.ReadIdleTimeout <= 0 {
		c.ReadIdleTimeout = d.ReadIdleTimeout
	}
	if c.SendQueueSize < minSendQueueSize {
		c.SendQueueSize = minSendQueueSize
	}
	if c.MaxFrameBytes <= 0 {
		c.MaxFrameBytes = d.MaxFrameBytes
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = d.HeartbeatInterval
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = d.HeartbeatTimeout
	}
	if c.RateEvents <= 0 {
		c.RateEvents = d.RateEvents
	}
	if c.RateWindow <= 0 {
		c.RateWindow = d.RateWindow
	}
	c.BroadcastRoom = strings.TrimSpace(c.BroadcastRoom)
	return c
}

// ---- env helpers ----

func envStringWS(key, def string) string {
	v, ok := os.LookupEnv(key)
	if !ok {
		return def
	}
	return strings.TrimSpace(v)
}

func envBoolWS(key string, def bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return def
	}
	return b
}

func envIntWS(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}

func envDurationWS(key string, def time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

func envCSVWS(key string, def string) []string {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		raw = def
	}
	return splitCSV(raw)
}

func splitCSV(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if s := strings.TrimSpace(p); s != "" {
			out = append(out, s)
		}
	}
	return out
}
