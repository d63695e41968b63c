package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config aggregates per-subsystem configuration so main stays lean.
type Config struct {
	Node  Node
	HTTP  HTTP
	Cache Cache
	Relay Relay
	Redis Redis
	Sync  Sync
	Log   Log
}

// Node identifies this device and its team membership.
type Node struct {
	// DataDir holds the cache database and key material.
	DataDir string
	// TeamCode enables team-scoped encryption and discovery when set. It is
	// exchanged out of band (printed QR, verbal code) and never published.
	TeamCode string
}

// HTTP captures the local UI/admin server configuration.
type HTTP struct {
	Addr string
}

// Cache locates the embedded record store.
type Cache struct {
	Path string
}

// Relay holds the built-in relay endpoints for this environment. Locally
// cached and remotely fetched lists are merged on top at runtime.
type Relay struct {
	Defaults     []string
	QueryTimeout time.Duration
}

// Redis configures the optional cross-session bus. An empty URL selects the
// in-process bus.
type Redis struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// Sync tunes the per-entity orchestrators.
type Sync struct {
	PageSize           int
	RecentWindow       time.Duration
	ActivePollInterval time.Duration
	FullSyncInterval   time.Duration
	OutboxInterval     time.Duration
}

// Log selects level and output format for slog.
type Log struct {
	Level  string
	Format string
}

// FromEnv builds the full configuration from environment variables with
// development defaults.
func FromEnv() Config {
	dataDir := getenv("TILLSYNC_DATA_DIR", ".tillsync")
	return Config{
		Node: Node{
			DataDir:  dataDir,
			TeamCode: os.Getenv("TILLSYNC_TEAM_CODE"),
		},
		HTTP: HTTP{
			Addr: getenv("TILLSYNC_HTTP_ADDR", "127.0.0.1:8931"),
		},
		Cache: Cache{
			Path: getenv("TILLSYNC_CACHE_PATH", dataDir+"/cache.db"),
		},
		Relay: Relay{
			Defaults:     splitList(getenv("TILLSYNC_RELAYS", "wss://relay.damus.io,wss://nos.lol,wss://relay.snort.social")),
			QueryTimeout: getduration("TILLSYNC_RELAY_QUERY_TIMEOUT", 10*time.Second),
		},
		Redis: Redis{
			URL:          os.Getenv("TILLSYNC_REDIS_URL"),
			PoolSize:     getint("TILLSYNC_REDIS_POOL_SIZE", 4),
			MinIdleConns: getint("TILLSYNC_REDIS_MIN_IDLE", 1),
			DialTimeout:  getduration("TILLSYNC_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  getduration("TILLSYNC_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: getduration("TILLSYNC_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
		Sync: Sync{
			PageSize:           getint("TILLSYNC_SYNC_PAGE_SIZE", 200),
			RecentWindow:       getduration("TILLSYNC_SYNC_RECENT_WINDOW", 24*time.Hour),
			ActivePollInterval: getduration("TILLSYNC_SYNC_ACTIVE_POLL", 15*time.Second),
			FullSyncInterval:   getduration("TILLSYNC_SYNC_FULL_INTERVAL", 5*time.Minute),
			OutboxInterval:     getduration("TILLSYNC_OUTBOX_INTERVAL", 10*time.Second),
		},
		Log: Log{
			Level:  getenv("TILLSYNC_LOG_LEVEL", "info"),
			Format: getenv("TILLSYNC_LOG_FORMAT", "text"),
		},
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getint(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getduration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func splitList(v string) []string {
	parts := strings.Split(v, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
