// Package config loads the engine's runtime configuration from flags and
// environment variables, following the teacher's pattern: env vars set
// defaults, flags override them.
package config

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration for the demo server binary.
type Config struct {
	ProtocolParam string // raw "[max_client][#key_change_interval]" string
	MaxClient     int
	KeyInterval   time.Duration

	DBPath       string
	MetricsAddr  string
	OTelEnabled  bool
	Debug        bool
	ServerKeyHex string
}

// Load parses command line flags and environment variables to populate
// Config. Flags take precedence over environment variables.
func Load() *Config {
	cfg := &Config{}

	protocolParam := getEnv("AUTHCHAIN_PROTOCOL_PARAM", "64")
	cfg.DBPath = getEnv("AUTHCHAIN_DB", getDefaultDBPath())
	cfg.MetricsAddr = getEnv("AUTHCHAIN_METRICS_ADDR", ":9090")
	cfg.OTelEnabled = getEnvBool("AUTHCHAIN_OTEL", false)
	cfg.ServerKeyHex = getEnv("AUTHCHAIN_SERVER_KEY", "")

	flag.StringVar(&protocolParam, "protocol-param", protocolParam, "[max_client][#key_change_interval] auth_chain parameter string")
	flag.StringVar(&cfg.DBPath, "db", cfg.DBPath, "Path to SQLite window-store database")
	flag.StringVar(&cfg.MetricsAddr, "metrics-addr", cfg.MetricsAddr, "Prometheus metrics listen address")
	flag.BoolVar(&cfg.OTelEnabled, "otel", cfg.OTelEnabled, "Enable OpenTelemetry stdout tracing")
	flag.BoolVar(&cfg.Debug, "debug", false, "Enable verbose debug logging")
	flag.StringVar(&cfg.ServerKeyHex, "server-key", cfg.ServerKeyHex, "Hex-encoded server shared secret")

	flag.Parse()

	cfg.ProtocolParam = protocolParam
	cfg.MaxClient, cfg.KeyInterval = ParseProtocolParam(protocolParam)

	return cfg
}

// ParseProtocolParam parses the "[max_client][#key_change_interval]" form
// the original implementation reads from server_info.protocol_param.
// Either half may be absent; defaults are max_client=64 and a 24-hour
// key-change interval, matching auth_chain_f's fallback.
func ParseProtocolParam(s string) (maxClient int, interval time.Duration) {
	maxClient = 64
	interval = 24 * time.Hour

	parts := strings.SplitN(s, "#", 2)
	if parts[0] != "" {
		if n, err := strconv.Atoi(parts[0]); err == nil {
			maxClient = n
		}
	}
	if len(parts) == 2 && parts[1] != "" {
		if secs, err := strconv.Atoi(parts[1]); err == nil {
			interval = time.Duration(secs) * time.Second
		}
	}
	return maxClient, interval
}

// ParseUserParam parses the client-side "user_id:user_key" form of
// protocol_param (e.g. "1000000:password"), used when a client session
// is constructed with an explicit identity rather than a random uid.
func ParseUserParam(s string) (userID uint32, userKey []byte, ok bool) {
	if !strings.Contains(s, ":") {
		return 0, nil, false
	}
	items := strings.SplitN(s, ":", 2)
	n, err := strconv.ParseUint(items[0], 10, 32)
	if err != nil {
		return 0, nil, false
	}
	return uint32(n), []byte(items[1]), true
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if value, ok := os.LookupEnv(key); ok {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return fallback
}

// getDefaultDBPath returns the default database path in the user's home
// directory, creating the containing directory if needed.
func getDefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		log.Printf("config: could not get user home directory, using current dir: %v", err)
		return "authchain.db"
	}

	dir := filepath.Join(home, ".authchain")
	if err := os.MkdirAll(dir, 0755); err != nil {
		log.Printf("config: could not create %s, using current dir: %v", dir, err)
		return "authchain.db"
	}

	return filepath.Join(dir, "authchain.db")
}

// String renders the config for startup logging.
func (c *Config) String() string {
	return fmt.Sprintf("db=%s metrics=%s otel=%v max_client=%d key_interval=%s",
		c.DBPath, c.MetricsAddr, c.OTelEnabled, c.MaxClient, c.KeyInterval)
}
