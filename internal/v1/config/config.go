// Package config validates the process environment into a typed Config.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
)

const (
	// DefaultRoomMaxUsers applies when ROOM_MAX_USERS is unset.
	DefaultRoomMaxUsers = 8
	// RoomMaxUsersCeiling is the hard ceiling for ROOM_MAX_USERS.
	RoomMaxUsersCeiling = 64
)

// Config holds validated environment configuration.
type Config struct {
	// TCP game server
	Host string
	Port int

	// Admin/federation HTTP surface
	HTTPPort int

	// Upstream identity/chart service base URL
	HTTPService string

	ServerName    string
	RoomMaxUsers  int
	Monitors      []int32
	TestAccounts  []int32
	RoomListTip   string
	Language      string
	ReplayEnabled bool
	ReplayDir     string
	AdminToken    string
	AdminDataPath string

	// Optional shared cache / federation
	RedisEnabled  bool
	RedisAddr     string
	RedisPassword string
	FedSecret     string
	FedPeers      []Peer

	// Observability
	LogLevel     string
	Development  bool
	OTLPEndpoint string

	// Rate limits, ulule "count-period" format
	RateLimitChat string
	RateLimitRoom string
	RateLimitGame string
}

// Peer names a federation peer and its HTTP base address.
type Peer struct {
	Name string
	Addr string
}

// ValidateEnv validates all environment variables and returns a Config.
// It returns an error listing every invalid variable at once.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errs []string

	port := getEnvOrDefault("PORT", "12346")
	p, err := strconv.Atoi(port)
	if err != nil || p < 1 || p > 65535 {
		errs = append(errs, fmt.Sprintf("PORT must be a valid port number (got %q)", port))
	}
	cfg.Port = p

	cfg.Host = getEnvOrDefault("HOST", "0.0.0.0")

	httpPort := getEnvOrDefault("HTTP_PORT", "12347")
	hp, err := strconv.Atoi(httpPort)
	if err != nil || hp < 1 || hp > 65535 {
		errs = append(errs, fmt.Sprintf("HTTP_PORT must be a valid port number (got %q)", httpPort))
	}
	cfg.HTTPPort = hp

	cfg.HTTPService = getEnvOrDefault("HTTP_SERVICE", "https://phira.5wyxi.com")
	cfg.ServerName = getEnvOrDefault("SERVER_NAME", "phira-mp")

	cfg.RoomMaxUsers = DefaultRoomMaxUsers
	if v := os.Getenv("ROOM_MAX_USERS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			errs = append(errs, fmt.Sprintf("ROOM_MAX_USERS must be an integer (got %q)", v))
		} else {
			// Clamp rather than reject; the ceiling is a protocol limit.
			if n < 1 {
				n = 1
			}
			if n > RoomMaxUsersCeiling {
				n = RoomMaxUsersCeiling
			}
			cfg.RoomMaxUsers = n
		}
	}

	var errList []string
	cfg.Monitors, errList = parseIntList(os.Getenv("MONITORS"), "MONITORS")
	errs = append(errs, errList...)

	cfg.TestAccounts, errList = parseIntList(getEnvOrDefault("TEST_ACCOUNT_IDS", "1739989"), "TEST_ACCOUNT_IDS")
	errs = append(errs, errList...)

	cfg.RoomListTip = os.Getenv("ROOM_LIST_TIP")
	cfg.Language = getEnvOrDefault("PHIRA_MP_LANG", getEnvOrDefault("LANG", "en-US"))

	cfg.ReplayEnabled = os.Getenv("REPLAY_ENABLED") == "true"
	cfg.ReplayDir = getEnvOrDefault("REPLAY_DIR", "record")
	cfg.AdminToken = os.Getenv("ADMIN_TOKEN")
	cfg.AdminDataPath = getEnvOrDefault("ADMIN_DATA_PATH", "admin_data.json")

	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			cfg.RedisAddr = "localhost:6379"
			slog.Warn("REDIS_ADDR not set, using default", "addr", cfg.RedisAddr)
		} else if !isValidHostPort(cfg.RedisAddr) {
			errs = append(errs, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got %q)", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	cfg.FedSecret = os.Getenv("FED_SECRET")
	for _, entry := range splitNonEmpty(os.Getenv("FED_PEERS")) {
		name, addr, found := strings.Cut(entry, "=")
		if !found || name == "" || addr == "" {
			errs = append(errs, fmt.Sprintf("FED_PEERS entries must be 'name=host:port' (got %q)", entry))
			continue
		}
		cfg.FedPeers = append(cfg.FedPeers, Peer{Name: name, Addr: addr})
	}
	if len(cfg.FedPeers) > 0 && cfg.FedSecret == "" {
		errs = append(errs, "FED_SECRET is required when FED_PEERS is set")
	}

	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.Development = os.Getenv("GO_ENV") == "development"
	cfg.OTLPEndpoint = os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")

	cfg.RateLimitChat = getEnvOrDefault("RATE_LIMIT_CHAT", "30-M")
	cfg.RateLimitRoom = getEnvOrDefault("RATE_LIMIT_ROOM", "60-M")
	cfg.RateLimitGame = getEnvOrDefault("RATE_LIMIT_GAME", "1800-M")

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidatedConfig(cfg)
	return cfg, nil
}

func parseIntList(raw, name string) ([]int32, []string) {
	var out []int32
	var errs []string
	for _, part := range splitNonEmpty(raw) {
		n, err := strconv.ParseInt(part, 10, 32)
		if err != nil {
			errs = append(errs, fmt.Sprintf("%s entries must be integers (got %q)", name, part))
			continue
		}
		out = append(out, int32(n))
	}
	return out, errs
}

func splitNonEmpty(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

func isValidHostPort(addr string) bool {
	host, port, found := strings.Cut(addr, ":")
	if !found || host == "" {
		return false
	}
	n, err := strconv.Atoi(port)
	return err == nil && n >= 1 && n <= 65535
}

func logValidatedConfig(cfg *Config) {
	slog.Info("environment configuration validated",
		"host", cfg.Host,
		"port", cfg.Port,
		"http_port", cfg.HTTPPort,
		"http_service", cfg.HTTPService,
		"server_name", cfg.ServerName,
		"room_max_users", cfg.RoomMaxUsers,
		"monitors", len(cfg.Monitors),
		"replay_enabled", cfg.ReplayEnabled,
		"redis_enabled", cfg.RedisEnabled,
		"fed_peers", len(cfg.FedPeers),
		"admin_token", redactSecret(cfg.AdminToken),
		"log_level", cfg.LogLevel,
	)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists && value != "" {
		return value
	}
	return defaultValue
}

func redactSecret(secret string) string {
	if secret == "" {
		return ""
	}
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:4] + "***"
}
