package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	App struct {
		ENV string
	}

	Log struct {
		Level        string
		Format       string
		Component    string
		Source       bool
		PseudonymKey string
	}

	DB struct {
		Driver   string
		Path     string
		DSN      string
		Host     string
		Port     string
		User     string
		Password string
		Name     string
	}

	Redis struct {
		Addr     string
		Password string
		DB       int
	}

	GRPC struct {
		Host string
		Port string
	}

	HTTP struct {
		Addr string
	}

	Throttle struct {
		MaxActions int
		Window     time.Duration
		CacheSize  int
	}

	Relay struct {
		Timeout time.Duration
	}

	Outbound struct {
		Rate       float64
		Burst      int
		MaxRetries int
	}

	Admin struct {
		ChatID int64
		// ChatIDInvalid holds an ADMIN_CHAT_ID that did not parse; admin
		// notices are off in that case.
		ChatIDInvalid string
		Token         string
	}
}

func New() *Config {
	cfg := &Config{}

	cfg.App.ENV = getEnvDefault("APP_ENV", "production")

	// Logger
	cfg.Log.Level = getEnvDefault("LOG_LEVEL", "info")
	cfg.Log.Format = getEnvDefault("LOG_FORMAT", "text")
	cfg.Log.Component = getEnvDefault("LOG_COMPONENT", "anon_relay")
	cfg.Log.Source = isTruthy(os.Getenv("LOG_SOURCE"))
	cfg.Log.PseudonymKey = os.Getenv("LOG_PSEUDONYM_KEY")

	// Database
	cfg.DB.Driver = strings.ToLower(getEnvDefault("DB_DRIVER", "sqlite"))
	cfg.DB.Path = getEnvDefault("DATABASE_PATH", "./anonchat.db")
	cfg.DB.DSN = os.Getenv("MYSQL_DSN")
	if cfg.DB.Driver == "mysql" && cfg.DB.DSN == "" {
		cfg.DB.Host = getEnvDefault("DB_HOST", "localhost")
		cfg.DB.Port = getEnvDefault("DB_PORT", "3306")
		cfg.DB.User = getEnvDefault("DB_USER", "root")
		cfg.DB.Password = getEnvDefault("DB_PASSWORD", "root")
		cfg.DB.Name = getEnvDefault("DB_NAME", "anonchat")

		cfg.DB.DSN = fmt.Sprintf(
			"%s:%s@tcp(%s:%s)/%s?parseTime=true&charset=utf8mb4&loc=UTC",
			cfg.DB.User, cfg.DB.Password, cfg.DB.Host, cfg.DB.Port, cfg.DB.Name,
		)
	}

	// Redis is optional: empty addr keeps throttle windows in memory.
	cfg.Redis.Addr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.Redis.Password = getEnvDefault("REDIS_PASSWORD", "")
	cfg.Redis.DB = getIntDefault("REDIS_DB", 0)

	// gRPC
	cfg.GRPC.Host = getEnvDefault("GRPC_HOST", "127.0.0.1")
	cfg.GRPC.Port = getEnvDefault("GRPC_PORT", "50051")

	// HTTP (websocket gateway, metrics, admin)
	cfg.HTTP.Addr = getEnvDefault("HTTP_ADDR", ":8081")

	// Throttle
	cfg.Throttle.MaxActions = getIntDefault("THROTTLE_MAX_ACTIONS", 5)
	cfg.Throttle.Window = getDurationDefault("THROTTLE_WINDOW", 3*time.Second)
	cfg.Throttle.CacheSize = getIntDefault("THROTTLE_CACHE_SIZE", 100_000)

	// Relay
	cfg.Relay.Timeout = getDurationDefault("RELAY_TIMEOUT", 5*time.Second)

	// Outbound delivery
	cfg.Outbound.Rate = getFloatDefault("OUTBOUND_RATE", 30)
	cfg.Outbound.Burst = getIntDefault("OUTBOUND_BURST", 30)
	cfg.Outbound.MaxRetries = getIntDefault("OUTBOUND_MAX_RETRIES", 2)

	// Admin
	if v := strings.TrimSpace(os.Getenv("ADMIN_CHAT_ID")); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Admin.ChatID = id
		} else {
			cfg.Admin.ChatIDInvalid = v
		}
	}
	cfg.Admin.Token = os.Getenv("ADMIN_TOKEN")

	return cfg
}

func getEnvDefault(k, def string) string {
	if v := strings.TrimSpace(os.Getenv(k)); v != "" {
		return v
	}
	return def
}

func getIntDefault(k string, def int) int {
	if n, err := strconv.Atoi(getEnvDefault(k, "")); err == nil {
		return n
	}
	return def
}

func getFloatDefault(k string, def float64) float64 {
	if f, err := strconv.ParseFloat(getEnvDefault(k, ""), 64); err == nil {
		return f
	}
	return def
}

func getDurationDefault(k string, def time.Duration) time.Duration {
	if d, err := time.ParseDuration(getEnvDefault(k, "")); err == nil && d > 0 {
		return d
	}
	return def
}

func isTruthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "y", "on":
		return true
	}
	return false
}
