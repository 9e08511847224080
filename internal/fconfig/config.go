// Package fconfig loads flowexec's configuration via viper, following
// the teacher's internal/pkg/config Load()/setDefaults() shape:
// defaults set first, then a config file, then environment variable
// overrides with "." replaced by "_".
package fconfig

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	App      AppConfig
	Server   ServerConfig
	Database DatabaseConfig
	Worker   WorkerConfig
	Dispatch DispatchConfig
	Admin    AdminConfig
}

type AppConfig struct {
	Environment string
	Debug       bool
}

type ServerConfig struct {
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	FrontendURL  string
}

type DatabaseConfig struct {
	Driver        string // "postgres" | "mysql"
	DSN           string
	AllowedTables []string // empty means every table is permitted
}

// WorkerConfig maps directly onto spec §3's Configuration statics and
// §6's MAX_ACTIVE_APIS / API_INACTIVE_TTL_HOURS /
// WORKER_CLEANUP_INTERVAL_MINUTES / WORKER_STATS_INTERVAL_MINUTES env vars.
type WorkerConfig struct {
	MaxActiveWorkers int
	InactiveTTLHours float64
	CleanupMinutes   float64
	StatsMinutes     float64
}

type DispatchConfig struct {
	DefaultTimeout time.Duration
}

type AdminConfig struct {
	JWTSecret string
}

// Load builds a Config from (in increasing precedence) built-in
// defaults, an optional config file, then environment variables.
func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("flowexec")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			return nil, fmt.Errorf("fconfig: reading config file: %w", err)
		}
	}

	cfg := &Config{
		App: AppConfig{
			Environment: v.GetString("app.environment"),
			Debug:       v.GetBool("app.debug"),
		},
		Server: ServerConfig{
			Port:         v.GetInt("server.port"),
			ReadTimeout:  v.GetDuration("server.read_timeout"),
			WriteTimeout: v.GetDuration("server.write_timeout"),
			FrontendURL:  v.GetString("server.frontend_url"),
		},
		Database: DatabaseConfig{
			Driver:        v.GetString("database.driver"),
			DSN:           v.GetString("database.dsn"),
			AllowedTables: splitNonEmpty(v.GetString("database.allowed_tables")),
		},
		Worker: WorkerConfig{
			MaxActiveWorkers: v.GetInt("worker.max_active_apis"),
			InactiveTTLHours: v.GetFloat64("worker.api_inactive_ttl_hours"),
			CleanupMinutes:   v.GetFloat64("worker.cleanup_interval_minutes"),
			StatsMinutes:     v.GetFloat64("worker.stats_interval_minutes"),
		},
		Dispatch: DispatchConfig{
			DefaultTimeout: v.GetDuration("dispatch.default_timeout"),
		},
		Admin: AdminConfig{
			JWTSecret: v.GetString("admin.jwt_secret"),
		},
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("app.environment", "development")
	v.SetDefault("app.debug", false)

	v.SetDefault("server.port", 8080)
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.frontend_url", "http://localhost:3000")

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.allowed_tables", "")

	v.SetDefault("worker.max_active_apis", 50)
	v.SetDefault("worker.api_inactive_ttl_hours", 2.0)
	v.SetDefault("worker.cleanup_interval_minutes", 30.0)
	v.SetDefault("worker.stats_interval_minutes", 60.0)

	v.SetDefault("dispatch.default_timeout", 30*time.Second)

	v.SetDefault("admin.jwt_secret", "")

	_ = v.BindEnv("database.dsn", "DATABASE_DSN")
	_ = v.BindEnv("database.allowed_tables", "DATABASE_ALLOWED_TABLES")
	_ = v.BindEnv("admin.jwt_secret", "ADMIN_JWT_SECRET")
	_ = v.BindEnv("worker.max_active_apis", "MAX_ACTIVE_APIS")
	_ = v.BindEnv("worker.api_inactive_ttl_hours", "API_INACTIVE_TTL_HOURS")
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
