package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/spf13/viper"
)

// AppConfig holds environment driven configuration values.
// Sensitive data should never have defaults inside code and must be provided via config files or the environment.
type AppConfig struct {
	AppPort            string
	JWTSecret          string
	TokenTTLHours      int
	RateLimitPerMinute int
	AllowedOrigins     []string
	AdminUsernames     []string
	// Gin framework configuration
	GinMode string
	GinPath string
	// Database
	DBDriver           string
	DatabaseURI        string
	DBHost             string
	DBPort             string
	DBUser             string
	DBPassword         string
	DBName             string
	DBSSLMode          string
	DBMaxOpenConns     int
	DBMaxIdleConns     int
	StatementTimeoutMs int
	// Redis for caching and the token blacklist
	RedisHost       string
	RedisPort       int
	RedisDB         int
	RedisPassword   string
	CacheEnabled    bool
	CacheTTLSeconds int
	// Logging configuration
	LogLevel      string
	LogPath       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	LogCompress   bool
	// Reaction engine retry policy
	ReactionMaxAttempts   int
	ReactionBackoffBaseMs int
	ReactionBackoffMaxMs  int
	// Prometheus endpoint
	MetricsEnabled bool
}

var (
	cfg    AppConfig
	loaded bool
	mu     sync.RWMutex
)

// envBindings maps config keys onto the environment variables that override them.
var envBindings = map[string]string{
	"app.port":                      "APP_PORT",
	"app.jwt_secret":                "JWT_SECRET",
	"app.token_ttl_hours":           "TOKEN_TTL_HOURS",
	"app.rate_limit_per_minute":     "RATE_LIMIT_PER_MINUTE",
	"app.allowed_origins":           "CORS_ALLOWED_ORIGINS",
	"admin.usernames":               "ADMIN_USERNAMES",
	"gin.mode":                      "GIN_MODE",
	"gin.log_path":                  "GIN_PATH",
	"database.driver":               "DB_DRIVER",
	"database.uri":                  "DATABASE_URI",
	"database.host":                 "DB_HOST",
	"database.port":                 "DB_PORT",
	"database.user":                 "DB_USER",
	"database.password":             "DB_PASSWORD",
	"database.name":                 "DB_NAME",
	"database.sslmode":              "DB_SSLMODE",
	"database.max_open_conns":       "DB_MAX_OPEN_CONNS",
	"database.max_idle_conns":       "DB_MAX_IDLE_CONNS",
	"database.statement_timeout_ms": "DB_STATEMENT_TIMEOUT_MS",
	"redis.host":                    "REDIS_HOST",
	"redis.port":                    "REDIS_PORT",
	"redis.db":                      "REDIS_DB",
	"redis.password":                "REDIS_PASSWORD",
	"cache.enabled":                 "CACHE_ENABLED",
	"cache.ttl_seconds":             "CACHE_TTL_SECONDS",
	"log.level":                     "LOG_LEVEL",
	"log.path":                      "LOG_PATH",
	"log.max_size_mb":               "LOG_MAX_SIZE_MB",
	"log.max_backups":               "LOG_MAX_BACKUPS",
	"log.max_age_days":              "LOG_MAX_AGE_DAYS",
	"log.compress":                  "LOG_COMPRESS",
	"reaction.max_attempts":         "REACTION_MAX_ATTEMPTS",
	"reaction.backoff_base_ms":      "REACTION_BACKOFF_BASE_MS",
	"reaction.backoff_max_ms":       "REACTION_BACKOFF_MAX_MS",
	"metrics.enabled":               "METRICS_ENABLED",
}

// Load loads the application configuration. It should be called once during boot.
func Load() AppConfig {
	mu.Lock()
	defer mu.Unlock()
	if loaded {
		return cfg
	}

	// Precedence: config/config.json -> defaults -> environment variable overrides
	c, err := LoadFrom(filepath.Join("config", "config.json"))
	if err != nil {
		log.Fatalf("invalid configuration: %v", err)
	}
	if c.JWTSecret == "" {
		log.Fatal("JWT_SECRET must be set in config or environment variables")
	}

	cfg = c
	loaded = true
	return cfg
}

// LoadFrom reads the JSON file at path (a missing file is ignored), applies defaults and env overrides.
func LoadFrom(path string) (AppConfig, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	applyDefaults(v)
	for key, env := range envBindings {
		if err := v.BindEnv(key, env); err != nil {
			return AppConfig{}, err
		}
	}

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) && !errors.Is(err, fs.ErrNotExist) {
			return AppConfig{}, fmt.Errorf("read %s: %w", path, err)
		}
	}

	c := AppConfig{
		AppPort:               v.GetString("app.port"),
		JWTSecret:             v.GetString("app.jwt_secret"),
		TokenTTLHours:         v.GetInt("app.token_ttl_hours"),
		RateLimitPerMinute:    v.GetInt("app.rate_limit_per_minute"),
		AllowedOrigins:        readList(v, "app.allowed_origins"),
		AdminUsernames:        readList(v, "admin.usernames"),
		GinMode:               v.GetString("gin.mode"),
		GinPath:               v.GetString("gin.log_path"),
		DBDriver:              strings.ToLower(v.GetString("database.driver")),
		DatabaseURI:           v.GetString("database.uri"),
		DBHost:                v.GetString("database.host"),
		DBPort:                v.GetString("database.port"),
		DBUser:                v.GetString("database.user"),
		DBPassword:            v.GetString("database.password"),
		DBName:                v.GetString("database.name"),
		DBSSLMode:             v.GetString("database.sslmode"),
		DBMaxOpenConns:        v.GetInt("database.max_open_conns"),
		DBMaxIdleConns:        v.GetInt("database.max_idle_conns"),
		StatementTimeoutMs:    v.GetInt("database.statement_timeout_ms"),
		RedisHost:             v.GetString("redis.host"),
		RedisPort:             v.GetInt("redis.port"),
		RedisDB:               v.GetInt("redis.db"),
		RedisPassword:         v.GetString("redis.password"),
		CacheEnabled:          v.GetBool("cache.enabled"),
		CacheTTLSeconds:       v.GetInt("cache.ttl_seconds"),
		LogLevel:              strings.ToLower(v.GetString("log.level")),
		LogPath:               v.GetString("log.path"),
		LogMaxSizeMB:          v.GetInt("log.max_size_mb"),
		LogMaxBackups:         v.GetInt("log.max_backups"),
		LogMaxAgeDays:         v.GetInt("log.max_age_days"),
		LogCompress:           v.GetBool("log.compress"),
		ReactionMaxAttempts:   v.GetInt("reaction.max_attempts"),
		ReactionBackoffBaseMs: v.GetInt("reaction.backoff_base_ms"),
		ReactionBackoffMaxMs:  v.GetInt("reaction.backoff_max_ms"),
		MetricsEnabled:        v.GetBool("metrics.enabled"),
	}
	if err := c.Validate(); err != nil {
		return AppConfig{}, err
	}
	return c, nil
}

// Get returns the cached configuration, loading it if necessary.
func Get() AppConfig {
	mu.RLock()
	if loaded {
		defer mu.RUnlock()
		return cfg
	}
	mu.RUnlock()
	return Load()
}

// Set replaces the cached configuration. Tools and tests use it to skip file and env loading.
func Set(c AppConfig) {
	mu.Lock()
	cfg = c
	loaded = true
	mu.Unlock()
}

// Validate reports configuration values that cannot work.
func (c AppConfig) Validate() error {
	var problems []string
	switch c.DBDriver {
	case "mysql", "postgres":
	default:
		problems = append(problems, fmt.Sprintf("database.driver %q is not one of mysql, postgres", c.DBDriver))
	}
	if c.ReactionMaxAttempts < 1 {
		problems = append(problems, "reaction.max_attempts must be at least 1")
	}
	if c.ReactionBackoffBaseMs < 0 || c.ReactionBackoffMaxMs < c.ReactionBackoffBaseMs {
		problems = append(problems, "reaction.backoff_max_ms must be >= reaction.backoff_base_ms >= 0")
	}
	if c.StatementTimeoutMs < 0 {
		problems = append(problems, "database.statement_timeout_ms must not be negative")
	}
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

// StatementTimeout is the per-request budget for store work, zero meaning no limit.
func (c AppConfig) StatementTimeout() time.Duration {
	return time.Duration(c.StatementTimeoutMs) * time.Millisecond
}

// TokenTTL is how long issued JWTs stay valid.
func (c AppConfig) TokenTTL() time.Duration {
	return time.Duration(c.TokenTTLHours) * time.Hour
}

// applyDefaults sets sane defaults for values missing from file and environment.
func applyDefaults(v *viper.Viper) {
	v.SetDefault("app.port", "8080")
	v.SetDefault("app.token_ttl_hours", 72)
	v.SetDefault("app.rate_limit_per_minute", 60)
	v.SetDefault("app.allowed_origins", []string{"*"})
	v.SetDefault("gin.mode", "release")
	v.SetDefault("gin.log_path", "logs/go_gin.log")
	v.SetDefault("database.driver", "mysql")
	v.SetDefault("database.host", "127.0.0.1")
	v.SetDefault("database.user", "root")
	v.SetDefault("database.name", "reverence")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("database.max_open_conns", 20)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.statement_timeout_ms", 5000)
	v.SetDefault("redis.host", "127.0.0.1")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("cache.enabled", true)
	v.SetDefault("cache.ttl_seconds", 3600)
	v.SetDefault("log.level", "info")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 3)
	v.SetDefault("log.max_age_days", 7)
	v.SetDefault("reaction.max_attempts", 5)
	v.SetDefault("reaction.backoff_base_ms", 20)
	v.SetDefault("reaction.backoff_max_ms", 500)
	v.SetDefault("metrics.enabled", true)
}

// readList accepts both JSON arrays and comma separated env values.
func readList(v *viper.Viper, key string) []string {
	if raw, ok := v.Get(key).(string); ok {
		return splitAndTrim(raw)
	}
	return v.GetStringSlice(key)
}

func splitAndTrim(raw string) []string {
	items := []string{}
	for _, item := range strings.Split(raw, ",") {
		if trimmed := strings.TrimSpace(item); trimmed != "" {
			items = append(items, trimmed)
		}
	}
	return items
}
