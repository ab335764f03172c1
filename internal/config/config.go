// Package config loads lipsync settings from defaults, an optional config.yaml
// and the environment, in increasing order of precedence.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/spf13/viper"

	"lipsync/internal/pkg/logger"
	"lipsync/internal/pkg/middleware"
)

type Config struct {
	HTTP     HTTPConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Storage  StorageConfig
	Tool     ToolConfig
	Worker   WorkerConfig
	Log      LogConfig

	ShutdownTimeout time.Duration
}

type HTTPConfig struct {
	Port               string `validate:"required"`
	CORSAllowedOrigins []string
	MaxUploadMB        int64 `validate:"min=1"`
	RateLimitPerHour   int   `validate:"min=0"`
	// TrustedProxies may set X-Forwarded-For; empty means the peer address is the client.
	TrustedProxies []netip.Prefix
}

type DatabaseConfig struct {
	// URL is a pgx connection string. Empty keeps runs in memory.
	URL string
}

type RedisConfig struct {
	// Addr empty disables the Redis queue, broker and rate limiter.
	Addr     string
	Password string
	DB       int
}

type StorageConfig struct {
	Provider  string `validate:"oneof=localfs gdrive s3"`
	LocalRoot string `validate:"required_if=Provider localfs"`
	GDrive    GDriveConfig
	S3        S3Config
}

type GDriveConfig struct {
	ClientID     string
	ClientSecret string
	RefreshToken string
	FolderID     string
}

type S3Config struct {
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	UsePathStyle    bool
}

type ToolConfig struct {
	// Command is the inference tool invocation, split on whitespace.
	Command               []string `validate:"min=1"`
	Dir                   string
	WorkRoot              string `validate:"required"`
	ResultSentinel        string
	BenignStderr          []string
	RunTimeout            time.Duration `validate:"min=0"`
	ProgressFlushInterval time.Duration `validate:"min=0"`
}

type WorkerConfig struct {
	Concurrency int  `validate:"min=1"`
	Embedded    bool
	QueueName   string `validate:"required"`
}

type LogConfig struct {
	Level     string
	Format    string
	File      string
	AddSource bool
}

// envBindings maps config keys to the environment variables that set them.
var envBindings = map[string]string{
	"http.port":                    "HTTP_PORT",
	"http.cors_allowed_origins":    "CORS_ALLOWED_ORIGINS",
	"http.max_upload_mb":           "MAX_UPLOAD_MB",
	"http.rate_limit_per_hour":     "RATE_LIMIT_PER_HOUR",
	"http.trusted_proxies":         "TRUSTED_PROXIES",
	"database.url":                 "DATABASE_URL",
	"redis.addr":                   "REDIS_ADDR",
	"redis.password":               "REDIS_PASSWORD",
	"redis.db":                     "REDIS_DB",
	"storage.provider":             "STORAGE_PROVIDER",
	"storage.local_root":           "STORAGE_LOCAL_ROOT",
	"gdrive.client_id":             "GDRIVE_CLIENT_ID",
	"gdrive.client_secret":         "GDRIVE_CLIENT_SECRET",
	"gdrive.refresh_token":         "GDRIVE_REFRESH_TOKEN",
	"gdrive.folder_id":             "GDRIVE_FOLDER_ID",
	"s3.bucket":                    "S3_BUCKET",
	"s3.region":                    "S3_REGION",
	"s3.endpoint":                  "S3_ENDPOINT",
	"s3.access_key_id":             "S3_ACCESS_KEY_ID",
	"s3.secret_access_key":         "S3_SECRET_ACCESS_KEY",
	"s3.use_path_style":            "S3_USE_PATH_STYLE",
	"tool.command":                 "TOOL_COMMAND",
	"tool.dir":                     "TOOL_DIR",
	"tool.work_root":               "WORK_ROOT",
	"tool.result_sentinel":         "RESULT_SENTINEL",
	"tool.benign_stderr":           "BENIGN_STDERR",
	"tool.run_timeout":             "RUN_TIMEOUT",
	"tool.progress_flush_interval": "PROGRESS_FLUSH_INTERVAL",
	"worker.concurrency":           "WORKER_CONCURRENCY",
	"worker.embedded":              "WORKER_EMBEDDED",
	"worker.queue_name":            "QUEUE_NAME",
	"log.level":                    "LOG_LEVEL",
	"log.format":                   "LOG_FORMAT",
	"log.file":                     "LOG_FILE",
	"log.source":                   "LOG_SOURCE",
	"shutdown_timeout":             "SHUTDOWN_TIMEOUT",
}

// secretEnvs may be supplied through a FOO_FILE path instead of FOO.
var secretEnvs = []string{
	"DATABASE_URL",
	"REDIS_PASSWORD",
	"GDRIVE_CLIENT_SECRET",
	"GDRIVE_REFRESH_TOKEN",
	"S3_SECRET_ACCESS_KEY",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("http.port", "8080")
	v.SetDefault("http.cors_allowed_origins", "http://localhost:8080,http://localhost:5173")
	v.SetDefault("http.max_upload_mb", 512)
	v.SetDefault("http.rate_limit_per_hour", 30)

	v.SetDefault("redis.db", 0)

	v.SetDefault("storage.provider", "localfs")
	v.SetDefault("storage.local_root", "./data/storage")
	v.SetDefault("s3.region", "auto")

	v.SetDefault("tool.command", "python main.py")
	v.SetDefault("tool.work_root", "./data/runs")
	v.SetDefault("tool.result_sentinel", "RESULT_VIDEO:")
	v.SetDefault("tool.benign_stderr", "No such file or directory")
	v.SetDefault("tool.run_timeout", "2h")
	v.SetDefault("tool.progress_flush_interval", "500ms")

	v.SetDefault("worker.concurrency", 1)
	v.SetDefault("worker.embedded", false)
	v.SetDefault("worker.queue_name", "lipsync:runs")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.source", false)

	v.SetDefault("shutdown_timeout", "30s")
}

// Load reads configuration. Paths are searched for config.yaml; with none given
// the working directory and ./config are used. A missing file is not an error.
func Load(paths ...string) (*Config, error) {
	for _, key := range secretEnvs {
		readSecret(key)
	}

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	if len(paths) == 0 {
		paths = []string{".", "./config"}
	}
	for _, p := range paths {
		v.AddConfigPath(p)
	}

	v.AutomaticEnv()
	for key, env := range envBindings {
		_ = v.BindEnv(key, env)
	}
	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config file: %w", err)
		}
	}

	trusted, err := middleware.ParseTrustedProxies(splitList(v.GetString("http.trusted_proxies")))
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	cfg := &Config{
		HTTP: HTTPConfig{
			Port:               v.GetString("http.port"),
			CORSAllowedOrigins: splitList(v.GetString("http.cors_allowed_origins")),
			MaxUploadMB:        v.GetInt64("http.max_upload_mb"),
			RateLimitPerHour:   v.GetInt("http.rate_limit_per_hour"),
			TrustedProxies:     trusted,
		},
		Database: DatabaseConfig{
			URL: v.GetString("database.url"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Storage: StorageConfig{
			Provider:  strings.ToLower(v.GetString("storage.provider")),
			LocalRoot: v.GetString("storage.local_root"),
			GDrive: GDriveConfig{
				ClientID:     v.GetString("gdrive.client_id"),
				ClientSecret: v.GetString("gdrive.client_secret"),
				RefreshToken: v.GetString("gdrive.refresh_token"),
				FolderID:     v.GetString("gdrive.folder_id"),
			},
			S3: S3Config{
				Bucket:          v.GetString("s3.bucket"),
				Region:          v.GetString("s3.region"),
				Endpoint:        v.GetString("s3.endpoint"),
				AccessKeyID:     v.GetString("s3.access_key_id"),
				SecretAccessKey: v.GetString("s3.secret_access_key"),
				UsePathStyle:    v.GetBool("s3.use_path_style"),
			},
		},
		Tool: ToolConfig{
			Command:               strings.Fields(v.GetString("tool.command")),
			Dir:                   v.GetString("tool.dir"),
			WorkRoot:              v.GetString("tool.work_root"),
			ResultSentinel:        v.GetString("tool.result_sentinel"),
			BenignStderr:          splitList(v.GetString("tool.benign_stderr")),
			RunTimeout:            v.GetDuration("tool.run_timeout"),
			ProgressFlushInterval: v.GetDuration("tool.progress_flush_interval"),
		},
		Worker: WorkerConfig{
			Concurrency: v.GetInt("worker.concurrency"),
			Embedded:    v.GetBool("worker.embedded"),
			QueueName:   v.GetString("worker.queue_name"),
		},
		Log: LogConfig{
			Level:     v.GetString("log.level"),
			Format:    v.GetString("log.format"),
			File:      v.GetString("log.file"),
			AddSource: v.GetBool("log.source"),
		},
		ShutdownTimeout: v.GetDuration("shutdown_timeout"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks field constraints and the cross-field rules between
// storage provider credentials and the Redis-less embedded mode.
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	switch c.Storage.Provider {
	case "gdrive":
		g := c.Storage.GDrive
		if g.ClientID == "" || g.ClientSecret == "" || g.RefreshToken == "" {
			return fmt.Errorf("invalid config: gdrive storage requires GDRIVE_CLIENT_ID, GDRIVE_CLIENT_SECRET and GDRIVE_REFRESH_TOKEN")
		}
	case "s3":
		if c.Storage.S3.Bucket == "" {
			return fmt.Errorf("invalid config: s3 storage requires S3_BUCKET")
		}
	}

	if c.Redis.Addr == "" && !c.Worker.Embedded {
		return fmt.Errorf("invalid config: REDIS_ADDR is required unless WORKER_EMBEDDED=true")
	}
	return nil
}

// RedisEnabled reports whether a Redis server is configured.
func (c *Config) RedisEnabled() bool {
	return c.Redis.Addr != ""
}

// LoggerConfig builds the logger settings for one binary.
func (c *Config) LoggerConfig(service string) logger.Config {
	lc := logger.DefaultConfig()
	lc.Level = c.Log.Level
	lc.Format = c.Log.Format
	lc.AddSource = c.Log.AddSource
	lc.FilePath = c.Log.File
	lc.ServiceName = service
	return lc
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// readSecret fills FOO from the file named by FOO_FILE when FOO itself is unset.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	filePath := os.Getenv(envKey + "_FILE")
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	_ = os.Setenv(envKey, strings.TrimSpace(string(data)))
}
