// Package config loads redliner settings from a YAML file and REDLINER_* environment variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aretw0/redliner/pkg/pipeline"
	"github.com/mitchellh/mapstructure"
	"gopkg.in/yaml.v3"
)

// Backend names accepted by the store and documents sections.
const (
	BackendMemory = "memory"
	BackendFile   = "file"
	BackendRedis  = "redis"
	BackendMinio  = "minio"
)

// Config is the full application configuration.
type Config struct {
	LogLevel  string          `mapstructure:"log_level" yaml:"log_level"`
	Store     StoreConfig     `mapstructure:"store" yaml:"store"`
	Documents DocumentsConfig `mapstructure:"documents" yaml:"documents"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline" yaml:"pipeline"`
	Retention RetentionConfig `mapstructure:"retention" yaml:"retention"`
	Upload    UploadConfig    `mapstructure:"upload" yaml:"upload"`
	HTTP      HTTPConfig      `mapstructure:"http" yaml:"http"`
	// Rules is the path of a YAML rulebook. Empty uses the embedded one.
	Rules string `mapstructure:"rules" yaml:"rules"`
	// Tools is the path of the process executors file.
	Tools string `mapstructure:"tools" yaml:"tools"`
}

type StoreConfig struct {
	Backend string      `mapstructure:"backend" yaml:"backend"`
	Path    string      `mapstructure:"path" yaml:"path"`
	Redis   RedisConfig `mapstructure:"redis" yaml:"redis"`
	// EncryptionKey is a hex encoded AES key. When set, records are sealed at rest.
	EncryptionKey string `mapstructure:"encryption_key" yaml:"encryption_key"`
}

type RedisConfig struct {
	Addr     string `mapstructure:"addr" yaml:"addr"`
	Password string `mapstructure:"password" yaml:"password"`
	DB       int    `mapstructure:"db" yaml:"db"`
	Prefix   string `mapstructure:"prefix" yaml:"prefix"`
}

type DocumentsConfig struct {
	Backend string      `mapstructure:"backend" yaml:"backend"`
	Dir     string      `mapstructure:"dir" yaml:"dir"`
	Minio   MinioConfig `mapstructure:"minio" yaml:"minio"`
}

type MinioConfig struct {
	Endpoint  string `mapstructure:"endpoint" yaml:"endpoint"`
	AccessKey string `mapstructure:"access_key" yaml:"access_key"`
	SecretKey string `mapstructure:"secret_key" yaml:"secret_key"`
	Bucket    string `mapstructure:"bucket" yaml:"bucket"`
	UseSSL    bool   `mapstructure:"use_ssl" yaml:"use_ssl"`
	Region    string `mapstructure:"region" yaml:"region"`
}

type PipelineConfig struct {
	Workers      int                  `mapstructure:"workers" yaml:"workers"`
	StageTimeout time.Duration        `mapstructure:"stage_timeout" yaml:"stage_timeout"`
	Retry        pipeline.RetryPolicy `mapstructure:"retry" yaml:"retry"`
	// ClaimTTL is how long a running session may go without a write before
	// another process may resume it. Zero keeps claims forever.
	ClaimTTL time.Duration `mapstructure:"claim_ttl" yaml:"claim_ttl"`
}

type RetentionConfig struct {
	TTL      time.Duration `mapstructure:"ttl" yaml:"ttl"`
	Interval time.Duration `mapstructure:"interval" yaml:"interval"`
}

type UploadConfig struct {
	MaxSizeMB    int      `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	AllowedTypes []string `mapstructure:"allowed_types" yaml:"allowed_types"`
}

type HTTPConfig struct {
	Addr string `mapstructure:"addr" yaml:"addr"`
}

// Default returns the settings used when nothing is configured.
func Default() Config {
	return Config{
		LogLevel:  "info",
		Store:     StoreConfig{Backend: BackendMemory, Path: ".redliner/sessions", Redis: RedisConfig{Addr: "localhost:6379"}},
		Documents: DocumentsConfig{Backend: BackendMemory, Dir: ".redliner/documents"},
		Pipeline: PipelineConfig{
			Workers:      4,
			StageTimeout: 2 * time.Minute,
			Retry:        pipeline.DefaultRetryPolicy(),
			ClaimTTL:     30 * time.Minute,
		},
		Retention: RetentionConfig{TTL: 30 * 24 * time.Hour, Interval: time.Hour},
		Upload:    UploadConfig{MaxSizeMB: 10, AllowedTypes: []string{".txt", ".md"}},
		HTTP:      HTTPConfig{Addr: ":8080"},
	}
}

// envKeys maps environment variables to their dotted config path.
var envKeys = map[string]string{
	"REDLINER_LOG_LEVEL":              "log_level",
	"REDLINER_STORE_BACKEND":          "store.backend",
	"REDLINER_STORE_PATH":             "store.path",
	"REDLINER_STORE_ENCRYPTION_KEY":   "store.encryption_key",
	"REDLINER_REDIS_ADDR":             "store.redis.addr",
	"REDLINER_REDIS_PASSWORD":         "store.redis.password",
	"REDLINER_REDIS_DB":               "store.redis.db",
	"REDLINER_REDIS_PREFIX":           "store.redis.prefix",
	"REDLINER_DOCUMENTS_BACKEND":      "documents.backend",
	"REDLINER_DOCUMENTS_DIR":          "documents.dir",
	"REDLINER_MINIO_ENDPOINT":         "documents.minio.endpoint",
	"REDLINER_MINIO_ACCESS_KEY":       "documents.minio.access_key",
	"REDLINER_MINIO_SECRET_KEY":       "documents.minio.secret_key",
	"REDLINER_MINIO_BUCKET":           "documents.minio.bucket",
	"REDLINER_MINIO_USE_SSL":          "documents.minio.use_ssl",
	"REDLINER_MINIO_REGION":           "documents.minio.region",
	"REDLINER_PIPELINE_WORKERS":       "pipeline.workers",
	"REDLINER_PIPELINE_STAGE_TIMEOUT": "pipeline.stage_timeout",
	"REDLINER_PIPELINE_CLAIM_TTL":     "pipeline.claim_ttl",
	"REDLINER_RETRY_MAX_ATTEMPTS":     "pipeline.retry.max_attempts",
	"REDLINER_RETRY_INITIAL_DELAY":    "pipeline.retry.initial_delay",
	"REDLINER_RETRY_MULTIPLIER":       "pipeline.retry.multiplier",
	"REDLINER_RETRY_MAX_DELAY":        "pipeline.retry.max_delay",
	"REDLINER_RETENTION_TTL":          "retention.ttl",
	"REDLINER_RETENTION_INTERVAL":     "retention.interval",
	"REDLINER_UPLOAD_MAX_SIZE_MB":     "upload.max_size_mb",
	"REDLINER_UPLOAD_ALLOWED_TYPES":   "upload.allowed_types",
	"REDLINER_HTTP_ADDR":              "http.addr",
	"REDLINER_RULES":                  "rules",
	"REDLINER_TOOLS":                  "tools",
}

// Load reads path (optional) on top of Default and applies environment overrides.
// A missing file is an error only when path was given explicitly.
func Load(path string) (Config, error) {
	return load(path, os.LookupEnv)
}

func load(path string, lookup func(string) (string, bool)) (Config, error) {
	raw := map[string]any{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &raw); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
		if raw == nil {
			raw = map[string]any{}
		}
	}

	for env, key := range envKeys {
		if v, ok := lookup(env); ok {
			setPath(raw, strings.Split(key, "."), v)
		}
	}

	cfg := Default()
	// A configured list replaces the default types instead of merging into them.
	cfg.Upload.AllowedTypes = nil
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		ErrorUnused:      true,
		Result:           &cfg,
	})
	if err != nil {
		return Config{}, err
	}
	if err := decoder.Decode(raw); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	if cfg.Upload.AllowedTypes == nil {
		cfg.Upload.AllowedTypes = Default().Upload.AllowedTypes
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func setPath(m map[string]any, path []string, v string) {
	for _, k := range path[:len(path)-1] {
		next, ok := m[k].(map[string]any)
		if !ok {
			next = map[string]any{}
			m[k] = next
		}
		m = next
	}
	m[path[len(path)-1]] = v
}

// Validate reports every inconsistent setting at once.
func (c Config) Validate() error {
	var errs []error
	switch c.Store.Backend {
	case BackendMemory, BackendFile, BackendRedis:
	default:
		errs = append(errs, fmt.Errorf("store.backend: unknown backend %q", c.Store.Backend))
	}
	if c.Store.Backend == BackendFile && c.Store.Path == "" {
		errs = append(errs, errors.New("store.path is required for the file backend"))
	}
	switch c.Documents.Backend {
	case BackendMemory, BackendFile:
	case BackendMinio:
		if c.Documents.Minio.Endpoint == "" || c.Documents.Minio.Bucket == "" {
			errs = append(errs, errors.New("documents.minio requires endpoint and bucket"))
		}
	default:
		errs = append(errs, fmt.Errorf("documents.backend: unknown backend %q", c.Documents.Backend))
	}
	if c.Pipeline.Workers < 1 {
		errs = append(errs, errors.New("pipeline.workers must be at least 1"))
	}
	if c.Pipeline.StageTimeout < 0 {
		errs = append(errs, errors.New("pipeline.stage_timeout must not be negative"))
	}
	if c.Pipeline.ClaimTTL < 0 {
		errs = append(errs, errors.New("pipeline.claim_ttl must not be negative"))
	} else if gap := c.Pipeline.longestQuietPeriod(); c.Pipeline.ClaimTTL > 0 && gap > 0 && c.Pipeline.ClaimTTL <= gap {
		errs = append(errs, fmt.Errorf("pipeline.claim_ttl must exceed %s (stage_timeout plus the longest retry delay)", gap))
	}
	if c.Retention.TTL > 0 && c.Retention.Interval <= 0 {
		errs = append(errs, errors.New("retention.interval must be positive when ttl is set"))
	}
	if c.Upload.MaxSizeMB < 1 {
		errs = append(errs, errors.New("upload.max_size_mb must be at least 1"))
	}
	return errors.Join(errs...)
}

// longestQuietPeriod is the longest a healthy run goes without writing its session:
// one attempt bounded by stage_timeout plus the backoff before the next attempt.
// It is zero when stage_timeout is unbounded.
func (p PipelineConfig) longestQuietPeriod() time.Duration {
	if p.StageTimeout <= 0 {
		return 0
	}
	var backoff time.Duration
	for attempt := 1; attempt < p.Retry.MaxAttempts; attempt++ {
		backoff = max(backoff, p.Retry.Delay(attempt))
	}
	return p.StageTimeout + backoff
}

// MaxUploadBytes converts the upload limit to bytes.
func (c Config) MaxUploadBytes() int64 {
	return int64(c.Upload.MaxSizeMB) << 20
}
