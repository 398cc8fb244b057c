package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/tkanos/gonfig"

	"github.com/02loveslollipop/airqo-archive/services/archiver/internal/models"
)

const (
	defaultBaseURL        = "https://api.airqo.net/api/v2"
	defaultArchivePath    = "data/uganda_pm25_archive.csv"
	defaultRecentPath     = "data/uganda_recent.json"
	defaultWindow         = 48 * time.Hour
	defaultPageDelay      = time.Second
	defaultMaxAttempts    = 4
	defaultBackoffUnit    = 3 * time.Second
	defaultRequestTimeout = 45 * time.Second
	defaultRabbitQueue    = "airqo.archive.runs"
	defaultMinIOPrefix    = "airqo/"
)

// Fetch strategies.
const (
	StrategySnapshot = "snapshot"
	StrategyWindow   = "window"
)

// Policy decides whether a condition ends the run with an error or a clean exit.
type Policy string

const (
	PolicyFail Policy = "fail"
	PolicySkip Policy = "skip"
)

// ErrMissingCredentials is returned when AIRQO_TOKEN or AIRQO_COHORT_ID is unset.
var ErrMissingCredentials = errors.New("missing AirQo credentials")

// MinIO holds object storage settings; an empty Endpoint disables the sink.
type MinIO struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	Prefix    string
	UseSSL    bool
}

// Config holds runtime configuration for one archiver run.
type Config struct {
	Token    string
	CohortID string
	BaseURL  string

	Strategy       string
	SchemaName     string
	Schema         models.Schema
	ArchivePath    string
	RecentPath     string
	KeyWithNetwork bool

	Window         time.Duration
	PageDelay      time.Duration
	MaxAttempts    int
	BackoffUnit    time.Duration
	RequestTimeout time.Duration

	OnMissingConfig Policy
	OnFetchFailure  Policy
	DryRun          bool

	LogLevel  string
	LogFormat string
	LogFile   string

	DatabaseURL    string
	MinIO          MinIO
	RabbitMQURL    string
	RabbitMQQueue  string
	PushgatewayURL string

	ShowVersion bool
}

// File is the JSON config file layout. Keys are the environment variable
// names; a set environment variable wins over the file.
type File struct {
	AIRQO_TOKEN           string
	AIRQO_COHORT_ID       string
	AIRQO_BASE_URL        string
	AIRQO_STRATEGY        string
	AIRQO_SCHEMA          string
	ARCHIVE_PATH          string
	RECENT_PATH           string
	ARCHIVE_KEY_NETWORK   string
	AIRQO_WINDOW          string
	AIRQO_PAGE_DELAY      string
	AIRQO_MAX_ATTEMPTS    string
	AIRQO_BACKOFF_UNIT    string
	AIRQO_REQUEST_TIMEOUT string
	ON_MISSING_CONFIG     string
	ON_FETCH_FAILURE      string
	DRY_RUN               string
	LOG_LEVEL             string
	LOG_FORMAT            string
	LOG_FILE              string
	DATABASE_URL          string
	MINIO_ENDPOINT        string
	MINIO_ACCESS_KEY      string
	MINIO_SECRET_KEY      string
	MINIO_BUCKET          string
	MINIO_PREFIX          string
	MINIO_SSL             string
	RABBITMQ_URL          string
	RABBITMQ_QUEUE        string
	PUSHGATEWAY_URL       string
}

func (f File) values() map[string]string {
	return map[string]string{
		"AIRQO_TOKEN":           f.AIRQO_TOKEN,
		"AIRQO_COHORT_ID":       f.AIRQO_COHORT_ID,
		"AIRQO_BASE_URL":        f.AIRQO_BASE_URL,
		"AIRQO_STRATEGY":        f.AIRQO_STRATEGY,
		"AIRQO_SCHEMA":          f.AIRQO_SCHEMA,
		"ARCHIVE_PATH":          f.ARCHIVE_PATH,
		"RECENT_PATH":           f.RECENT_PATH,
		"ARCHIVE_KEY_NETWORK":   f.ARCHIVE_KEY_NETWORK,
		"AIRQO_WINDOW":          f.AIRQO_WINDOW,
		"AIRQO_PAGE_DELAY":      f.AIRQO_PAGE_DELAY,
		"AIRQO_MAX_ATTEMPTS":    f.AIRQO_MAX_ATTEMPTS,
		"AIRQO_BACKOFF_UNIT":    f.AIRQO_BACKOFF_UNIT,
		"AIRQO_REQUEST_TIMEOUT": f.AIRQO_REQUEST_TIMEOUT,
		"ON_MISSING_CONFIG":     f.ON_MISSING_CONFIG,
		"ON_FETCH_FAILURE":      f.ON_FETCH_FAILURE,
		"DRY_RUN":               f.DRY_RUN,
		"LOG_LEVEL":             f.LOG_LEVEL,
		"LOG_FORMAT":            f.LOG_FORMAT,
		"LOG_FILE":              f.LOG_FILE,
		"DATABASE_URL":          f.DATABASE_URL,
		"MINIO_ENDPOINT":        f.MINIO_ENDPOINT,
		"MINIO_ACCESS_KEY":      f.MINIO_ACCESS_KEY,
		"MINIO_SECRET_KEY":      f.MINIO_SECRET_KEY,
		"MINIO_BUCKET":          f.MINIO_BUCKET,
		"MINIO_PREFIX":          f.MINIO_PREFIX,
		"MINIO_SSL":             f.MINIO_SSL,
		"RABBITMQ_URL":          f.RABBITMQ_URL,
		"RABBITMQ_QUEUE":        f.RABBITMQ_QUEUE,
		"PUSHGATEWAY_URL":       f.PUSHGATEWAY_URL,
	}
}

// source resolves a setting from the environment, then the config file.
type source map[string]string

func (s source) get(key string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return strings.TrimSpace(s[key])
}

func (s source) duration(key string, def time.Duration) (time.Duration, error) {
	v := s.get(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return def, fmt.Errorf("invalid %s: %w", key, err)
	}
	if d < 0 {
		return def, fmt.Errorf("invalid %s: must not be negative", key)
	}
	return d, nil
}

func (s source) boolean(key string) (bool, error) {
	v := s.get(key)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(strings.ToLower(v))
	if err != nil {
		return false, fmt.Errorf("invalid %s: %w", key, err)
	}
	return b, nil
}

func (s source) policy(key string, def Policy) (Policy, error) {
	v := strings.ToLower(s.get(key))
	switch Policy(v) {
	case "":
		return def, nil
	case PolicyFail, PolicySkip:
		return Policy(v), nil
	}
	return def, fmt.Errorf("invalid %s: %q (want fail or skip)", key, v)
}

// Load reads configuration from .env, the optional AIRQO_CONFIG_FILE, the
// environment and finally the command line flags in args.
//
// When only the credentials are missing Load returns the otherwise complete
// Config together with an error wrapping ErrMissingCredentials, so callers can
// apply OnMissingConfig.
func Load(args []string) (Config, error) {
	_ = godotenv.Load(".env")

	cfg := Config{}

	var file File
	if path := strings.TrimSpace(os.Getenv("AIRQO_CONFIG_FILE")); path != "" {
		if err := gonfig.GetConf(path, &file); err != nil {
			return cfg, fmt.Errorf("read config file %s: %w", path, err)
		}
	}
	src := source(file.values())

	cfg.Token = src.get("AIRQO_TOKEN")
	cfg.CohortID = src.get("AIRQO_COHORT_ID")

	cfg.BaseURL = src.get("AIRQO_BASE_URL")
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultBaseURL
	}

	cfg.Strategy = strings.ToLower(src.get("AIRQO_STRATEGY"))
	cfg.SchemaName = strings.ToLower(src.get("AIRQO_SCHEMA"))

	cfg.ArchivePath = src.get("ARCHIVE_PATH")
	if cfg.ArchivePath == "" {
		cfg.ArchivePath = defaultArchivePath
	}
	cfg.RecentPath = src.get("RECENT_PATH")
	if cfg.RecentPath == "" {
		cfg.RecentPath = defaultRecentPath
	}

	var err error
	if cfg.KeyWithNetwork, err = src.boolean("ARCHIVE_KEY_NETWORK"); err != nil {
		return cfg, err
	}
	if cfg.Window, err = src.duration("AIRQO_WINDOW", defaultWindow); err != nil {
		return cfg, err
	}
	if cfg.PageDelay, err = src.duration("AIRQO_PAGE_DELAY", defaultPageDelay); err != nil {
		return cfg, err
	}
	if cfg.BackoffUnit, err = src.duration("AIRQO_BACKOFF_UNIT", defaultBackoffUnit); err != nil {
		return cfg, err
	}
	if cfg.RequestTimeout, err = src.duration("AIRQO_REQUEST_TIMEOUT", defaultRequestTimeout); err != nil {
		return cfg, err
	}

	cfg.MaxAttempts = defaultMaxAttempts
	if v := src.get("AIRQO_MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return cfg, fmt.Errorf("invalid AIRQO_MAX_ATTEMPTS: %w", err)
		}
		if n < 1 {
			return cfg, fmt.Errorf("invalid AIRQO_MAX_ATTEMPTS: %d", n)
		}
		cfg.MaxAttempts = n
	}

	if cfg.OnMissingConfig, err = src.policy("ON_MISSING_CONFIG", PolicyFail); err != nil {
		return cfg, err
	}
	if cfg.OnFetchFailure, err = src.policy("ON_FETCH_FAILURE", PolicySkip); err != nil {
		return cfg, err
	}
	if cfg.DryRun, err = src.boolean("DRY_RUN"); err != nil {
		return cfg, err
	}

	cfg.LogLevel = src.get("LOG_LEVEL")
	cfg.LogFormat = src.get("LOG_FORMAT")
	cfg.LogFile = src.get("LOG_FILE")

	cfg.DatabaseURL = src.get("DATABASE_URL")
	cfg.MinIO = MinIO{
		Endpoint:  src.get("MINIO_ENDPOINT"),
		AccessKey: src.get("MINIO_ACCESS_KEY"),
		SecretKey: src.get("MINIO_SECRET_KEY"),
		Bucket:    src.get("MINIO_BUCKET"),
		Prefix:    src.get("MINIO_PREFIX"),
	}
	if cfg.MinIO.Prefix == "" {
		cfg.MinIO.Prefix = defaultMinIOPrefix
	}
	if cfg.MinIO.UseSSL, err = src.boolean("MINIO_SSL"); err != nil {
		return cfg, err
	}
	cfg.RabbitMQURL = src.get("RABBITMQ_URL")
	cfg.RabbitMQQueue = src.get("RABBITMQ_QUEUE")
	if cfg.RabbitMQQueue == "" {
		cfg.RabbitMQQueue = defaultRabbitQueue
	}
	cfg.PushgatewayURL = src.get("PUSHGATEWAY_URL")

	if err := cfg.applyFlags(args); err != nil {
		return cfg, err
	}
	if cfg.ShowVersion {
		return cfg, nil
	}

	if cfg.Strategy == "" {
		cfg.Strategy = StrategySnapshot
	}
	if cfg.Strategy != StrategySnapshot && cfg.Strategy != StrategyWindow {
		return cfg, fmt.Errorf("invalid AIRQO_STRATEGY: %q (want snapshot or window)", cfg.Strategy)
	}
	schema, ok := models.SchemaByName(cfg.SchemaName)
	if !ok {
		return cfg, fmt.Errorf("invalid AIRQO_SCHEMA: %q (want full or reduced)", cfg.SchemaName)
	}
	cfg.Schema = schema
	if cfg.SchemaName == "" {
		cfg.SchemaName = "full"
	}

	var missing []string
	if cfg.Token == "" {
		missing = append(missing, "AIRQO_TOKEN")
	}
	if cfg.CohortID == "" {
		missing = append(missing, "AIRQO_COHORT_ID")
	}
	if len(missing) > 0 {
		return cfg, fmt.Errorf("%w: %s not set", ErrMissingCredentials, strings.Join(missing, ", "))
	}

	return cfg, nil
}

// applyFlags overrides settings with explicitly passed flags.
func (cfg *Config) applyFlags(args []string) error {
	fs := pflag.NewFlagSet("airqo-archiver", pflag.ContinueOnError)
	strategy := fs.String("strategy", cfg.Strategy, "fetch strategy: snapshot or window")
	schema := fs.String("schema", cfg.SchemaName, "archive schema for new files: full or reduced")
	archivePath := fs.String("archive", cfg.ArchivePath, "archive CSV path")
	recentPath := fs.String("recent", cfg.RecentPath, "recent snapshot JSON path")
	window := fs.Duration("window", cfg.Window, "rolling window for the window strategy")
	dryRun := fs.Bool("dry-run", cfg.DryRun, "fetch and reconcile without writing anything")
	fs.BoolVar(&cfg.ShowVersion, "version", false, "print version information and exit")

	if err := fs.Parse(args); err != nil {
		return err
	}

	if fs.Changed("strategy") {
		cfg.Strategy = strings.ToLower(strings.TrimSpace(*strategy))
	}
	if fs.Changed("schema") {
		cfg.SchemaName = strings.ToLower(strings.TrimSpace(*schema))
	}
	if fs.Changed("archive") {
		cfg.ArchivePath = strings.TrimSpace(*archivePath)
	}
	if fs.Changed("recent") {
		cfg.RecentPath = strings.TrimSpace(*recentPath)
	}
	if fs.Changed("window") {
		if *window <= 0 {
			return fmt.Errorf("invalid --window: %s", *window)
		}
		cfg.Window = *window
	}
	if fs.Changed("dry-run") {
		cfg.DryRun = *dryRun
	}
	return nil
}
