package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application
type Config struct {
	App      AppConfig      `mapstructure:"app"`
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	NATS     NATSConfig     `mapstructure:"nats"`
	CORS     CORSConfig     `mapstructure:"cors"`
	Logger   LoggerConfig   `mapstructure:"logger"`
	Pipeline PipelineConfig `mapstructure:"pipeline"`
	Model    ModelConfig    `mapstructure:"model"`
	MITRE    MITREConfig    `mapstructure:"mitre"`
	Metrics  MetricsConfig  `mapstructure:"metrics"`
}

type AppConfig struct {
	Name        string `mapstructure:"name"`
	Environment string `mapstructure:"environment"`
	Version     string `mapstructure:"version"`
	Debug       bool   `mapstructure:"debug"`
}

type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	HTTPPort        int           `mapstructure:"http_port"`
	GRPCPort        int           `mapstructure:"grpc_port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
	APIKeys         []string      `mapstructure:"api_keys"` // empty disables auth
}

type DatabaseConfig struct {
	Enabled         bool          `mapstructure:"enabled"`
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	DBName          string        `mapstructure:"dbname"`
	SSLMode         string        `mapstructure:"sslmode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	Schema          string        `mapstructure:"schema"`
}

func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s&search_path=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode, c.Schema,
	)
}

type RedisConfig struct {
	Enabled   bool   `mapstructure:"enabled"`
	Host      string `mapstructure:"host"`
	Port      int    `mapstructure:"port"`
	Password  string `mapstructure:"password"`
	DB        int    `mapstructure:"db"`
	KeyPrefix string `mapstructure:"key_prefix"`
}

func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

type NATSConfig struct {
	Enabled    bool               `mapstructure:"enabled"`
	URL        string             `mapstructure:"url"`
	StreamName string             `mapstructure:"stream_name"`
	Subjects   NATSSubjectsConfig `mapstructure:"subjects"`
}

type NATSSubjectsConfig struct {
	FindingCreated string `mapstructure:"finding_created"`
	FindingUpdated string `mapstructure:"finding_updated"`
	ModelTrained   string `mapstructure:"model_trained"`
}

type CORSConfig struct {
	AllowedOrigins   []string `mapstructure:"allowed_origins"`
	AllowedMethods   []string `mapstructure:"allowed_methods"`
	AllowedHeaders   []string `mapstructure:"allowed_headers"`
	AllowCredentials bool     `mapstructure:"allow_credentials"`
	MaxAge           int      `mapstructure:"max_age"`
}

type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	TimeFormat string `mapstructure:"time_format"`
}

// PipelineConfig controls fingerprinting windows and per-event processing
type PipelineConfig struct {
	BaselineWindow    time.Duration `mapstructure:"baseline_window"`
	RecencyWindow     time.Duration `mapstructure:"recency_window"`
	BatchWindow       time.Duration `mapstructure:"batch_window"`
	ForceFallback     bool          `mapstructure:"force_fallback"`
	ScanWorkers       int           `mapstructure:"scan_workers"`
	CPUThreshold      float64       `mapstructure:"cpu_threshold"`
	MemoryThreshold   float64       `mapstructure:"memory_threshold"`
	LocationCacheSize int           `mapstructure:"location_cache_size"`
	LocationCacheTTL  time.Duration `mapstructure:"location_cache_ttl"`
	FingerprintTTL    time.Duration `mapstructure:"fingerprint_ttl"`
}

// ModelConfig holds anomaly model hyperparameters and artifact storage
type ModelConfig struct {
	Contamination   float64       `mapstructure:"contamination"`
	Clusters        int           `mapstructure:"clusters"`
	NumTrees        int           `mapstructure:"num_trees"`
	SampleSize      int           `mapstructure:"sample_size"`
	RandomSeed      int64         `mapstructure:"random_seed"`
	ClusterRestarts int           `mapstructure:"cluster_restarts"`
	MinPopulation   int           `mapstructure:"min_population"`
	ArtifactPath    string        `mapstructure:"artifact_path"`
	TrainTimeout    time.Duration `mapstructure:"train_timeout"`
	LockTTL         time.Duration `mapstructure:"lock_ttl"`
}

type MITREConfig struct {
	CatalogFile string  `mapstructure:"catalog_file"`
	MinScore    float64 `mapstructure:"min_score"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// Default returns the configuration used when no file is present
func Default() *Config {
	return &Config{
		App: AppConfig{Name: "sentinel-lab", Environment: "development", Version: "dev"},
		Server: ServerConfig{
			Host:            "0.0.0.0",
			HTTPPort:        8090,
			GRPCPort:        9090,
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			IdleTimeout:     120 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Database: DatabaseConfig{
			Host: "localhost", Port: 5432, User: "sentinel", DBName: "sentinel",
			SSLMode: "disable", MaxOpenConns: 10, MaxIdleConns: 2,
			ConnMaxLifetime: time.Hour, Schema: "public",
		},
		Redis: RedisConfig{Host: "localhost", Port: 6379, KeyPrefix: "sentinel:"},
		NATS: NATSConfig{
			URL:        "nats://localhost:4222",
			StreamName: "SENTINEL",
			Subjects: NATSSubjectsConfig{
				FindingCreated: "sentinel.findings.created",
				FindingUpdated: "sentinel.findings.updated",
				ModelTrained:   "sentinel.model.trained",
			},
		},
		CORS: CORSConfig{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-API-Key", "X-Request-ID"},
			MaxAge:         300,
		},
		Logger: LoggerConfig{Level: "info", Format: "console", TimeFormat: time.RFC3339},
		Pipeline: PipelineConfig{
			BaselineWindow:    30 * 24 * time.Hour,
			RecencyWindow:     24 * time.Hour,
			BatchWindow:       7 * 24 * time.Hour,
			ScanWorkers:       8,
			CPUThreshold:      90,
			MemoryThreshold:   90,
			LocationCacheSize: 4096,
			LocationCacheTTL:  10 * time.Minute,
			FingerprintTTL:    24 * time.Hour,
		},
		Model: ModelConfig{
			Contamination:   0.1,
			Clusters:        5,
			NumTrees:        100,
			SampleSize:      256,
			RandomSeed:      42,
			ClusterRestarts: 10,
			MinPopulation:   10,
			ArtifactPath:    "data/anomaly_model.json.zst",
			TrainTimeout:    10 * time.Minute,
			LockTTL:         15 * time.Minute,
		},
		MITRE:   MITREConfig{MinScore: 0.3},
		Metrics: MetricsConfig{Enabled: true, Path: "/metrics"},
	}
}

// Validate rejects configurations the pipeline cannot run with
func (c *Config) Validate() error {
	var errs []error
	if c.Model.Contamination <= 0 || c.Model.Contamination > 0.5 {
		errs = append(errs, fmt.Errorf("model.contamination must be in (0, 0.5], got %v", c.Model.Contamination))
	}
	if c.Model.Clusters < 1 {
		errs = append(errs, fmt.Errorf("model.clusters must be positive, got %d", c.Model.Clusters))
	}
	if c.Model.MinPopulation < 2 {
		errs = append(errs, fmt.Errorf("model.min_population must be at least 2, got %d", c.Model.MinPopulation))
	}
	if c.Pipeline.BaselineWindow <= 0 || c.Pipeline.RecencyWindow <= 0 {
		errs = append(errs, errors.New("pipeline windows must be positive"))
	}
	if c.MITRE.MinScore < 0 || c.MITRE.MinScore >= 1 {
		errs = append(errs, fmt.Errorf("mitre.min_score must be in [0, 1), got %v", c.MITRE.MinScore))
	}
	return errors.Join(errs...)
}

// Load reads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		v.AddConfigPath("/etc/sentinel-lab")
	}

	v.SetEnvPrefix("SENTINEL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	// Bind nested env vars explicitly (viper doesn't auto-bind nested struct fields)
	v.BindEnv("redis.enabled", "SENTINEL_REDIS_ENABLED")
	v.BindEnv("redis.host", "SENTINEL_REDIS_HOST")
	v.BindEnv("redis.port", "SENTINEL_REDIS_PORT")
	v.BindEnv("redis.password", "SENTINEL_REDIS_PASSWORD")
	v.BindEnv("database.enabled", "SENTINEL_DATABASE_ENABLED")
	v.BindEnv("database.host", "SENTINEL_DATABASE_HOST")
	v.BindEnv("database.port", "SENTINEL_DATABASE_PORT")
	v.BindEnv("database.user", "SENTINEL_DATABASE_USER")
	v.BindEnv("database.password", "SENTINEL_DATABASE_PASSWORD")
	v.BindEnv("database.dbname", "SENTINEL_DATABASE_DBNAME")
	v.BindEnv("database.sslmode", "SENTINEL_DATABASE_SSLMODE")
	v.BindEnv("nats.enabled", "SENTINEL_NATS_ENABLED")
	v.BindEnv("nats.url", "SENTINEL_NATS_URL")
	v.BindEnv("model.artifact_path", "SENTINEL_MODEL_ARTIFACT_PATH")
	v.BindEnv("app.environment", "SENTINEL_APP_ENVIRONMENT")
	v.BindEnv("server.api_keys", "SENTINEL_SERVER_API_KEYS")

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if configPath != "" || !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	return &cfg, nil
}

// LoadDefault loads configuration with default path
func LoadDefault() (*Config, error) {
	return Load("")
}

func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("app.name", d.App.Name)
	v.SetDefault("app.environment", d.App.Environment)
	v.SetDefault("app.version", d.App.Version)

	v.SetDefault("server.host", d.Server.Host)
	v.SetDefault("server.http_port", d.Server.HTTPPort)
	v.SetDefault("server.grpc_port", d.Server.GRPCPort)
	v.SetDefault("server.read_timeout", d.Server.ReadTimeout)
	v.SetDefault("server.write_timeout", d.Server.WriteTimeout)
	v.SetDefault("server.idle_timeout", d.Server.IdleTimeout)
	v.SetDefault("server.shutdown_timeout", d.Server.ShutdownTimeout)

	v.SetDefault("database.host", d.Database.Host)
	v.SetDefault("database.port", d.Database.Port)
	v.SetDefault("database.user", d.Database.User)
	v.SetDefault("database.dbname", d.Database.DBName)
	v.SetDefault("database.sslmode", d.Database.SSLMode)
	v.SetDefault("database.max_open_conns", d.Database.MaxOpenConns)
	v.SetDefault("database.max_idle_conns", d.Database.MaxIdleConns)
	v.SetDefault("database.conn_max_lifetime", d.Database.ConnMaxLifetime)
	v.SetDefault("database.schema", d.Database.Schema)

	v.SetDefault("redis.host", d.Redis.Host)
	v.SetDefault("redis.port", d.Redis.Port)
	v.SetDefault("redis.key_prefix", d.Redis.KeyPrefix)

	v.SetDefault("nats.url", d.NATS.URL)
	v.SetDefault("nats.stream_name", d.NATS.StreamName)
	v.SetDefault("nats.subjects.finding_created", d.NATS.Subjects.FindingCreated)
	v.SetDefault("nats.subjects.finding_updated", d.NATS.Subjects.FindingUpdated)
	v.SetDefault("nats.subjects.model_trained", d.NATS.Subjects.ModelTrained)

	v.SetDefault("cors.allowed_origins", d.CORS.AllowedOrigins)
	v.SetDefault("cors.allowed_methods", d.CORS.AllowedMethods)
	v.SetDefault("cors.allowed_headers", d.CORS.AllowedHeaders)
	v.SetDefault("cors.max_age", d.CORS.MaxAge)

	v.SetDefault("logger.level", d.Logger.Level)
	v.SetDefault("logger.format", d.Logger.Format)
	v.SetDefault("logger.time_format", d.Logger.TimeFormat)

	v.SetDefault("pipeline.baseline_window", d.Pipeline.BaselineWindow)
	v.SetDefault("pipeline.recency_window", d.Pipeline.RecencyWindow)
	v.SetDefault("pipeline.batch_window", d.Pipeline.BatchWindow)
	v.SetDefault("pipeline.scan_workers", d.Pipeline.ScanWorkers)
	v.SetDefault("pipeline.cpu_threshold", d.Pipeline.CPUThreshold)
	v.SetDefault("pipeline.memory_threshold", d.Pipeline.MemoryThreshold)
	v.SetDefault("pipeline.location_cache_size", d.Pipeline.LocationCacheSize)
	v.SetDefault("pipeline.location_cache_ttl", d.Pipeline.LocationCacheTTL)
	v.SetDefault("pipeline.fingerprint_ttl", d.Pipeline.FingerprintTTL)

	v.SetDefault("model.contamination", d.Model.Contamination)
	v.SetDefault("model.clusters", d.Model.Clusters)
	v.SetDefault("model.num_trees", d.Model.NumTrees)
	v.SetDefault("model.sample_size", d.Model.SampleSize)
	v.SetDefault("model.random_seed", d.Model.RandomSeed)
	v.SetDefault("model.cluster_restarts", d.Model.ClusterRestarts)
	v.SetDefault("model.min_population", d.Model.MinPopulation)
	v.SetDefault("model.artifact_path", d.Model.ArtifactPath)
	v.SetDefault("model.train_timeout", d.Model.TrainTimeout)
	v.SetDefault("model.lock_ttl", d.Model.LockTTL)

	v.SetDefault("mitre.min_score", d.MITRE.MinScore)

	v.SetDefault("metrics.enabled", d.Metrics.Enabled)
	v.SetDefault("metrics.path", d.Metrics.Path)
}
