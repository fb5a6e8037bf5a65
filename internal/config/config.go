package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	GitOps      GitOpsConfig      `yaml:"gitops"`
	Cluster     ClusterConfig     `yaml:"cluster"`
	Aggregation AggregationConfig `yaml:"aggregation"`
	Degradation DegradationConfig `yaml:"degradation"`
	RateLimits  RateLimitsConfig  `yaml:"rate_limits"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ServerConfig represents the HTTP server configuration
type ServerConfig struct {
	Addr             string     `yaml:"addr"`
	BasePath         string     `yaml:"base_path"`
	MaxStreamClients int        `yaml:"max_stream_clients"`
	CORS             CORSConfig `yaml:"cors"`
	TLS              TLSConfig  `yaml:"tls"`
}

// CORSConfig represents the CORS configuration
type CORSConfig struct {
	AllowOrigins []string `yaml:"allow_origins"`
	AllowMethods []string `yaml:"allow_methods"`
}

// TLSConfig represents TLS configuration
type TLSConfig struct {
	Enabled  bool   `yaml:"enabled"`
	CertFile string `yaml:"cert_file"`
	KeyFile  string `yaml:"key_file"`
}

// GitOpsConfig describes how to reach the GitOps controller API
type GitOpsConfig struct {
	URL            string        `yaml:"url"`
	Token          string        `yaml:"token"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	Insecure       bool          `yaml:"insecure"`
	UserAgent      string        `yaml:"user_agent"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`
}

// ClusterConfig describes how to reach the cluster API
type ClusterConfig struct {
	Mode           string        `yaml:"mode"`
	KubeconfigPath string        `yaml:"kubeconfig_path"`
	Namespace      string        `yaml:"namespace"`
	QPS            float32       `yaml:"qps"`
	Burst          int           `yaml:"burst"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	PollInterval   time.Duration `yaml:"poll_interval"`
}

// AggregationConfig controls a single poll cycle
type AggregationConfig struct {
	FetchTimeout  time.Duration `yaml:"fetch_timeout"`
	RefreshDelay  time.Duration `yaml:"refresh_delay"`
	HistoryPoints int           `yaml:"history_points"`
}

// DegradationConfig controls synthetic substitution and node capacity math
type DegradationConfig struct {
	SyntheticDir           string `yaml:"synthetic_dir"`
	AssumedCPUMillicores   int64  `yaml:"assumed_cpu_millicores"`
	AssumedMemoryMebibytes int64  `yaml:"assumed_memory_mebibytes"`
	UseReportedCapacity    bool   `yaml:"use_reported_capacity"`
}

// RateLimitsConfig represents the rate limits configuration
type RateLimitsConfig struct {
	ActionsPerMinute int `yaml:"actions_per_minute"`
	RefreshPerMinute int `yaml:"refresh_per_minute"`
}

// LoggingConfig represents the logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}

// Load loads the configuration from environment variables and defaults
func Load() (*Config, error) {
	return loadWithDefaults("")
}

// LoadFromFile loads configuration from a YAML file, with environment variable overrides
func LoadFromFile(configPath string) (*Config, error) {
	return loadWithDefaults(configPath)
}

func defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Addr:             "0.0.0.0:8080",
			BasePath:         "/",
			MaxStreamClients: 1000,
			CORS: CORSConfig{
				AllowOrigins: []string{"*"},
				AllowMethods: []string{"GET", "POST", "DELETE", "OPTIONS"},
			},
		},
		GitOps: GitOpsConfig{
			URL:            "https://argocd-server.argocd.svc",
			UserAgent:      "kaptn-pulse",
			RequestTimeout: 10 * time.Second,
			PollInterval:   30 * time.Second,
		},
		Cluster: ClusterConfig{
			Mode:           "kubeconfig",
			QPS:            50,
			Burst:          100,
			RequestTimeout: 10 * time.Second,
			PollInterval:   30 * time.Second,
		},
		Aggregation: AggregationConfig{
			FetchTimeout:  10 * time.Second,
			RefreshDelay:  2 * time.Second,
			HistoryPoints: 360,
		},
		Degradation: DegradationConfig{
			AssumedCPUMillicores:   4000,
			AssumedMemoryMebibytes: 8192,
		},
		RateLimits: RateLimitsConfig{
			ActionsPerMinute: 20,
			RefreshPerMinute: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// loadWithDefaults loads configuration with defaults, optionally from a file.
// Precedence: environment > file > defaults.
func loadWithDefaults(configPath string) (*Config, error) {
	cfg := defaults()

	if configPath != "" {
		if err := loadFromYAMLFile(configPath, cfg); err != nil {
			return nil, fmt.Errorf("failed to load config from file %s: %w", configPath, err)
		}
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// loadFromYAMLFile decodes a YAML file over an already-populated config.
// Keys absent from the file keep their current values.
func loadFromYAMLFile(configPath string, cfg *Config) error {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("failed to unmarshal YAML: %w", err)
	}

	return nil
}

func applyEnvOverrides(cfg *Config) {
	cfg.Server.Addr = getEnv("KAD_SERVER_ADDR", cfg.Server.Addr)
	cfg.Server.MaxStreamClients = getEnvInt("KAD_SERVER_MAX_STREAM_CLIENTS", cfg.Server.MaxStreamClients)
	cfg.Server.BasePath = getEnv("KAD_BASE_PATH", cfg.Server.BasePath)
	cfg.Server.CORS.AllowOrigins = getEnvStringSlice("KAD_CORS_ALLOW_ORIGINS", cfg.Server.CORS.AllowOrigins)
	cfg.Server.TLS.Enabled = getEnvBool("KAD_TLS_ENABLED", cfg.Server.TLS.Enabled)
	cfg.Server.TLS.CertFile = getEnv("KAD_TLS_CERT_FILE", cfg.Server.TLS.CertFile)
	cfg.Server.TLS.KeyFile = getEnv("KAD_TLS_KEY_FILE", cfg.Server.TLS.KeyFile)

	cfg.GitOps.URL = getEnv("KAD_GITOPS_URL", cfg.GitOps.URL)
	cfg.GitOps.Token = getEnv("KAD_GITOPS_TOKEN", cfg.GitOps.Token)
	cfg.GitOps.Username = getEnv("KAD_GITOPS_USERNAME", cfg.GitOps.Username)
	cfg.GitOps.Password = getEnv("KAD_GITOPS_PASSWORD", cfg.GitOps.Password)
	cfg.GitOps.Insecure = getEnvBool("KAD_GITOPS_INSECURE", cfg.GitOps.Insecure)
	cfg.GitOps.RequestTimeout = getEnvDuration("KAD_GITOPS_REQUEST_TIMEOUT", cfg.GitOps.RequestTimeout)
	cfg.GitOps.PollInterval = getEnvDuration("KAD_GITOPS_POLL_INTERVAL", cfg.GitOps.PollInterval)

	cfg.Cluster.Mode = getEnv("KAD_KUBE_MODE", cfg.Cluster.Mode)
	cfg.Cluster.KubeconfigPath = getEnv("KUBECONFIG", cfg.Cluster.KubeconfigPath)
	cfg.Cluster.Namespace = getEnv("KAD_CLUSTER_NAMESPACE", cfg.Cluster.Namespace)
	cfg.Cluster.Burst = getEnvInt("KAD_CLUSTER_BURST", cfg.Cluster.Burst)
	cfg.Cluster.RequestTimeout = getEnvDuration("KAD_CLUSTER_REQUEST_TIMEOUT", cfg.Cluster.RequestTimeout)
	cfg.Cluster.PollInterval = getEnvDuration("KAD_CLUSTER_POLL_INTERVAL", cfg.Cluster.PollInterval)

	cfg.Aggregation.FetchTimeout = getEnvDuration("KAD_FETCH_TIMEOUT", cfg.Aggregation.FetchTimeout)
	cfg.Aggregation.RefreshDelay = getEnvDuration("KAD_REFRESH_DELAY", cfg.Aggregation.RefreshDelay)
	cfg.Aggregation.HistoryPoints = getEnvInt("KAD_HISTORY_POINTS", cfg.Aggregation.HistoryPoints)

	cfg.Degradation.SyntheticDir = getEnv("KAD_SYNTHETIC_DIR", cfg.Degradation.SyntheticDir)
	cfg.Degradation.UseReportedCapacity = getEnvBool("KAD_USE_REPORTED_CAPACITY", cfg.Degradation.UseReportedCapacity)

	cfg.RateLimits.ActionsPerMinute = getEnvInt("KAD_ACTIONS_PER_MINUTE", cfg.RateLimits.ActionsPerMinute)
	cfg.RateLimits.RefreshPerMinute = getEnvInt("KAD_REFRESH_PER_MINUTE", cfg.RateLimits.RefreshPerMinute)

	cfg.Logging.Level = getEnv("LOG_LEVEL", cfg.Logging.Level)
	cfg.Logging.Format = getEnv("LOG_FORMAT", cfg.Logging.Format)
	cfg.Logging.File = getEnv("LOG_FILE", cfg.Logging.File)

	// Override port if PORT env var is set
	if port := getEnv("PORT", ""); port != "" {
		cfg.Server.Addr = "0.0.0.0:" + port
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvStringSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		parts := strings.Split(value, ",")
		var result []string
		for _, part := range parts {
			trimmed := strings.TrimSpace(part)
			if trimmed != "" {
				result = append(result, trimmed)
			}
		}
		return result
	}
	return defaultValue
}

// HasCredentials reports whether a username/password pair is configured
func (g GitOpsConfig) HasCredentials() bool {
	return g.Username != "" && g.Password != ""
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Server.Addr == "" {
		return fmt.Errorf("server address cannot be empty")
	}
	if c.Server.TLS.Enabled {
		if c.Server.TLS.CertFile == "" {
			return fmt.Errorf("TLS cert file is required when TLS is enabled")
		}
		if c.Server.TLS.KeyFile == "" {
			return fmt.Errorf("TLS key file is required when TLS is enabled")
		}
	}

	if c.GitOps.URL == "" {
		return fmt.Errorf("gitops url cannot be empty")
	}
	u, err := url.Parse(c.GitOps.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("gitops url must be an absolute http(s) URL, got %q", c.GitOps.URL)
	}
	if (c.GitOps.Username == "") != (c.GitOps.Password == "") {
		return fmt.Errorf("gitops username and password must be set together")
	}

	if c.Cluster.Mode != "incluster" && c.Cluster.Mode != "kubeconfig" {
		return fmt.Errorf("cluster mode must be 'incluster' or 'kubeconfig'")
	}

	if c.GitOps.PollInterval <= 0 || c.Cluster.PollInterval <= 0 {
		return fmt.Errorf("poll intervals must be positive")
	}
	if c.Aggregation.FetchTimeout <= 0 {
		return fmt.Errorf("aggregation fetch timeout must be positive")
	}
	if c.Aggregation.RefreshDelay < 0 {
		return fmt.Errorf("aggregation refresh delay cannot be negative")
	}

	if c.Degradation.AssumedCPUMillicores <= 0 || c.Degradation.AssumedMemoryMebibytes <= 0 {
		return fmt.Errorf("assumed node capacity must be positive")
	}

	if c.RateLimits.ActionsPerMinute <= 0 || c.RateLimits.RefreshPerMinute <= 0 {
		return fmt.Errorf("rate limits must be positive")
	}

	switch c.Logging.Format {
	case "", "json", "console":
	default:
		return fmt.Errorf("logging format must be 'json' or 'console'")
	}

	return nil
}
