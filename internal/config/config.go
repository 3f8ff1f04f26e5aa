package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"gopkg.in/yaml.v3"
)

// Config represents the validator node configuration
type Config struct {
	Environment string          `yaml:"environment"`
	Server      ServerConfig    `yaml:"server"`
	Validator   ValidatorConfig `yaml:"validator"`
	Registry    RegistryConfig  `yaml:"registry"`
	Storage     StorageConfig   `yaml:"storage"`
	Model       ModelConfig     `yaml:"model"`
	Node        NodeConfig      `yaml:"node"`
	Database    DatabaseConfig  `yaml:"database"`
	Logging     LoggingConfig   `yaml:"logging"`
}

// ServerConfig represents the diagnostics server configuration
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
}

// ValidatorConfig holds the validator identity
type ValidatorConfig struct {
	SecretKey string `yaml:"secret_key"`
}

// RegistryConfig represents the registry gateway configuration
type RegistryConfig struct {
	URL                string        `yaml:"url"`
	Subscribe          bool          `yaml:"subscribe"`
	Timeout            time.Duration `yaml:"timeout"`
	RequestsPerSecond  float64       `yaml:"requests_per_second"`
	Burst              int           `yaml:"burst"`
	ContractConstraint string        `yaml:"contract_constraint"`
}

// StorageConfig represents artifact store configuration
type StorageConfig struct {
	Gateways         []string      `yaml:"gateways"`
	FetchTimeout     time.Duration `yaml:"fetch_timeout"`
	UploadTimeout    time.Duration `yaml:"upload_timeout"`
	IPFSAPIURL       string        `yaml:"ipfs_api_url"`
	PinataJWT        string        `yaml:"pinata_jwt"`
	PinataURL        string        `yaml:"pinata_url"`
	AllowMockUploads bool          `yaml:"allow_mock_uploads"`
	S3               S3Config      `yaml:"s3"`
	Redis            RedisConfig   `yaml:"redis"`
}

// S3Config configures the reasoning archive
type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
}

// RedisConfig configures the payload cache
type RedisConfig struct {
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// ModelConfig represents the inference endpoint
type ModelConfig struct {
	Provider    string        `yaml:"provider"`
	URL         string        `yaml:"url"`
	Name        string        `yaml:"name"`
	APIKey      string        `yaml:"api_key"`
	Timeout     time.Duration `yaml:"timeout"`
	Temperature float64       `yaml:"temperature"`
	TopP        float64       `yaml:"top_p"`
	MaxTokens   int           `yaml:"max_tokens"`
}

// NodeConfig sizes discovery and processing
type NodeConfig struct {
	PollInterval  time.Duration `yaml:"poll_interval"`
	Workers       int           `yaml:"workers"`
	QueueSize     int           `yaml:"queue_size"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace"`
	HealthCheck   string        `yaml:"health_check"`
	VoteTimeout   time.Duration `yaml:"vote_timeout"`
	RetryAttempts int           `yaml:"retry_attempts"`
	RetryBackoff  time.Duration `yaml:"retry_backoff"`
}

// DatabaseConfig represents the vote journal database. An empty URL keeps
// the journal in memory.
type DatabaseConfig struct {
	URL string `yaml:"url"`
}

// LoggingConfig
type LoggingConfig struct {
	Level string `yaml:"level"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Environment: "development",
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8081,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Registry: RegistryConfig{
			URL:                "http://localhost:8545",
			Subscribe:          true,
			Timeout:            15 * time.Second,
			RequestsPerSecond:  10,
			Burst:              10,
			ContractConstraint: "^1.0",
		},
		Storage: StorageConfig{
			Gateways: []string{
				"https://ipfs.io",
				"https://gateway.pinata.cloud",
				"https://cloudflare-ipfs.com",
				"https://dweb.link",
			},
			FetchTimeout:  30 * time.Second,
			UploadTimeout: 30 * time.Second,
			Redis:         RedisConfig{TTL: time.Hour},
		},
		Model: ModelConfig{
			Provider:    "ollama",
			URL:         "http://localhost:11434",
			Name:        "llama3.2:3b",
			Timeout:     60 * time.Second,
			Temperature: 0.3,
			TopP:        0.9,
			MaxTokens:   500,
		},
		Node: NodeConfig{
			PollInterval:  10 * time.Second,
			Workers:       4,
			QueueSize:     64,
			ShutdownGrace: 5 * time.Second,
			HealthCheck:   "@every 30s",
			VoteTimeout:   30 * time.Second,
			RetryAttempts: 3,
			RetryBackoff:  time.Second,
		},
		Logging: LoggingConfig{Level: "info"},
	}
}

// LoadConfig loads configuration from .env, an optional YAML (or JSON) file
// and environment variables, in that order of increasing precedence.
func LoadConfig(configPath string) (*Config, error) {
	// .env is optional; real environment variables win over it.
	_ = godotenv.Load()

	config := Default()

	if configPath != "" {
		data, err := os.ReadFile(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	overrideWithEnv(config)

	return config, nil
}

func overrideWithEnv(config *Config) {
	setString(&config.Environment, "ENVIRONMENT")
	setString(&config.Server.Host, "SERVER_HOST")
	setInt(&config.Server.Port, "SERVER_PORT")

	setString(&config.Validator.SecretKey, "VALIDATOR_SECRET_KEY")

	setString(&config.Registry.URL, "REGISTRY_URL")
	setBool(&config.Registry.Subscribe, "REGISTRY_SUBSCRIBE")
	setDuration(&config.Registry.Timeout, "REGISTRY_TIMEOUT")

	if gateways := os.Getenv("IPFS_GATEWAYS"); gateways != "" {
		config.Storage.Gateways = splitList(gateways)
	}
	setDuration(&config.Storage.FetchTimeout, "IPFS_FETCH_TIMEOUT")
	setDuration(&config.Storage.UploadTimeout, "IPFS_UPLOAD_TIMEOUT")
	setString(&config.Storage.IPFSAPIURL, "IPFS_API_URL")
	setString(&config.Storage.PinataJWT, "PINATA_JWT")
	setBool(&config.Storage.AllowMockUploads, "ALLOW_MOCK_UPLOADS")
	setString(&config.Storage.S3.Bucket, "S3_BUCKET")
	setString(&config.Storage.S3.Region, "AWS_REGION")
	setString(&config.Storage.S3.Endpoint, "S3_ENDPOINT")
	setString(&config.Storage.S3.AccessKeyID, "AWS_ACCESS_KEY_ID")
	setString(&config.Storage.S3.SecretAccessKey, "AWS_SECRET_ACCESS_KEY")
	setString(&config.Storage.Redis.Addr, "REDIS_ADDR")
	setString(&config.Storage.Redis.Password, "REDIS_PASSWORD")

	setString(&config.Model.Provider, "MODEL_PROVIDER")
	setString(&config.Model.URL, "MODEL_URL")
	setString(&config.Model.Name, "MODEL_NAME")
	setString(&config.Model.APIKey, "MODEL_API_KEY")
	setDuration(&config.Model.Timeout, "MODEL_TIMEOUT")

	setDuration(&config.Node.PollInterval, "POLL_INTERVAL")
	setInt(&config.Node.Workers, "WORKERS")
	setInt(&config.Node.QueueSize, "QUEUE_SIZE")
	setDuration(&config.Node.ShutdownGrace, "SHUTDOWN_GRACE")

	setString(&config.Database.URL, "DATABASE_URL")
	setString(&config.Logging.Level, "LOG_LEVEL")
}

// Validate checks that the node can start with this configuration.
func (c *Config) Validate() error {
	var errs []error
	if c.Validator.SecretKey == "" {
		errs = append(errs, errors.New("validator.secret_key is required"))
	}
	if c.Registry.URL == "" {
		errs = append(errs, errors.New("registry.url is required"))
	}
	if len(c.Storage.Gateways) == 0 {
		errs = append(errs, errors.New("at least one storage gateway is required"))
	}
	if c.Model.URL == "" || c.Model.Name == "" {
		errs = append(errs, errors.New("model.url and model.name are required"))
	}
	if c.Model.Provider != "ollama" && c.Model.Provider != "openai" {
		errs = append(errs, fmt.Errorf("unknown model provider %q", c.Model.Provider))
	}
	if c.Node.Workers <= 0 || c.Node.QueueSize <= 0 {
		errs = append(errs, errors.New("node.workers and node.queue_size must be positive"))
	}
	if _, err := cron.ParseStandard(c.Node.HealthCheck); err != nil {
		errs = append(errs, fmt.Errorf("invalid node.health_check schedule %q: %w", c.Node.HealthCheck, err))
	}
	if c.IsProduction() {
		if c.Storage.AllowMockUploads {
			errs = append(errs, errors.New("storage.allow_mock_uploads must be false in production"))
		}
		if !c.HasDurableUpload() {
			errs = append(errs, errors.New("production requires an ipfs_api_url, pinata_jwt or s3 bucket"))
		}
	}
	return errors.Join(errs...)
}

// IsProduction reports whether the environment is production.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Environment, "production")
}

// HasDurableUpload reports whether any real upload backend is configured.
func (c *Config) HasDurableUpload() bool {
	return c.Storage.IPFSAPIURL != "" || c.Storage.PinataJWT != "" || c.Storage.S3.Bucket != ""
}

// GetServerAddr returns the server address
func (c *ServerConfig) GetServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
