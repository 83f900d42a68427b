package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Runtime  RuntimeConfig
	Server   ServerConfig
	Backend  BackendConfig
	Docker   DockerConfig
	Lambda   LambdaConfig
	Postgres PostgresConfig
	Redis    RedisConfig
	Queue    QueueConfig
	S3       S3Config
}

type RuntimeConfig struct {
	// Type selects the execution backend: local, container or lambda.
	Type string

	// InvokeTimeout is the hard wall-clock ceiling per invocation.
	InvokeTimeout time.Duration

	// RunnerCommand is the argv the local backend forks. Empty means
	// re-exec the current binary in child mode.
	RunnerCommand []string

	// RunnerImage is the base image containing the runner binary, used as
	// the source of per-config container images.
	RunnerImage string

	// IdleTTL is how long a runtime may go uninvoked before the reaper
	// tears it down.
	IdleTTL time.Duration

	// ReapSchedule is the cron expression driving teardown of unused
	// runtimes.
	ReapSchedule string
}

type ServerConfig struct {
	Port int
}

type BackendConfig struct {
	// URL of the control plane that receives execution completion reports.
	URL string
}

type DockerConfig struct {
	RegistryURL  string
	Repository   string
	RegistryAuth string // base64 X-Registry-Auth payload
}

type LambdaConfig struct {
	Region           string
	ExecutionRoleARN string
	ImageRegistry    string
	MemoryMB         int
}

type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

type RedisConfig struct {
	Addr string
	TTL  time.Duration
}

type QueueConfig struct {
	AMQPURL        string
	ProvisionQueue string
}

type S3Config struct {
	Region          string
	Bucket          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Prefix          string
}

const (
	RuntimeTypeLocal     = "local"
	RuntimeTypeContainer = "container"
	RuntimeTypeLambda    = "lambda"
)

func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		Runtime: RuntimeConfig{
			Type:          getEnvString("RUNTIME_TYPE", RuntimeTypeLocal),
			InvokeTimeout: getEnvDuration("INVOKE_TIMEOUT", 60*time.Second),
			RunnerCommand: getEnvList("RUNNER_COMMAND"),
			RunnerImage:   getEnvString("RUNNER_IMAGE", "triggerkit/runner:latest"),
			IdleTTL:       getEnvDuration("RUNTIME_IDLE_TTL", 24*time.Hour),
			ReapSchedule:  getEnvString("RUNTIME_REAP_SCHEDULE", "@every 1h"),
		},
		Server: ServerConfig{
			Port: getEnvInt("PORT", 8080),
		},
		Backend: BackendConfig{
			URL: getEnvString("BACKEND_URL", ""),
		},
		Docker: DockerConfig{
			RegistryURL:  getEnvString("REGISTRY_URL", ""),
			Repository:   getEnvString("REGISTRY_REPOSITORY", ""),
			RegistryAuth: getEnvString("REGISTRY_AUTH", ""),
		},
		Lambda: LambdaConfig{
			Region:           getEnvString("AWS_REGION", "us-east-1"),
			ExecutionRoleARN: getEnvString("LAMBDA_EXECUTION_ROLE_ARN", ""),
			ImageRegistry:    getEnvString("LAMBDA_IMAGE_REGISTRY", ""),
			MemoryMB:         getEnvInt("LAMBDA_MEMORY_MB", 512),
		},
		Postgres: PostgresConfig{
			Host:     getEnvString("POSTGRES_HOST", "localhost"),
			Port:     getEnvInt("POSTGRES_PORT", 5432),
			User:     getEnvString("POSTGRES_USER", "postgres"),
			Password: getEnvString("POSTGRES_PASSWORD", "postgres"),
			Database: getEnvString("POSTGRES_DB", "triggerkit"),
			SSLMode:  getEnvString("POSTGRES_SSL_MODE", "disable"),
		},
		Redis: RedisConfig{
			Addr: getEnvString("REDIS_ADDR", ""),
			TTL:  getEnvDuration("REDIS_TTL", 5*time.Minute),
		},
		Queue: QueueConfig{
			AMQPURL:        getEnvString("AMQP_URL", ""),
			ProvisionQueue: getEnvString("PROVISION_QUEUE", "runtime-provisioning"),
		},
		S3: S3Config{
			Region:          getEnvString("AWS_REGION", "us-east-1"),
			Bucket:          getEnvString("S3_BUCKET", ""),
			Endpoint:        getEnvString("S3_ENDPOINT", ""),
			AccessKeyID:     getEnvString("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey: getEnvString("AWS_SECRET_ACCESS_KEY", ""),
			Prefix:          getEnvString("S3_PREFIX", "artifacts"),
		},
	}

	switch cfg.Runtime.Type {
	case RuntimeTypeLocal, RuntimeTypeContainer, RuntimeTypeLambda:
	default:
		return nil, fmt.Errorf("unknown RUNTIME_TYPE %q", cfg.Runtime.Type)
	}

	if cfg.Runtime.InvokeTimeout <= 0 {
		return nil, fmt.Errorf("INVOKE_TIMEOUT must be positive")
	}

	return cfg, nil
}

func getEnvString(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getEnvList(key string) []string {
	value := os.Getenv(key)
	if value == "" {
		return nil
	}
	return strings.Fields(value)
}
