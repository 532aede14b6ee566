package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// Chain modes.
const (
	ChainModeRPC    = "rpc"
	ChainModeMemory = "memory"
)

// Config holds runtime configuration values for the API service.
type Config struct {
	AppName       string
	AppEnv        string
	AppPort       string
	DatabaseURL   string
	RedisURL      string
	NATSURL       string
	EventsChannel string
	JWTSecret     string
	CORSOrigins   string

	ChainMode       string
	ChainRPCURLs    []string
	ChainID         int64
	ContractAddress string
	ContractABI     string
	AdminPrivateKey string
	RPCTimeout      time.Duration
	Confirmations   uint64
	PollInterval    time.Duration
	MintTimeout     time.Duration
	MintLeaseTTL    time.Duration
	LeasePrefix     string
	MintRateLimit   int
	MintRateWindow  time.Duration

	SyncInterval    time.Duration
	SyncMaxAttempts int
	SyncMaxBackoff  time.Duration

	CloudinaryCloudName    string
	CloudinaryAPIKey       string
	CloudinaryAPISecret    string
	CloudinaryUploadFolder string
	UploadMaxSizeMB        int
	UploadDir              string

	MetadataBaseURL string
}

// HTTPAddress returns the address the HTTP server should listen on.
func (c Config) HTTPAddress() string {
	if strings.HasPrefix(c.AppPort, ":") {
		return c.AppPort
	}

	return fmt.Sprintf(":%s", c.AppPort)
}

// Load reads configuration values from environment variables and optional .env file.
func Load() (Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	v.SetEnvPrefix("EDUCERT")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	v.SetDefault("app.name", "EDUCert API")
	v.SetDefault("app.env", "development")
	v.SetDefault("app.port", "8080")
	v.SetDefault("events.channel", "educert")
	v.SetDefault("chain.mode", ChainModeRPC)
	v.SetDefault("chain.confirmations", 1)
	v.SetDefault("rpc.timeout", "20s")
	v.SetDefault("rpc.poll_interval", "2s")
	v.SetDefault("mint.timeout", "3m")
	v.SetDefault("mint.lease_ttl", "5m")
	v.SetDefault("lease.prefix", "educert:lease")
	v.SetDefault("mint.rate_limit", 5)
	v.SetDefault("mint.rate_window", "1m")
	v.SetDefault("sync.interval", "30s")
	v.SetDefault("sync.max_attempts", 10)
	v.SetDefault("sync.max_backoff", "30m")
	v.SetDefault("cloudinary.folder", "educert/certificates")
	v.SetDefault("upload.max_size_mb", 10)
	v.SetDefault("upload.dir", "uploads")

	durations := map[string]time.Duration{}
	for _, key := range []string{"rpc.timeout", "rpc.poll_interval", "mint.timeout", "mint.lease_ttl", "mint.rate_window", "sync.interval", "sync.max_backoff"} {
		parsed, err := time.ParseDuration(v.GetString(key))
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", key, err)
		}
		durations[key] = parsed
	}

	cfg := Config{
		AppName:                v.GetString("app.name"),
		AppEnv:                 v.GetString("app.env"),
		AppPort:                v.GetString("app.port"),
		DatabaseURL:            v.GetString("database.url"),
		RedisURL:               v.GetString("redis.url"),
		NATSURL:                v.GetString("nats.url"),
		EventsChannel:          v.GetString("events.channel"),
		JWTSecret:              v.GetString("jwt.secret"),
		CORSOrigins:            strings.TrimSpace(v.GetString("cors.allowed_origins")),
		ChainMode:              strings.ToLower(strings.TrimSpace(v.GetString("chain.mode"))),
		ChainRPCURLs:           splitList(v.GetString("rpc.urls")),
		ChainID:                v.GetInt64("chain.id"),
		ContractAddress:        strings.TrimSpace(v.GetString("contract.address")),
		AdminPrivateKey:        strings.TrimSpace(v.GetString("admin.private_key")),
		RPCTimeout:             durations["rpc.timeout"],
		Confirmations:          uint64(v.GetInt64("chain.confirmations")),
		PollInterval:           durations["rpc.poll_interval"],
		MintTimeout:            durations["mint.timeout"],
		MintLeaseTTL:           durations["mint.lease_ttl"],
		LeasePrefix:            strings.TrimSpace(v.GetString("lease.prefix")),
		MintRateLimit:          v.GetInt("mint.rate_limit"),
		MintRateWindow:         durations["mint.rate_window"],
		SyncInterval:           durations["sync.interval"],
		SyncMaxAttempts:        v.GetInt("sync.max_attempts"),
		SyncMaxBackoff:         durations["sync.max_backoff"],
		CloudinaryCloudName:    v.GetString("cloudinary.cloud_name"),
		CloudinaryAPIKey:       v.GetString("cloudinary.api_key"),
		CloudinaryAPISecret:    v.GetString("cloudinary.api_secret"),
		CloudinaryUploadFolder: v.GetString("cloudinary.folder"),
		UploadMaxSizeMB:        v.GetInt("upload.max_size_mb"),
		UploadDir:              strings.TrimSpace(v.GetString("upload.dir")),
		MetadataBaseURL:        strings.TrimRight(v.GetString("metadata.base_url"), "/"),
	}

	if path := strings.TrimSpace(v.GetString("contract.abi_path")); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read contract abi: %w", err)
		}
		cfg.ContractABI = string(raw)
	}

	if cfg.JWTSecret == "" {
		return Config{}, fmt.Errorf("jwt secret must be provided")
	}

	switch cfg.ChainMode {
	case ChainModeMemory:
	case ChainModeRPC:
		if len(cfg.ChainRPCURLs) == 0 || cfg.ContractAddress == "" {
			return Config{}, fmt.Errorf("rpc urls and contract address must be provided in rpc chain mode")
		}
	default:
		return Config{}, fmt.Errorf("unknown chain mode %q", cfg.ChainMode)
	}

	if cfg.MintLeaseTTL <= cfg.MintTimeout {
		return Config{}, fmt.Errorf("mint lease ttl (%s) must exceed mint timeout (%s)", cfg.MintLeaseTTL, cfg.MintTimeout)
	}

	if cfg.SyncMaxAttempts <= 0 {
		cfg.SyncMaxAttempts = 10
	}

	if cfg.UploadMaxSizeMB <= 0 {
		cfg.UploadMaxSizeMB = 10
	}

	return cfg, nil
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}
