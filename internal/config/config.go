package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Console configures cmd/hoadmin.
type Console struct {
	BackendURL     string
	BackendAnonKey string
	FunctionsURL   string

	Storage Storage

	DBPath    string
	LogLevel  string
	LogFormat string

	PollInterval time.Duration
	WSAddr       string
	SoundFile    string

	VAPIDPublicKey  string
	VAPIDPrivateKey string
}

// Storage configures the S3-compatible blob bucket.
type Storage struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	PublicURL string
}

// Configured reports whether enough is set to talk to the bucket.
func (s Storage) Configured() bool {
	return s.Bucket != "" && s.AccessKey != "" && s.SecretKey != ""
}

// Functions configures cmd/hoafuncs.
type Functions struct {
	Port          string
	DBPath        string
	JWTSecret     string
	PostmarkToken string
	FromEmail     string
	LogLevel      string
	LogFormat     string
}

// LoadConsole reads .env (if present) and the environment.
func LoadConsole() (*Console, error) {
	_ = godotenv.Load()

	cfg := &Console{
		BackendURL:     strings.TrimRight(getEnv("HOA_BACKEND_URL", ""), "/"),
		BackendAnonKey: getEnv("HOA_BACKEND_ANON_KEY", ""),
		FunctionsURL:   strings.TrimRight(getEnv("HOA_FUNCTIONS_URL", ""), "/"),
		Storage: Storage{
			Endpoint:  getEnv("HOA_STORAGE_ENDPOINT", ""),
			Region:    getEnv("HOA_STORAGE_REGION", "us-east-1"),
			Bucket:    getEnv("HOA_STORAGE_BUCKET", "hoa-images"),
			AccessKey: getEnv("HOA_STORAGE_ACCESS_KEY", ""),
			SecretKey: getEnv("HOA_STORAGE_SECRET_KEY", ""),
			PublicURL: strings.TrimRight(getEnv("HOA_STORAGE_PUBLIC_URL", ""), "/"),
		},
		DBPath:          getEnv("HOA_DB_PATH", "hoadmin.db"),
		LogLevel:        getEnv("HOA_LOG_LEVEL", "info"),
		LogFormat:       getEnv("HOA_LOG_FORMAT", "text"),
		WSAddr:          getEnv("HOA_WS_ADDR", "127.0.0.1:8787"),
		SoundFile:       getEnv("HOA_SOUND_FILE", ""),
		VAPIDPublicKey:  getEnv("HOA_VAPID_PUBLIC_KEY", ""),
		VAPIDPrivateKey: getEnv("HOA_VAPID_PRIVATE_KEY", ""),
	}

	interval, err := time.ParseDuration(getEnv("HOA_POLL_INTERVAL", "5s"))
	if err != nil {
		return nil, fmt.Errorf("HOA_POLL_INTERVAL: %w", err)
	}
	cfg.PollInterval = interval

	if cfg.FunctionsURL == "" && cfg.BackendURL != "" {
		cfg.FunctionsURL = cfg.BackendURL + "/functions/v1"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Console) Validate() error {
	if c.BackendURL == "" {
		return fmt.Errorf("HOA_BACKEND_URL is required")
	}
	if c.BackendAnonKey == "" {
		return fmt.Errorf("HOA_BACKEND_ANON_KEY is required")
	}
	if c.PollInterval <= 0 {
		return fmt.Errorf("HOA_POLL_INTERVAL must be positive")
	}
	return nil
}

// LoadFunctions reads .env (if present) and the environment.
func LoadFunctions() (*Functions, error) {
	_ = godotenv.Load()

	cfg := &Functions{
		Port:          getEnv("HOAFUNCS_PORT", "8790"),
		DBPath:        getEnv("HOAFUNCS_DB_PATH", "hoafuncs.db"),
		JWTSecret:     getEnv("HOAFUNCS_JWT_SECRET", ""),
		PostmarkToken: getEnv("HOAFUNCS_POSTMARK_TOKEN", ""),
		FromEmail:     getEnv("HOAFUNCS_FROM_EMAIL", ""),
		LogLevel:      getEnv("HOAFUNCS_LOG_LEVEL", "info"),
		LogFormat:     getEnv("HOAFUNCS_LOG_FORMAT", "text"),
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Functions) Validate() error {
	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("HOAFUNCS_JWT_SECRET must be at least 32 characters")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
