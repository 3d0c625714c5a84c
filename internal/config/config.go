package config

import (
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all runtime configuration for the assistant server and tools.
type Config struct {
	Host          string
	Port          int
	MaxUploadSize int64

	// Media storage
	StorageType    string
	UploadDir      string
	AzureAccount   string
	AzureKey       string
	AzureContainer string

	// Sign catalog database
	DBType         string
	DBPath         string
	DBHost         string
	DBPort         int
	DBUser         string
	DBPassword     string
	DBName         string
	MigrationsPath string
	CatalogPath    string
	ClassNamesPath string
	SignImagesDir  string

	// Inference
	GeminiAPIKey          string
	GeminiModel           string
	InferenceBackend      string
	DetectorURL           string
	DetectorMinConfidence float64
	DetectorIoUThreshold  float64
	InferenceTimeout      time.Duration

	// Speech
	Speaker       string
	SpeechCommand string

	SessionIdleTTL time.Duration

	LogLevel  string
	LogFile   string
	LogFormat string
}

// Load reads configuration from environment variables and an optional .env file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	}

	cfg := &Config{
		Host:          getEnvOrDefault("HOST", "0.0.0.0"),
		Port:          getEnvIntOrDefault("PORT", 8080),
		MaxUploadSize: getEnvInt64OrDefault("MAX_UPLOAD_SIZE", 100*1024*1024),

		StorageType:    getEnvOrDefault("STORAGE_TYPE", "local"),
		UploadDir:      getEnvOrDefault("UPLOAD_DIR", "./uploads"),
		AzureAccount:   os.Getenv("AZURE_STORAGE_ACCOUNT"),
		AzureKey:       os.Getenv("AZURE_STORAGE_KEY"),
		AzureContainer: getEnvOrDefault("AZURE_STORAGE_CONTAINER", "media"),

		DBType:         getEnvOrDefault("DB_TYPE", "sqlite"),
		DBPath:         getEnvOrDefault("DB_PATH", "./signassist.db"),
		DBHost:         getEnvOrDefault("DB_HOST", "localhost"),
		DBPort:         getEnvIntOrDefault("DB_PORT", 5432),
		DBUser:         getEnvOrDefault("DB_USER", "signassist"),
		DBPassword:     getEnvOrDefault("DB_PASSWORD", "signassist_dev"),
		DBName:         getEnvOrDefault("DB_NAME", "signassist"),
		MigrationsPath: getEnvOrDefault("MIGRATIONS_PATH", "./migrations"),
		CatalogPath:    os.Getenv("CATALOG_PATH"),
		ClassNamesPath: os.Getenv("CLASS_NAMES_PATH"),
		SignImagesDir:  getEnvOrDefault("SIGN_IMAGES_DIR", "./fdtest"),

		GeminiAPIKey:          getEnvOrDefault("GEMINI_API_KEY", os.Getenv("API_KEY")),
		GeminiModel:           getEnvOrDefault("GEMINI_MODEL", "gemini-2.5-flash"),
		InferenceBackend:      getEnvOrDefault("INFERENCE_BACKEND", "gemini"),
		DetectorURL:           getEnvOrDefault("DETECTOR_URL", "http://localhost:8000"),
		DetectorMinConfidence: getEnvFloatOrDefault("DETECTOR_MIN_CONFIDENCE", 0.35),
		DetectorIoUThreshold:  getEnvFloatOrDefault("DETECTOR_IOU_THRESHOLD", 0.5),
		InferenceTimeout:      parseDurationOrDefault("INFERENCE_TIMEOUT", 30*time.Second),

		Speaker:       getEnvOrDefault("SPEAKER", "browser"),
		SpeechCommand: getEnvOrDefault("SPEECH_COMMAND", "espeak-ng"),

		SessionIdleTTL: parseDurationOrDefault("SESSION_IDLE_TTL", 30*time.Minute),

		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFile:   getEnvOrDefault("LOG_FILE", "logs/signassist.log"),
		LogFormat: getEnvOrDefault("LOG_FORMAT", "text"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks ranges and enumerated settings.
func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid PORT: %d", c.Port)
	}
	if c.MaxUploadSize <= 0 {
		return fmt.Errorf("MAX_UPLOAD_SIZE must be > 0 (got %d)", c.MaxUploadSize)
	}
	if c.InferenceTimeout <= 0 || c.SessionIdleTTL <= 0 {
		return fmt.Errorf("timeouts must be > 0 (got inference=%s, session_ttl=%s)", c.InferenceTimeout, c.SessionIdleTTL)
	}
	switch c.StorageType {
	case "local":
	case "azure":
		if c.AzureAccount == "" || c.AzureKey == "" {
			return fmt.Errorf("STORAGE_TYPE=azure requires AZURE_STORAGE_ACCOUNT and AZURE_STORAGE_KEY")
		}
	default:
		return fmt.Errorf("unsupported STORAGE_TYPE: %q", c.StorageType)
	}
	switch c.DBType {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("unsupported DB_TYPE: %q", c.DBType)
	}
	switch c.InferenceBackend {
	case "gemini", "detector":
	default:
		return fmt.Errorf("unsupported INFERENCE_BACKEND: %q", c.InferenceBackend)
	}
	if c.DetectorMinConfidence < 0 || c.DetectorMinConfidence >= 1 {
		return fmt.Errorf("DETECTOR_MIN_CONFIDENCE must be in [0,1) (got %v)", c.DetectorMinConfidence)
	}
	if c.DetectorIoUThreshold <= 0 || c.DetectorIoUThreshold > 1 {
		return fmt.Errorf("DETECTOR_IOU_THRESHOLD must be in (0,1] (got %v)", c.DetectorIoUThreshold)
	}
	switch c.Speaker {
	case "browser", "pulse", "none":
	default:
		return fmt.Errorf("unsupported SPEAKER: %q", c.Speaker)
	}
	return nil
}

// ServerAddress returns host:port for the HTTP listener.
func (c *Config) ServerAddress() string {
	return net.JoinHostPort(strings.TrimSpace(c.Host), strconv.Itoa(c.Port))
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvIntOrDefault(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(strings.TrimSpace(val)); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvInt64OrDefault(key string, defaultVal int64) int64 {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.ParseInt(strings.TrimSpace(val), 10, 64); err == nil {
			return i
		}
	}
	return defaultVal
}

func getEnvFloatOrDefault(key string, defaultVal float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(strings.TrimSpace(val), 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func parseDurationOrDefault(key string, defaultVal time.Duration) time.Duration {
	if val := os.Getenv(key); val != "" {
		if d, err := time.ParseDuration(strings.TrimSpace(val)); err == nil && d > 0 {
			return d
		}
	}
	return defaultVal
}
