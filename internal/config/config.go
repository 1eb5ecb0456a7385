package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	GRPCPort    string
	HTTPPort    string
	AnalysisURL string
	CORSOrigins string

	MaxConnections int
	LogLevel       string
	Environment    string

	// scheduling
	DriverID        string
	Interval        int
	MinSamples      int
	MaxRetries      int
	RetryDelay      time.Duration
	AnalysisTimeout time.Duration
	HealthInterval  time.Duration

	// enrichment and classification
	EnableStateClassifier bool
	EnableVitals          bool
	Classifier            string
	ThresholdsFile        string

	AdminTokenHash string
	DesktopNotify  bool

	DBDriver   string
	DBPath     string
	DBName     string
	DBHost     string
	DBPort     string
	DBUser     string
	DBPassword string
	DBSSLMode  string
}

func (p *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		p.DBHost, p.DBPort, p.DBUser, p.DBPassword, p.DBName, p.DBSSLMode)
}

// DSNForLog безопасный вывод DSN без пароля для логирования
func (p *Config) DSNForLog() string {
	if p.DBDriver != "postgres" {
		return p.DBPath
	}
	return fmt.Sprintf("host=%s port=%s user=%s password=*** dbname=%s sslmode=%s",
		p.DBHost, p.DBPort, p.DBUser, p.DBName, p.DBSSLMode)
}

// DatabaseDSN is what the store opens: a file path for sqlite, a libpq
// string for postgres.
func (p *Config) DatabaseDSN() string {
	if p.DBDriver == "postgres" {
		return p.DSN()
	}
	return p.DBPath
}

func (c *Config) IsDev() bool {
	return c.Environment == "dev"
}

func (c *Config) Debug() bool {
	return strings.EqualFold(c.LogLevel, "debug")
}

func LoadConfig() *Config {
	// Загрузка .env файла (если существует)
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using system environment variables")
	}

	cfg := &Config{
		GRPCPort:              getEnv("GRPC_PORT", "50051"),
		HTTPPort:              getEnv("HTTP_PORT", "8081"),
		AnalysisURL:           getEnv("ANALYSIS_SERVICE_URL", "http://localhost:8000"),
		CORSOrigins:           getEnv("CORS_ORIGINS", "*"),
		MaxConnections:        getEnvInt("MAX_CONNECTIONS", 100),
		LogLevel:              getEnv("LOG_LEVEL", "INFO"),
		Environment:           getEnv("ENVIRONMENT", "production"),
		DriverID:              getEnv("DRIVER_ID", "demo_driver"),
		Interval:              getEnvInt("WINDOW_INTERVAL", 30),
		MinSamples:            getEnvInt("MIN_SAMPLES", 3),
		MaxRetries:            getEnvInt("MAX_RETRIES", 3),
		RetryDelay:            getEnvDuration("RETRY_DELAY", 5*time.Second),
		AnalysisTimeout:       getEnvDuration("ANALYSIS_TIMEOUT", 60*time.Second),
		HealthInterval:        getEnvDuration("HEALTH_INTERVAL", 10*time.Second),
		EnableStateClassifier: getEnvBool("ENABLE_STATE_CLASSIFIER", true),
		EnableVitals:          getEnvBool("ENABLE_VITALS", true),
		Classifier:            getEnv("CLASSIFIER", "tiered"),
		ThresholdsFile:        getEnv("THRESHOLDS_FILE", ""),
		AdminTokenHash:        getEnv("ADMIN_TOKEN_HASH", ""),
		DesktopNotify:         getEnvBool("DESKTOP_NOTIFY", false),
		DBDriver:              getEnv("DB_DRIVER", "sqlite"),
		DBPath:                getEnv("DB_PATH", "data/lucid.db"),
		DBHost:                getEnv("DB_HOST", "localhost"),
		DBPort:                getEnv("DB_PORT", "5432"),
		DBUser:                getEnv("DB_USER", "postgres"),
		DBPassword:            getEnv("DB_PASSWORD", ""),
		DBName:                getEnv("DB_NAME", "lucid"),
		DBSSLMode:             getEnv("DB_SSLMODE", "disable"),
	}

	if cfg.DBDriver == "postgres" && cfg.DBPassword == "" {
		fmt.Println("WARNING: DB_PASSWORD is not set!")
	}
	if cfg.AdminTokenHash == "" {
		fmt.Println("WARNING: ADMIN_TOKEN_HASH is not set, session reset is unauthenticated")
	}

	return cfg
}

// Validate reports every setting the server cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Interval <= 0 {
		errs = append(errs, fmt.Errorf("WINDOW_INTERVAL must be positive, got %d", c.Interval))
	}
	if c.MinSamples <= 0 {
		errs = append(errs, fmt.Errorf("MIN_SAMPLES must be positive, got %d", c.MinSamples))
	}
	if c.MaxRetries <= 0 {
		errs = append(errs, fmt.Errorf("MAX_RETRIES must be positive, got %d", c.MaxRetries))
	}
	if c.RetryDelay < 0 {
		errs = append(errs, fmt.Errorf("RETRY_DELAY must not be negative, got %s", c.RetryDelay))
	}
	switch c.DBDriver {
	case "sqlite", "postgres":
	default:
		errs = append(errs, fmt.Errorf("DB_DRIVER must be sqlite or postgres, got %q", c.DBDriver))
	}
	switch strings.ToLower(c.Classifier) {
	case "tiered", "score":
	default:
		errs = append(errs, fmt.Errorf("CLASSIFIER must be tiered or score, got %q", c.Classifier))
	}
	if c.AnalysisURL == "" {
		errs = append(errs, errors.New("ANALYSIS_SERVICE_URL is required"))
	}
	return errors.Join(errs...)
}

func getEnv(key string, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if intVal, err := strconv.Atoi(v); err == nil {
			return intVal
		}
	}
	return defaultVal
}

func getEnvBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

// getEnvDuration accepts Go durations ("5s") or bare seconds ("5").
func getEnvDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	if d, err := time.ParseDuration(v); err == nil {
		return d
	}
	if secs, err := strconv.ParseFloat(v, 64); err == nil {
		return time.Duration(secs * float64(time.Second))
	}
	return defaultVal
}
