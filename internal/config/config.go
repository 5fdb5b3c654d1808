package config

import (
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port        string
	DatabaseDSN string
	LogLevel    string

	// S3 archival store
	S3Endpoint        string
	S3AccessKeyID     string
	S3SecretAccessKey string
	S3BucketName      string
	S3UseSSL          bool

	// External collaborators
	SummarizerURL       string
	VisionURL           string
	RedactorURL         string
	CollaboratorKey     string
	CollaboratorTimeout time.Duration
	CollaboratorRetries int

	// Input limits
	MaxInputBytes       int64
	ClassifySampleBytes int

	// Escalation thresholds
	TextEscalationBytes  int64
	ImageEscalationBytes int64
	EscalationGrace      time.Duration

	// Extraction tunables
	LogContextHalfWidth int
	ZScoreThreshold     float64
	MaxAnomalies        int
	SummaryCharCap      int
	// ErrorDensityFactor tunes the log-vs-error disambiguation rule: error
	// cues must outnumber log cues by this factor before the narrower error
	// interpretation wins. Flagged for calibration against a labeled corpus.
	ErrorDensityFactor float64
}

func Load() (*Config, error) {
	cfg := &Config{
		Port:        getEnv("PORT", "8080"),
		DatabaseDSN: getEnv("DATABASE_DSN", "data/triage.db"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		S3Endpoint:        getEnv("S3_ENDPOINT", "localhost:9000"),
		S3AccessKeyID:     getEnv("S3_ACCESS_KEY_ID", "minioadmin"),
		S3SecretAccessKey: getEnv("S3_SECRET_ACCESS_KEY", "minioadmin"),
		S3BucketName:      getEnv("S3_BUCKET_NAME", "artifacts"),
		S3UseSSL:          getEnv("S3_USE_SSL", "false") == "true",

		SummarizerURL:       getEnv("SUMMARIZER_URL", "http://localhost:9901"),
		VisionURL:           getEnv("VISION_URL", "http://localhost:9902"),
		RedactorURL:         getEnv("REDACTOR_URL", "http://localhost:9903"),
		CollaboratorKey:     getEnv("COLLABORATOR_API_KEY", ""),
		CollaboratorTimeout: getDuration("COLLABORATOR_TIMEOUT", 30*time.Second),
		CollaboratorRetries: getInt("COLLABORATOR_RETRIES", 2),

		MaxInputBytes:       getInt64("MAX_INPUT_BYTES", 10<<20),
		ClassifySampleBytes: getInt("CLASSIFY_SAMPLE_BYTES", 5<<10),

		TextEscalationBytes:  getInt64("TEXT_ESCALATION_BYTES", 100<<10),
		ImageEscalationBytes: getInt64("IMAGE_ESCALATION_BYTES", 5<<20),
		EscalationGrace:      getDuration("ESCALATION_GRACE", 5*time.Minute),

		LogContextHalfWidth: getInt("LOG_CONTEXT_HALF_WIDTH", 200),
		ZScoreThreshold:     getFloat("ZSCORE_THRESHOLD", 3.0),
		MaxAnomalies:        getInt("MAX_ANOMALIES", 10),
		SummaryCharCap:      getInt("SUMMARY_CHAR_CAP", 500),
		ErrorDensityFactor:  getFloat("ERROR_DENSITY_FACTOR", 2.0),
	}

	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

func getInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.ParseInt(value, 10, 64); err == nil {
			return n
		}
	}
	return defaultValue
}

func getFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
