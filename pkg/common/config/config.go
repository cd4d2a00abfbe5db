package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	// Server
	ServerPort     string
	ServerHost     string
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	MaxRequestBody int64
	AllowFlush     bool

	// Database
	PostgresHost     string
	PostgresPort     string
	PostgresUser     string
	PostgresPassword string
	PostgresDB       string
	PostgresSSLMode  string

	// Redis
	RedisHost     string
	RedisPort     string
	RedisPassword string
	RedisDB       int

	// Kafka
	KafkaBrokers        []string
	KafkaGroupID        string
	PipelineEventsTopic string
	EventsEnabled       bool

	// Archive
	ArchiveRetention time.Duration

	// LLM
	LLMAPIKey    string
	LLMBaseURL   string
	LLMModelName string
	LLMTimeout   time.Duration

	// Collaborators
	OCREngineURL   string
	OCRBackendURL  string
	MinerEngineURL string
	MinerStatusURL string
	DemoURL        string
	EMSendURL      string
	RuleEngineURL  string

	// Backend OAuth2 (client credentials), optional
	BackendTokenURL     string
	BackendClientID     string
	BackendClientSecret string
	BackendScopes       []string

	// Scoring
	ScoringBackend    string
	ScoringTablesPath string

	// Workers
	WorkerPopTimeout    time.Duration
	WorkerMaxAttempts   int
	OCRBackoff          time.Duration
	MinerBackoff        time.Duration
	EMBackoff           time.Duration
	FlushOCROnStartup   bool
	FlushMinerOnStartup bool
	FlushEMOnStartup    bool

	// Results
	OCRResultTTL   time.Duration
	MinerResultTTL time.Duration
	EMResultTTL    time.Duration

	// Egress
	EgressAttempts    int
	EgressInterval    time.Duration
	EgressTimeout     time.Duration
	OCREngineTimeout  time.Duration
	BlobFetchTimeout  time.Duration
	NotifyDedupWindow time.Duration
}

func Load() *Config {
	return &Config{
		ServerPort:     getEnv("SERVER_PORT", "8080"),
		ServerHost:     getEnv("SERVER_HOST", "0.0.0.0"),
		ReadTimeout:    getDuration("READ_TIMEOUT", 30*time.Second),
		WriteTimeout:   getDuration("WRITE_TIMEOUT", 5*time.Minute),
		MaxRequestBody: int64(getIntEnv("MAX_REQUEST_BODY_BYTES", 8*1024*1024)),
		AllowFlush:     getBoolEnv("ALLOW_FLUSH", false),

		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresUser:     getEnv("POSTGRES_USER", "mdm"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", "mdm"),
		PostgresDB:       getEnv("POSTGRES_DB", "mdm"),
		PostgresSSLMode:  getEnv("POSTGRES_SSLMODE", "disable"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getIntEnv("REDIS_DB", 0),

		KafkaBrokers:        getStringSliceEnv("KAFKA_BROKERS", []string{"localhost:9092"}),
		KafkaGroupID:        getEnv("KAFKA_GROUP_ID", "mdm-pipeline"),
		PipelineEventsTopic: getEnv("PIPELINE_EVENTS_TOPIC", "mdm-pipeline-events"),
		EventsEnabled:       getBoolEnv("PIPELINE_EVENTS_ENABLED", true),

		ArchiveRetention: getDuration("ARCHIVE_RETENTION", 0),

		LLMAPIKey:    getEnv("LLM_API_KEY", ""),
		LLMBaseURL:   getEnv("LLM_BASE_URL", "https://api.openai.com/v1"),
		LLMModelName: getEnv("LLM_MODEL_NAME", "gpt-4"),
		LLMTimeout:   getDuration("LLM_TIMEOUT", 10*time.Minute),

		OCREngineURL:   getEnv("OCR_URL", ""),
		OCRBackendURL:  getEnv("BACKEND_URL", ""),
		MinerEngineURL: getEnv("MINER_OCR_URL", ""),
		MinerStatusURL: getEnv("OCR_STATUS_URL", ""),
		DemoURL:        getEnv("DEMO_URL", ""),
		EMSendURL:      getEnv("SEND_URL", ""),
		RuleEngineURL:  getEnv("RULE_ENGINE_URL", ""),

		BackendTokenURL:     getEnv("BACKEND_TOKEN_URL", ""),
		BackendClientID:     getEnv("BACKEND_CLIENT_ID", ""),
		BackendClientSecret: getEnv("BACKEND_CLIENT_SECRET", ""),
		BackendScopes:       getStringSliceEnv("BACKEND_SCOPES", nil),

		ScoringBackend:    getEnv("SCORING_BACKEND", "table"),
		ScoringTablesPath: getEnv("SCORING_TABLES_PATH", ""),

		WorkerPopTimeout:    getDuration("WORKER_POP_TIMEOUT", 5*time.Second),
		WorkerMaxAttempts:   getIntEnv("WORKER_MAX_ATTEMPTS", 5),
		OCRBackoff:          getDuration("OCR_RETRY_BACKOFF", 3*time.Second),
		MinerBackoff:        getDuration("MINER_RETRY_BACKOFF", 3*time.Second),
		EMBackoff:           getDuration("EM_RETRY_BACKOFF", 2*time.Second),
		FlushOCROnStartup:   getBoolEnv("FLUSH_OCR_ON_STARTUP", false),
		FlushMinerOnStartup: getBoolEnv("FLUSH_MINER_ON_STARTUP", false),
		FlushEMOnStartup:    getBoolEnv("FLUSH_EM_ON_STARTUP", false),

		OCRResultTTL:   getDuration("OCR_RESULT_TTL", 0),
		MinerResultTTL: getDuration("MINER_RESULT_TTL", 24*time.Hour),
		EMResultTTL:    getDuration("EM_RESULT_TTL", 0),

		EgressAttempts:    getIntEnv("EGRESS_ATTEMPTS", 3),
		EgressInterval:    getDuration("EGRESS_INTERVAL", 2*time.Second),
		EgressTimeout:     getDuration("EGRESS_TIMEOUT", 30*time.Second),
		OCREngineTimeout:  getDuration("OCR_ENGINE_TIMEOUT", 120*time.Second),
		BlobFetchTimeout:  getDuration("BLOB_FETCH_TIMEOUT", 10*time.Second),
		NotifyDedupWindow: getDuration("NOTIFY_DEDUP_WINDOW", 24*time.Hour),
	}
}

// RemoteScoring reports whether the rule service should be consulted before the local tables.
func (c *Config) RemoteScoring() bool {
	return strings.EqualFold(c.ScoringBackend, "remote") && c.RuleEngineURL != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getStringSliceEnv(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}
	return out
}

func getDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
