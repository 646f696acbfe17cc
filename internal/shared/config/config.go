package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Server   ServerConfig
	Log      LogConfig
	EasilyDB SQLServerConfig
	LifenDB  OracleConfig
	Upstream UpstreamConfig
	Chunking ChunkingConfig
	Limits   LimitsConfig
	Auth     AuthConfig
	CORS     CORSConfig
	Session  SessionConfig
	Audit    AuditConfig
	Tracing  TracingConfig
	Analysis AnalysisConfig
}

type ServerConfig struct {
	Port int
	Env  string
}

type LogConfig struct {
	// Format is "text" (console) or "json"
	Format string
	Level  string
}

// SQLServerConfig holds the connection settings of the Easily schema.
type SQLServerConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	Encrypt  bool
}

// DSN returns an ADO-style connection string for go-mssqldb.
func (d SQLServerConfig) DSN() string {
	connStr := fmt.Sprintf("server=%s;port=%d;database=%s;user id=%s;password=%s",
		d.Host, d.Port, d.Database, d.User, d.Password)
	if d.Encrypt {
		connStr += ";encrypt=true;TrustServerCertificate=true"
	} else {
		connStr += ";encrypt=disable"
	}
	return connStr
}

// OracleConfig holds the connection settings of the Lifen schema.
type OracleConfig struct {
	Host     string
	Port     int
	Service  string
	User     string
	Password string
}

// DSN returns an oracle:// URL for go-ora.
func (o OracleConfig) DSN() string {
	u := url.URL{
		Scheme: "oracle",
		User:   url.UserPassword(o.User, o.Password),
		Host:   fmt.Sprintf("%s:%d", o.Host, o.Port),
		Path:   "/" + o.Service,
	}
	return u.String()
}

// UpstreamConfig covers calls from one component to another service or database.
type UpstreamConfig struct {
	EasilyURL     string
	LifenURL      string
	Timeout       time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
	// ServiceToken is sent as a bearer token on service-to-service calls.
	ServiceToken string
}

type ChunkingConfig struct {
	BatchSize           int
	RowLimit            int
	DirectThresholdDays int
	MaxChunks           int
	Pause               time.Duration
	MaxPeriodDays       int
}

type LimitsConfig struct {
	MaxConcurrent  int
	MaxTotal       int
	RequestTimeout time.Duration
	RatePerSecond  int
	RateBurst      int
}

type AuthConfig struct {
	Enabled   bool
	JWTSecret string
	TokenTTL  time.Duration
}

type CORSConfig struct {
	AllowedOrigins []string
}

type SessionConfig struct {
	DBPath string
	TTL    time.Duration
}

type AuditConfig struct {
	DatabaseURL string
}

type TracingConfig struct {
	Endpoint    string
	ServiceName string
}

type AnalysisConfig struct {
	AnomalyThresholdDays   int
	ExcludeWeekends        bool
	DrilldownThresholdDays int
	VenueColumnAliases     []string
	ChunkTiers             []ChunkTier
}

// ChunkTier maps a maximum period length to the chunk size used for it.
// ChunkDays 0 means the period is fetched in one piece.
type ChunkTier struct {
	MaxDays   int    `yaml:"max_days"`
	ChunkDays int    `yaml:"chunk_days"`
	Name      string `yaml:"name"`
}

// DefaultChunkTiers are the period-length tiers used to size Lifen chunks.
func DefaultChunkTiers() []ChunkTier {
	return []ChunkTier{
		{MaxDays: 15, ChunkDays: 0, Name: "direct"},
		{MaxDays: 45, ChunkDays: 15, Name: "medium_chunks"},
		{MaxDays: 120, ChunkDays: 10, Name: "small_chunks"},
		{MaxDays: 0, ChunkDays: 7, Name: "micro_chunks"},
	}
}

// DefaultVenueColumnAliases are the header names recognised as a stay number column.
func DefaultVenueColumnAliases() []string {
	return []string{
		"num_venue", "num_séjour", "numéro_séjour", "numéro de séjour",
		"numero_sejour", "numero sejour", "sejour", "séjour", "venue",
	}
}

// Load reads configuration from the environment. A .env file in the working
// directory is loaded first when present; variables already set win.
func Load(defaultPort int) (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Server: ServerConfig{
			Port: getEnvInt("SERVER_PORT", defaultPort),
			Env:  getEnv("ENV", "development"),
		},
		Log: LogConfig{
			Format: getEnv("LOG_FORMAT", "text"),
			Level:  getEnv("LOG_LEVEL", "info"),
		},
		EasilyDB: SQLServerConfig{
			Host:     getEnv("EASILY_DB_HOST", "localhost"),
			Port:     getEnvInt("EASILY_DB_PORT", 1433),
			User:     getEnv("EASILY_DB_USER", "sa"),
			Password: getEnv("EASILY_DB_PASSWORD", ""),
			Database: getEnv("EASILY_DB_NAME", "NOYAU"),
			Encrypt:  getEnvBool("EASILY_DB_ENCRYPT", false),
		},
		LifenDB: OracleConfig{
			Host:     getEnv("LIFEN_DB_HOST", "localhost"),
			Port:     getEnvInt("LIFEN_DB_PORT", 1521),
			Service:  getEnv("LIFEN_DB_SERVICE", "LIFEN"),
			User:     getEnv("LIFEN_DB_USER", "neuste"),
			Password: getEnv("LIFEN_DB_PASSWORD", ""),
		},
		Upstream: UpstreamConfig{
			EasilyURL:     strings.TrimRight(getEnv("EASILY_API_URL", "http://localhost:8000"), "/"),
			LifenURL:      strings.TrimRight(getEnv("LIFEN_API_URL", "http://localhost:8001"), "/"),
			Timeout:       getEnvDuration("UPSTREAM_TIMEOUT", 25*time.Second),
			RetryAttempts: getEnvInt("UPSTREAM_RETRY_ATTEMPTS", 2),
			RetryDelay:    getEnvDuration("UPSTREAM_RETRY_DELAY", time.Second),
			ServiceToken:  getEnv("SERVICE_TOKEN", ""),
		},
		Chunking: ChunkingConfig{
			BatchSize:           getEnvInt("LIFEN_BATCH_SIZE", 150),
			RowLimit:            getEnvInt("LIFEN_ROW_LIMIT", 3000),
			DirectThresholdDays: getEnvInt("CHUNK_DIRECT_THRESHOLD_DAYS", 20),
			MaxChunks:           getEnvInt("CHUNK_MAX_COUNT", 60),
			Pause:               getEnvDuration("CHUNK_PAUSE", 500*time.Millisecond),
			MaxPeriodDays:       getEnvInt("MAX_PERIOD_DAYS", 365),
		},
		Limits: LimitsConfig{
			MaxConcurrent:  getEnvInt("MAX_CONCURRENT_REQUESTS", 50),
			MaxTotal:       getEnvInt("MAX_TOTAL_REQUESTS", 0),
			RequestTimeout: getEnvDuration("REQUEST_TIMEOUT", 60*time.Second),
			RatePerSecond:  getEnvInt("RATE_LIMIT_RPS", 20),
			RateBurst:      getEnvInt("RATE_LIMIT_BURST", 40),
		},
		Auth: AuthConfig{
			Enabled:   getEnvBool("AUTH_ENABLED", false),
			JWTSecret: getEnv("JWT_SECRET", "dev-secret-change-in-prod"),
			TokenTTL:  getEnvDuration("TOKEN_TTL", 3*time.Hour),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvSlice("CORS_ALLOWED_ORIGINS", []string{"http://localhost:3000"}),
		},
		Session: SessionConfig{
			DBPath: getEnv("SESSION_DB_PATH", "./data/sessions.db"),
			TTL:    getEnvDuration("SESSION_TTL", 3*time.Hour),
		},
		Audit: AuditConfig{
			DatabaseURL: getEnv("AUDIT_DATABASE_URL", ""),
		},
		Tracing: TracingConfig{
			Endpoint:    getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			ServiceName: getEnv("OTEL_SERVICE_NAME", ""),
		},
		Analysis: AnalysisConfig{
			AnomalyThresholdDays:   getEnvInt("ANOMALY_THRESHOLD_DAYS", 3),
			ExcludeWeekends:        getEnvBool("EXCLUDE_WEEKENDS", true),
			DrilldownThresholdDays: getEnvInt("DRILLDOWN_THRESHOLD_DAYS", 30),
			VenueColumnAliases:     DefaultVenueColumnAliases(),
			ChunkTiers:             DefaultChunkTiers(),
		},
	}

	if path := getEnv("SEQUAD_CONFIG", ""); path != "" {
		if err := cfg.ApplyFile(path); err != nil {
			return nil, err
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the values a run cannot proceed without.
func (c *Config) Validate() error {
	if c.Chunking.BatchSize <= 0 {
		return fmt.Errorf("LIFEN_BATCH_SIZE must be positive, got %d", c.Chunking.BatchSize)
	}
	if c.Upstream.RetryAttempts < 1 {
		return fmt.Errorf("UPSTREAM_RETRY_ATTEMPTS must be at least 1, got %d", c.Upstream.RetryAttempts)
	}
	if c.Chunking.MaxPeriodDays <= 0 {
		return fmt.Errorf("MAX_PERIOD_DAYS must be positive, got %d", c.Chunking.MaxPeriodDays)
	}
	if c.Analysis.AnomalyThresholdDays < 0 {
		return fmt.Errorf("anomaly threshold must not be negative, got %d", c.Analysis.AnomalyThresholdDays)
	}
	if len(c.Analysis.ChunkTiers) == 0 {
		return fmt.Errorf("at least one chunk tier is required")
	}
	if c.Server.Env == "production" && c.Auth.Enabled && c.Auth.JWTSecret == "dev-secret-change-in-prod" {
		return fmt.Errorf("JWT_SECRET must be set in production")
	}
	return nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
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

func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		var result []string
		for _, v := range strings.Split(value, ",") {
			if v = strings.TrimSpace(v); v != "" {
				result = append(result, v)
			}
		}
		if len(result) > 0 {
			return result
		}
	}
	return defaultValue
}
