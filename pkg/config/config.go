// Package config loads collector configuration from the environment,
// optionally seeded from a .env file.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Default pacing between API calls. Fixed rather than configurable so a
// misconfigured environment cannot hammer the API.
const (
	DefaultPageDelay     = 500 * time.Millisecond
	DefaultRepoDelay     = 300 * time.Millisecond
	DefaultQuotaCooldown = 5 * time.Second
)

// Sink kinds accepted in the SINK variable.
const (
	SinkCSV      = "csv"
	SinkSQLite   = "sqlite"
	SinkPostgres = "postgres"
)

// ConfigurationError reports an invalid or missing configuration value.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

// Config holds all collector settings.
type Config struct {
	// EnterpriseName is the GitHub Enterprise slug whose organizations
	// are enumerated.
	EnterpriseName string

	// Tokens are the personal access tokens the collector rotates through.
	Tokens []string

	// GraphQLURL is the GraphQL endpoint.
	GraphQLURL string

	// APIBaseURL is the REST base URL. Always ends with a slash.
	APIBaseURL string

	// OutputDir receives CSV files, the SQLite database and run logs.
	OutputDir string

	// RepoCSVFile and OrgCSVFile are the CSV output paths. When unset
	// they default to timestamped files under OutputDir.
	RepoCSVFile string
	OrgCSVFile  string

	// MaxOrgs limits how many organizations are processed. Zero means
	// no limit.
	MaxOrgs int

	// SinkKind selects the output sink: csv, sqlite or postgres.
	SinkKind string

	SQLitePath  string
	PostgresDSN string

	// Redis settings for the optional enrichment cache. Caching is
	// disabled when RedisAddr is empty.
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// MetricsAddr is the listen address for the Prometheus endpoint.
	// Empty disables the endpoint.
	MetricsAddr string

	// RequestsPerSecond paces outgoing API attempts. Zero disables
	// pacing.
	RequestsPerSecond float64

	LogLevel  string
	LogPretty bool

	// Pacing between requests. Set to the defaults by Load; tests may
	// shorten them.
	PageDelay     time.Duration
	RepoDelay     time.Duration
	QuotaCooldown time.Duration
}

// Load reads configuration from the environment. A .env file in the
// working directory is loaded first if present.
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	timestamp := time.Now().Format("20060102_150405")
	outputDir := getEnv("OUTPUT_DIR", "output")

	cfg := &Config{
		EnterpriseName:    getEnv("GITHUB_ENTERPRISE_NAME", ""),
		Tokens:            splitTokens(os.Getenv("GITHUB_PATS")),
		GraphQLURL:        getEnv("GITHUB_GRAPHQL_URL", "https://api.github.com/graphql"),
		APIBaseURL:        getEnv("GITHUB_API_URL", "https://api.github.com"),
		OutputDir:         outputDir,
		RepoCSVFile:       getEnv("REPO_CSV_FILE", fmt.Sprintf("%s/github_inventory_%s.csv", outputDir, timestamp)),
		OrgCSVFile:        getEnv("ORG_CSV_FILE", fmt.Sprintf("%s/github_org_inventory_%s.csv", outputDir, timestamp)),
		MaxOrgs:           getEnvInt("MAX_ORGS_TO_PROCESS", 0),
		SinkKind:          getEnv("SINK", SinkCSV),
		SQLitePath:        getEnv("SQLITE_PATH", fmt.Sprintf("%s/inventory.db", outputDir)),
		PostgresDSN:       getEnv("POSTGRES_DSN", ""),
		RedisAddr:         getEnv("REDIS_ADDR", ""),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		RedisDB:           getEnvInt("REDIS_DB", 0),
		MetricsAddr:       getEnv("METRICS_ADDR", ""),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogPretty:         getEnvBool("LOG_PRETTY", false),
		RequestsPerSecond: getEnvFloat("REQUESTS_PER_SECOND", 2),
		PageDelay:         DefaultPageDelay,
		RepoDelay:         DefaultRepoDelay,
		QuotaCooldown:     DefaultQuotaCooldown,
	}

	// go-github requires the REST base URL to end with a slash
	if !strings.HasSuffix(cfg.APIBaseURL, "/") {
		cfg.APIBaseURL += "/"
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that required values are present and consistent.
func (c *Config) Validate() error {
	if c.EnterpriseName == "" {
		return &ConfigurationError{Field: "GITHUB_ENTERPRISE_NAME", Reason: "must be set"}
	}
	if len(c.Tokens) == 0 {
		return &ConfigurationError{Field: "GITHUB_PATS", Reason: "at least one token required"}
	}
	if c.MaxOrgs < 0 {
		return &ConfigurationError{Field: "MAX_ORGS_TO_PROCESS", Reason: "must not be negative"}
	}
	if c.RequestsPerSecond < 0 {
		return &ConfigurationError{Field: "REQUESTS_PER_SECOND", Reason: "must not be negative"}
	}
	switch c.SinkKind {
	case SinkCSV, SinkSQLite:
	case SinkPostgres:
		if c.PostgresDSN == "" {
			return &ConfigurationError{Field: "POSTGRES_DSN", Reason: "required when SINK=postgres"}
		}
	default:
		return &ConfigurationError{Field: "SINK", Reason: fmt.Sprintf("unknown sink %q", c.SinkKind)}
	}
	return nil
}

// splitTokens parses a comma-separated token list, dropping empty entries.
func splitTokens(raw string) []string {
	var tokens []string
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tokens = append(tokens, t)
		}
	}
	return tokens
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}
