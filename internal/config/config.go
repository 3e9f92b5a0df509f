package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/MikeSquared-Agency/bclparser/internal/ledger"
	"github.com/MikeSquared-Agency/bclparser/internal/retry"
)

type Config struct {
	Port     int
	LogLevel string
	APIToken string

	DatabaseURL string
	LedgerPath  string
	CatalogPath string

	NatsURL   string
	NatsToken string

	MonitorURL   string
	MonitorToken string
	MonitorRPS   float64

	Sink                  string
	SpreadsheetID         string
	SheetsCredentials     string
	SheetsWritesPerMinute int
	WorkbookPath          string

	TrackTable   string
	LookbackDays int
	Timezone     string
	SkipDone     bool
	ScheduleCron string

	RetryMaxAttempts int
	RetryBackoff     []time.Duration
	CallTimeout      time.Duration
	DecisionTimeout  time.Duration

	SlackBotToken string
	SlackChannel  string
}

func Load() Config {
	def := retry.Default()
	return Config{
		Port:     envInt("BCL_PORT", 8760),
		LogLevel: envStr("LOG_LEVEL", "info"),
		APIToken: envStr("BCL_API_TOKEN", ""),

		DatabaseURL: envStr("DATABASE_URL", ""),
		LedgerPath:  envStr("LEDGER_PATH", ledger.DefaultFilePath),
		CatalogPath: envStr("CATALOG_PATH", ""),

		NatsURL:   envStr("NATS_URL", ""),
		NatsToken: envStr("NATS_TOKEN", ""),

		MonitorURL:   envStr("MONITOR_URL", "http://localhost:8771"),
		MonitorToken: envStr("MONITOR_TOKEN", ""),
		MonitorRPS:   envFloat("MONITOR_REQUESTS_PER_SECOND", 5),

		Sink:                  strings.ToLower(envStr("SINK", "sheets")),
		SpreadsheetID:         envStr("SHEETS_SPREADSHEET_ID", ""),
		SheetsCredentials:     envStr("SHEETS_CREDENTIALS", ""),
		SheetsWritesPerMinute: envInt("SHEETS_WRITES_PER_MINUTE", 60),
		WorkbookPath:          envStr("WORKBOOK_PATH", "~/.bcl-parser/tables.xlsx"),

		TrackTable:   envStr("TRACK_TABLE", "SocialNetworks"),
		LookbackDays: envInt("LOOKBACK_DAYS", 7),
		Timezone:     envStr("TIMEZONE", "Europe/Kyiv"),
		SkipDone:     strings.EqualFold(envStr("RERUN_POLICY", "allow"), "skip"),
		ScheduleCron: envStr("SCHEDULE_CRON", ""),

		RetryMaxAttempts: envInt("RETRY_MAX_ATTEMPTS", def.MaxAttempts),
		RetryBackoff:     envDurations("RETRY_BACKOFF", def.Backoff),
		CallTimeout:      envDuration("CALL_TIMEOUT", def.Timeout),
		DecisionTimeout:  envDuration("DECISION_TIMEOUT", 5*time.Minute),

		SlackBotToken: envStr("SLACK_BOT_TOKEN", ""),
		SlackChannel:  envStr("SLACK_CHANNEL", ""),
	}
}

// RetryPolicy is the collaborator call policy.
func (c Config) RetryPolicy() retry.Policy {
	return retry.Policy{
		MaxAttempts: c.RetryMaxAttempts,
		Backoff:     c.RetryBackoff,
		Timeout:     c.CallTimeout,
	}
}

// Location resolves Timezone, falling back to UTC when it is unknown.
func (c Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

// envDurations reads a comma-separated list. One bad entry discards the
// whole value.
func envDurations(key string, fallback []time.Duration) []time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	var out []time.Duration
	for _, part := range strings.Split(v, ",") {
		d, err := time.ParseDuration(strings.TrimSpace(part))
		if err != nil {
			return fallback
		}
		out = append(out, d)
	}
	return out
}
