// Package config assembles process configuration from the environment.
// .env.local and .env are loaded first when present; real environment
// variables always win over both.
package config

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"

	"rollcall/internal/domain/section"
)

// EnvProduction is the ROLLCALL_ENV value for live deployments.
const EnvProduction = "production"

// Config holds every setting the server and CLI read at startup.
type Config struct {
	Env      string
	Addr     string
	DBPath   string
	LogLevel slog.Level

	RanksFile string
	Ranks     section.Ranks

	SlowQuery   time.Duration
	SlowRequest time.Duration

	TerrainURL          string
	TerrainToken        string
	TerrainClientID     string
	TerrainClientSecret string
	TerrainTokenURL     string
	TerrainRPS          float64
	// RosterFile replaces the roster API with a local export when set.
	RosterFile string

	AdminEmail    string
	AdminPassword string

	ResendKey        string
	EmailFrom        string
	ReplyTo          string
	ReportRecipients []string

	CSRFKey        string
	TrustedOrigins []string
	HTTPRPS        float64
	LoginPerMinute int
	LockDir        string
}

// IsProduction reports whether the process runs in production.
func (c Config) IsProduction() bool {
	return c.Env == EnvProduction
}

// Load reads .env files, then the environment, then the optional rank file.
// PRE: none
// POST: Returns a Config with defaults filled in, or the first invalid setting
func Load() (Config, error) {
	// godotenv never overrides, so the more specific file goes first
	for _, f := range []string{".env.local", ".env"} {
		_ = godotenv.Load(f)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from a variable lookup.
func FromEnv(getenv func(string) string) (Config, error) {
	get := func(key, fallback string) string {
		if v := strings.TrimSpace(getenv(key)); v != "" {
			return v
		}
		return fallback
	}

	cfg := Config{
		Env:           get("ROLLCALL_ENV", "development"),
		Addr:          get("ROLLCALL_ADDR", ":8080"),
		DBPath:        get("ROLLCALL_DB", "rollcall.db"),
		RanksFile:     get("ROLLCALL_RANKS_FILE", ""),
		TerrainURL:    strings.TrimRight(get("ROLLCALL_TERRAIN_URL", ""), "/"),
		TerrainToken:  get("ROLLCALL_TERRAIN_TOKEN", ""),
		RosterFile:    get("ROLLCALL_ROSTER_FILE", ""),
		AdminEmail:    get("ROLLCALL_ADMIN_EMAIL", "admin@rollcall.local"),
		AdminPassword: get("ROLLCALL_ADMIN_PASSWORD", ""),
		ResendKey:     get("ROLLCALL_RESEND_KEY", ""),
		EmailFrom:     get("ROLLCALL_EMAIL_FROM", "Rollcall <noreply@rollcall.local>"),
		ReplyTo:       get("ROLLCALL_REPLY_TO", ""),
		CSRFKey:       get("ROLLCALL_CSRF_KEY", ""),
		LockDir:       get("ROLLCALL_LOCK_DIR", os.TempDir()),
	}

	cfg.TerrainClientID = get("ROLLCALL_TERRAIN_CLIENT_ID", "")
	cfg.TerrainClientSecret = get("ROLLCALL_TERRAIN_CLIENT_SECRET", "")
	cfg.TerrainTokenURL = get("ROLLCALL_TERRAIN_TOKEN_URL", "")
	if cfg.TerrainClientID != "" && (cfg.TerrainClientSecret == "" || cfg.TerrainTokenURL == "") {
		return Config{}, fmt.Errorf("ROLLCALL_TERRAIN_CLIENT_ID needs ROLLCALL_TERRAIN_CLIENT_SECRET and ROLLCALL_TERRAIN_TOKEN_URL")
	}

	var err error
	if cfg.LogLevel, err = parseLevel(get("ROLLCALL_LOG_LEVEL", "info")); err != nil {
		return Config{}, err
	}
	if cfg.SlowQuery, err = millis("ROLLCALL_SLOW_QUERY_MS", get("ROLLCALL_SLOW_QUERY_MS", "50")); err != nil {
		return Config{}, err
	}
	if cfg.SlowRequest, err = millis("ROLLCALL_SLOW_REQUEST_MS", get("ROLLCALL_SLOW_REQUEST_MS", "200")); err != nil {
		return Config{}, err
	}
	if cfg.TerrainRPS, err = strconv.ParseFloat(get("ROLLCALL_TERRAIN_RPS", "5"), 64); err != nil || cfg.TerrainRPS <= 0 {
		return Config{}, fmt.Errorf("ROLLCALL_TERRAIN_RPS must be a positive number")
	}
	if cfg.HTTPRPS, err = strconv.ParseFloat(get("ROLLCALL_HTTP_RPS", "20"), 64); err != nil || cfg.HTTPRPS <= 0 {
		return Config{}, fmt.Errorf("ROLLCALL_HTTP_RPS must be a positive number")
	}
	if cfg.LoginPerMinute, err = strconv.Atoi(get("ROLLCALL_LOGIN_PER_MINUTE", "10")); err != nil || cfg.LoginPerMinute <= 0 {
		return Config{}, fmt.Errorf("ROLLCALL_LOGIN_PER_MINUTE must be a positive integer")
	}
	cfg.ReportRecipients = list(get("ROLLCALL_REPORT_TO", ""))
	cfg.TrustedOrigins = list(get("ROLLCALL_TRUSTED_ORIGINS", "localhost:8080,127.0.0.1:8080"))

	cfg.Ranks = section.DefaultRanks()
	if cfg.RanksFile != "" {
		if cfg.Ranks, err = LoadRanks(cfg.RanksFile); err != nil {
			return Config{}, err
		}
	}
	return cfg, nil
}

// CSRFSecret decodes ROLLCALL_CSRF_KEY (64 hex characters). Production requires
// it; elsewhere a random key is generated, so forms do not survive a restart.
func (c Config) CSRFSecret() ([]byte, error) {
	if c.CSRFKey != "" {
		key, err := hex.DecodeString(c.CSRFKey)
		if err != nil || len(key) != 32 {
			return nil, fmt.Errorf("ROLLCALL_CSRF_KEY must be 64 hex characters (32 bytes)")
		}
		return key, nil
	}
	if c.IsProduction() {
		return nil, fmt.Errorf("ROLLCALL_CSRF_KEY is required in production")
	}
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate csrf key: %w", err)
	}
	slog.Warn("csrf_key_random", "hint", "set ROLLCALL_CSRF_KEY so form tokens survive restarts")
	return key, nil
}

func list(v string) []string {
	var out []string
	for _, item := range strings.Split(v, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// LoadRanks reads a rank table from a YAML file:
//
//	sections: {joeys: 1, cubs: 2, scouts: 3}
//	stages: {linking: 1, member: 2, retired: 3}
//
// Section names are normalised; stages omitted from the file keep their defaults.
// PRE: path names a readable file
// POST: Returns a validated rank table
func LoadRanks(path string) (section.Ranks, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return section.Ranks{}, fmt.Errorf("read rank file: %w", err)
	}
	return ParseRanks(data)
}

// ParseRanks decodes and validates a YAML rank table.
func ParseRanks(data []byte) (section.Ranks, error) {
	var raw struct {
		Sections map[string]int `yaml:"sections"`
		Stages   map[string]int `yaml:"stages"`
	}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return section.Ranks{}, fmt.Errorf("parse rank file: %w", err)
	}

	ranks := section.Ranks{
		Sections: make(map[section.Section]int, len(raw.Sections)),
		Stages:   section.DefaultRanks().Stages,
	}
	for name, rank := range raw.Sections {
		ranks.Sections[section.Normalize(name)] = rank
	}
	for name, rank := range raw.Stages {
		st, err := section.ParseStage(name)
		if err != nil {
			return section.Ranks{}, fmt.Errorf("rank file: %w", err)
		}
		ranks.Stages[st] = rank
	}
	if err := ranks.Validate(); err != nil {
		return section.Ranks{}, fmt.Errorf("rank file: %w", err)
	}
	return ranks, nil
}

// NewLogger builds the process logger: JSON in production, text elsewhere.
func NewLogger(cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{Level: cfg.LogLevel}
	if cfg.IsProduction() {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts))
}

func parseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		return 0, fmt.Errorf("ROLLCALL_LOG_LEVEL: %w", err)
	}
	return l, nil
}

func millis(key, v string) (time.Duration, error) {
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%s must be a positive integer", key)
	}
	return time.Duration(n) * time.Millisecond, nil
}
