package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// General
	Environment string `envconfig:"ENVIRONMENT" default:"development"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	ListenAddr  string `envconfig:"LISTEN_ADDR" default:":8090"`
	CORSOrigins string `envconfig:"CORS_ORIGINS"`

	// Rate limiter for the HTTP surface
	RateLimitRPS   int `envconfig:"RATE_LIMIT_RPS" default:"100"`
	RateLimitBurst int `envconfig:"RATE_LIMIT_BURST" default:"200"`

	// Data layout. DataDir holds the SQLite database, the legacy JSON
	// sources used for one-time seeding, and the gateway-owned agent
	// session stores (read-only from this process).
	DataDir string `envconfig:"DATA_DIR" default:"~/.agentdeck"`
	DBPath  string `envconfig:"DB_PATH"` // defaults to <DataDir>/dashboard.db

	// Per-model token rate table override (YAML). Optional.
	RatesFile string `envconfig:"RATES_FILE"`

	// Chat service (optional — core runs without it in read-only mode)
	ChatToken      string `envconfig:"CHAT_BOT_TOKEN"`
	ChatTeamID     string `envconfig:"CHAT_TEAM_ID"`
	SupervisorUser string `envconfig:"SUPERVISOR_USER_ID"`
	CoordinatorID  string `envconfig:"COORDINATOR_AGENT_ID" default:"main"`

	// Agent runtime gateway (nudge delivery)
	GatewayBin     string        `envconfig:"GATEWAY_BIN" default:"agentctl"`
	GatewayTimeout time.Duration `envconfig:"GATEWAY_TIMEOUT" default:"10s"`

	// Nudge cooldown. The dashboard shipped with both 15s and 30m at
	// different points; 15s is the canonical value.
	NudgeCooldown time.Duration `envconfig:"NUDGE_COOLDOWN" default:"15s"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("AGENTDECK", &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	cfg.DataDir = expandHome(cfg.DataDir)
	if cfg.DBPath == "" {
		cfg.DBPath = filepath.Join(cfg.DataDir, "dashboard.db")
	}
	return &cfg, nil
}

// ChatEnabled returns true if chat service credentials are configured.
func (c *Config) ChatEnabled() bool {
	return c.ChatToken != ""
}

// SourcesDir is the directory holding the legacy flat-file sources.
func (c *Config) SourcesDir() string {
	return filepath.Join(c.DataDir, "sources")
}

// AgentsDir is the directory holding gateway-owned per-agent session stores.
func (c *Config) AgentsDir() string {
	return filepath.Join(c.DataDir, "agents")
}

func expandHome(p string) string {
	if len(p) >= 2 && p[:2] == "~/" {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, p[2:])
		}
	}
	return p
}
