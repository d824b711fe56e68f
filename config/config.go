package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config is the full configuration for the duel protocol daemon.
type Config struct {
	Protocol ProtocolConfig `yaml:"protocol"`
	Storage  StorageConfig  `yaml:"storage"`
	API      APIConfig      `yaml:"api"`
	Log      LogConfig      `yaml:"log"`
}

// ProtocolConfig holds the registry parameters used when the protocol
// singleton is first initialized.
type ProtocolConfig struct {
	FeeBps    uint16 `yaml:"fee_bps"`   // protocol fee in basis points (0–10000)
	Authority string `yaml:"authority"` // identity allowed to administer the registry
	Treasury  string `yaml:"treasury"`  // identity receiving protocol fees
	Oracle    string `yaml:"oracle"`    // identity allowed to report portfolio values
}

// StorageConfig controls where records and balances are persisted.
type StorageConfig struct {
	DSN string `yaml:"dsn"` // path to the SQLite file, or ":memory:"
}

// APIConfig controls the HTTP operation surface.
type APIConfig struct {
	Port             int     `yaml:"port"`
	OracleRatePerSec float64 `yaml:"oracle_rate_per_sec"` // position-update rate limit
	OracleBurst      int     `yaml:"oracle_burst"`
}

// LogConfig controls the logging format and level.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // text | json
}

// Load reads the YAML config file and the .env file if present.
// Environment variables override the matching YAML values.
func Load(path string) (*Config, error) {
	// Load .env if present (missing file is not an error)
	_ = godotenv.Load()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config.Load: read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config.Load: parse YAML: %w", err)
	}

	applyEnvOverrides(&cfg)
	setDefaults(&cfg)

	if cfg.Protocol.FeeBps > 10000 {
		return nil, fmt.Errorf("config.Load: protocol.fee_bps %d exceeds 10000", cfg.Protocol.FeeBps)
	}

	return &cfg, nil
}

// applyEnvOverrides replaces values with environment variables when set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DUELD_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("DUELD_LOG_FORMAT"); v != "" {
		cfg.Log.Format = v
	}
	if v := os.Getenv("DUELD_STORAGE_DSN"); v != "" {
		cfg.Storage.DSN = v
	}
	if v := os.Getenv("DUELD_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.API.Port = port
		}
	}
	if v := os.Getenv("DUELD_TREASURY"); v != "" {
		cfg.Protocol.Treasury = v
	}
	if v := os.Getenv("DUELD_ORACLE"); v != "" {
		cfg.Protocol.Oracle = v
	}
}

// setDefaults makes sure required values have sensible defaults.
func setDefaults(cfg *Config) {
	if cfg.Protocol.Treasury == "" {
		cfg.Protocol.Treasury = "treasury"
	}
	if cfg.Protocol.Authority == "" {
		cfg.Protocol.Authority = "authority"
	}
	if cfg.Protocol.Oracle == "" {
		cfg.Protocol.Oracle = "oracle"
	}
	if cfg.Storage.DSN == "" {
		cfg.Storage.DSN = "dueld.db"
	}
	if cfg.API.Port <= 0 {
		cfg.API.Port = 8080
	}
	if cfg.API.OracleRatePerSec <= 0 {
		cfg.API.OracleRatePerSec = 5
	}
	if cfg.API.OracleBurst <= 0 {
		cfg.API.OracleBurst = 10
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "text"
	}
}

// ShutdownTimeout is how long the HTTP server gets to drain on SIGTERM.
const ShutdownTimeout = 10 * time.Second
