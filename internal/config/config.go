package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// ---------------------------------------------------------------------------
// Configuration structs
// ---------------------------------------------------------------------------

// Config is the top-level configuration for stratlab.
type Config struct {
	Storage    Storage    `yaml:"storage"`
	Server     Server     `yaml:"server"`
	Alpaca     Alpaca     `yaml:"alpaca"`
	Logging    Logging    `yaml:"logging"`
	Backtest   Backtest   `yaml:"backtest"`
	Evaluation Evaluation `yaml:"evaluation"`
}

// Storage holds paths for data persistence.
type Storage struct {
	DataDir    string `yaml:"data_dir"`
	SQLitePath string `yaml:"sqlite_path"`
	ParamsPath string `yaml:"params_path"`
}

// Server holds network listener configuration.
type Server struct {
	Host        string `yaml:"host"`
	GRPCPort    int    `yaml:"grpc_port"`
	MetricsPort int    `yaml:"metrics_port"`
}

// Alpaca holds credentials and endpoints for the Alpaca market-data API.
type Alpaca struct {
	APIKey          string `yaml:"api_key"`
	APISecret       string `yaml:"api_secret"`
	DataURL         string `yaml:"data_url"`
	Feed            string `yaml:"feed"`
	RateLimitPerMin int    `yaml:"rate_limit_per_min"`
	MaxRetries      int    `yaml:"max_retries"`
}

// Logging configures the application logger.
type Logging struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Backtest holds the defaults for a single backtest run.
type Backtest struct {
	Days           int     `yaml:"days"`
	InitialCapital float64 `yaml:"initial_capital"`
	FreqMinutes    int     `yaml:"freq_minutes"`
	Warmup         int     `yaml:"warmup"`
	MinConfidence  float64 `yaml:"min_confidence"`
	Market         string  `yaml:"market"`
	Source         string  `yaml:"source"` // synthetic | alpaca | stored
	Seed           uint64  `yaml:"seed"`
	StartPrice     float64 `yaml:"start_price"`
	StartTime      string  `yaml:"start_time"` // RFC 3339 anchor for synthetic bars
	DefaultSymbol  string  `yaml:"default_symbol"`
}

// Evaluation controls concurrent screening of many strategies.
type Evaluation struct {
	Workers             int  `yaml:"workers"`
	CandidateTimeoutSec int  `yaml:"candidate_timeout_sec"`
	SaveRuns            bool `yaml:"save_runs"`
}

// CandidateTimeout returns the per-candidate budget as a duration.
func (e Evaluation) CandidateTimeout() time.Duration {
	return time.Duration(e.CandidateTimeoutSec) * time.Second
}

// StartAnchor parses StartTime, returning the zero time when it is empty.
func (b Backtest) StartAnchor() (time.Time, error) {
	if b.StartTime == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, b.StartTime)
	if err != nil {
		return time.Time{}, fmt.Errorf("parsing backtest.start_time: %w", err)
	}
	return t.UTC(), nil
}

// ---------------------------------------------------------------------------
// Defaults and validation
// ---------------------------------------------------------------------------

// Defaults returns the configuration used when no file is present.
func Defaults() *Config {
	return &Config{
		Storage: Storage{
			DataDir:    "data",
			SQLitePath: "data/stratlab.db",
			ParamsPath: "data/params.json",
		},
		Server: Server{
			Host:        "127.0.0.1",
			GRPCPort:    9090,
			MetricsPort: 9091,
		},
		Alpaca: Alpaca{
			DataURL:         "https://data.alpaca.markets",
			Feed:            "iex",
			RateLimitPerMin: 200,
			MaxRetries:      3,
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
		Backtest: Backtest{
			Days:           30,
			InitialCapital: 100000,
			FreqMinutes:    15,
			Warmup:         50,
			MinConfidence:  0.5,
			Market:         "us",
			Source:         "synthetic",
			Seed:           42,
			StartPrice:     150,
			StartTime:      "2024-01-02T14:30:00Z",
			DefaultSymbol:  "SPY",
		},
		Evaluation: Evaluation{
			Workers:             4,
			CandidateTimeoutSec: 60,
		},
	}
}

// Validate checks that the values a run depends on are usable.
func (c *Config) Validate() error {
	b := c.Backtest
	if b.Days <= 0 {
		return fmt.Errorf("backtest.days must be positive, got %d", b.Days)
	}
	if b.InitialCapital <= 0 {
		return fmt.Errorf("backtest.initial_capital must be positive, got %v", b.InitialCapital)
	}
	if b.FreqMinutes <= 0 {
		return fmt.Errorf("backtest.freq_minutes must be positive, got %d", b.FreqMinutes)
	}
	if b.Warmup < 1 {
		return fmt.Errorf("backtest.warmup must be at least 1, got %d", b.Warmup)
	}
	switch b.Source {
	case "synthetic", "alpaca", "stored":
	default:
		return fmt.Errorf("backtest.source %q is not one of synthetic, alpaca, stored", b.Source)
	}
	switch b.Market {
	case "us", "cn":
	default:
		return fmt.Errorf("backtest.market %q is not one of us, cn", b.Market)
	}
	if _, err := b.StartAnchor(); err != nil {
		return err
	}
	if c.Evaluation.Workers < 1 {
		return fmt.Errorf("evaluation.workers must be at least 1, got %d", c.Evaluation.Workers)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Loading
// ---------------------------------------------------------------------------

// Load reads the YAML configuration file at the given path on top of
// Defaults, and then applies environment variable overrides.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	return cfg, nil
}

// LoadOrDefault behaves like Load but treats an empty path or a missing file
// as "use defaults". Environment overrides apply either way.
func LoadOrDefault(path string) (*Config, error) {
	if path != "" {
		cfg, err := Load(path)
		if err == nil {
			return cfg, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, err
		}
	}
	cfg := Defaults()
	applyEnvOverrides(cfg)
	return cfg, nil
}

// PathFromEnv returns the config path named by STRATLAB_CONFIG, or fallback.
func PathFromEnv(fallback string) string {
	if v := os.Getenv("STRATLAB_CONFIG"); v != "" {
		return v
	}
	return fallback
}

// applyEnvOverrides checks well-known environment variables and overrides the
// corresponding configuration fields when they are set.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("DATA_DIR"); v != "" {
		cfg.Storage.DataDir = v
	}

	if v := os.Getenv("SQLITE_PATH"); v != "" {
		cfg.Storage.SQLitePath = v
	}

	if v := os.Getenv("ALPACA_API_KEY"); v != "" {
		cfg.Alpaca.APIKey = v
	}

	if v := os.Getenv("ALPACA_API_SECRET"); v != "" {
		cfg.Alpaca.APISecret = v
	}

	if v := os.Getenv("ALPACA_DATA_URL"); v != "" {
		cfg.Alpaca.DataURL = v
	}

	if v := os.Getenv("ALPACA_FEED"); v != "" {
		cfg.Alpaca.Feed = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}

	if v := os.Getenv("STRATLAB_SEED"); v != "" {
		if n, err := strconv.ParseUint(v, 10, 64); err == nil {
			cfg.Backtest.Seed = n
		}
	}

	if v := os.Getenv("STRATLAB_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Evaluation.Workers = n
		}
	}

	// Standard Alpaca env vars take priority; they are the names the SDK uses.
	if v := os.Getenv("APCA_API_KEY_ID"); v != "" {
		cfg.Alpaca.APIKey = v
	}
	if v := os.Getenv("APCA_API_SECRET_KEY"); v != "" {
		cfg.Alpaca.APISecret = v
	}
}
