package app

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/lumenchat/lumen-backend/internal/platform/envutil"
)

type Duration struct {
	Duration time.Duration
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	s := strings.TrimSpace(value.Value)
	if s == "" || s == "null" {
		d.Duration = 0
		return nil
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		d.Duration = time.Duration(n) * time.Second
		return nil
	}
	dd, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("duration must be a string like \"5s\" or int seconds: %w", err)
	}
	d.Duration = dd
	return nil
}

type AuthConfig struct {
	JWTSecretKey   string   `yaml:"jwt_secret_key"`
	AccessTokenTTL Duration `yaml:"access_token_ttl"`
}

type WriterConfig struct {
	FlushInterval Duration `yaml:"flush_interval"`
	FlushChars    int      `yaml:"flush_chars"`
	LiveBuffer    int      `yaml:"live_buffer"`
}

type SweeperConfig struct {
	Interval    Duration `yaml:"interval"`
	MaxAge      Duration `yaml:"max_age"`
	BatchLimit  int      `yaml:"batch_limit"`
	Concurrency int      `yaml:"concurrency"`
}

type Config struct {
	Env         string        `yaml:"env"`
	Addr        string        `yaml:"addr"`
	MetricsAddr string        `yaml:"metrics_addr"`
	Model       string        `yaml:"model"`
	Auth        AuthConfig    `yaml:"auth"`
	Writer      WriterConfig  `yaml:"writer"`
	Sweeper     SweeperConfig `yaml:"sweeper"`
}

func defaultConfig() Config {
	return Config{
		Env:         "development",
		Addr:        ":8080",
		MetricsAddr: ":9091",
		Auth: AuthConfig{
			JWTSecretKey:   "defaultsecret",
			AccessTokenTTL: Duration{Duration: time.Hour},
		},
		Writer: WriterConfig{
			FlushInterval: Duration{Duration: 250 * time.Millisecond},
			FlushChars:    50,
			LiveBuffer:    64,
		},
		Sweeper: SweeperConfig{
			Interval:    Duration{Duration: time.Minute},
			MaxAge:      Duration{Duration: 20 * time.Minute},
			BatchLimit:  100,
			Concurrency: 4,
		},
	}
}

// LoadConfig layers defaults, then the YAML file at CONFIG_PATH (or
// ./config/config.yaml when present), then env overrides. Env wins so a
// deploy can patch one knob without shipping a new file.
func LoadConfig() (Config, error) {
	cfg := defaultConfig()

	cfgPath := strings.TrimSpace(os.Getenv("CONFIG_PATH"))
	if cfgPath == "" {
		if wd, err := os.Getwd(); err == nil {
			p := filepath.Join(wd, "config", "config.yaml")
			if _, err := os.Stat(p); err == nil {
				cfgPath = p
			}
		}
	}
	if cfgPath != "" {
		b, err := os.ReadFile(cfgPath)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	if v := strings.TrimSpace(os.Getenv("LOG_MODE")); v != "" {
		cfg.Env = v
	}
	if v := strings.TrimSpace(os.Getenv("PORT")); v != "" {
		cfg.Addr = ":" + v
	}
	if v := strings.TrimSpace(os.Getenv("METRICS_ADDR")); v != "" {
		cfg.MetricsAddr = v
	}
	if v := strings.TrimSpace(os.Getenv("MODEL")); v != "" {
		cfg.Model = v
	}
	if v := strings.TrimSpace(os.Getenv("JWT_SECRET_KEY")); v != "" {
		cfg.Auth.JWTSecretKey = v
	}
	if v := envutil.Int("ACCESS_TOKEN_TTL", 0); v > 0 {
		cfg.Auth.AccessTokenTTL = Duration{Duration: time.Duration(v) * time.Second}
	}
	if v := envutil.Int("STREAM_SWEEP_INTERVAL_SECONDS", 0); v > 0 {
		cfg.Sweeper.Interval = Duration{Duration: time.Duration(v) * time.Second}
	}
	if v := envutil.Int("STREAM_SWEEP_MAX_AGE_SECONDS", 0); v > 0 {
		cfg.Sweeper.MaxAge = Duration{Duration: time.Duration(v) * time.Second}
	}

	if cfg.Env == "" {
		cfg.Env = "development"
	}
	if strings.TrimSpace(cfg.Addr) == "" {
		cfg.Addr = ":8080"
	}
	if cfg.Auth.AccessTokenTTL.Duration <= 0 {
		cfg.Auth.AccessTokenTTL = Duration{Duration: time.Hour}
	}
	return cfg, nil
}
