package config

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/viper"
)

type Config struct {
	Mode       string        `mapstructure:"mode"`
	Port       int           `mapstructure:"port"`
	ReadLimit  int64         `mapstructure:"read_limit"`
	PingPeriod time.Duration `mapstructure:"ping_period"`
	Secret     string        `mapstructure:"secret"`

	// Session lifecycle knobs. The grace period keeps a closed session
	// resolvable for stats; the sweep pair drives defensive cleanup of
	// abandoned empty sessions.
	CloseGracePeriod    time.Duration `mapstructure:"close_grace_period"`
	SweepInterval       time.Duration `mapstructure:"sweep_interval"`
	InactivityThreshold time.Duration `mapstructure:"inactivity_threshold"`
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigType("yaml")

	env := os.Getenv("CONFIG_ENV")
	if env == "" {
		env = "dev"
	}
	fileName := fmt.Sprintf("config/config.%s.yaml", env)

	v.SetConfigFile(fileName)
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetDefault("mode", "release")
	v.SetDefault("port", 8080)
	v.SetDefault("read_limit", 32768)
	v.SetDefault("ping_period", "54s")
	v.SetDefault("close_grace_period", "60s")
	v.SetDefault("sweep_interval", "5m")
	v.SetDefault("inactivity_threshold", "30m")

	if err := v.ReadInConfig(); err != nil {
		fmt.Printf("⚠️ Config file not found (%s), using defaults\n", fileName)
	} else {
		fmt.Printf("✅ Loaded config: %s\n", fileName)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	fmt.Printf("🧩 Mode: %s | Port: %d | Sweep: %s/%s\n", cfg.Mode, cfg.Port, cfg.SweepInterval, cfg.InactivityThreshold)
	return &cfg, nil
}
