package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Config is the environment-level configuration for the binaries. Market
// economics live in Params, loaded from the optional YAML file.
type Config struct {
	Addr            string
	DatabaseURL     string
	ParamsPath      string
	SeedInstruments bool
	NoiseSeed       int64 // 0 means seed from the clock
}

func LoadFromEnv() (Config, error) {
	addr := os.Getenv("PORT")
	if addr != "" {
		if !strings.HasPrefix(addr, ":") {
			addr = ":" + addr
		}
	} else {
		addr = envDefault("MARKETSIM_ADDR", ":8080")
	}

	cfg := Config{
		Addr:            addr,
		DatabaseURL:     strings.TrimSpace(os.Getenv("DATABASE_URL")),
		ParamsPath:      strings.TrimSpace(os.Getenv("MARKETSIM_PARAMS_FILE")),
		SeedInstruments: envBoolDefault("MARKETSIM_SEED_INSTRUMENTS", true),
		NoiseSeed:       envInt64Default("MARKETSIM_NOISE_SEED", 0),
	}
	if cfg.DatabaseURL == "" {
		return cfg, fmt.Errorf("DATABASE_URL is required")
	}
	return cfg, nil
}

type CLIConfig struct {
	APIBaseURL string
	ActorID    string
}

func LoadCLIFromEnv() CLIConfig {
	return CLIConfig{
		APIBaseURL: strings.TrimRight(envDefault("MARKETCTL_API_BASE_URL", "http://localhost:8080"), "/"),
		ActorID:    envDefault("MARKETCTL_ACTOR_ID", "local"),
	}
}

func envDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func envBoolDefault(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func envInt64Default(key string, fallback int64) int64 {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return n
}
