// Package config holds environment-driven configuration for the Cubeline
// server and engine.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds all configuration for the Cubeline analytical engine.
type Config struct {
	Port    int    `env:"CUBELINE_PORT" envDefault:"8080"`
	Version string `env:"CUBELINE_VERSION" envDefault:"0.4.0"`
	// APIKeys is a comma-separated list of accepted API keys. Empty
	// disables authentication.
	APIKeys string `env:"CUBELINE_API_KEYS"`

	Warehouse WarehouseConfig `envPrefix:""`
	Engine    EngineConfig    `envPrefix:""`
	Planner   PlannerConfig   `envPrefix:""`
	Telemetry TelemetryConfig `envPrefix:""`
}

// WarehouseConfig configures the star-schema SQLite warehouse.
type WarehouseConfig struct {
	Path string `env:"CUBELINE_DB_PATH" envDefault:"cubeline.db"`
	// SeedRows is the number of synthetic fact rows generated when the
	// warehouse is empty at startup. Zero disables seeding.
	SeedRows int   `env:"CUBELINE_SEED_ROWS" envDefault:"10000"`
	SeedSeed int64 `env:"CUBELINE_SEED_RNG" envDefault:"42"`
}

// EngineConfig holds tunable defaults for the execution engine and agents.
// These are inferred conventions, not contractual values.
type EngineConfig struct {
	StepTimeout       time.Duration `env:"CUBELINE_STEP_TIMEOUT" envDefault:"30s"`
	ContextTurns      int           `env:"CUBELINE_CONTEXT_TURNS" envDefault:"6"`
	DrillThroughLimit int           `env:"CUBELINE_DRILL_THROUGH_LIMIT" envDefault:"100"`
	AnomalyZThreshold float64       `env:"CUBELINE_ANOMALY_Z" envDefault:"2.0"`
	AnomalyIQRFactor  float64       `env:"CUBELINE_ANOMALY_IQR" envDefault:"1.5"`
	AnomalyMinSamples int           `env:"CUBELINE_ANOMALY_MIN_SAMPLES" envDefault:"4"`
}

// PlannerConfig configures the optional hosted planning service. When APIKey
// is empty the deterministic fallback planner handles every query.
type PlannerConfig struct {
	APIKey    string `env:"ANTHROPIC_API_KEY"`
	Model     string `env:"CUBELINE_PLANNER_MODEL" envDefault:"claude-sonnet-4-5"`
	BaseURL   string `env:"CUBELINE_PLANNER_BASE_URL" envDefault:"https://api.anthropic.com"`
	MaxTokens int    `env:"CUBELINE_PLANNER_MAX_TOKENS" envDefault:"1500"`
}

type TelemetryConfig struct {
	Enabled      bool   `env:"OTEL_ENABLED" envDefault:"false"`
	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	ServiceName  string `env:"OTEL_SERVICE_NAME" envDefault:"cubeline"`
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}
