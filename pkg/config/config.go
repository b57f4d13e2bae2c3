package config

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/boristopalov/mapd/pkg/environment"
)

//go:embed schema.json
var schemaJSON string

const schemaURL = "mapd://config.schema.json"

type Config struct {
	Scenario   ScenarioConfig   `yaml:"scenario"`
	Experiment ExperimentConfig `yaml:"experiment"`
}

type ScenarioConfig struct {
	Agents                int            `yaml:"agents"`
	ArenaHalfWidth        float64        `yaml:"arena_half_width"`
	AgentSize             float64        `yaml:"agent_size"`
	EntitySize            float64        `yaml:"entity_size"`
	CaptureRadius         float64        `yaml:"capture_radius"`
	CommDim               int            `yaml:"comm_dim"`
	ObserveLandmarkColors bool           `yaml:"observe_landmark_colors"`
	Boundary              BoundaryConfig `yaml:"boundary"`
}

type BoundaryConfig struct {
	Mode   string  `yaml:"mode"`
	Margin float64 `yaml:"margin"`
}

type ExperimentConfig struct {
	Name     string `yaml:"name"`
	Episodes int    `yaml:"episodes"`
	Seed     int64  `yaml:"seed"`
	History  int    `yaml:"history"` // number of recent episodes kept for rolling stats
	LogDir   string `yaml:"log_dir"`
	DBPath   string `yaml:"db_path"`
	Listen   string `yaml:"listen"`
}

// Default returns the reference configuration
func Default() *Config {
	params := environment.DefaultParams()
	return &Config{
		Scenario: ScenarioConfig{
			Agents:         environment.DefaultAgents,
			ArenaHalfWidth: params.ArenaHalfWidth,
			AgentSize:      params.AgentSize,
			EntitySize:     params.EntitySize,
			CaptureRadius:  params.CaptureRadius,
			CommDim:        params.DimC,
			Boundary: BoundaryConfig{
				Mode:   string(environment.BoundaryReference),
				Margin: environment.DefaultReferenceMargin,
			},
		},
		Experiment: ExperimentConfig{
			Name:     environment.EnvName,
			Episodes: 100,
			Seed:     1337,
			History:  100,
			LogDir:   "./data/traces",
			DBPath:   "./data/mapd.db",
			Listen:   ":8080",
		},
	}
}

// LoadConfig reads a YAML config, validates it against the config schema and
// overlays it on Default
func LoadConfig(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := validateSchema(raw); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}

	cfg := Default()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

func validateSchema(raw []byte) error {
	var doc any
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return err
	}
	if doc == nil {
		return nil
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("config is not representable as JSON: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return err
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(schemaURL, strings.NewReader(schemaJSON)); err != nil {
		return err
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return err
	}
	return schema.Validate(v)
}

// Validate checks invariants the scenario relies on
func (c *Config) Validate() error {
	s := c.Scenario
	var errs []error
	if s.Agents < 1 {
		errs = append(errs, environment.ErrInvalidAgentCount)
	}
	if s.ArenaHalfWidth <= 0 {
		errs = append(errs, fmt.Errorf("arena_half_width must be positive"))
	}
	if s.AgentSize <= 0 || s.EntitySize <= 0 {
		errs = append(errs, fmt.Errorf("agent_size and entity_size must be positive"))
	}
	if s.CaptureRadius <= 0 {
		errs = append(errs, fmt.Errorf("capture_radius must be positive"))
	}
	if s.CommDim < 0 {
		errs = append(errs, fmt.Errorf("comm_dim must not be negative"))
	}
	if err := c.boundaryRule().Validate(); err != nil {
		errs = append(errs, err)
	}
	if c.Experiment.Episodes < 1 {
		errs = append(errs, fmt.Errorf("episodes must be at least 1"))
	}
	if c.Experiment.History < 1 {
		errs = append(errs, fmt.Errorf("history must be at least 1"))
	}
	return errors.Join(errs...)
}

func (c *Config) boundaryRule() environment.BoundaryRule {
	return environment.BoundaryRule{
		Mode:   environment.BoundaryMode(c.Scenario.Boundary.Mode),
		Margin: c.Scenario.Boundary.Margin,
	}
}

// Params converts the scenario section into environment parameters
func (c *Config) Params() environment.Params {
	s := c.Scenario
	return environment.Params{
		ArenaHalfWidth:        s.ArenaHalfWidth,
		AgentSize:             s.AgentSize,
		EntitySize:            s.EntitySize,
		CaptureRadius:         s.CaptureRadius,
		DimC:                  s.CommDim,
		Boundary:              c.boundaryRule(),
		ObserveLandmarkColors: s.ObserveLandmarkColors,
	}
}

// LoadDotEnv loads the first .env file found among paths and returns its
// path, or "" when none could be loaded
func LoadDotEnv(paths ...string) string {
	for _, envFile := range paths {
		if err := godotenv.Load(envFile); err == nil {
			return envFile
		}
	}
	return ""
}

// ApplyEnv overrides fields from MAPD_* environment variables
func (c *Config) ApplyEnv(getenv func(string) string) error {
	ints := []struct {
		key string
		dst *int
	}{
		{"MAPD_AGENTS", &c.Scenario.Agents},
		{"MAPD_EPISODES", &c.Experiment.Episodes},
	}
	for _, v := range ints {
		raw := strings.TrimSpace(getenv(v.key))
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", v.key, err)
		}
		*v.dst = n
	}

	if raw := strings.TrimSpace(getenv("MAPD_SEED")); raw != "" {
		seed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("MAPD_SEED: %w", err)
		}
		c.Experiment.Seed = seed
	}

	strs := []struct {
		key string
		dst *string
	}{
		{"MAPD_LOG_DIR", &c.Experiment.LogDir},
		{"MAPD_DB_PATH", &c.Experiment.DBPath},
		{"MAPD_LISTEN", &c.Experiment.Listen},
		{"MAPD_BOUNDARY_MODE", &c.Scenario.Boundary.Mode},
	}
	for _, v := range strs {
		if raw := strings.TrimSpace(getenv(v.key)); raw != "" {
			*v.dst = raw
		}
	}
	return c.Validate()
}
