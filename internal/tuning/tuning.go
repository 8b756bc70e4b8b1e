// Package tuning loads simulation configuration from YAML files and the
// environment. Files are checked against an embedded JSON schema and then
// merged over the built-in defaults, so every key is optional.
package tuning

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"

	"github.com/talgya/hotspot-sim/internal/engine"
)

//go:embed schema.json
var schemaJSON string

var configSchema = sync.OnceValues(func() (*jsonschema.Schema, error) {
	return jsonschema.CompileString("config.schema.json", schemaJSON)
})

// Environment variables read by Load and FromEnv.
const (
	EnvSeed        = "HOTSPOT_SEED"
	EnvHorizon     = "HOTSPOT_HORIZON"
	EnvDB          = "HOTSPOT_DB"
	EnvAddr        = "HOTSPOT_ADDR"
	EnvAdminKey    = "HOTSPOT_ADMIN_KEY"
	EnvCORSOrigins = "HOTSPOT_CORS_ORIGINS"
	EnvRandomOrg   = "RANDOM_ORG_API_KEY"
)

// Default returns the built-in configuration with environment overrides
// applied.
func Default() (engine.Config, error) {
	cfg := engine.DefaultConfig()
	if err := applyEnv(&cfg); err != nil {
		return engine.Config{}, err
	}
	return cfg, cfg.Validate()
}

// Load reads the YAML file at path. An empty path behaves like Default.
func Load(path string) (engine.Config, error) {
	if path == "" {
		return Default()
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return engine.Config{}, err
	}
	cfg, err := Parse(data)
	if err != nil {
		return engine.Config{}, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes a YAML document over the defaults. Environment overrides
// are applied last.
func Parse(data []byte) (engine.Config, error) {
	if err := validateDocument(data); err != nil {
		return engine.Config{}, err
	}
	cfg := engine.DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return engine.Config{}, err
	}
	if err := applyEnv(&cfg); err != nil {
		return engine.Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return engine.Config{}, err
	}
	return cfg, nil
}

// Marshal renders cfg as YAML that Parse accepts.
func Marshal(cfg engine.Config) ([]byte, error) {
	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// validateDocument checks the raw document against the schema. The YAML
// tree is normalised through JSON first so the validator sees the same
// value types it would for a JSON file.
func validateDocument(data []byte) error {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return err
	}
	if doc == nil {
		doc = map[string]any{}
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("config is not representable as JSON: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var normalised any
	if err := dec.Decode(&normalised); err != nil {
		return err
	}

	schema, err := configSchema()
	if err != nil {
		return fmt.Errorf("compile config schema: %w", err)
	}
	if err := schema.Validate(normalised); err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	return nil
}

func applyEnv(cfg *engine.Config) error {
	if v := os.Getenv(EnvSeed); v != "" {
		seed, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvSeed, err)
		}
		cfg.Seed = seed
	}
	if v := os.Getenv(EnvHorizon); v != "" {
		h, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%s: %w", EnvHorizon, err)
		}
		cfg.Horizon = h
	}
	return nil
}

// Runtime holds process settings that are not part of the simulated world.
type Runtime struct {
	DBPath       string
	Addr         string
	AdminKey     string   // Empty disables admin endpoints
	CORSOrigins  []string // Allowed browser origins for the API
	RandomOrgKey string   // Empty falls back to crypto/rand seeding
}

// FromEnv reads Runtime from the environment, filling in defaults.
func FromEnv() Runtime {
	rt := Runtime{
		DBPath:       os.Getenv(EnvDB),
		Addr:         os.Getenv(EnvAddr),
		AdminKey:     os.Getenv(EnvAdminKey),
		RandomOrgKey: os.Getenv(EnvRandomOrg),
		CORSOrigins:  []string{"*"},
	}
	if rt.DBPath == "" {
		rt.DBPath = "data/hotspot.db"
	}
	if rt.Addr == "" {
		rt.Addr = ":8080"
	}
	if v := os.Getenv(EnvCORSOrigins); v != "" {
		rt.CORSOrigins = rt.CORSOrigins[:0]
		for _, o := range strings.Split(v, ",") {
			if o = strings.TrimSpace(o); o != "" {
				rt.CORSOrigins = append(rt.CORSOrigins, o)
			}
		}
	}
	return rt
}
