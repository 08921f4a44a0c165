// Package config loads the server configuration from an optional YAML file
// and environment variables.
//
// Precedence, lowest first: built-in defaults, the YAML file, environment
// variables. Rule thresholds out of range are clamped; other invalid values
// are rejected.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/ironsheep/gel-annotator-mcp/internal/annotation"
	"github.com/ironsheep/gel-annotator-mcp/internal/detect"
	"github.com/ironsheep/gel-annotator-mcp/internal/rules"
)

// Environment variables that override the file.
const (
	EnvLogLevel    = "GEL_MCP_LOG_LEVEL"
	EnvDetector    = "GEL_MCP_DETECTOR"
	EnvDetectorURL = "GEL_MCP_DETECTOR_URL"
	EnvOllamaURL   = "GEL_MCP_OLLAMA_URL"
	EnvOllamaModel = "GEL_MCP_OLLAMA_MODEL"
)

// Detector kinds.
const (
	DetectorHTTP   = "http"
	DetectorOllama = "ollama"
	DetectorNone   = "none"
)

// Config is the server configuration.
type Config struct {
	LogLevel string         `yaml:"log_level" validate:"oneof=debug info warn error"`
	Detector DetectorConfig `yaml:"detector"`
	Rules    rules.Config   `yaml:"rules"`
	Classes  map[int]string `yaml:"classes" validate:"dive,required"`
	Display  DisplayConfig  `yaml:"display"`
}

// DetectorConfig selects and configures the detection collaborator.
type DetectorConfig struct {
	Kind        string        `yaml:"kind" validate:"oneof=http ollama none"`
	URL         string        `yaml:"url" validate:"omitempty,url"`
	Timeout     time.Duration `yaml:"timeout" validate:"gte=0"`
	Confidence  float64       `yaml:"conf" validate:"gte=0,lte=1"`
	IoU         float64       `yaml:"iou" validate:"gte=0,lte=1"`
	OllamaURL   string        `yaml:"ollama_url" validate:"omitempty,url"`
	OllamaModel string        `yaml:"ollama_model"`
}

// DisplayConfig sets how images are scaled for editing and previews.
type DisplayConfig struct {
	// MaxWidth is the width editors fit images into. 0 keeps full size.
	MaxWidth float64 `yaml:"max_width" validate:"gte=0"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		LogLevel: "info",
		Detector: DetectorConfig{
			Kind:        DetectorNone,
			Timeout:     5 * time.Minute,
			Confidence:  detect.DefaultConfidence,
			IoU:         detect.DefaultIoU,
			OllamaURL:   "http://localhost:11434",
			OllamaModel: detect.DefaultOllamaModel,
		},
		Rules: rules.Default(),
		Classes: map[int]string{
			annotation.DefaultContainerID: annotation.RoleContainer,
			annotation.DefaultContainedID: annotation.RoleContained,
		},
		Display: DisplayConfig{MaxWidth: 820},
	}
}

var validate = validator.New()

// Load reads the YAML file at path over the defaults, applies environment
// overrides, clamps the rules and validates the result. An empty path skips
// the file.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config: %w", err)
		}
		if err := decode(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	cfg.applyEnv(os.LookupEnv)
	cfg.Rules = cfg.Rules.Clamped()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// decode unmarshals data into cfg, rejecting unknown keys. A classes map in
// the file replaces the default classes rather than merging with them.
func decode(data []byte, cfg *Config) error {
	defaults := cfg.Classes
	cfg.Classes = nil

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	if cfg.Classes == nil {
		cfg.Classes = defaults
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvLogLevel); ok && v != "" {
		c.LogLevel = v
	}
	if v, ok := lookup(EnvDetector); ok && v != "" {
		c.Detector.Kind = v
	}
	if v, ok := lookup(EnvDetectorURL); ok && v != "" {
		c.Detector.URL = v
		if _, set := lookup(EnvDetector); !set {
			c.Detector.Kind = DetectorHTTP
		}
	}
	if v, ok := lookup(EnvOllamaURL); ok && v != "" {
		c.Detector.OllamaURL = v
	}
	if v, ok := lookup(EnvOllamaModel); ok && v != "" {
		c.Detector.OllamaModel = v
	}
}

// Validate checks field constraints.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Detector.Kind == DetectorHTTP && c.Detector.URL == "" {
		return fmt.Errorf("invalid config: detector url is required for the http detector")
	}
	return nil
}

// ClassMap returns the configured classes.
func (c Config) ClassMap() annotation.ClassMap {
	m := make(annotation.ClassMap, len(c.Classes))
	for id, name := range c.Classes {
		m[id] = name
	}
	return m
}

// DetectRequest returns a request for paths with the configured thresholds.
func (c Config) DetectRequest(paths ...string) detect.Request {
	return detect.Request{Paths: paths, Confidence: c.Detector.Confidence, IoU: c.Detector.IoU}
}
