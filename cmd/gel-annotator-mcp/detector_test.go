package main

import (
	"testing"

	"go.uber.org/zap"

	"github.com/ironsheep/gel-annotator-mcp/internal/config"
	"github.com/ironsheep/gel-annotator-mcp/internal/imaging"
)

func TestBuildDetector(t *testing.T) {
	tests := []struct {
		name string
		edit func(*config.Config)
		want string
	}{
		{"default", func(c *config.Config) {}, "none"},
		{"http", func(c *config.Config) {
			c.Detector.Kind = config.DetectorHTTP
			c.Detector.URL = "http://localhost:8000"
		}, "http"},
		{"ollama", func(c *config.Config) { c.Detector.Kind = config.DetectorOllama }, "ollama"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := config.Default()
			tt.edit(&cfg)

			d, err := buildDetector(cfg, imaging.NewImageCache(), zap.NewNop())
			if err != nil {
				t.Fatalf("buildDetector: %v", err)
			}
			if d.Name() != tt.want {
				t.Errorf("Name: got %s, want %s", d.Name(), tt.want)
			}
		})
	}
}

func TestBuildDetector_Unknown(t *testing.T) {
	cfg := config.Default()
	cfg.Detector.Kind = "yolo"
	if _, err := buildDetector(cfg, imaging.NewImageCache(), zap.NewNop()); err == nil {
		t.Fatal("expected error for unknown kind")
	}
}
