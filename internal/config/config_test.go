package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ironsheep/gel-annotator-mcp/internal/annotation"
	"github.com/ironsheep/gel-annotator-mcp/internal/rules"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

// clearEnv unsets every override for the duration of the test.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{EnvLogLevel, EnvDetector, EnvDetectorURL, EnvOllamaURL, EnvOllamaModel} {
		t.Setenv(k, "")
		os.Unsetenv(k)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, DetectorNone, cfg.Detector.Kind)
	assert.Equal(t, rules.Default(), cfg.Rules)
	assert.Equal(t, annotation.ClassMap{0: "microgel", 1: "cell"}, cfg.ClassMap())
}

func TestLoad_File(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `
log_level: debug
detector:
  kind: http
  url: http://gpu-box:8000
  timeout: 90s
  conf: 0.4
rules:
  overlap_iou: 0.3
classes:
  0: gel
  3: cell
display:
  max_width: 800
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, DetectorHTTP, cfg.Detector.Kind)
	assert.Equal(t, "http://gpu-box:8000", cfg.Detector.URL)
	assert.Equal(t, 90*time.Second, cfg.Detector.Timeout)
	assert.Equal(t, 0.4, cfg.Detector.Confidence)
	assert.Equal(t, 0.45, cfg.Detector.IoU, "unset fields keep defaults")
	assert.Equal(t, rules.Config{OverlapIoU: 0.3, EdgeOutsidePercent: 50}, cfg.Rules)
	assert.Equal(t, annotation.ClassMap{0: "gel", 3: "cell"}, cfg.ClassMap(), "file classes replace defaults")
	assert.Equal(t, 800.0, cfg.Display.MaxWidth)
}

func TestLoad_EmptyFile(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeConfig(t, ""))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
}

func TestLoad_RulesClamped(t *testing.T) {
	clearEnv(t)
	cfg, err := Load(writeConfig(t, "rules:\n  overlap_iou: 3\n  edge_outside_percent: -20\n"))
	require.NoError(t, err)
	assert.Equal(t, rules.Config{OverlapIoU: 1, EdgeOutsidePercent: 0}, cfg.Rules)
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvLogLevel, "warn")
	t.Setenv(EnvOllamaURL, "http://ollama:11434")
	t.Setenv(EnvOllamaModel, "llava")
	t.Setenv(EnvDetector, "ollama")

	cfg, err := Load(writeConfig(t, "log_level: debug\n"))
	require.NoError(t, err)
	assert.Equal(t, "warn", cfg.LogLevel)
	assert.Equal(t, DetectorOllama, cfg.Detector.Kind)
	assert.Equal(t, "http://ollama:11434", cfg.Detector.OllamaURL)
	assert.Equal(t, "llava", cfg.Detector.OllamaModel)
}

func TestLoad_DetectorURLImpliesHTTP(t *testing.T) {
	clearEnv(t)
	t.Setenv(EnvDetectorURL, "http://localhost:8000")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, DetectorHTTP, cfg.Detector.Kind)
	assert.Equal(t, "http://localhost:8000", cfg.Detector.URL)
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"unknown key", "colour: red\n"},
		{"bad log level", "log_level: chatty\n"},
		{"bad detector", "detector:\n  kind: magic\n"},
		{"http without url", "detector:\n  kind: http\n"},
		{"bad url", "detector:\n  url: not a url\n"},
		{"conf out of range", "detector:\n  conf: 1.5\n"},
		{"empty class name", "classes:\n  0: \"\"\n"},
		{"negative width", "display:\n  max_width: -1\n"},
		{"not yaml", "{{{"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			_, err := Load(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoad_MissingFile(t *testing.T) {
	clearEnv(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestDetectRequest(t *testing.T) {
	cfg := Default()
	cfg.Detector.Confidence = 0.6
	req := cfg.DetectRequest("a.png", "b.png")
	assert.Equal(t, []string{"a.png", "b.png"}, req.Paths)
	assert.Equal(t, 0.6, req.Confidence)
	assert.Equal(t, 0.45, req.IoU)
}
