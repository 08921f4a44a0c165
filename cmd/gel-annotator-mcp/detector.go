package main

import (
	"fmt"
	"net/http"

	"go.uber.org/zap"

	"github.com/ironsheep/gel-annotator-mcp/internal/config"
	"github.com/ironsheep/gel-annotator-mcp/internal/detect"
	"github.com/ironsheep/gel-annotator-mcp/internal/imaging"
)

// buildDetector returns the detector named by the configuration.
func buildDetector(cfg config.Config, cache *imaging.ImageCache, log *zap.Logger) (detect.Detector, error) {
	switch cfg.Detector.Kind {
	case config.DetectorHTTP:
		return detect.NewHTTPDetector(cfg.Detector.URL,
			detect.WithHTTPClient(&http.Client{Timeout: cfg.Detector.Timeout}),
			detect.WithHTTPLogger(log)), nil
	case config.DetectorOllama:
		d, err := detect.NewOllamaDetector(cfg.Detector.OllamaURL, cfg.Detector.OllamaModel, cache,
			detect.WithClasses(cfg.ClassMap()),
			detect.WithOllamaLogger(log))
		if err != nil {
			return nil, err
		}
		return d, nil
	case config.DetectorNone, "":
		return detect.NewLocal(cache), nil
	}
	return nil, fmt.Errorf("unknown detector kind: %q", cfg.Detector.Kind)
}
