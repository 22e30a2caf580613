// Package mapconfig loads the basemap provider settings: the offline
// MBTiles endpoint and the hosted satellite layer. The server hands the
// resolved config to the front end through /map-config, so the browser
// never needs its own copy of these values.
package mapconfig

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Defaults for the hosted satellite layer. Zoom is deliberately narrow;
// survey imagery is only useful close in.
const (
	DefaultStyle       = "mapbox/satellite-streets-v12"
	DefaultMinZoom     = 15
	DefaultMaxZoom     = 18
	DefaultAttribution = "Mapbox; OpenStreetMap contributors"
)

type MBTilesConfig struct {
	URL         string `yaml:"url" json:"url,omitempty"`
	MinZoom     int    `yaml:"min_zoom" json:"minZoom"`
	MaxZoom     int    `yaml:"max_zoom" json:"maxZoom"`
	Attribution string `yaml:"attribution" json:"attribution,omitempty"`
}

type MapboxConfig struct {
	Token       string `yaml:"token" json:"-"`
	Style       string `yaml:"style" json:"style"`
	MinZoom     int    `yaml:"min_zoom" json:"minZoom"`
	MaxZoom     int    `yaml:"max_zoom" json:"maxZoom"`
	Attribution string `yaml:"attribution" json:"attribution"`
}

// Config is the top-level structure for map-config.yaml.
type Config struct {
	MBTiles MBTilesConfig `yaml:"mbtiles" json:"mbtiles"`
	Mapbox  MapboxConfig  `yaml:"mapbox" json:"mapbox"`
}

// OfflineConfigured reports whether an offline tile endpoint is set.
func (c Config) OfflineConfigured() bool {
	return strings.TrimSpace(c.MBTiles.URL) != ""
}

// ServerToken returns the deployment-level hosted-layer token, if any.
func (c Config) ServerToken() string {
	return strings.TrimSpace(c.Mapbox.Token)
}

// Load reads the YAML file (if path is non-empty), overlays environment
// variables, and fills defaults. A missing file is only an error when the
// path was given explicitly.
func Load(path string) (Config, error) {
	var cfg Config

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read map config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse map config: %w", err)
		}
	}

	applyEnv(&cfg)
	applyDefaults(&cfg)
	return cfg, nil
}

// applyEnv lets deployments override the file without editing it.
func applyEnv(cfg *Config) {
	if v := os.Getenv("MAPBOX_TOKEN"); v != "" {
		cfg.Mapbox.Token = v
	}
	if v := os.Getenv("MBTILES_URL"); v != "" {
		cfg.MBTiles.URL = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Mapbox.Style == "" {
		cfg.Mapbox.Style = DefaultStyle
	}
	if cfg.Mapbox.MinZoom == 0 {
		cfg.Mapbox.MinZoom = DefaultMinZoom
	}
	if cfg.Mapbox.MaxZoom == 0 {
		cfg.Mapbox.MaxZoom = DefaultMaxZoom
	}
	if cfg.Mapbox.Attribution == "" {
		cfg.Mapbox.Attribution = DefaultAttribution
	}
	if cfg.MBTiles.MaxZoom == 0 {
		cfg.MBTiles.MaxZoom = 22
	}
}
