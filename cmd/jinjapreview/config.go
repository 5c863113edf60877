package main

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"strings"

	"github.com/neurodesk/jinjapreview/pkg/jinja2"
	"github.com/neurodesk/jinjapreview/pkg/netcache"
	"github.com/neurodesk/jinjapreview/pkg/templates"
	v "github.com/neurodesk/jinjapreview/pkg/validator"
	"gopkg.in/yaml.v3"
)

const defaultConfigPath = "jinjapreview.config.yaml"

var logLevels = []string{"debug", "info", "warn", "error"}

type previewConfig struct {
	TemplateDir    string `yaml:"template_dir,omitempty"`
	CacheDir       string `yaml:"cache_dir,omitempty"`
	LogLevel       string `yaml:"log_level,omitempty"`
	MaxInputLength int    `yaml:"max_input_length,omitempty"`
	MaxDepth       int    `yaml:"max_depth,omitempty"`
}

func (c *previewConfig) loadConfig(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(c); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("decoding config file: %w", err)
	}
	return nil
}

func (c *previewConfig) Validate() error {
	err := v.All(
		v.NotNegative(c.MaxInputLength, "max_input_length"),
		v.NotNegative(c.MaxDepth, "max_depth"),
	)
	if err != nil {
		return err
	}
	if c.LogLevel != "" {
		return v.MatchesAllowed(strings.ToLower(c.LogLevel), logLevels, "log_level")
	}
	return nil
}

func (c *previewConfig) level() slog.Level {
	switch strings.ToLower(c.LogLevel) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	}
	return slog.LevelInfo
}

func (c *previewConfig) renderer(logger *slog.Logger) *jinja2.Renderer {
	r := jinja2.NewRenderer()
	r.Logger = logger
	r.MaxInputLength = c.MaxInputLength
	r.MaxDepth = c.MaxDepth
	return r
}

func (c *previewConfig) cache(logger *slog.Logger) *netcache.Cache {
	dir := c.CacheDir
	if dir == "" {
		dir = netcache.DefaultDir()
	}
	cache := netcache.New(dir)
	cache.Logger = logger
	return cache
}

// loadPreviewConfig reads the config file, applies flag overrides and
// installs the logger and template directory. The default config file is
// optional; one named with --config is not.
func loadPreviewConfig(explicit bool) (previewConfig, error) {
	var cfg previewConfig
	if err := cfg.loadConfig(configPath); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return cfg, fmt.Errorf("loading config: %w", err)
		}
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	if verbose {
		cfg.LogLevel = "debug"
	}
	if err := cfg.Validate(); err != nil {
		return cfg, fmt.Errorf("invalid config: %w", err)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.level()})))
	if cfg.TemplateDir != "" {
		templates.SetTemplateDir(cfg.TemplateDir)
	}
	return cfg, nil
}
