package main

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"
)

type Config struct {
	// ServerURL is the base URL of the chat API, e.g. https://chat.example.com
	ServerURL string `yaml:"server_url"`
	// AccessToken is the bearer token for the chat API.
	AccessToken string `yaml:"access_token"`
	// PageSize is the message fetch limit per page. Defaults to 50.
	PageSize int `yaml:"page_size"`
	// TypingIdleMS overrides the typing auto-stop window (default 1500).
	TypingIdleMS int `yaml:"typing_idle_ms"`
	// LogLevel is a zerolog level name (trace/debug/info/warn/error).
	LogLevel string `yaml:"log_level"`

	Path string `yaml:"-"`
}

type umConfig Config

func (c *Config) UnmarshalYAML(node *yaml.Node) error {
	if err := node.Decode((*umConfig)(c)); err != nil {
		return err
	}
	return c.PostProcess()
}

func (c *Config) PostProcess() error {
	if c.PageSize <= 0 {
		c.PageSize = 50
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}
	if c.ServerURL != "" {
		u, err := url.Parse(c.ServerURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
			return fmt.Errorf("invalid server_url %q", c.ServerURL)
		}
	}
	return nil
}

func (c *Config) HasCredentials() bool {
	return c.ServerURL != "" && c.AccessToken != ""
}

func (c *Config) TypingIdleTimeout() time.Duration {
	return time.Duration(c.TypingIdleMS) * time.Millisecond
}

func getConfigPath() string {
	baseDir, _ := os.UserConfigDir()
	return filepath.Join(baseDir, "chatctl", "config.yaml")
}

func loadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg := &Config{Path: path}
		_ = cfg.PostProcess()
		return cfg, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to read config at %s: %w", path, err)
	}
	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config at %s: %w", path, err)
	}
	cfg.Path = path
	return &cfg, nil
}

func (c *Config) Save() error {
	if err := os.MkdirAll(filepath.Dir(c.Path), 0700); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err = os.WriteFile(c.Path, data, 0600); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// watchConfig reloads the config whenever the file changes and hands the
// fresh copy to onReload. Used by long-running commands (tail) so a
// token rotated by another process is picked up without a restart.
// Editors replace files with rename/create, so the watch is on the
// directory, filtered to the config path.
func watchConfig(ctx context.Context, path string, log zerolog.Logger, onReload func(*Config)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	if err = watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return fmt.Errorf("failed to watch config directory: %w", err)
	}
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name != path || !event.Has(fsnotify.Write|fsnotify.Create) {
					continue
				}
				cfg, loadErr := loadConfig(path)
				if loadErr != nil {
					log.Warn().Err(loadErr).Msg("Config changed but reload failed, keeping old config")
					continue
				}
				log.Info().Str("path", path).Msg("Config reloaded")
				onReload(cfg)
			case watchErr, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Warn().Err(watchErr).Msg("Config watcher error")
			}
		}
	}()
	return nil
}
