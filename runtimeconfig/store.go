package runtimeconfig

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/xKeNcHii/shopee-webhook-receiver/common/config"
)

const maskedValue = "***"

// sectionSecrets lists the keys per section whose values must never
// leave the server unmasked and are preserved when an update omits
// them.
var sectionSecrets = map[string][]string{
	"notifier":   {"bot_token"},
	"forwarder":  {"auth_token"},
	"monitoring": {"dsn"},
}

// KnownSections returns the configurable section names.
func KnownSections() []string {
	return []string{"notifier", "forwarder", "monitoring"}
}

// Store holds dashboard-editable settings in a single JSON file.
// Reads are served from memory; every update rewrites the file
// atomically.
type Store struct {
	path   string
	logger *slog.Logger

	mu   sync.Mutex
	data map[string]map[string]any
	meta map[string]any
}

// NewStore loads the config file, initializing it from environment
// variables on first run.
func NewStore(path string, logger *slog.Logger) (*Store, error) {
	s := &Store{
		path:   path,
		logger: logger,
		data:   map[string]map[string]any{},
		meta:   map[string]any{},
	}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		if err := s.initFromEnv(); err != nil {
			return nil, err
		}
		return s, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read runtime config: %w", err)
	}

	var file map[string]json.RawMessage
	if err := json.Unmarshal(raw, &file); err != nil {
		return nil, fmt.Errorf("failed to decode runtime config: %w", err)
	}
	for key, value := range file {
		if isSection(key) {
			section := map[string]any{}
			if err := json.Unmarshal(value, &section); err != nil {
				return nil, fmt.Errorf("failed to decode runtime config section %s: %w", key, err)
			}
			s.data[key] = section
			continue
		}
		var v any
		if err := json.Unmarshal(value, &v); err == nil {
			s.meta[key] = v
		}
	}
	return s, nil
}

func isSection(name string) bool {
	_, ok := sectionSecrets[name]
	return ok
}

// initFromEnv seeds the file from environment variables so a freshly
// deployed instance is immediately editable from the dashboard.
func (s *Store) initFromEnv() error {
	s.data = map[string]map[string]any{
		"notifier": {
			"enabled":   config.GetEnv("TELEGRAM_BOT_TOKEN", "") != "",
			"bot_token": config.GetEnv("TELEGRAM_BOT_TOKEN", ""),
			"chat_id":   config.GetEnv("TELEGRAM_CHAT_ID", ""),
		},
		"forwarder": {
			"enabled":    config.GetEnv("FORWARD_WEBHOOK_URL", "") != "",
			"url":        config.GetEnv("FORWARD_WEBHOOK_URL", ""),
			"auth_token": "",
		},
		"monitoring": {
			"enabled": false,
			"dsn":     "",
		},
	}
	s.meta = map[string]any{
		"initialized_from": "environment",
	}
	s.logger.Info("runtime config initialized from environment",
		slog.String("path", s.path),
	)
	return s.saveLocked()
}

// Section returns a copy of one section's values.
func (s *Store) Section(name string) (map[string]any, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	section, ok := s.data[name]
	if !ok {
		return nil, fmt.Errorf("unknown config section %q", name)
	}
	return copyMap(section), nil
}

// UpdateSection merges the given values into a section. Secret keys
// left out of the update, or sent empty, keep their stored values.
func (s *Store) UpdateSection(name string, values map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	section, ok := s.data[name]
	if !ok {
		return fmt.Errorf("unknown config section %q", name)
	}

	merged := copyMap(section)
	for k, v := range values {
		merged[k] = v
	}
	for _, secret := range sectionSecrets[name] {
		v, present := values[secret]
		if !present || v == "" {
			if prev, ok := section[secret]; ok {
				merged[secret] = prev
			}
		}
	}

	merged["updated_at"] = time.Now().UTC().Format(time.RFC3339)
	s.data[name] = merged
	return s.saveLocked()
}

// Masked returns the full config with secret values replaced, safe to
// expose on the dashboard.
func (s *Store) Masked() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := map[string]any{}
	for k, v := range s.meta {
		out[k] = v
	}
	for name, section := range s.data {
		masked := copyMap(section)
		for _, secret := range sectionSecrets[name] {
			if v, ok := masked[secret]; ok && v != "" {
				masked[secret] = maskedValue
			}
		}
		out[name] = masked
	}
	return out
}

func (s *Store) saveLocked() error {
	file := map[string]any{}
	for k, v := range s.meta {
		file[k] = v
	}
	for name, section := range s.data {
		file[name] = section
	}

	raw, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode runtime config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create runtime config directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o600); err != nil {
		return fmt.Errorf("failed to write runtime config: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace runtime config: %w", err)
	}
	return nil
}

func copyMap(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
