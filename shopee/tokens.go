package shopee

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Tokens are refreshed early so in-flight calls never race the expiry.
const tokenExpirySkew = 300 * time.Second

// Tokens holds the upstream OAuth credential pair. ExpiresAt is unix
// seconds.
type Tokens struct {
	AccessToken  string  `json:"access_token"`
	RefreshToken string  `json:"refresh_token"`
	ExpiresAt    float64 `json:"access_token_expires_at"`
}

// Expired reports whether the access token is within the refresh skew
// of its expiry.
func (t Tokens) Expired(now time.Time) bool {
	return float64(now.Unix()) >= t.ExpiresAt-tokenExpirySkew.Seconds()
}

// FileTokenStore persists tokens to a JSON file so refreshed tokens
// survive restarts. Reads are served from an in-memory copy while the
// access token is still valid.
type FileTokenStore struct {
	path   string
	mu     sync.Mutex
	cached *Tokens
	now    func() time.Time
}

func NewFileTokenStore(path string) *FileTokenStore {
	return &FileTokenStore{path: path, now: time.Now}
}

// Load returns the current tokens, reading the file only when the
// cached copy has expired or was never populated.
func (s *FileTokenStore) Load() (Tokens, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cached != nil && !s.cached.Expired(s.now()) {
		return *s.cached, nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		return Tokens{}, fmt.Errorf("failed to read token file: %w", err)
	}

	var t Tokens
	if err := json.Unmarshal(data, &t); err != nil {
		return Tokens{}, fmt.Errorf("failed to decode token file: %w", err)
	}

	s.cached = &t
	return t, nil
}

// Save writes the tokens to disk atomically and refreshes the cache.
func (s *FileTokenStore) Save(t Tokens) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveLocked(t)
}

func (s *FileTokenStore) saveLocked(t Tokens) error {
	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode tokens: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		return fmt.Errorf("failed to write token file: %w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace token file: %w", err)
	}

	s.cached = &t
	return nil
}

// SeedIfMissing writes environment-supplied credentials to the token
// file when no file exists yet. The seeded entry expires immediately
// so the first API call refreshes it against the upstream.
func (s *FileTokenStore) SeedIfMissing(accessToken, refreshToken string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.path); err == nil {
		return nil
	}

	return s.saveLocked(Tokens{
		AccessToken:  accessToken,
		RefreshToken: refreshToken,
		ExpiresAt:    float64(s.now().Unix()),
	})
}
