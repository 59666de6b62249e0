package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Laffyyy/collabo-tool-sub001/internal/models"
)

// ErrNotLoggedIn is returned when no token file exists.
var ErrNotLoggedIn = errors.New("not logged in, run collabctl login first")

// TokenStore keeps the current token pair in a single JSON file.
type TokenStore struct {
	path string
}

// NewTokenStore uses ~/.collabctl/tokens.json when path is empty.
func NewTokenStore(path string) (*TokenStore, error) {
	if path == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("failed to get home directory: %w", err)
		}
		path = filepath.Join(home, ".collabctl", "tokens.json")
	}
	return &TokenStore{path: path}, nil
}

func (s *TokenStore) Path() string { return s.path }

func (s *TokenStore) Load() (*models.AuthTokens, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrNotLoggedIn
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read tokens: %w", err)
	}

	var tokens models.AuthTokens
	if err := json.Unmarshal(data, &tokens); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", s.path, err)
	}
	if tokens.AccessToken == "" {
		return nil, ErrNotLoggedIn
	}
	return &tokens, nil
}

func (s *TokenStore) Save(tokens models.AuthTokens) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("failed to create token directory: %w", err)
	}
	data, err := json.MarshalIndent(tokens, "", "  ")
	if err != nil {
		return err
	}
	if err := os.WriteFile(s.path, data, 0600); err != nil {
		return fmt.Errorf("failed to write tokens: %w", err)
	}
	return nil
}

func (s *TokenStore) Clear() error {
	if err := os.Remove(s.path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to remove tokens: %w", err)
	}
	return nil
}
