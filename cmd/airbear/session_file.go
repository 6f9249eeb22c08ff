package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/example/airbear/internal/models"
)

func sessionPath() (string, error) {
	if p := os.Getenv("AIRBEAR_SESSION_FILE"); p != "" {
		return p, nil
	}
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "airbear", "session.json"), nil
}

func loadSession() (*models.AuthSession, error) {
	p, err := sessionPath()
	if err != nil {
		return nil, err
	}
	raw, err := os.ReadFile(p)
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	var s models.AuthSession
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("decode %s: %w", p, err)
	}
	if s.AccessToken == "" {
		return nil, nil
	}
	return &s, nil
}

// saveSession writes s, or removes the file when s is nil.
func saveSession(s *models.AuthSession) error {
	p, err := sessionPath()
	if err != nil {
		return err
	}
	if s == nil {
		if err := os.Remove(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(p), 0o700); err != nil {
		return err
	}
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return os.WriteFile(p, raw, 0o600)
}
