// ABOUTME: TokenStore implementations for persisting the visitor token client-side
// ABOUTME: FileTokenStore writes a 0600 file; MemoryTokenStore is for tests and embedding

package identity

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FileTokenStore keeps the visitor token in a single file.
type FileTokenStore struct {
	path string
}

// NewFileTokenStore creates a token store at path. Parent directories are
// created on first save.
func NewFileTokenStore(path string) *FileTokenStore {
	return &FileTokenStore{path: path}
}

// Load reads the token, returning ErrNoToken if the file doesn't exist or is empty.
func (s *FileTokenStore) Load() (string, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return "", ErrNoToken
	}
	if err != nil {
		return "", fmt.Errorf("reading token file: %w", err)
	}

	token := strings.TrimSpace(string(data))
	if token == "" {
		return "", ErrNoToken
	}
	return token, nil
}

// Save writes the token, replacing any previous one.
func (s *FileTokenStore) Save(token string) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0700); err != nil {
		return fmt.Errorf("creating token directory: %w", err)
	}
	if err := os.WriteFile(s.path, []byte(token+"\n"), 0600); err != nil {
		return fmt.Errorf("writing token file: %w", err)
	}
	return nil
}

// MemoryTokenStore keeps the token in memory.
type MemoryTokenStore struct {
	mu    sync.Mutex
	token string
}

// Load returns the saved token or ErrNoToken.
func (s *MemoryTokenStore) Load() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.token == "" {
		return "", ErrNoToken
	}
	return s.token, nil
}

// Save replaces the saved token.
func (s *MemoryTokenStore) Save(token string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	return nil
}
