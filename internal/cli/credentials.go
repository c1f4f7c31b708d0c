package cli

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// TokenFile keeps the backend session token between CLI invocations. It
// satisfies api.Credentials.
type TokenFile struct {
	mu    sync.Mutex
	path  string
	token string
	err   error
}

// DefaultTokenPath is ~/.config/splithappens/token, or a file in the
// working directory when no config dir is known.
func DefaultTokenPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".splithappens-token"
	}
	return filepath.Join(dir, "splithappens", "token")
}

// OpenTokenFile reads the token stored at path. A missing file means
// signed out.
func OpenTokenFile(path string) (*TokenFile, error) {
	tf := &TokenFile{path: path}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return tf, nil
	case err != nil:
		return nil, fmt.Errorf("reading token file: %w", err)
	}
	tf.token = strings.TrimSpace(string(data))
	return tf, nil
}

func (t *TokenFile) Token() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.token
}

// SetToken stores token, or removes the file when token is empty. Write
// failures are reported by Err.
func (t *TokenFile) SetToken(token string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.token = token
	if token == "" {
		if err := os.Remove(t.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			t.err = fmt.Errorf("removing token file: %w", err)
		}
		return
	}
	if err := os.MkdirAll(filepath.Dir(t.path), 0o700); err != nil {
		t.err = fmt.Errorf("creating token dir: %w", err)
		return
	}
	if err := os.WriteFile(t.path, []byte(token+"\n"), 0o600); err != nil {
		t.err = fmt.Errorf("writing token file: %w", err)
	}
}

func (t *TokenFile) Err() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.err
}
