// Package session acquires and persists the browser-derived site session.
// The cookie file is single-writer (the acquirer) and multi-reader; readers
// must treat a missing or unparseable file as "no valid session".
package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ErrNoSession indicates the cookie file is absent, empty, or unparseable.
var ErrNoSession = errors.New("no valid session")

// Cookie is one browser cookie in the session file. Field names match the
// browser export format.
type Cookie struct {
	Name    string  `json:"name"`
	Value   string  `json:"value"`
	Domain  string  `json:"domain"`
	Path    string  `json:"path,omitempty"`
	Expires float64 `json:"expires,omitempty"`
}

// Store reads and atomically replaces the durable cookie file.
type Store struct {
	path string
}

// NewStore returns a Store for the given file path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the cookie file location.
func (s *Store) Path() string {
	return s.path
}

// Load parses the cookie file. A missing file or parse failure returns
// ErrNoSession rather than a hard error, since the file may be replaced
// between reads.
func (s *Store) Load() ([]Cookie, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("read cookie file: %w", err)
	}
	var cookies []Cookie
	if err := json.Unmarshal(data, &cookies); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrNoSession, err)
	}
	if len(cookies) == 0 {
		return nil, ErrNoSession
	}
	return cookies, nil
}

// NameValues reduces the cookie file to a name→value mapping.
func (s *Store) NameValues() (map[string]string, error) {
	cookies, err := s.Load()
	if err != nil {
		return nil, err
	}
	values := make(map[string]string, len(cookies))
	for _, c := range cookies {
		if c.Name == "" {
			continue
		}
		values[c.Name] = c.Value
	}
	return values, nil
}

// Replace writes the cookie set, replacing any prior file atomically via a
// temp file and rename so readers never observe a partial write.
func (s *Store) Replace(cookies []Cookie) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o750); err != nil {
		return fmt.Errorf("create cookie dir: %w", err)
	}
	payload, err := json.MarshalIndent(cookies, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal cookies: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".cookies-*.json")
	if err != nil {
		return fmt.Errorf("create temp cookie file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(payload); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp cookie file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp cookie file: %w", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace cookie file: %w", err)
	}
	return nil
}

// ValidFor reports whether the stored session carries at least one cookie
// associated with the target site's apex domain. An empty or
// domain-mismatched set is a failed acquisition.
func ValidFor(cookies []Cookie, apexDomain string) bool {
	apex := strings.TrimPrefix(strings.ToLower(apexDomain), ".")
	if apex == "" {
		return false
	}
	for _, c := range cookies {
		domain := strings.TrimPrefix(strings.ToLower(c.Domain), ".")
		if domain == apex || strings.HasSuffix(domain, "."+apex) || strings.HasSuffix(apex, "."+domain) {
			return true
		}
	}
	return false
}
