// Package credential caches the last login code that worked, per platform
package credential

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sync"
	"time"

	"github.com/google/renameio/v2"
	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

var ErrNotFound = errors.New("no saved code")

// Record is one cached code
type Record struct {
	Code     string    `json:"code"`
	Platform string    `json:"platform"`
	SavedAt  time.Time `json:"saved_at"`
}

// Store keeps records in a single JSON file keyed by platform
type Store struct {
	path string
	now  func() time.Time

	mu sync.Mutex
}

func NewStore(path string) *Store {
	return &Store{path: path, now: time.Now}
}

func (s *Store) Path() string {
	return s.path
}

func (s *Store) read() (map[string]Record, error) {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return map[string]Record{}, nil
	}
	if err != nil {
		return nil, err
	}
	records := map[string]Record{}
	if len(data) == 0 {
		return records, nil
	}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("parse %s: %w", s.path, err)
	}
	return records, nil
}

func (s *Store) write(records map[string]Record) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return err
	}
	return renameio.WriteFile(s.path, data, 0o600)
}

// Save replaces the code cached for platform
func (s *Store) Save(platform, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.read()
	if err != nil {
		return err
	}
	records[platform] = Record{Code: code, Platform: platform, SavedAt: s.now().UTC()}
	if err := s.write(records); err != nil {
		return fmt.Errorf("save code: %w", err)
	}
	return nil
}

// Load returns the code cached for platform or ErrNotFound
func (s *Store) Load(platform string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.read()
	if err != nil {
		return Record{}, err
	}
	r, ok := records[platform]
	if !ok || r.Code == "" {
		return Record{}, ErrNotFound
	}
	return r, nil
}

// Clear forgets the code for platform. Clearing a missing entry is not an error.
func (s *Store) Clear(platform string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	records, err := s.read()
	if err != nil {
		return err
	}
	if _, ok := records[platform]; !ok {
		return nil
	}
	delete(records, platform)
	if err := s.write(records); err != nil {
		return fmt.Errorf("clear code: %w", err)
	}
	return nil
}
