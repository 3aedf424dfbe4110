package encoders

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sync"

	"github.com/pelletier/go-toml/v2"
)

// ValidationResults records which encoders passed their test encode.
type ValidationResults struct {
	Timestamp string          `toml:"timestamp" json:"timestamp"`
	H264      CodecValidation `toml:"h264" json:"h264"`
	AAC       CodecValidation `toml:"aac" json:"aac"`
}

// CodecValidation represents validation results for a specific codec
type CodecValidation struct {
	Working []string `toml:"working" json:"working"`
	Failed  []string `toml:"failed" json:"failed"`
}

// lookup returns whether name passed (true) or failed (false), and whether
// it was tested at all.
func (c *CodecValidation) lookup(name string) (working, known bool) {
	if slices.Contains(c.Working, name) {
		return true, true
	}
	if slices.Contains(c.Failed, name) {
		return false, true
	}
	return false, false
}

func (c *CodecValidation) record(name string, working bool) {
	c.Working = slices.DeleteFunc(c.Working, func(s string) bool { return s == name })
	c.Failed = slices.DeleteFunc(c.Failed, func(s string) bool { return s == name })
	if working {
		c.Working = append(c.Working, name)
	} else {
		c.Failed = append(c.Failed, name)
	}
}

// Storage persists validation results.
type Storage interface {
	Save(results *ValidationResults) error
	Load() (*ValidationResults, error)
}

// FileStorage keeps validation results in a TOML file.
type FileStorage struct {
	path string
	mu   sync.Mutex
}

// NewFileStorage returns a storage backed by path.
func NewFileStorage(path string) *FileStorage {
	return &FileStorage{path: path}
}

// Load reads the results. A missing file yields empty results.
func (s *FileStorage) Load() (*ValidationResults, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return &ValidationResults{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read validation results: %w", err)
	}

	var results ValidationResults
	if err := toml.Unmarshal(data, &results); err != nil {
		return nil, fmt.Errorf("failed to parse validation results %s: %w", s.path, err)
	}
	return &results, nil
}

// Save writes the results atomically.
func (s *FileStorage) Save(results *ValidationResults) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := toml.Marshal(results)
	if err != nil {
		return fmt.Errorf("failed to encode validation results: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("failed to create results directory: %w", err)
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write validation results: %w", err)
	}
	return os.Rename(tmp, s.path)
}
