package macro

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"naviguard/backend/internal/models"
)

var ErrInvalidName = errors.New("invalid macro name")

// Store persists macros as indented JSON files, one per name, in a single directory.
type Store struct {
	dir         string
	defaultName string
	logger      *zap.Logger
	mu          sync.Mutex
}

func NewStore(dir, defaultName string, logger *zap.Logger) *Store {
	return &Store{
		dir:         dir,
		defaultName: defaultName,
		logger:      logger.Named("macro_store"),
	}
}

func (s *Store) Dir() string { return s.dir }

func (s *Store) DefaultName() string { return s.defaultName }

// Save overwrites the named macro with events, creating the directory if needed.
func (s *Store) Save(events []models.RecordedEvent, name string) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}
	if events == nil {
		events = []models.RecordedEvent{}
	}

	data, err := json.MarshalIndent(events, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode macro: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.MkdirAll(s.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create macro directory: %w", err)
	}

	tmp, err := os.CreateTemp(s.dir, ".macro-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("failed to write macro: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to write macro: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("failed to store macro: %w", err)
	}

	s.logger.Info("Macro saved", zap.String("name", filepath.Base(path)), zap.Int("events", len(events)))
	return nil
}

// Load returns the named macro. A macro that does not exist loads as an empty sequence.
func (s *Store) Load(name string) ([]models.RecordedEvent, error) {
	path, err := s.path(name)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	data, err := os.ReadFile(path)
	s.mu.Unlock()

	if errors.Is(err, fs.ErrNotExist) {
		return []models.RecordedEvent{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read macro: %w", err)
	}

	var events []models.RecordedEvent
	if err := json.Unmarshal(data, &events); err != nil {
		return nil, fmt.Errorf("failed to decode macro %s: %w", filepath.Base(path), err)
	}
	if events == nil {
		events = []models.RecordedEvent{}
	}
	return events, nil
}

func (s *Store) Exists(name string) bool {
	path, err := s.path(name)
	if err != nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}

// Delete removes the named macro. Removing a missing macro is not an error.
func (s *Store) Delete(name string) error {
	path, err := s.path(name)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to delete macro: %w", err)
	}
	return nil
}

// List returns stored macro names in lexical order.
func (s *Store) List() ([]string, error) {
	s.mu.Lock()
	entries, err := os.ReadDir(s.dir)
	s.mu.Unlock()

	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list macros: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// ValidateName rejects names that would leave the macro directory. An empty
// name selects the default macro and is valid.
func ValidateName(name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) || strings.HasPrefix(name, ".") {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// path maps a macro name to its file. Empty means the default name; a missing
// .json suffix is added.
func (s *Store) path(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		name = s.defaultName
	}
	if err := ValidateName(name); err != nil {
		return "", err
	}
	if !strings.HasSuffix(name, ".json") {
		name += ".json"
	}
	return filepath.Join(s.dir, name), nil
}
