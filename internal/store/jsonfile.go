package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/moby/sys/atomicwriter"
)

// JSONFile is a file-backed map from key to record. The whole file is read
// on every operation and rewritten atomically on every mutation, so other
// processes sharing the file observe complete snapshots.
type JSONFile[T any] struct {
	path string
	perm os.FileMode
	mu   sync.Mutex
}

// NewJSONFile returns a JSONFile stored at path. The parent directory is
// created on first write.
func NewJSONFile[T any](path string) *JSONFile[T] {
	return &JSONFile[T]{path: path, perm: 0o600}
}

// Path returns the backing file path.
func (f *JSONFile[T]) Path() string {
	return f.path
}

// Get returns the record stored under key, or ErrNotFound.
func (f *JSONFile[T]) Get(key string) (T, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var zero T
	records, err := f.load()
	if err != nil {
		return zero, err
	}
	rec, ok := records[key]
	if !ok {
		return zero, ErrNotFound
	}
	return rec, nil
}

// Put upserts the record for key.
func (f *JSONFile[T]) Put(key string, rec T) error {
	return f.Update(key, func(_ T, _ bool) (T, bool, error) {
		return rec, true, nil
	})
}

// Delete removes the record for key. Deleting a missing key is not an
// error.
func (f *JSONFile[T]) Delete(key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	records, err := f.load()
	if err != nil {
		return err
	}
	if _, ok := records[key]; !ok {
		return nil
	}
	delete(records, key)
	return f.save(records)
}

// Update runs fn on the current record for key while holding the file
// lock. fn reports whether the key existed and returns the new record and
// whether to keep it; returning keep=false deletes the key.
func (f *JSONFile[T]) Update(key string, fn func(cur T, exists bool) (next T, keep bool, err error)) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	records, err := f.load()
	if err != nil {
		return err
	}
	cur, exists := records[key]
	next, keep, err := fn(cur, exists)
	if err != nil {
		return err
	}
	if keep {
		records[key] = next
	} else {
		if !exists {
			return nil
		}
		delete(records, key)
	}
	return f.save(records)
}

// Keys returns the stored keys in sorted order.
func (f *JSONFile[T]) Keys() ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	records, err := f.load()
	if err != nil {
		return nil, err
	}
	keys := make([]string, 0, len(records))
	for k := range records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys, nil
}

func (f *JSONFile[T]) load() (map[string]T, error) {
	records := make(map[string]T)
	data, err := os.ReadFile(f.path)
	if errors.Is(err, fs.ErrNotExist) {
		return records, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", f.path, err)
	}
	if len(data) == 0 {
		return records, nil
	}
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", f.path, err)
	}
	return records, nil
}

func (f *JSONFile[T]) save(records map[string]T) error {
	data, err := json.MarshalIndent(records, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode records: %w", err)
	}
	if dir := filepath.Dir(f.path); dir != "" {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}
	if err := atomicwriter.WriteFile(f.path, data, f.perm); err != nil {
		return fmt.Errorf("failed to write %s: %w", f.path, err)
	}
	return nil
}
