package search

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/teemow/homesheet/internal/listing"
)

// FileSource serves listings from a JSON array on disk. It backs local
// development and tests; the file is read once at construction.
type FileSource struct {
	path     string
	listings []listing.Listing
}

// NewFileSource loads the listings in path.
func NewFileSource(path string) (*FileSource, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read listings file: %w", err)
	}
	var listings []listing.Listing
	if err := json.Unmarshal(data, &listings); err != nil {
		return nil, fmt.Errorf("failed to parse listings file %s: %w", path, err)
	}
	return &FileSource{path: path, listings: listings}, nil
}

// Name implements Source.
func (s *FileSource) Name() string { return "file" }

// Fetch returns every listing in the location. Bounds are left to the
// Service.
func (s *FileSource) Fetch(ctx context.Context, c listing.Criteria, _ int) ([]listing.Listing, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var out []listing.Listing
	for _, l := range s.listings {
		if MatchesLocation(c.Location, l) {
			out = append(out, l)
		}
	}
	return out, nil
}
