package search

import (
	"context"
	"strings"

	"github.com/teemow/homesheet/internal/listing"
)

// Source fetches raw listings for criteria. Results may be unordered,
// contain duplicates, or include listings outside the criteria bounds;
// the Service finalizes them. limit is a hint for how many to return.
type Source interface {
	Name() string
	Fetch(ctx context.Context, c listing.Criteria, limit int) ([]listing.Listing, error)
}

// MatchesLocation reports whether every comma-separated part of loc occurs
// in the listing's full address, case-insensitively. "Austin, TX" matches
// "12 Oak St, Austin, TX 78704".
func MatchesLocation(loc string, l listing.Listing) bool {
	haystack := strings.ToLower(l.FullAddress())
	matched := false
	for _, part := range strings.Split(loc, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		if !strings.Contains(haystack, part) {
			return false
		}
		matched = true
	}
	return matched
}
