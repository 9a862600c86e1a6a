// Package listing holds the search criteria and listing records shared by
// the search, sheet and workflow packages, plus the ordering contract every
// search result satisfies.
package listing

import (
	"sort"
	"strings"
	"time"
)

// DefaultLimit caps how many listings one search returns.
const DefaultLimit = 20

// Listing is one retrieved property record. Values are copied on every
// hand-off and never mutated after a source returns them.
type Listing struct {
	Address      string       `json:"address"`
	City         string       `json:"city,omitempty"`
	State        string       `json:"state,omitempty"`
	ZipCode      string       `json:"zip_code,omitempty"`
	Price        int          `json:"price"`
	Beds         int          `json:"beds"`
	Baths        float64      `json:"baths"`
	Sqft         int          `json:"sqft,omitempty"`
	PropertyType PropertyType `json:"property_type,omitempty"`
	ListingType  ListingType  `json:"listing_type,omitempty"`
	URL          string       `json:"url,omitempty"`
	Source       string       `json:"source"`
	ListedAt     time.Time    `json:"listed_at,omitempty"`
	Description  string       `json:"description,omitempty"`
}

// Key identifies a listing for deduplication: the normalized address plus
// the source it came from.
func (l Listing) Key() string {
	return normalizeAddress(l.Address) + "|" + strings.ToLower(strings.TrimSpace(l.Source))
}

// FullAddress joins the street address with city, state and zip when known.
func (l Listing) FullAddress() string {
	parts := []string{strings.TrimSpace(l.Address)}
	if l.City != "" {
		parts = append(parts, l.City)
	}
	stateZip := strings.TrimSpace(l.State + " " + l.ZipCode)
	if stateZip != "" {
		parts = append(parts, stateZip)
	}
	return strings.Join(parts, ", ")
}

func normalizeAddress(addr string) string {
	return strings.Join(strings.Fields(strings.ToLower(addr)), " ")
}

// Finalize applies the ordering contract to raw source results: only
// listings matching c survive, duplicates by (address, source) collapse to
// the cheapest one, the result is sorted by price ascending (ties by
// address, then source) and truncated to limit. limit <= 0 means
// DefaultLimit. The input slice is not modified.
func Finalize(c Criteria, raw []Listing, limit int) []Listing {
	return FinalizeAt(c, raw, limit, time.Now())
}

// FinalizeAt is Finalize with an explicit reference time for the recency
// window.
func FinalizeAt(c Criteria, raw []Listing, limit int, now time.Time) []Listing {
	if limit <= 0 {
		limit = DefaultLimit
	}

	seen := make(map[string]int, len(raw))
	out := make([]Listing, 0, len(raw))
	for _, l := range raw {
		if !c.MatchesAt(l, now) {
			continue
		}
		key := l.Key()
		if idx, ok := seen[key]; ok {
			if l.Price < out[idx].Price {
				out[idx] = l
			}
			continue
		}
		seen[key] = len(out)
		out = append(out, l)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Price != out[j].Price {
			return out[i].Price < out[j].Price
		}
		ai, aj := normalizeAddress(out[i].Address), normalizeAddress(out[j].Address)
		if ai != aj {
			return ai < aj
		}
		return out[i].Source < out[j].Source
	})

	if len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Clone returns an independent copy of listings.
func Clone(listings []Listing) []Listing {
	if listings == nil {
		return nil
	}
	out := make([]Listing, len(listings))
	copy(out, listings)
	return out
}

// Summary holds the price statistics reported back to the reasoner and
// written into the sheet header.
type Summary struct {
	Count    int `json:"num_results"`
	PriceMin int `json:"price_min"`
	PriceMax int `json:"price_max"`
	PriceAvg int `json:"price_avg"`
}

// Summarize computes count and price statistics over listings.
func Summarize(listings []Listing) Summary {
	s := Summary{Count: len(listings)}
	if len(listings) == 0 {
		return s
	}
	var total int64
	s.PriceMin = listings[0].Price
	for _, l := range listings {
		if l.Price < s.PriceMin {
			s.PriceMin = l.Price
		}
		if l.Price > s.PriceMax {
			s.PriceMax = l.Price
		}
		total += int64(l.Price)
	}
	s.PriceAvg = int(total / int64(len(listings)))
	return s
}
