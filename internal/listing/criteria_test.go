package listing

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/homesheet/internal/validation"
)

func TestNormalize(t *testing.T) {
	c := Criteria{
		Location:      "  Austin,   TX ",
		ListingType:   " FOR_RENT ",
		PropertyTypes: []PropertyType{"house", "condos", "Townhomes", "single_family", "castle"},
		Keywords:      []string{" Pool ", ""},
	}
	c.Normalize()

	assert.Equal(t, "Austin, TX", c.Location)
	assert.Equal(t, ForRent, c.ListingType)
	assert.Equal(t, []PropertyType{SingleFamily, Condo, Townhouse}, c.PropertyTypes)
	assert.Equal(t, DefaultPastDays, c.PastDays)
	assert.Equal(t, []string{"pool"}, c.Keywords)

	var empty Criteria
	empty.Normalize()
	assert.Equal(t, ForSale, empty.ListingType)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name       string
		criteria   Criteria
		wantFields []string
	}{
		{
			name:     "valid",
			criteria: Criteria{Location: "Austin", ListingType: ForSale, MaxPrice: Int(500000), PastDays: 30},
		},
		{
			name:       "missing location",
			criteria:   Criteria{ListingType: ForSale, PastDays: 30},
			wantFields: []string{"location"},
		},
		{
			name:       "bad listing type",
			criteria:   Criteria{Location: "Austin", ListingType: "lease", PastDays: 30},
			wantFields: []string{"listing_type"},
		},
		{
			name: "inverted bounds",
			criteria: Criteria{
				Location: "Austin", ListingType: ForSale, PastDays: 30,
				MinPrice: Int(600000), MaxPrice: Int(500000),
				MinBaths: Float(3), MaxBaths: Float(1.5),
			},
			wantFields: []string{"max_price", "max_baths"},
		},
		{
			name:       "negative price",
			criteria:   Criteria{Location: "Austin", ListingType: ForSale, PastDays: 30, MinPrice: Int(-1)},
			wantFields: []string{"min_price"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.criteria.Validate()
			if len(tt.wantFields) == 0 {
				require.NoError(t, err)
				return
			}
			var verr *validation.Error
			require.True(t, errors.As(err, &verr), "got %v", err)
			for _, f := range tt.wantFields {
				assert.Contains(t, verr.Fields, f)
			}
		})
	}
}

func TestMatchesAt(t *testing.T) {
	now := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	c := Criteria{
		Location:      "Austin",
		ListingType:   ForSale,
		MinBeds:       Int(3),
		MaxPrice:      Int(500000),
		MinBaths:      Float(2),
		PropertyTypes: []PropertyType{SingleFamily},
		PastDays:      30,
		Keywords:      []string{"pool"},
	}
	base := Listing{
		Address: "1 Elm St", Price: 450000, Beds: 3, Baths: 2.5,
		PropertyType: SingleFamily, ListingType: ForSale,
		ListedAt: now.AddDate(0, 0, -5), Description: "Backyard pool",
	}
	require.True(t, c.MatchesAt(base, now))

	tests := []struct {
		name   string
		mutate func(*Listing)
	}{
		{"too expensive", func(l *Listing) { l.Price = 500001 }},
		{"too few beds", func(l *Listing) { l.Beds = 2 }},
		{"too few baths", func(l *Listing) { l.Baths = 1 }},
		{"wrong type", func(l *Listing) { l.PropertyType = Condo }},
		{"wrong market", func(l *Listing) { l.ListingType = ForRent }},
		{"stale", func(l *Listing) { l.ListedAt = now.AddDate(0, 0, -31) }},
		{"missing keyword", func(l *Listing) { l.Description = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l := base
			tt.mutate(&l)
			assert.False(t, c.MatchesAt(l, now))
		})
	}

	undated := base
	undated.ListedAt = time.Time{}
	assert.True(t, c.MatchesAt(undated, now), "unknown listed date passes")
}

func TestFilterKeyStableAcrossCosmeticDifferences(t *testing.T) {
	a := Criteria{Location: "Austin", MinBeds: Int(3), MaxPrice: Int(500000), PropertyTypes: []PropertyType{"house"}}
	b := Criteria{Location: " austin ", ListingType: ForSale, MinBeds: Int(3), MaxPrice: Int(500000),
		PropertyTypes: []PropertyType{SingleFamily, "home"}, PastDays: 30, Keywords: []string{"x"}}
	assert.Equal(t, a.FilterKey(), b.FilterKey())

	c := a.Clone()
	c.MaxPrice = Int(400000)
	assert.NotEqual(t, a.FilterKey(), c.FilterKey())
	assert.NotEqual(t, a.CacheKey(), c.CacheKey())
	assert.Equal(t, a.CacheKey(), a.Clone().CacheKey())
}

func TestCloneIsDeep(t *testing.T) {
	a := Criteria{Location: "Austin", MaxPrice: Int(1), PropertyTypes: []PropertyType{Condo}}
	b := a.Clone()
	*b.MaxPrice = 2
	b.PropertyTypes[0] = Townhouse
	assert.Equal(t, 1, *a.MaxPrice)
	assert.Equal(t, Condo, a.PropertyTypes[0])
}

func TestFormatPrice(t *testing.T) {
	tests := map[int]string{
		0:       "$0",
		999:     "$999",
		1000:    "$1,000",
		425000:  "$425,000",
		1250000: "$1,250,000",
		-5000:   "-$5,000",
	}
	for in, want := range tests {
		assert.Equal(t, want, FormatPrice(in))
	}
}

func TestDescribe(t *testing.T) {
	c := Criteria{Location: "Austin", ListingType: ForSale, MinBeds: Int(3), MaxPrice: Int(500000), PastDays: 30,
		PropertyTypes: []PropertyType{SingleFamily}}
	d := c.Describe()
	assert.Contains(t, d, "Austin")
	assert.Contains(t, d, "any - $500,000")
	assert.Contains(t, d, "3+")
	assert.Contains(t, d, "single_family")
}
