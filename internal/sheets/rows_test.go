package sheets

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teemow/homesheet/internal/listing"
)

func TestBuildValues(t *testing.T) {
	c := listing.Criteria{Location: "Austin, TX"}
	values := BuildValues(c, sampleListings(), sheetTime)

	require.Len(t, values, 4)
	assert.Equal(t, []any{"Found 2 properties in Austin, TX | Generated 2026-03-01 09:30"}, values[0])
	require.Len(t, values[1], len(Headers))
	assert.Equal(t, "Price ($)", values[1][priceColumn])

	first := values[2]
	require.Len(t, first, len(Headers))
	assert.Equal(t, "https://example.com/1", first[0])
	assert.Equal(t, 465000, first[1])
	assert.Equal(t, "78749", first[5])
	assert.Equal(t, 4, first[6])
	assert.Equal(t, 2.0, first[7])
	assert.Equal(t, 1900, first[8])
	assert.Equal(t, "single_family", first[9])
	assert.Equal(t, "redfin", first[10])

	second := values[3]
	assert.Equal(t, "N/A", second[0])
	assert.Equal(t, "N/A", second[5], "zip")
	assert.Equal(t, "N/A", second[7], "baths")
	assert.Equal(t, "N/A", second[8], "sqft")
	assert.Equal(t, "N/A", second[9], "property type")
}

func TestBuildValues_Empty(t *testing.T) {
	assert.Equal(t, [][]any{{NoListingsText}}, BuildValues(listing.Criteria{Location: "x"}, nil, sheetTime))
}

func TestTitle(t *testing.T) {
	c := listing.Criteria{Location: "Denver, CO", ListingType: listing.ForRent}
	assert.Equal(t, "Real Estate: Denver, CO (for_rent) - 2026-03-01 09:30", Title(c, sheetTime))
}
