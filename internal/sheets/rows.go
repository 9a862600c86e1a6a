package sheets

import (
	"fmt"
	"time"

	"github.com/teemow/homesheet/internal/listing"
)

// WorksheetName is the title of the single worksheet in every sheet.
const WorksheetName = "Listings"

// NoListingsText fills A1 when a search came back empty.
const NoListingsText = "No listings found matching your criteria."

const notAvailable = "N/A"

// Headers are the worksheet columns, in order.
var Headers = []string{
	"Listing Link",
	"Price ($)",
	"Street Address",
	"City",
	"State",
	"Zip Code",
	"Beds",
	"Baths",
	"Size (sqft)",
	"Property Type",
	"Source",
}

// priceColumn is the zero-based index of "Price ($)".
const priceColumn = 1

// Title names a new spreadsheet.
func Title(c listing.Criteria, at time.Time) string {
	return fmt.Sprintf("Real Estate: %s (%s) - %s", c.Location, c.ListingType, at.Format("2006-01-02 15:04"))
}

// SummaryLine is the merged first row of the worksheet.
func SummaryLine(count int, location string, at time.Time) string {
	return fmt.Sprintf("Found %d properties in %s | Generated %s", count, location, at.Format("2006-01-02 15:04"))
}

// BuildValues lays out the worksheet: summary row, header row, then one
// row per listing. Missing values read "N/A". An empty search yields a
// single NoListingsText cell.
func BuildValues(c listing.Criteria, listings []listing.Listing, at time.Time) [][]any {
	if len(listings) == 0 {
		return [][]any{{NoListingsText}}
	}

	values := make([][]any, 0, len(listings)+2)
	values = append(values, []any{SummaryLine(len(listings), c.Location, at)})

	header := make([]any, len(Headers))
	for i, h := range Headers {
		header[i] = h
	}
	values = append(values, header)

	for _, l := range listings {
		values = append(values, []any{
			text(l.URL),
			l.Price,
			text(l.Address),
			text(l.City),
			text(l.State),
			text(l.ZipCode),
			positiveInt(l.Beds),
			baths(l.Baths),
			positiveInt(l.Sqft),
			text(string(l.PropertyType)),
			text(l.Source),
		})
	}
	return values
}

func text(s string) any {
	if s == "" {
		return notAvailable
	}
	return s
}

func positiveInt(v int) any {
	if v <= 0 {
		return notAvailable
	}
	return v
}

func baths(v float64) any {
	if v <= 0 {
		return notAvailable
	}
	return v
}
