package anthropic

import (
	"encoding/json"

	"github.com/teemow/homesheet/internal/workflow"
)

var tools = []toolSpec{
	{
		Name: workflow.ToolSearchListings,
		Description: "Search real estate listings (Zillow, Realtor.com, Redfin). " +
			"Call this first with the parsed search criteria.",
		InputSchema: json.RawMessage(`{
  "type": "object",
  "properties": {
    "location":      {"type": "string", "description": "City, State or zip code"},
    "listing_type":  {"type": "string", "enum": ["for_sale", "for_rent", "sold"]},
    "min_price":     {"type": "integer", "description": "Minimum price in USD"},
    "max_price":     {"type": "integer", "description": "Maximum price in USD"},
    "min_beds":      {"type": "integer"},
    "max_beds":      {"type": "integer"},
    "min_baths":     {"type": "number"},
    "max_baths":     {"type": "number"},
    "min_sqft":      {"type": "integer"},
    "max_sqft":      {"type": "integer"},
    "property_type": {
      "type": "array",
      "items": {"type": "string", "enum": ["single_family", "condo", "townhouse", "multi_family"]}
    },
    "past_days":     {"type": "integer", "description": "Listings from last N days (default 30)"},
    "keywords":      {"type": "array", "items": {"type": "string"}}
  },
  "required": ["location", "listing_type"]
}`),
	},
	{
		Name: workflow.ToolCreateSheet,
		Description: "Create a Google Sheet with the listings found by search_listings. " +
			"Only call this after search_listings returns results.",
		InputSchema: json.RawMessage(`{"type": "object", "properties": {}, "required": []}`),
	},
}
