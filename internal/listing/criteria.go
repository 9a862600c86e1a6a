package listing

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/teemow/homesheet/internal/validation"
)

// ListingType selects the market a search runs against.
type ListingType string

const (
	ForSale ListingType = "for_sale"
	ForRent ListingType = "for_rent"
	Sold    ListingType = "sold"
)

// PropertyType is a normalized property category.
type PropertyType string

const (
	SingleFamily PropertyType = "single_family"
	Condo        PropertyType = "condo"
	Townhouse    PropertyType = "townhouse"
	MultiFamily  PropertyType = "multi_family"
)

// DefaultPastDays is the recency window applied when none is given.
const DefaultPastDays = 30

var propertyTypeAliases = map[string]PropertyType{
	"single_family": SingleFamily,
	"single family": SingleFamily,
	"house":         SingleFamily,
	"houses":        SingleFamily,
	"home":          SingleFamily,
	"homes":         SingleFamily,
	"condo":         Condo,
	"condos":        Condo,
	"apartment":     Condo,
	"apartments":    Condo,
	"townhouse":     Townhouse,
	"townhouses":    Townhouse,
	"townhome":      Townhouse,
	"townhomes":     Townhouse,
	"multi_family":  MultiFamily,
	"multi family":  MultiFamily,
	"duplex":        MultiFamily,
}

// ParsePropertyType maps a user-facing name to a PropertyType.
func ParsePropertyType(s string) (PropertyType, bool) {
	pt, ok := propertyTypeAliases[strings.ToLower(strings.TrimSpace(s))]
	return pt, ok
}

// Criteria is the structured form of a housing search.
type Criteria struct {
	Location      string         `json:"location" validate:"required"`
	ListingType   ListingType    `json:"listing_type" validate:"oneof=for_sale for_rent sold"`
	MinPrice      *int           `json:"min_price,omitempty" validate:"omitempty,gte=0"`
	MaxPrice      *int           `json:"max_price,omitempty" validate:"omitempty,gte=0"`
	MinBeds       *int           `json:"min_beds,omitempty" validate:"omitempty,gte=0,lte=50"`
	MaxBeds       *int           `json:"max_beds,omitempty" validate:"omitempty,gte=0,lte=50"`
	MinBaths      *float64       `json:"min_baths,omitempty" validate:"omitempty,gte=0,lte=50"`
	MaxBaths      *float64       `json:"max_baths,omitempty" validate:"omitempty,gte=0,lte=50"`
	MinSqft       *int           `json:"min_sqft,omitempty" validate:"omitempty,gte=0"`
	MaxSqft       *int           `json:"max_sqft,omitempty" validate:"omitempty,gte=0"`
	PropertyTypes []PropertyType `json:"property_type,omitempty" validate:"dive,oneof=single_family condo townhouse multi_family"`
	PastDays      int            `json:"past_days" validate:"gte=0,lte=3650"`
	Keywords      []string       `json:"keywords,omitempty"`
}

// Normalize applies defaults and canonicalizes enum values in place.
// Unknown property types are dropped.
func (c *Criteria) Normalize() {
	c.Location = strings.Join(strings.Fields(c.Location), " ")
	c.ListingType = ListingType(strings.ToLower(strings.TrimSpace(string(c.ListingType))))
	if c.ListingType == "" {
		c.ListingType = ForSale
	}
	if c.PastDays == 0 {
		c.PastDays = DefaultPastDays
	}

	var types []PropertyType
	seen := make(map[PropertyType]bool)
	for _, raw := range c.PropertyTypes {
		pt, ok := ParsePropertyType(string(raw))
		if !ok || seen[pt] {
			continue
		}
		seen[pt] = true
		types = append(types, pt)
	}
	c.PropertyTypes = types

	var keywords []string
	for _, kw := range c.Keywords {
		kw = strings.ToLower(strings.TrimSpace(kw))
		if kw != "" {
			keywords = append(keywords, kw)
		}
	}
	c.Keywords = keywords
}

// Validate checks field constraints and that every lower bound does not
// exceed its upper bound. It returns nil or *validation.Error.
func (c Criteria) Validate() error {
	verr := &validation.Error{}
	if err := validation.Struct(c); err != nil {
		fe, ok := err.(*validation.Error)
		if !ok {
			return err
		}
		verr = fe
	}
	checkBounds(verr, "price", c.MinPrice, c.MaxPrice)
	checkBounds(verr, "beds", c.MinBeds, c.MaxBeds)
	checkBounds(verr, "sqft", c.MinSqft, c.MaxSqft)
	checkBounds(verr, "baths", c.MinBaths, c.MaxBaths)
	return verr.OrNil()
}

func checkBounds[T int | float64](verr *validation.Error, name string, lo, hi *T) {
	if lo != nil && hi != nil && *lo > *hi {
		verr.Add("max_"+name, fmt.Sprintf("must be greater than or equal to min_%s", name))
	}
}

// Matches reports whether l satisfies every bound in c. Listings with an
// unknown listed date pass the recency window.
func (c Criteria) Matches(l Listing) bool {
	return c.MatchesAt(l, time.Now())
}

// MatchesAt is Matches with an explicit reference time for the recency
// window.
func (c Criteria) MatchesAt(l Listing, now time.Time) bool {
	if c.MinPrice != nil && l.Price < *c.MinPrice {
		return false
	}
	if c.MaxPrice != nil && l.Price > *c.MaxPrice {
		return false
	}
	if c.MinBeds != nil && l.Beds < *c.MinBeds {
		return false
	}
	if c.MaxBeds != nil && l.Beds > *c.MaxBeds {
		return false
	}
	if c.MinBaths != nil && l.Baths < *c.MinBaths {
		return false
	}
	if c.MaxBaths != nil && l.Baths > *c.MaxBaths {
		return false
	}
	if c.MinSqft != nil && l.Sqft < *c.MinSqft {
		return false
	}
	if c.MaxSqft != nil && l.Sqft > *c.MaxSqft {
		return false
	}
	if len(c.PropertyTypes) > 0 && !containsType(c.PropertyTypes, l.PropertyType) {
		return false
	}
	if c.ListingType != "" && l.ListingType != "" && c.ListingType != l.ListingType {
		return false
	}
	if c.PastDays > 0 && !l.ListedAt.IsZero() && l.ListedAt.Before(now.AddDate(0, 0, -c.PastDays)) {
		return false
	}
	if len(c.Keywords) > 0 {
		haystack := strings.ToLower(l.FullAddress() + " " + l.Description)
		for _, kw := range c.Keywords {
			if !strings.Contains(haystack, kw) {
				return false
			}
		}
	}
	return true
}

func containsType(types []PropertyType, pt PropertyType) bool {
	for _, t := range types {
		if t == pt {
			return true
		}
	}
	return false
}

// FilterKey projects the fields that drive filtering into a comparable
// string. Two parses of the same request text are expected to agree on it.
func (c Criteria) FilterKey() string {
	n := c.Clone()
	n.Normalize()
	n.Location = strings.ToLower(n.Location)
	n.Keywords = nil
	b, _ := json.Marshal(n)
	return string(b)
}

// CacheKey is a stable hash of the normalized criteria.
func (c Criteria) CacheKey() string {
	n := c.Clone()
	n.Normalize()
	n.Location = strings.ToLower(n.Location)
	b, _ := json.Marshal(n)
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:16])
}

// Clone returns a deep copy of c.
func (c Criteria) Clone() Criteria {
	out := c
	out.MinPrice = cloneInt(c.MinPrice)
	out.MaxPrice = cloneInt(c.MaxPrice)
	out.MinBeds = cloneInt(c.MinBeds)
	out.MaxBeds = cloneInt(c.MaxBeds)
	out.MinSqft = cloneInt(c.MinSqft)
	out.MaxSqft = cloneInt(c.MaxSqft)
	if c.MinBaths != nil {
		v := *c.MinBaths
		out.MinBaths = &v
	}
	if c.MaxBaths != nil {
		v := *c.MaxBaths
		out.MaxBaths = &v
	}
	if c.PropertyTypes != nil {
		out.PropertyTypes = append([]PropertyType(nil), c.PropertyTypes...)
	}
	if c.Keywords != nil {
		out.Keywords = append([]string(nil), c.Keywords...)
	}
	return out
}

// Describe renders c as the bullet list shown to the reasoner and in logs.
func (c Criteria) Describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "- Location     : %s\n", c.Location)
	fmt.Fprintf(&b, "- Listing type : %s\n", c.ListingType)
	fmt.Fprintf(&b, "- Price range  : %s - %s\n", dollars(c.MinPrice), dollars(c.MaxPrice))
	fmt.Fprintf(&b, "- Beds         : %s\n", rangeText(c.MinBeds, c.MaxBeds))
	types := "any"
	if len(c.PropertyTypes) > 0 {
		names := make([]string, len(c.PropertyTypes))
		for i, pt := range c.PropertyTypes {
			names[i] = string(pt)
		}
		types = strings.Join(names, ", ")
	}
	fmt.Fprintf(&b, "- Property type: %s\n", types)
	fmt.Fprintf(&b, "- Listed within: %d days", c.PastDays)
	return b.String()
}

func dollars(v *int) string {
	if v == nil {
		return "any"
	}
	return FormatPrice(*v)
}

func rangeText(lo, hi *int) string {
	switch {
	case lo == nil && hi == nil:
		return "any"
	case hi == nil:
		return fmt.Sprintf("%d+", *lo)
	case lo == nil:
		return fmt.Sprintf("up to %d", *hi)
	default:
		return fmt.Sprintf("%d-%d", *lo, *hi)
	}
}

// FormatPrice renders whole dollars with thousands separators, e.g. $425,000.
func FormatPrice(price int) string {
	neg := price < 0
	if neg {
		price = -price
	}
	digits := fmt.Sprintf("%d", price)
	var b strings.Builder
	for i, r := range digits {
		if i > 0 && (len(digits)-i)%3 == 0 {
			b.WriteByte(',')
		}
		b.WriteRune(r)
	}
	if neg {
		return "-$" + b.String()
	}
	return "$" + b.String()
}

// Int returns a pointer to v, for optional bounds.
func Int(v int) *int { return &v }

// Float returns a pointer to v, for optional bounds.
func Float(v float64) *float64 { return &v }

func cloneInt(p *int) *int {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
