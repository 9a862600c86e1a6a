// Package rules is a deterministic Reasoner with no network dependency.
// It parses criteria with regular expressions and drives the tool loop with
// a fixed script: search, then sheet, then summary.
package rules

import (
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/teemow/homesheet/internal/listing"
)

var (
	amount = `\$?\s*(\d+(?:[.,]\d+)*)\s*(k|m|thousand|million)?\b`

	betweenRe = regexp.MustCompile(`(?i)\bbetween\s+` + amount + `\s+(?:and|to|-)\s+` + amount)
	rangeRe   = regexp.MustCompile(`(?i)\$\s*(\d+(?:[.,]\d+)*)\s*(k|m)?\s*(?:-|to)\s*\$?\s*(\d+(?:[.,]\d+)*)\s*(k|m)?\b`)
	maxRe     = regexp.MustCompile(`(?i)\b(?:under|below|less than|up to|max(?:imum)?|at most|no more than)\s+` + amount)
	minRe     = regexp.MustCompile(`(?i)\b(?:over|above|more than|at least|min(?:imum)?|starting at|from)\s+` + amount)
	bedsRe    = regexp.MustCompile(`(?i)\b(\d+)\s*\+?\s*-?\s*(?:bed(?:room)?s?|br|bd)\b`)
	bathsRe   = regexp.MustCompile(`(?i)\b(\d+(?:\.\d+)?)\s*\+?\s*-?\s*(?:bath(?:room)?s?|ba)\b`)
	sqftRe    = regexp.MustCompile(`(?i)\b(\d[\d,]*)\s*\+?\s*(?:sq\.?\s*ft|sqft|square\s+feet|sf)\b`)
	daysRe    = regexp.MustCompile(`(?i)\b(?:last|past)\s+(\d+)\s+days?\b`)
	zipRe     = regexp.MustCompile(`\b(\d{5})\b`)
	locRe     = regexp.MustCompile(`(?i)\b(?:in|near|around)\s+([a-z][a-z .'-]*?(?:,\s*[a-z]{2}\b)?)(?:\s+(?:under|below|over|above|with|for|between|less|more|at|from|up|max|min|listed|that|and|built)\b|[,.;!?]|\s+\$|\s+\d|$)`)
	typeRe    = regexp.MustCompile(`(?i)\b(single[ _-]family|multi[ _-]family|houses?|homes?|condos?|apartments?|townhouses?|townhomes?|duplex)\b`)
	rentRe    = regexp.MustCompile(`(?i)\b(?:for rent|rent(?:al|als|ing)?|lease|leasing)\b`)
	soldRe    = regexp.MustCompile(`(?i)\b(?:sold|recently sold)\b`)
	weekRe    = regexp.MustCompile(`(?i)\b(?:this|past|last) week\b`)
	keywordRe = regexp.MustCompile(`(?i)\bwith\s+(?:a\s+|an\s+)?([a-z]+)\b`)
)

// stopwords never count as a location or keyword.
var stopwords = map[string]bool{
	"the": true, "a": true, "an": true, "my": true, "area": true,
	"last": true, "past": true, "next": true, "this": true,
	"at": true, "least": true, "most": true, "no": true, "more": true, "less": true,
	"bed": true, "beds": true, "bedroom": true, "bedrooms": true,
	"bath": true, "baths": true, "bathroom": true, "bathrooms": true,
}

// ParseCriteria extracts search criteria from free text. Fields it cannot
// find are left unset; an empty Location means no location was found.
func ParseCriteria(text string) listing.Criteria {
	c := listing.Criteria{ListingType: listing.ForSale}

	switch {
	case rentRe.MatchString(text):
		c.ListingType = listing.ForRent
	case soldRe.MatchString(text):
		c.ListingType = listing.Sold
	}

	c.Location = parseLocation(text)

	priceText := sqftRe.ReplaceAllString(text, " ")
	if m := betweenRe.FindStringSubmatch(priceText); m != nil {
		c.MinPrice = parseAmount(m[1], m[2])
		c.MaxPrice = parseAmount(m[3], m[4])
	} else if m := rangeRe.FindStringSubmatch(priceText); m != nil {
		c.MinPrice = parseAmount(m[1], m[2])
		c.MaxPrice = parseAmount(m[3], m[4])
	} else {
		if m := maxRe.FindStringSubmatch(priceText); m != nil && !isCount(priceText, m[0]) {
			c.MaxPrice = parseAmount(m[1], m[2])
		}
		if m := minRe.FindStringSubmatch(priceText); m != nil && !isCount(priceText, m[0]) {
			c.MinPrice = parseAmount(m[1], m[2])
		}
	}

	if m := bedsRe.FindStringSubmatch(text); m != nil {
		c.MinBeds = atoi(m[1])
	}
	if m := bathsRe.FindStringSubmatch(text); m != nil {
		if v, err := strconv.ParseFloat(m[1], 64); err == nil {
			c.MinBaths = &v
		}
	}
	if m := sqftRe.FindStringSubmatch(text); m != nil {
		c.MinSqft = atoi(strings.ReplaceAll(m[1], ",", ""))
	}

	for _, m := range typeRe.FindAllStringSubmatch(text, -1) {
		word := strings.ToLower(strings.NewReplacer("-", " ", "_", " ").Replace(m[1]))
		if pt, ok := listing.ParsePropertyType(word); ok {
			c.PropertyTypes = append(c.PropertyTypes, pt)
		}
	}

	switch {
	case daysRe.MatchString(text):
		if n := atoi(daysRe.FindStringSubmatch(text)[1]); n != nil {
			c.PastDays = *n
		}
	case weekRe.MatchString(text):
		c.PastDays = 7
	}

	for _, m := range keywordRe.FindAllStringSubmatch(text, -1) {
		kw := strings.ToLower(m[1])
		if stopwords[kw] {
			continue
		}
		c.Keywords = append(c.Keywords, kw)
	}

	c.Normalize()
	return c
}

func parseLocation(text string) string {
	for _, m := range locRe.FindAllStringSubmatch(text, -1) {
		loc := strings.Trim(strings.TrimSpace(m[1]), ",")
		if loc == "" {
			continue
		}
		if first := strings.ToLower(strings.Fields(loc)[0]); stopwords[first] {
			continue
		}
		return titleCase(loc)
	}
	if m := zipRe.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return ""
}

var stateCodes = strings.Fields(`AL AK AZ AR CA CO CT DE DC FL GA HI ID IL IN IA KS KY LA ME MD
	MA MI MN MS MO MT NE NV NH NJ NM NY NC ND OH OK OR PA RI SC SD TN TX UT VT VA WA WV WI WY`)

func isStateCode(s string) bool {
	s = strings.ToUpper(s)
	for _, code := range stateCodes {
		if code == s {
			return true
		}
	}
	return false
}

// titleCase capitalizes words and formats a trailing state code as
// "City, ST".
func titleCase(loc string) string {
	parts := strings.Split(loc, ",")
	words := strings.Fields(parts[0])
	state := ""
	if len(parts) > 1 {
		state = strings.TrimSpace(parts[1])
	} else if n := len(words); n > 1 && isStateCode(words[n-1]) {
		state = words[n-1]
		words = words[:n-1]
	}
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + strings.ToLower(w[1:])
	}
	out := strings.Join(words, " ")
	if state != "" {
		out += ", " + strings.ToUpper(state)
	}
	return out
}

// isCount reports whether the matched amount is followed by a bed, bath or
// sqft unit, as in "at least 3 bedrooms".
func isCount(text, match string) bool {
	idx := strings.Index(text, match)
	if idx < 0 {
		return false
	}
	rest := strings.TrimSpace(text[idx+len(match):])
	rest = strings.ToLower(rest)
	for _, unit := range []string{"bed", "br", "bd", "bath", "ba"} {
		if strings.HasPrefix(rest, unit) {
			return true
		}
	}
	return false
}

// maxAmount bounds parsed prices so the float to int conversion cannot
// wrap.
const maxAmount = 1e12

func parseAmount(num, unit string) *int {
	v, err := strconv.ParseFloat(strings.ReplaceAll(num, ",", ""), 64)
	if err != nil {
		return nil
	}
	switch strings.ToLower(unit) {
	case "k", "thousand":
		v *= 1_000
	case "m", "million":
		v *= 1_000_000
	}
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	n := int(math.Round(math.Min(v, maxAmount)))
	return &n
}

func atoi(s string) *int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return nil
	}
	return &n
}
