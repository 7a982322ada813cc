// Package contract validates and parses market slugs: short,
// human-readable identifiers of the form
// {category}-{keywords}-{YYYYMMDD}, generalized from the teacher's
// ticker-regex-parsing idiom (ATMX-{h3cell}-{type}-{threshold}-{date})
// with the weather-specific fields replaced by a category enum and a
// free-form keyword segment.
package contract

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// Supported market categories.
const (
	CategoryPolitics      = "politics"
	CategorySports        = "sports"
	CategoryCrypto        = "crypto"
	CategoryWeather       = "weather"
	CategoryEconomics     = "economics"
	CategoryEntertainment = "entertainment"
	CategoryOther         = "other"
)

var validCategories = map[string]bool{
	CategoryPolitics:      true,
	CategorySports:        true,
	CategoryCrypto:        true,
	CategoryWeather:       true,
	CategoryEconomics:     true,
	CategoryEntertainment: true,
	CategoryOther:         true,
}

// slugRegex matches: {category}-{keywords}-{YYYYMMDD}
// Example: politics-us-election-2028-winner-20281104
var slugRegex = regexp.MustCompile(`^([a-z]+)-([a-z0-9]+(?:-[a-z0-9]+)*)-(\d{8})$`)

var (
	ErrInvalidSlug     = errors.New("contract: invalid market slug format")
	ErrInvalidCategory = errors.New("contract: unsupported market category")
)

// Slug is a parsed market slug.
type Slug struct {
	Raw      string    `json:"slug"`
	Category string    `json:"category"`
	Keywords string    `json:"keywords"`
	CloseAt  time.Time `json:"close_at"`
}

// ParseSlug parses and validates a market slug string.
// Format: {category}-{keywords}-{YYYYMMDD}
func ParseSlug(slug string) (*Slug, error) {
	matches := slugRegex.FindStringSubmatch(slug)
	if matches == nil {
		return nil, fmt.Errorf("%w: %s (expected category-keywords-YYYYMMDD)", ErrInvalidSlug, slug)
	}

	category := matches[1]
	keywords := matches[2]
	dateStr := matches[3]

	if !validCategories[category] {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCategory, category)
	}

	closeAt, err := time.Parse("20060102", dateStr)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid date %s", ErrInvalidSlug, dateStr)
	}

	return &Slug{
		Raw:      slug,
		Category: category,
		Keywords: keywords,
		CloseAt:  closeAt,
	}, nil
}

// ValidateSlug reports only whether slug is well-formed.
func ValidateSlug(slug string) error {
	_, err := ParseSlug(slug)
	return err
}
