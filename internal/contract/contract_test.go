package contract

import (
	"testing"
	"time"
)

func TestParseSlug_Valid(t *testing.T) {
	s, err := ParseSlug("politics-us-election-2028-winner-20281104")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if s.Category != CategoryPolitics {
		t.Errorf("expected category=politics, got %s", s.Category)
	}
	if s.Keywords != "us-election-2028-winner" {
		t.Errorf("expected keywords=us-election-2028-winner, got %s", s.Keywords)
	}
	expected := time.Date(2028, 11, 4, 0, 0, 0, 0, time.UTC)
	if !s.CloseAt.Equal(expected) {
		t.Errorf("expected close_at=%v, got %v", expected, s.CloseAt)
	}
}

func TestParseSlug_InvalidFormat(t *testing.T) {
	tests := []string{
		"",
		"INVALID",
		"politics",
		"politics-election",
		"politics-election-notadate",
		"Politics-election-20281104", // uppercase category not allowed
		"politics-20281104",          // missing keywords segment
	}
	for _, slug := range tests {
		if _, err := ParseSlug(slug); err == nil {
			t.Errorf("expected error for slug %q", slug)
		}
	}
}

func TestParseSlug_InvalidCategory(t *testing.T) {
	_, err := ParseSlug("nonsense-us-election-20281104")
	if err == nil {
		t.Error("expected error for unsupported category")
	}
}

func TestParseSlug_AllCategories(t *testing.T) {
	categories := []string{
		CategoryPolitics, CategorySports, CategoryCrypto,
		CategoryWeather, CategoryEconomics, CategoryEntertainment, CategoryOther,
	}
	for _, cat := range categories {
		slug := cat + "-sample-keyword-20281231"
		s, err := ParseSlug(slug)
		if err != nil {
			t.Errorf("unexpected error for category %s: %v", cat, err)
		}
		if s.Category != cat {
			t.Errorf("expected category=%s, got %s", cat, s.Category)
		}
	}
}

func TestValidateSlug(t *testing.T) {
	if err := ValidateSlug("sports-superbowl-lx-winner-20260208"); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
	if err := ValidateSlug("not-a-valid-slug"); err == nil {
		t.Error("expected error for malformed slug")
	}
}
