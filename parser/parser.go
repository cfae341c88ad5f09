package parser

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/aluiziolira/reviewharvest/models"
)

// DefaultHelpfulText stands in for a missing helpful-vote statement.
const DefaultHelpfulText = "0 people found this helpful"

// MaxRating is the upper bound of every supported site's star scale.
const MaxRating = 5.0

var (
	numberPattern     = regexp.MustCompile(`[0-9]+(?:[.,][0-9]+)*`)
	innerWhitespace   = regexp.MustCompile(`\s\s+`)
	ratingOutOfSuffix = regexp.MustCompile(`(?i)\s+out\s+of\s+.*$`)
)

// ValidateProduct ensures the adapter captured the required product fields.
func ValidateProduct(p *models.Product) error {
	if p == nil {
		return fmt.Errorf("product is nil")
	}
	if strings.TrimSpace(p.IdentifierCode) == "" {
		return fmt.Errorf("product missing identifier code")
	}
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("product missing name for %s", p.IdentifierCode)
	}
	if !(p.FinalPrice >= 0) || !(p.BasePrice >= 0) {
		return fmt.Errorf("product %s has a negative or invalid price", p.IdentifierCode)
	}
	return nil
}

// ValidateReview checks the rating lies within the declared scale.
func ValidateReview(r *models.Review) error {
	if r == nil {
		return fmt.Errorf("review is nil")
	}
	// Written as a range check so NaN is rejected.
	if !(r.Rating >= 0 && r.Rating <= MaxRating) {
		return fmt.Errorf("review rating %.1f outside 0-%.0f", r.Rating, MaxRating)
	}
	return nil
}

// CheckPriceOrder reports whether the final price exceeds the base price.
// The condition is logged by callers, never rejected.
func CheckPriceOrder(p models.Product) error {
	if p.FinalPrice > p.BasePrice {
		return fmt.Errorf("final price %.2f exceeds base price %.2f for %s", p.FinalPrice, p.BasePrice, p.IdentifierCode)
	}
	return nil
}

// ParsePrice extracts a decimal from text such as "$1,299.99".
func ParsePrice(text string) (float64, error) {
	match := numberPattern.FindString(strings.TrimSpace(text))
	if match == "" {
		return 0, fmt.Errorf("no price in %q", text)
	}
	match = strings.ReplaceAll(match, ",", "")
	value, err := strconv.ParseFloat(match, 64)
	if err != nil {
		return 0, fmt.Errorf("parse price %q: %w", text, err)
	}
	return value, nil
}

// JoinPrice builds a price from separately rendered whole and fraction parts.
func JoinPrice(whole, fraction string) (float64, error) {
	whole = strings.TrimSuffix(NormalizeText(whole), ".")
	fraction = NormalizeText(fraction)
	if fraction == "" {
		fraction = "00"
	}
	return ParsePrice(whole + "." + fraction)
}

// ParseRating reads "4.0 out of 5 stars" or a bare number.
func ParseRating(text string) (float64, error) {
	text = ratingOutOfSuffix.ReplaceAllString(strings.TrimSpace(text), "")
	if text == "" {
		return 0, fmt.Errorf("empty rating")
	}
	value, err := strconv.ParseFloat(strings.ReplaceAll(text, ",", "."), 64)
	if err != nil {
		return 0, fmt.Errorf("parse rating %q: %w", text, err)
	}
	return value, nil
}

// NormalizeText trims and collapses runs of whitespace.
func NormalizeText(text string) string {
	return innerWhitespace.ReplaceAllString(strings.TrimSpace(text), " ")
}

// HelpfulOrDefault returns the helpful-vote statement or DefaultHelpfulText.
func HelpfulOrDefault(text string) string {
	text = NormalizeText(text)
	if text == "" {
		return DefaultHelpfulText
	}
	return text
}

// HelpfulFromCount renders a vote count the way Amazon phrases it.
func HelpfulFromCount(count int) string {
	switch {
	case count <= 0:
		return DefaultHelpfulText
	case count == 1:
		return "One person found this helpful"
	default:
		return fmt.Sprintf("%d people found this helpful", count)
	}
}
