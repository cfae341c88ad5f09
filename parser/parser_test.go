package parser

import (
	"math"
	"testing"

	"github.com/aluiziolira/reviewharvest/models"
)

func TestValidateProduct(t *testing.T) {
	tests := []struct {
		name    string
		product *models.Product
		wantErr bool
	}{
		{
			name: "valid product",
			product: &models.Product{
				IdentifierCode:  "B0TEST",
				Name:            "Test Kettle",
				BasePrice:       39.99,
				FinalPrice:      29.99,
				InventoryStatus: "In Stock",
			},
			wantErr: false,
		},
		{
			name:    "nil product",
			product: nil,
			wantErr: true,
		},
		{
			name: "missing identifier",
			product: &models.Product{
				Name:       "Test Kettle",
				FinalPrice: 29.99,
			},
			wantErr: true,
		},
		{
			name: "missing name",
			product: &models.Product{
				IdentifierCode: "B0TEST",
				FinalPrice:     29.99,
			},
			wantErr: true,
		},
		{
			name: "negative price",
			product: &models.Product{
				IdentifierCode: "B0TEST",
				Name:           "Test Kettle",
				FinalPrice:     -1,
			},
			wantErr: true,
		},
		{
			name: "NaN price",
			product: &models.Product{
				IdentifierCode: "B0TEST",
				Name:           "Test Kettle",
				FinalPrice:     math.NaN(),
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateProduct(tt.product)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateProduct() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateReviewRatingBounds(t *testing.T) {
	tests := []struct {
		rating  float64
		wantErr bool
	}{
		{rating: 0, wantErr: false},
		{rating: 3.5, wantErr: false},
		{rating: 5, wantErr: false},
		{rating: 5.5, wantErr: true},
		{rating: -1, wantErr: true},
		{rating: math.NaN(), wantErr: true},
		{rating: math.Inf(1), wantErr: true},
	}

	for _, tt := range tests {
		r := &models.Review{Rating: tt.rating}
		if err := ValidateReview(r); (err != nil) != tt.wantErr {
			t.Errorf("ValidateReview(rating=%v) error = %v, wantErr %v", tt.rating, err, tt.wantErr)
		}
	}
}

func TestCheckPriceOrder(t *testing.T) {
	if err := CheckPriceOrder(models.Product{BasePrice: 10, FinalPrice: 8}); err != nil {
		t.Fatalf("discounted product flagged: %v", err)
	}
	if err := CheckPriceOrder(models.Product{BasePrice: 10, FinalPrice: 10}); err != nil {
		t.Fatalf("equal prices flagged: %v", err)
	}
	if err := CheckPriceOrder(models.Product{BasePrice: 8, FinalPrice: 10}); err == nil {
		t.Fatalf("inverted prices should be reported")
	}
}

func TestParsePrice(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected float64
		wantErr  bool
	}{
		{name: "dollar sign", input: "$51.77", expected: 51.77},
		{name: "thousands separator", input: "$1,299.99", expected: 1299.99},
		{name: "whitespace", input: "  $10.50  ", expected: 10.50},
		{name: "already clean", input: "25.99", expected: 25.99},
		{name: "integer", input: "$40", expected: 40},
		{name: "empty string", input: "", wantErr: true},
		{name: "no digits", input: "Currently unavailable", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParsePrice(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParsePrice(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && result != tt.expected {
				t.Errorf("ParsePrice(%q) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestJoinPrice(t *testing.T) {
	tests := []struct {
		whole    string
		fraction string
		expected float64
	}{
		{whole: "19.", fraction: "99", expected: 19.99},
		{whole: "1,249", fraction: "00", expected: 1249},
		{whole: "7", fraction: "", expected: 7},
	}

	for _, tt := range tests {
		got, err := JoinPrice(tt.whole, tt.fraction)
		if err != nil {
			t.Fatalf("JoinPrice(%q, %q): %v", tt.whole, tt.fraction, err)
		}
		if got != tt.expected {
			t.Errorf("JoinPrice(%q, %q) = %v, want %v", tt.whole, tt.fraction, got, tt.expected)
		}
	}
}

func TestParseRating(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected float64
		wantErr  bool
	}{
		{name: "amazon phrasing", input: "4.0 out of 5 stars", expected: 4},
		{name: "half star", input: "3.5 out of 5 stars", expected: 3.5},
		{name: "bare number", input: "5", expected: 5},
		{name: "comma decimal", input: "4,5", expected: 4.5},
		{name: "empty string", input: "", wantErr: true},
		{name: "words", input: "Five", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := ParseRating(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseRating(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if !tt.wantErr && result != tt.expected {
				t.Errorf("ParseRating(%q) = %v, want %v", tt.input, result, tt.expected)
			}
		})
	}
}

func TestHelpfulOrDefault(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{name: "present", input: " 12 people found this helpful ", expected: "12 people found this helpful"},
		{name: "absent", input: "", expected: DefaultHelpfulText},
		{name: "whitespace only", input: "  \n ", expected: DefaultHelpfulText},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := HelpfulOrDefault(tt.input); got != tt.expected {
				t.Errorf("HelpfulOrDefault(%q) = %q, want %q", tt.input, got, tt.expected)
			}
		})
	}
}

func TestHelpfulFromCount(t *testing.T) {
	if got := HelpfulFromCount(0); got != DefaultHelpfulText {
		t.Errorf("HelpfulFromCount(0) = %q", got)
	}
	if got := HelpfulFromCount(1); got != "One person found this helpful" {
		t.Errorf("HelpfulFromCount(1) = %q", got)
	}
	if got := HelpfulFromCount(7); got != "7 people found this helpful" {
		t.Errorf("HelpfulFromCount(7) = %q", got)
	}
}

func TestNormalizeText(t *testing.T) {
	if got := NormalizeText("  Great   kettle\n\n boils fast "); got != "Great kettle boils fast" {
		t.Errorf("NormalizeText = %q", got)
	}
}
