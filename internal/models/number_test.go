package models

import (
	"errors"
	"testing"
)

func TestStandardizeNumber(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"4/102", "004/102"},
		{"004/102", "004/102"}, // already standardized
		{"25", "025/???"},
		{"025/???", "025/???"},
		{"25/???", "025/???"},
		{"0004/102", "004/102"},
		{"150/149", "150/149"},
		{"1234/200", "1234/200"},
		{" 4 / 102 ", "004/102"}, // whitespace
		{"#58", "058/???"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result, err := StandardizeNumber(tt.input)
			if err != nil {
				t.Fatalf("StandardizeNumber(%q) returned error: %v", tt.input, err)
			}
			if result != tt.expected {
				t.Errorf("StandardizeNumber(%q) = %q, want %q", tt.input, result, tt.expected)
			}
			if !IsStandardNumber(result) {
				t.Errorf("StandardizeNumber(%q) = %q does not match the standard form", tt.input, result)
			}
		})
	}
}

func TestStandardizeNumberIdempotent(t *testing.T) {
	for _, in := range []string{"4/102", "25", "7/???", "199/198"} {
		once, err := StandardizeNumber(in)
		if err != nil {
			t.Fatalf("StandardizeNumber(%q) returned error: %v", in, err)
		}
		twice, err := StandardizeNumber(once)
		if err != nil {
			t.Fatalf("StandardizeNumber(%q) returned error: %v", once, err)
		}
		if once != twice {
			t.Errorf("StandardizeNumber not idempotent: %q -> %q -> %q", in, once, twice)
		}
	}
}

func TestStandardizeNumberInvalid(t *testing.T) {
	for _, in := range []string{"", "   ", "TG01/TG30", "SWSH001", "H4", "4/", "/102", "4/1O2"} {
		t.Run(in, func(t *testing.T) {
			_, err := StandardizeNumber(in)
			if !errors.Is(err, ErrInvalidNumber) {
				t.Errorf("StandardizeNumber(%q) error = %v, want ErrInvalidNumber", in, err)
			}
		})
	}
}

func TestExtractNumber(t *testing.T) {
	tests := []struct {
		name         string
		wantNumber   string
		wantBaseName string
		wantOK       bool
	}{
		{"Charizard - 004/102", "004/102", "Charizard", true},
		{"Charizard-004/102", "004/102", "Charizard", true},
		{"Charizard 4/102", "4/102", "Charizard", true},
		{"4/102 Charizard", "4/102", "Charizard", true},
		{"Dark Charizard - 4/82  ", "4/82", "Dark Charizard", true},
		{"Charizard", "", "", false},
		{"Charizard ex", "", "", false},
		{"Mew 151", "", "", false}, // no slash, not a number/total token
		{"", "", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			number, base, ok := ExtractNumber(tt.name)
			if ok != tt.wantOK || number != tt.wantNumber || base != tt.wantBaseName {
				t.Errorf("ExtractNumber(%q) = (%q, %q, %v), want (%q, %q, %v)",
					tt.name, number, base, ok, tt.wantNumber, tt.wantBaseName, tt.wantOK)
			}
		})
	}
}
