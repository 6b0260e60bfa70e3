package domain

import (
	"errors"
	"math"
	"testing"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		name  string
		price float64
		size  float64
		want  float64
	}{
		{"both positive", 2000, 1.5, 3000},
		{"negative size", 2000, -1.5, 3000},
		{"negative price", -2000, 1.5, 3000},
		{"both negative", -2000, -1.5, 3000},
		{"zero size", 2000, 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Normalize(tc.price, tc.size)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Errorf("Normalize(%v, %v) = %v, want %v", tc.price, tc.size, got, tc.want)
			}
		})
	}
}

func TestNormalizeRejectsNonFinite(t *testing.T) {
	bad := []struct {
		name  string
		price float64
		size  float64
	}{
		{"nan price", math.NaN(), 1},
		{"nan size", 1, math.NaN()},
		{"inf price", math.Inf(1), 1},
		{"neg inf size", 1, math.Inf(-1)},
	}
	for _, tc := range bad {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Normalize(tc.price, tc.size)
			if !errors.Is(err, ErrInvalidTradeData) {
				t.Errorf("expected ErrInvalidTradeData, got %v", err)
			}
		})
	}
}
