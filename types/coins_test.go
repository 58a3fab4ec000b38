package types

import (
	"encoding/json"
	"testing"
)

func TestCoinsArithmetic(t *testing.T) {
	tests := []struct {
		name     string
		op       func() Coins
		expected Coins
	}{
		{"Add", func() Coins { return Coins(10).Add(5) }, 15},
		{"Subtract", func() Coins { return Coins(10).Subtract(4) }, 6},
		{"Subtract below zero", func() Coins { return Coins(3).Subtract(5) }, -2},
		{"Multiply", func() Coins { return Coins(5).Multiply(8) }, 40},
		{"Sum", func() Coins { return Sum(1, 2, 3, 4) }, 10},
		{"Sum empty", func() Coins { return Sum() }, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.op(); got != tt.expected {
				t.Errorf("got %d, want %d", got, tt.expected)
			}
		})
	}
}

func TestCoinsPredicates(t *testing.T) {
	if !Coins(0).IsZero() {
		t.Error("0 should be zero")
	}
	if !Coins(5).IsPositive() {
		t.Error("5 should be positive")
	}
	if !Coins(-5).IsNegative() {
		t.Error("-5 should be negative")
	}
	if Coins(5).IsNegative() || Coins(-5).IsPositive() {
		t.Error("sign predicates disagree")
	}
}

func TestCoinsString(t *testing.T) {
	tests := []struct {
		coins Coins
		want  string
	}{
		{0, "0 coins"},
		{1, "1 coin"},
		{2, "2 coins"},
		{40, "40 coins"},
	}

	for _, tt := range tests {
		if got := tt.coins.String(); got != tt.want {
			t.Errorf("Coins(%d).String() = %q, want %q", tt.coins, got, tt.want)
		}
	}
}

func TestCoinsJSONRoundTrip(t *testing.T) {
	original := Coins(42)

	data, err := json.Marshal(original)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	if string(data) != "42" {
		t.Errorf("expected plain integer encoding, got %s", data)
	}

	var decoded Coins
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	if decoded != original {
		t.Errorf("round-trip mismatch: %d != %d", decoded, original)
	}
}
