package ledger

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestKgEqual(t *testing.T) {
	tests := []struct {
		name string
		a, b string
		want bool
	}{
		{name: "exact match", a: "10.000", b: "10.000", want: true},
		{name: "half gram above", a: "10.0005", b: "10.000", want: true},
		{name: "one gram above is a mismatch", a: "10.001", b: "10.000", want: false},
		{name: "one gram below is a mismatch", a: "9.999", b: "10.000", want: false},
		{name: "two grams off", a: "10.002", b: "10.000", want: false},
		{name: "zero vs one gram", a: "0.001", b: "0", want: false},
		{name: "breakdown one gram short", a: "179.999", b: "180.000", want: false},
		{name: "breakdown half gram short", a: "179.9995", b: "180.000", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KgEqual(d(tt.a), d(tt.b)))
		})
	}
}

func TestKgExceeds(t *testing.T) {
	tests := []struct {
		name     string
		q, limit string
		want     bool
	}{
		{name: "below limit", q: "9.000", limit: "10.000", want: false},
		{name: "at limit", q: "10.000", limit: "10.000", want: false},
		{name: "over by exactly tolerance", q: "10.001", limit: "10.000", want: false},
		{name: "over by more than tolerance", q: "10.002", limit: "10.000", want: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KgExceeds(d(tt.q), d(tt.limit)))
		})
	}
}

func TestKgDepleted(t *testing.T) {
	assert.True(t, KgDepleted(decimal.Zero))
	assert.True(t, KgDepleted(d("0.001")))
	assert.True(t, KgDepleted(d("-0.5")))
	assert.False(t, KgDepleted(d("0.002")))
}

func TestClampZero(t *testing.T) {
	assert.True(t, ClampZero(d("-3.2")).IsZero())
	assert.True(t, ClampZero(d("4.5")).Equal(d("4.5")))
}

func TestKg3(t *testing.T) {
	assert.Equal(t, "10.000", Kg3(d("10")))
	assert.Equal(t, "0.125", Kg3(d("0.125")))
	assert.Equal(t, "2.500", Kg3(d("2.5")))
}

func TestSumKg(t *testing.T) {
	assert.True(t, SumKg().IsZero())
	assert.True(t, SumKg(d("1.5"), d("2.25"), d("0.25")).Equal(d("4")))
}
