package billing

import (
	"errors"
	"fmt"
	"io"
	"maps"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// TaxRateProvider returns the flat tax rate for a country as a fraction in [0,1].
// Unknown countries yield zero.
type TaxRateProvider interface {
	RateFor(countryCode string) decimal.Decimal
}

// TaxTable is an immutable, case-insensitive country to rate lookup.
type TaxTable struct {
	rates map[string]decimal.Decimal
}

// DefaultTaxRates returns the built-in per-country rates.
func DefaultTaxRates() map[string]decimal.Decimal {
	return map[string]decimal.Decimal{
		"ES": decimal.RequireFromString("0.21"),
		"US": decimal.Zero,
		"MX": decimal.RequireFromString("0.16"),
		"AR": decimal.RequireFromString("0.21"),
	}
}

// NewTaxTable builds a table from country codes to rates.
// Rates outside [0,1] are rejected with ErrInvalidTaxRate.
func NewTaxTable(rates map[string]decimal.Decimal) (*TaxTable, error) {
	t := &TaxTable{rates: make(map[string]decimal.Decimal, len(rates))}
	one := decimal.NewFromInt(1)
	for code, rate := range rates {
		if rate.IsNegative() || rate.GreaterThan(one) {
			return nil, fmt.Errorf("%w: %s=%s", ErrInvalidTaxRate, code, rate)
		}
		t.rates[normalizeCountry(code)] = rate
	}
	return t, nil
}

// MustTaxTable is like NewTaxTable but panics on invalid rates.
func MustTaxTable(rates map[string]decimal.Decimal) *TaxTable {
	t, err := NewTaxTable(rates)
	if err != nil {
		panic(fmt.Sprintf("billing: %v", err))
	}
	return t
}

// RateFor implements TaxRateProvider.
func (t *TaxTable) RateFor(countryCode string) decimal.Decimal {
	if rate, ok := t.rates[normalizeCountry(countryCode)]; ok {
		return rate
	}
	return decimal.Zero
}

// Rates returns a copy of the table.
func (t *TaxTable) Rates() map[string]decimal.Decimal {
	return maps.Clone(t.rates)
}

// ParseTaxRates converts textual rates, as read from env or YAML, into decimals.
func ParseTaxRates(raw map[string]string) (map[string]decimal.Decimal, error) {
	rates := make(map[string]decimal.Decimal, len(raw))
	for code, v := range raw {
		rate, err := decimal.NewFromString(strings.TrimSpace(v))
		if err != nil {
			return nil, errors.Join(fmt.Errorf("%w: %s=%q", ErrInvalidTaxRate, code, v), err)
		}
		rates[code] = rate
	}
	return rates, nil
}

// LoadTaxRatesYAML reads a flat mapping of country code to rate:
//
//	ES: "0.21"
//	MX: 0.16
func LoadTaxRatesYAML(r io.Reader) (map[string]decimal.Decimal, error) {
	var raw map[string]string
	if err := yaml.NewDecoder(r).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return map[string]decimal.Decimal{}, nil
		}
		return nil, errors.Join(ErrValidation, err)
	}
	return ParseTaxRates(raw)
}

func normalizeCountry(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
