package billing

import (
	"errors"
	"fmt"
	"os"
	"time"

	"golang.org/x/text/currency"
)

// Config holds the engine settings read from the environment.
//
// BILLING_TAX_RATES takes comma separated CODE:RATE pairs (ES:0.21,MX:0.16).
// BILLING_TAX_RATES_FILE points to a YAML file and wins over BILLING_TAX_RATES.
// With neither set, DefaultTaxRates is used.
type Config struct {
	Currency         string            `env:"BILLING_CURRENCY" envDefault:"USD"`
	TaxRates         map[string]string `env:"BILLING_TAX_RATES"`
	TaxRatesFile     string            `env:"BILLING_TAX_RATES_FILE"`
	SweepHour        int               `env:"BILLING_SWEEP_HOUR" envDefault:"2"`
	SweepMinute      int               `env:"BILLING_SWEEP_MINUTE" envDefault:"0"`
	OverdueHour      int               `env:"BILLING_OVERDUE_HOUR" envDefault:"3"`
	OverdueMinute    int               `env:"BILLING_OVERDUE_MINUTE" envDefault:"0"`
	SweepConcurrency int               `env:"BILLING_SWEEP_CONCURRENCY" envDefault:"4"`
	SweepLockTTL     time.Duration     `env:"BILLING_SWEEP_LOCK_TTL" envDefault:"30m"`
	SupersedePending bool              `env:"BILLING_SUPERSEDE_PENDING" envDefault:"false"`
}

// Validate checks ranges and the currency code. Tax rates are checked by TaxTable.
func (c Config) Validate() error {
	var errs []error
	if _, err := ParseCurrency(c.Currency); err != nil {
		errs = append(errs, err)
	}
	if !validClock(c.SweepHour, c.SweepMinute) {
		errs = append(errs, fmt.Errorf("%w: sweep time %02d:%02d", ErrValidation, c.SweepHour, c.SweepMinute))
	}
	if !validClock(c.OverdueHour, c.OverdueMinute) {
		errs = append(errs, fmt.Errorf("%w: overdue time %02d:%02d", ErrValidation, c.OverdueHour, c.OverdueMinute))
	}
	if c.SweepConcurrency < 1 {
		errs = append(errs, fmt.Errorf("%w: sweep concurrency must be at least 1", ErrValidation))
	}
	if c.SweepLockTTL <= 0 {
		errs = append(errs, fmt.Errorf("%w: sweep lock ttl must be positive", ErrValidation))
	}
	return errors.Join(errs...)
}

// CurrencyUnit returns the parsed invoice currency.
func (c Config) CurrencyUnit() (currency.Unit, error) {
	return ParseCurrency(c.Currency)
}

// TaxTable builds the tax table from the file, the inline rates or the defaults.
func (c Config) TaxTable() (*TaxTable, error) {
	switch {
	case c.TaxRatesFile != "":
		f, err := os.Open(c.TaxRatesFile)
		if err != nil {
			return nil, fmt.Errorf("open tax rates file: %w", err)
		}
		defer f.Close()
		rates, err := LoadTaxRatesYAML(f)
		if err != nil {
			return nil, err
		}
		return NewTaxTable(rates)
	case len(c.TaxRates) > 0:
		rates, err := ParseTaxRates(c.TaxRates)
		if err != nil {
			return nil, err
		}
		return NewTaxTable(rates)
	default:
		return NewTaxTable(DefaultTaxRates())
	}
}

// Options translates the config into engine options.
func (c Config) Options() ([]Option, error) {
	unit, err := c.CurrencyUnit()
	if err != nil {
		return nil, err
	}
	return []Option{
		WithCurrency(unit),
		WithSweepConcurrency(c.SweepConcurrency),
		WithSupersedePendingInvoices(c.SupersedePending),
	}, nil
}

func validClock(hour, minute int) bool {
	return hour >= 0 && hour <= 23 && minute >= 0 && minute <= 59
}
