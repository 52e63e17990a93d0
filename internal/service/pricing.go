package service

import (
	"context"

	"bookshop-service/internal/models"
)

// PriceData is one answer from the pricing oracle: a price per variant in a
// single currency. The value is trusted and frozen into the order at
// placement time.
type PriceData struct {
	Paperback    int64  `json:"paperback"`
	Hardcover    int64  `json:"hardcover"`
	CurrencyCode string `json:"currency_code"`
	Symbol       string `json:"symbol"`
	Country      string `json:"country"`
}

// For returns the price of a variant.
func (p *PriceData) For(variant models.BookVariant) int64 {
	if variant == models.VariantHardcover {
		return p.Hardcover
	}
	return p.Paperback
}

// PricingOracle resolves per-variant prices for a request context.
type PricingOracle interface {
	GetPrices(ctx context.Context, country string) (*PriceData, error)
}

// CurrencyRate converts the base price into another currency.
type CurrencyRate struct {
	CurrencyCode string
	Symbol       string
	Rate         float64
}

// StaticPricingOracle prices from configured base amounts, converting by
// country. Unknown countries fall back to the base currency.
type StaticPricingOracle struct {
	BasePaperback int64
	BaseHardcover int64
	BaseCurrency  string
	BaseSymbol    string
	Rates         map[string]CurrencyRate
}

// GetPrices implements PricingOracle.
func (o *StaticPricingOracle) GetPrices(_ context.Context, country string) (*PriceData, error) {
	data := &PriceData{
		Paperback:    o.BasePaperback,
		Hardcover:    o.BaseHardcover,
		CurrencyCode: o.BaseCurrency,
		Symbol:       o.BaseSymbol,
		Country:      country,
	}

	if rate, ok := o.Rates[country]; ok {
		data.Paperback = convert(o.BasePaperback, rate.Rate)
		data.Hardcover = convert(o.BaseHardcover, rate.Rate)
		data.CurrencyCode = rate.CurrencyCode
		data.Symbol = rate.Symbol
	}
	return data, nil
}

func convert(base int64, rate float64) int64 {
	v := int64(float64(base)*rate + 0.5)
	if v < 1 {
		v = 1
	}
	return v
}
