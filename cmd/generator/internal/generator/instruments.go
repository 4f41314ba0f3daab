package generator

import (
	"fmt"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Instrument is one synthetic symbol the generator quotes.
type Instrument struct {
	Symbol    string          `yaml:"symbol"`
	BasePrice decimal.Decimal `yaml:"base_price"`
	Spread    decimal.Decimal `yaml:"spread"`
	Exchange  string          `yaml:"exchange"`
}

type instrumentsFile struct {
	Instruments []Instrument `yaml:"instruments"`
}

var defaultSpread = decimal.RequireFromString("0.02")

func DefaultInstruments() []Instrument {
	return []Instrument{
		{Symbol: "AAPL", BasePrice: decimal.NewFromInt(150), Spread: defaultSpread, Exchange: "NASDAQ"},
		{Symbol: "GOOG", BasePrice: decimal.NewFromInt(2800), Spread: defaultSpread, Exchange: "NASDAQ"},
		{Symbol: "TSLA", BasePrice: decimal.NewFromInt(700), Spread: defaultSpread, Exchange: "NASDAQ"},
		{Symbol: "AMZN", BasePrice: decimal.NewFromInt(3400), Spread: defaultSpread, Exchange: "NASDAQ"},
		{Symbol: "MSFT", BasePrice: decimal.NewFromInt(420), Spread: defaultSpread, Exchange: "NASDAQ"},
	}
}

// LoadInstruments reads a YAML instruments file. An empty path yields the
// built-in defaults.
func LoadInstruments(path string) ([]Instrument, error) {
	if path == "" {
		return DefaultInstruments(), nil
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read instruments: %w", err)
	}
	return ParseInstruments(raw)
}

func ParseInstruments(raw []byte) ([]Instrument, error) {
	var f instrumentsFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("parse instruments: %w", err)
	}
	if len(f.Instruments) == 0 {
		return nil, fmt.Errorf("parse instruments: no instruments defined")
	}

	seen := make(map[string]bool, len(f.Instruments))
	for i := range f.Instruments {
		in := &f.Instruments[i]
		in.Symbol = strings.ToUpper(strings.TrimSpace(in.Symbol))
		if in.Symbol == "" {
			return nil, fmt.Errorf("instrument %d: missing symbol", i)
		}
		if seen[in.Symbol] {
			return nil, fmt.Errorf("instrument %s: defined twice", in.Symbol)
		}
		seen[in.Symbol] = true
		if !in.BasePrice.IsPositive() {
			return nil, fmt.Errorf("instrument %s: base_price must be positive", in.Symbol)
		}
		if in.Spread.IsZero() {
			in.Spread = defaultSpread
		}
	}
	return f.Instruments, nil
}
