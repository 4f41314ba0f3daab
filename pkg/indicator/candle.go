package indicator

import (
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/shubham-shewale/quote-fanout/pkg/models"
)

// Candle summarises one UTC day of quotes.
type Candle struct {
	Day   time.Time       `json:"day"`
	Open  decimal.Decimal `json:"open"`
	Close decimal.Decimal `json:"close"`
	High  decimal.Decimal `json:"high"`
	Low   decimal.Decimal `json:"low"`
	Count int             `json:"count"`
}

// DailyCandles groups quotes by UTC day and returns one candle per day that
// has at least two quotes, ordered by day.
func DailyCandles(quotes []models.Quote) []Candle {
	sorted := make([]models.Quote, len(quotes))
	copy(sorted, quotes)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	var candles []Candle
	for start := 0; start < len(sorted); {
		day := truncateDay(sorted[start].Timestamp)
		end := start + 1
		for end < len(sorted) && truncateDay(sorted[end].Timestamp).Equal(day) {
			end++
		}
		if end-start >= 2 {
			candles = append(candles, candleOf(day, sorted[start:end]))
		}
		start = end
	}
	return candles
}

func candleOf(day time.Time, quotes []models.Quote) Candle {
	c := Candle{
		Day:   day,
		Open:  quotes[0].Price,
		Close: quotes[len(quotes)-1].Price,
		High:  quotes[0].Price,
		Low:   quotes[0].Price,
		Count: len(quotes),
	}
	for _, q := range quotes[1:] {
		c.High = decimal.Max(c.High, q.Price)
		c.Low = decimal.Min(c.Low, q.Price)
	}
	return c
}

func truncateDay(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// Prices extracts the price column of quotes, preserving order.
func Prices(quotes []models.Quote) []decimal.Decimal {
	out := make([]decimal.Decimal, len(quotes))
	for i, q := range quotes {
		out[i] = q.Price
	}
	return out
}
