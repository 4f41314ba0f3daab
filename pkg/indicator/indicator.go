// Package indicator computes technical indicators over an ordered price
// sequence (oldest first). Every average and ratio is rounded to four decimal
// places, half away from zero, so results match the figures the rest of the
// system aggregates with. Insufficient input yields a zero value, never an
// error.
package indicator

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Scale is the number of decimal places every indicator is rounded to.
const Scale int32 = 4

// Trend classification thresholds on the least-squares slope.
const (
	bullishSlope = 0.01
	bearishSlope = -0.01
)

type Trend string

const (
	Bullish Trend = "BULLISH"
	Bearish Trend = "BEARISH"
	Neutral Trend = "NEUTRAL"
)

var hundred = decimal.NewFromInt(100)

// Set is a named collection of indicator results, e.g. "SMA_20".
type Set map[string]decimal.Decimal

// SMA returns the arithmetic mean of the last period prices.
func SMA(prices []decimal.Decimal, period int) decimal.Decimal {
	if period <= 0 || len(prices) < period {
		return decimal.Zero
	}
	return average(prices[len(prices)-period:])
}

// EMA seeds with the SMA of the trailing window and then smooths over the
// trailing period-1 prices with multiplier 2/(period+1).
func EMA(prices []decimal.Decimal, period int) decimal.Decimal {
	if period <= 0 || len(prices) < period {
		return decimal.Zero
	}

	multiplier := decimal.NewFromInt(2).Div(decimal.NewFromInt(int64(period + 1)))
	complement := decimal.NewFromInt(1).Sub(multiplier)

	ema := SMA(prices, period)
	for i := len(prices) - period + 1; i < len(prices); i++ {
		ema = prices[i].Mul(multiplier).Add(ema.Mul(complement))
	}
	return ema.Round(Scale)
}

// RSI is the relative strength index over the trailing period+1 prices.
func RSI(prices []decimal.Decimal, period int) decimal.Decimal {
	if period <= 0 || len(prices) < period+1 {
		return decimal.Zero
	}

	gains := make([]decimal.Decimal, period)
	losses := make([]decimal.Decimal, period)
	n := len(prices)
	for i := 1; i <= period; i++ {
		diff := prices[n-i].Sub(prices[n-i-1])
		if diff.IsPositive() {
			gains[i-1] = diff
			losses[i-1] = decimal.Zero
		} else {
			gains[i-1] = decimal.Zero
			losses[i-1] = diff.Abs()
		}
	}

	avgGain := average(gains)
	avgLoss := average(losses)
	if avgLoss.IsZero() {
		return hundred
	}

	rs := avgGain.DivRound(avgLoss, Scale)
	return hundred.Sub(hundred.DivRound(decimal.NewFromInt(1).Add(rs), Scale))
}

// Volatility is the population standard deviation of prices.
func Volatility(prices []decimal.Decimal) decimal.Decimal {
	if len(prices) < 2 {
		return decimal.Zero
	}

	mean := average(prices)
	sum := decimal.Zero
	for _, p := range prices {
		diff := p.Sub(mean)
		sum = sum.Add(diff.Mul(diff))
	}

	variance := sum.DivRound(decimal.NewFromInt(int64(len(prices))), Scale)
	return decimal.NewFromFloat(math.Sqrt(variance.InexactFloat64())).Round(Scale)
}

// LinearTrendSlope is the ordinary least-squares slope of prices against
// their index.
func LinearTrendSlope(prices []decimal.Decimal) float64 {
	n := len(prices)
	if n < 2 {
		return 0
	}

	var sumX, sumY, sumXY, sumXX float64
	for i, p := range prices {
		x := float64(i)
		y := p.InexactFloat64()
		sumX += x
		sumY += y
		sumXY += x * y
		sumXX += x * x
	}

	fn := float64(n)
	return (fn*sumXY - sumX*sumY) / (fn*sumXX - sumX*sumX)
}

// ClassifyTrend tags a slope as bullish, bearish or neutral.
func ClassifyTrend(slope float64) Trend {
	switch {
	case slope > bullishSlope:
		return Bullish
	case slope < bearishSlope:
		return Bearish
	default:
		return Neutral
	}
}

// Compute returns SMA and EMA over period, RSI over rsiPeriod and volatility
// over the whole sequence.
func Compute(prices []decimal.Decimal, period, rsiPeriod int) Set {
	return Set{
		fmt.Sprintf("SMA_%d", period):    SMA(prices, period),
		fmt.Sprintf("EMA_%d", period):    EMA(prices, period),
		fmt.Sprintf("RSI_%d", rsiPeriod): RSI(prices, rsiPeriod),
		"VOLATILITY":                     Volatility(prices),
	}
}

func average(values []decimal.Decimal) decimal.Decimal {
	if len(values) == 0 {
		return decimal.Zero
	}
	sum := decimal.Zero
	for _, v := range values {
		sum = sum.Add(v)
	}
	return sum.DivRound(decimal.NewFromInt(int64(len(values))), Scale)
}
