// Package indicator implements the price indicators used by the built-in
// strategies. All functions are pure and never modify their input.
package indicator

import "stratlab/internal/domain"

// Closes extracts the close prices of bars.
func Closes(bars []domain.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Close
	}
	return out
}

// SMA returns the simple moving average of the last period prices. ok is
// false when fewer than period prices are available.
func SMA(prices []float64, period int) (value float64, ok bool) {
	if period <= 0 || len(prices) < period {
		return 0, false
	}
	var sum float64
	for _, p := range prices[len(prices)-period:] {
		sum += p
	}
	return sum / float64(period), true
}

// RSI returns the relative strength index using Wilder smoothing: the first
// average gain/loss is the plain mean over the first period deltas, later
// deltas are folded in with weight 1/period. A series with no losses has an
// RSI of 100. ok is false when fewer than period+1 prices are available.
func RSI(prices []float64, period int) (value float64, ok bool) {
	if period <= 0 || len(prices) < period+1 {
		return 0, false
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		gain, loss := split(prices[i] - prices[i-1])
		avgGain += gain
		avgLoss += loss
	}
	p := float64(period)
	avgGain /= p
	avgLoss /= p

	for i := period + 1; i < len(prices); i++ {
		gain, loss := split(prices[i] - prices[i-1])
		avgGain = (avgGain*(p-1) + gain) / p
		avgLoss = (avgLoss*(p-1) + loss) / p
	}

	if avgLoss == 0 {
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - 100/(1+rs), true
}

func split(delta float64) (gain, loss float64) {
	if delta > 0 {
		return delta, 0
	}
	return 0, -delta
}

// HighestHigh returns the maximum High over the last lookback bars, or over
// all bars when fewer are available. It returns 0 for an empty slice.
func HighestHigh(bars []domain.Bar, lookback int) float64 {
	if lookback > 0 && len(bars) > lookback {
		bars = bars[len(bars)-lookback:]
	}
	var high float64
	for i, b := range bars {
		if i == 0 || b.High > high {
			high = b.High
		}
	}
	return high
}
