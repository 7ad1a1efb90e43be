package util

import (
	"time"
	_ "time/tzdata"

	"stratlab/internal/domain"
)

const (
	// TradingDaysPerYear is the annualisation convention for equity markets.
	TradingDaysPerYear = 252

	usSessionMinutes = 390 // 09:30-16:00 America/New_York
	cnSessionMinutes = 240 // 09:30-11:30 and 13:00-15:00 Asia/Shanghai
)

type session struct {
	startMin, endMin int // minutes after local midnight, end exclusive
}

// TradingCalendar provides regular-session awareness for a market. Exchange
// holidays are not modelled.
type TradingCalendar struct {
	market   domain.Market
	loc      *time.Location
	sessions []session
}

// NewTradingCalendar creates a TradingCalendar for the given market. Unknown
// markets fall back to the US session.
func NewTradingCalendar(market domain.Market) *TradingCalendar {
	switch market {
	case domain.MarketCN:
		return &TradingCalendar{
			market:   market,
			loc:      mustLoad("Asia/Shanghai"),
			sessions: []session{{9*60 + 30, 11*60 + 30}, {13 * 60, 15 * 60}},
		}
	default:
		return &TradingCalendar{
			market:   domain.MarketUS,
			loc:      mustLoad("America/New_York"),
			sessions: []session{{9*60 + 30, 16 * 60}},
		}
	}
}

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		// time/tzdata is embedded, so this only happens for a typo.
		panic(err)
	}
	return loc
}

// Market returns the calendar's market.
func (tc *TradingCalendar) Market() domain.Market { return tc.market }

// SessionMinutes returns the length of one regular trading day in minutes.
func (tc *TradingCalendar) SessionMinutes() int {
	if tc.market == domain.MarketCN {
		return cnSessionMinutes
	}
	return usSessionMinutes
}

// BarsPerDay returns how many bars of freqMinutes fit in one session
// (integer division). Non-positive frequencies yield 0.
func (tc *TradingCalendar) BarsPerDay(freqMinutes int) int {
	if freqMinutes <= 0 {
		return 0
	}
	return tc.SessionMinutes() / freqMinutes
}

// BarsPerYear returns the annualisation factor for per-bar returns at the
// given cadence: TradingDaysPerYear × SessionMinutes / freqMinutes.
func (tc *TradingCalendar) BarsPerYear(freqMinutes int) float64 {
	if freqMinutes <= 0 {
		return 0
	}
	return float64(TradingDaysPerYear) * float64(tc.SessionMinutes()) / float64(freqMinutes)
}

// IsMarketOpen reports whether t falls inside a regular session on a
// weekday in the market's local time zone.
func (tc *TradingCalendar) IsMarketOpen(t time.Time) bool {
	local := t.In(tc.loc)
	switch local.Weekday() {
	case time.Saturday, time.Sunday:
		return false
	}
	m := local.Hour()*60 + local.Minute()
	for _, s := range tc.sessions {
		if m >= s.startMin && m < s.endMin {
			return true
		}
	}
	return false
}
