package barsource

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"

	"stratlab/internal/domain"
	"stratlab/internal/util"
)

// Compile-time interface check.
var _ Source = (*Alpaca)(nil)

// barsClient is the subset of *marketdata.Client the source uses.
type barsClient interface {
	GetBars(symbol string, req marketdata.GetBarsRequest) ([]marketdata.Bar, error)
}

// AlpacaOptions configures an Alpaca source.
type AlpacaOptions struct {
	APIKey          string
	APISecret       string
	DataURL         string
	Feed            string // iex or sip
	RateLimitPerMin int
	MaxRetries      int
	Calendar        *util.TradingCalendar
	Logger          *slog.Logger
}

// Alpaca fetches intraday bars from the Alpaca market-data v2 API and keeps
// only regular-session bars.
type Alpaca struct {
	client     barsClient
	feed       string
	limiter    *util.RateLimiter
	maxRetries int
	cal        *util.TradingCalendar
	now        func() time.Time
	log        *slog.Logger
}

// NewAlpaca creates an Alpaca source. Missing credentials yield an error
// wrapping ErrUnavailable.
func NewAlpaca(opts AlpacaOptions) (*Alpaca, error) {
	if opts.APIKey == "" || opts.APISecret == "" {
		return nil, fmt.Errorf("%w: alpaca credentials not configured", ErrUnavailable)
	}
	clientOpts := marketdata.ClientOpts{
		APIKey:    opts.APIKey,
		APISecret: opts.APISecret,
	}
	if opts.DataURL != "" {
		clientOpts.BaseURL = opts.DataURL
	}
	return newAlpaca(marketdata.NewClient(clientOpts), opts), nil
}

func newAlpaca(client barsClient, opts AlpacaOptions) *Alpaca {
	cal := opts.Calendar
	if cal == nil {
		cal = util.NewTradingCalendar(domain.MarketUS)
	}
	log := opts.Logger
	if log == nil {
		log = util.Discard()
	}
	feed := opts.Feed
	if feed == "" {
		feed = "iex"
	}
	return &Alpaca{
		client:     client,
		feed:       feed,
		limiter:    util.NewRateLimiter(opts.RateLimitPerMin),
		maxRetries: max(opts.MaxRetries, 1),
		cal:        cal,
		now:        time.Now,
		log:        log.With("source", "alpaca"),
	}
}

// Name returns "alpaca".
func (a *Alpaca) Name() string { return "alpaca" }

// timeFrame maps a bar length in minutes to an Alpaca timeframe.
func timeFrame(freqMinutes int) (marketdata.TimeFrame, error) {
	switch {
	case freqMinutes <= 0:
		return marketdata.TimeFrame{}, fmt.Errorf("frequency must be positive, got %d minutes", freqMinutes)
	case freqMinutes < 60:
		return marketdata.NewTimeFrame(freqMinutes, marketdata.Min), nil
	case freqMinutes%60 == 0 && freqMinutes <= 23*60:
		return marketdata.NewTimeFrame(freqMinutes/60, marketdata.Hour), nil
	}
	return marketdata.TimeFrame{}, fmt.Errorf("unsupported frequency %d minutes", freqMinutes)
}

// Bars fetches enough calendar history to cover days sessions and returns
// the latest regular-session bars.
func (a *Alpaca) Bars(ctx context.Context, symbol string, days, freqMinutes int) ([]domain.Bar, error) {
	if a.cal.Market() != domain.MarketUS {
		return nil, fmt.Errorf("%w: alpaca serves US equities only", ErrUnavailable)
	}
	tf, err := timeFrame(freqMinutes)
	if err != nil {
		return nil, err
	}
	count := BarCount(a.cal, days, freqMinutes)
	symbol = strings.ToUpper(symbol)

	end := a.now().UTC()
	// Weekends and holidays: widen the calendar window past the session count.
	start := end.AddDate(0, 0, -(days*7/5 + 10))

	var raw []marketdata.Bar
	err = util.Retry(ctx, a.maxRetries, 500*time.Millisecond, 10*time.Second, func(ctx context.Context) error {
		if err := a.limiter.Wait(ctx); err != nil {
			return util.Permanent(err)
		}
		var err error
		raw, err = a.client.GetBars(symbol, marketdata.GetBarsRequest{
			TimeFrame: tf,
			Start:     start,
			End:       end,
			Feed:      a.feed,
		})
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("GetBars %s: %w", symbol, err)
	}

	bars := make([]domain.Bar, 0, len(raw))
	for _, ab := range raw {
		if !a.cal.IsMarketOpen(ab.Timestamp) {
			continue
		}
		bars = append(bars, domain.Bar{
			Symbol:     symbol,
			Timestamp:  ab.Timestamp.UTC(),
			Open:       ab.Open,
			High:       ab.High,
			Low:        ab.Low,
			Close:      ab.Close,
			Volume:     int64(ab.Volume),
			TradeCount: int64(ab.TradeCount),
			VWAP:       ab.VWAP,
		})
	}
	if len(bars) > count {
		bars = bars[len(bars)-count:]
	}
	if len(bars) < count {
		a.log.Warn("short history", "symbol", symbol, "got", len(bars), "want", count)
	}
	return bars, nil
}
