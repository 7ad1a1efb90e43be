package store

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"stratlab/internal/domain"
)

// Compile-time interface check.
var _ BarStore = (*ParquetStore)(nil)

// ParquetStore implements BarStore using Parquet files on disk.
type ParquetStore struct {
	DataDir string
}

// NewParquetStore creates a new ParquetStore rooted at the given data directory.
func NewParquetStore(dataDir string) *ParquetStore {
	return &ParquetStore{DataDir: dataDir}
}

// ---------------------------------------------------------------------------
// Parquet record types (on-disk schema)
// ---------------------------------------------------------------------------

// BarRecord is the Parquet schema for bar data.
type BarRecord struct {
	Symbol     string  `parquet:"symbol"`
	Timestamp  int64   `parquet:"timestamp,timestamp(millisecond)"` // Unix ms
	Open       float64 `parquet:"open"`
	High       float64 `parquet:"high"`
	Low        float64 `parquet:"low"`
	Close      float64 `parquet:"close"`
	Volume     int64   `parquet:"volume"`
	TradeCount int64   `parquet:"trade_count"`
	VWAP       float64 `parquet:"vwap"`
}

func toRecord(b domain.Bar) BarRecord {
	return BarRecord{
		Symbol:     strings.ToUpper(b.Symbol),
		Timestamp:  b.Timestamp.UnixMilli(),
		Open:       b.Open,
		High:       b.High,
		Low:        b.Low,
		Close:      b.Close,
		Volume:     b.Volume,
		TradeCount: b.TradeCount,
		VWAP:       b.VWAP,
	}
}

func (r BarRecord) toBar() domain.Bar {
	return domain.Bar{
		Symbol:     r.Symbol,
		Timestamp:  time.UnixMilli(r.Timestamp).UTC(),
		Open:       r.Open,
		High:       r.High,
		Low:        r.Low,
		Close:      r.Close,
		Volume:     r.Volume,
		TradeCount: r.TradeCount,
		VWAP:       r.VWAP,
	}
}

// ---------------------------------------------------------------------------
// BarStore implementation
// ---------------------------------------------------------------------------

// WriteBars writes bars to Parquet files split by year. Each year of a
// series is a separate file at:
//
//	<DataDir>/<market>/<freq>m/<SYMBOL>/<YYYY>.parquet
func (s *ParquetStore) WriteBars(ctx context.Context, key SeriesKey, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}

	groups := make(map[int][]BarRecord)
	for _, b := range bars {
		y := b.Timestamp.UTC().Year()
		groups[y] = append(groups[y], toRecord(b))
	}

	for year, records := range groups {
		if err := ctx.Err(); err != nil {
			return err
		}
		path := s.barPath(key, year)

		// Read existing records to merge.
		existing, err := readParquetFile[BarRecord](path)
		if err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("reading %s: %w", path, err)
		}
		merged := mergeBarRecords(existing, records)

		if err := writeParquetFile(path, merged); err != nil {
			return fmt.Errorf("writing bars for %s/%d: %w", key, year, err)
		}
	}
	return nil
}

// ReadBars reads bar data from Parquet files for the series and time range.
func (s *ParquetStore) ReadBars(_ context.Context, key SeriesKey, start, end time.Time) ([]domain.Bar, error) {
	var bars []domain.Bar
	for year := start.UTC().Year(); year <= end.UTC().Year(); year++ {
		records, err := readParquetFile[BarRecord](s.barPath(key, year))
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("reading %s/%d: %w", key, year, err)
		}

		for _, r := range records {
			ts := time.UnixMilli(r.Timestamp)
			if !ts.Before(start) && !ts.After(end) {
				bars = append(bars, r.toBar())
			}
		}
	}
	return bars, nil
}

// LastBars returns the latest n bars of the series, reading year files from
// newest to oldest until enough bars are collected.
func (s *ParquetStore) LastBars(_ context.Context, key SeriesKey, n int) ([]domain.Bar, error) {
	if n <= 0 {
		return nil, nil
	}
	years, err := s.years(key)
	if err != nil {
		return nil, err
	}

	var records []BarRecord
	for i := len(years) - 1; i >= 0 && len(records) < n; i-- {
		recs, err := readParquetFile[BarRecord](s.barPath(key, years[i]))
		if err != nil {
			return nil, fmt.Errorf("reading %s/%d: %w", key, years[i], err)
		}
		records = append(recs, records...)
	}
	if len(records) > n {
		records = records[len(records)-n:]
	}

	bars := make([]domain.Bar, len(records))
	for i, r := range records {
		bars[i] = r.toBar()
	}
	return bars, nil
}

// ListSymbols lists all symbols that have bar data in the given market and
// frequency.
func (s *ParquetStore) ListSymbols(_ context.Context, market domain.Market, freqMinutes int) ([]string, error) {
	dir := filepath.Join(s.DataDir, string(market), freqDir(freqMinutes))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var symbols []string
	for _, e := range entries {
		if e.IsDir() {
			symbols = append(symbols, e.Name())
		}
	}
	sort.Strings(symbols)
	return symbols, nil
}

// years returns the years with a file for the series, ascending.
func (s *ParquetStore) years(key SeriesKey) ([]int, error) {
	dir := filepath.Dir(s.barPath(key, 0))
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var years []int
	for _, e := range entries {
		name, ok := strings.CutSuffix(e.Name(), ".parquet")
		if !ok || e.IsDir() {
			continue
		}
		if y, err := strconv.Atoi(name); err == nil {
			years = append(years, y)
		}
	}
	sort.Ints(years)
	return years, nil
}

// ---------------------------------------------------------------------------
// Path helpers
// ---------------------------------------------------------------------------

func freqDir(freqMinutes int) string {
	return strconv.Itoa(freqMinutes) + "m"
}

// barPath returns the filesystem path for a bar Parquet file.
// Layout: <dataDir>/<market>/<freq>m/<SYMBOL>/<YYYY>.parquet
func (s *ParquetStore) barPath(key SeriesKey, year int) string {
	return filepath.Join(s.DataDir, string(key.Market), freqDir(key.FreqMinutes),
		strings.ToUpper(key.Symbol), strconv.Itoa(year)+".parquet")
}

// ---------------------------------------------------------------------------
// Parquet file helpers
// ---------------------------------------------------------------------------

func writeParquetFile[T any](path string, records []T) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, records)
}

func readParquetFile[T any](path string) ([]T, error) {
	if _, err := os.Stat(path); err != nil {
		return nil, err
	}
	rows, err := parquet.ReadFile[T](path)
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// mergeBarRecords deduplicates bar records by timestamp, preferring new
// records over existing ones. Results are sorted by timestamp.
func mergeBarRecords(existing, incoming []BarRecord) []BarRecord {
	seen := make(map[int64]BarRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.Timestamp] = r
	}
	for _, r := range incoming {
		seen[r.Timestamp] = r
	}

	merged := make([]BarRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool {
		return merged[i].Timestamp < merged[j].Timestamp
	})
	return merged
}
