package data

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsxjacky/multistock-rl/pkg/types"
)

func date(s string) time.Time {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		panic(err)
	}
	return t
}

// writeCSV 写入 Date,Close,MACD 三列的测试文件, 从 start 开始连续 days 天
func writeCSV(t *testing.T, dir, symbol, start string, days int, price float64) {
	t.Helper()
	var b strings.Builder
	b.WriteString("Date,Close,MACD\n")
	d := date(start)
	for i := 0; i < days; i++ {
		fmt.Fprintf(&b, "%s,%.2f,%.2f\n", d.AddDate(0, 0, i).Format("2006-01-02"), price+float64(i), float64(i)/10)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, symbol+".csv"), []byte(b.String()), 0644))
}

func newLoader(dir string) *CSVLoader {
	return NewCSVLoader(dir, zerolog.Nop())
}

func TestLoad_FiltersRangeAndPreservesOrder(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "AAPL", "2023-01-01", 30, 100)

	md, err := newLoader(dir).Load(types.LoadRequest{
		Symbols:  []string{"AAPL"},
		Start:    date("2023-01-05"),
		End:      date("2023-01-14"),
		Features: []string{"MACD", "Close"},
	})
	require.NoError(t, err)

	assert.Equal(t, []string{"AAPL"}, md.Symbols)
	assert.Equal(t, []string{"MACD", "Close"}, md.Features)
	require.Equal(t, 10, md.NumDays())
	assert.Equal(t, date("2023-01-05"), md.Dates[0])
	assert.Equal(t, date("2023-01-14"), md.Dates[9])
	assert.InDelta(t, 104.0, md.Values[0][0][1], 1e-9)
	assert.InDelta(t, 0.4, md.Values[0][0][0], 1e-9)
	for i := 1; i < md.NumDays(); i++ {
		assert.True(t, md.Dates[i].After(md.Dates[i-1]))
	}
}

func TestLoad_SortsUnorderedRows(t *testing.T) {
	dir := t.TempDir()
	content := "Date,Close\n2023-01-03,3\n2023-01-01,1\nnot-a-date,9\n2023-01-02,2\n"
	require.NoError(t, os.WriteFile(filepath.Join(dir, "MSFT.csv"), []byte(content), 0644))

	md, err := newLoader(dir).Load(types.LoadRequest{
		Symbols:  []string{"MSFT"},
		Start:    date("2023-01-01"),
		Features: []string{"Close"},
	})
	require.NoError(t, err)
	require.Equal(t, 3, md.NumDays())
	assert.Equal(t, 1.0, md.Values[0][0][0])
	assert.Equal(t, 3.0, md.Values[0][2][0])
}

func TestLoad_DuplicateDates(t *testing.T) {
	req := types.LoadRequest{
		Symbols:  []string{"AAPL", "MSFT"},
		Start:    date("2023-01-01"),
		MinRows:  1,
		Features: []string{"Close"},
	}

	t.Run("duplicate only in one stock", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "AAPL.csv"),
			[]byte("Date,Close\n2023-01-01,1\n2023-01-02,2\n2023-01-02,5\n2023-01-03,3\n"), 0644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "MSFT.csv"),
			[]byte("Date,Close\n2023-01-01,10\n2023-01-03,30\n"), 0644))

		md, err := newLoader(dir).Load(req)
		require.NoError(t, err)
		assert.Equal(t, []time.Time{date("2023-01-01"), date("2023-01-03")}, md.Dates)
		for s := range md.Values {
			assert.Len(t, md.Values[s], md.NumDays(), md.Symbols[s])
		}
	})

	t.Run("duplicate in every stock keeps last row", func(t *testing.T) {
		dir := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(dir, "AAPL.csv"),
			[]byte("Date,Close\n2023-01-01,1\n2023-01-02,2\n2023-01-02,5\n2023-01-03,3\n"), 0644))
		require.NoError(t, os.WriteFile(filepath.Join(dir, "MSFT.csv"),
			[]byte("Date,Close\n2023-01-01,10\n2023-01-02,20\n2023-01-02,25\n2023-01-03,30\n"), 0644))

		md, err := newLoader(dir).Load(req)
		require.NoError(t, err)
		require.Equal(t, 3, md.NumDays())
		assert.Equal(t, date("2023-01-02"), md.Dates[1])
		assert.Equal(t, 5.0, md.Values[0][1][0])
		assert.Equal(t, 25.0, md.Values[1][1][0])
	})
}

func TestLoad_ReferenceSkipsEmptySymbol(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "AAPL", "2022-01-01", 10, 100)
	writeCSV(t, dir, "MSFT", "2023-01-01", 20, 100)
	writeCSV(t, dir, "NVDA", "2023-01-15", 6, 200)

	md, err := newLoader(dir).Load(types.LoadRequest{
		Symbols:  []string{"AAPL", "MSFT", "NVDA"},
		Start:    date("2023-01-01"),
		End:      date("2023-01-20"),
		Features: []string{"Close"},
	})
	require.NoError(t, err)
	// AAPL 区间内无数据, 参照行数取 MSFT 的 20 行
	assert.Equal(t, []string{"MSFT"}, md.Symbols)
	assert.Equal(t, 20, md.NumDays())
}

func TestLoad_DropsShortStocks(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "AAPL", "2023-01-01", 20, 100)
	writeCSV(t, dir, "NVDA", "2023-01-15", 6, 200)

	req := types.LoadRequest{
		Symbols:  []string{"AAPL", "NVDA"},
		Start:    date("2023-01-01"),
		End:      date("2023-01-20"),
		Features: []string{"Close"},
	}

	md, err := newLoader(dir).Load(req)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL"}, md.Symbols)
	assert.Equal(t, 20, md.NumDays())

	req.MinRows = 5
	md, err = newLoader(dir).Load(req)
	require.NoError(t, err)
	assert.Equal(t, []string{"AAPL", "NVDA"}, md.Symbols)
	assert.Equal(t, 6, md.NumDays(), "intersection keeps only shared dates")
	assert.Equal(t, date("2023-01-15"), md.Dates[0])
}

func TestLoad_StrictAlignmentRejectsMismatch(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "AAPL", "2023-01-01", 10, 100)
	writeCSV(t, dir, "MSFT", "2023-01-02", 10, 100)

	_, err := newLoader(dir).Load(types.LoadRequest{
		Symbols:  []string{"AAPL", "MSFT"},
		Start:    date("2023-01-01"),
		MinRows:  1,
		Features: []string{"Close"},
		Align:    types.AlignStrict,
	})
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrMisaligned))
}

func TestLoad_Errors(t *testing.T) {
	dir := t.TempDir()
	writeCSV(t, dir, "AAPL", "2023-01-01", 10, 100)
	loader := newLoader(dir)

	t.Run("missing file is fatal", func(t *testing.T) {
		_, err := loader.Load(types.LoadRequest{Symbols: []string{"AAPL", "NOPE"}, Features: []string{"Close"}})
		require.Error(t, err)
		assert.True(t, errors.Is(err, os.ErrNotExist))
		assert.Contains(t, err.Error(), "NOPE")
	})

	t.Run("close feature required", func(t *testing.T) {
		_, err := loader.Load(types.LoadRequest{Symbols: []string{"AAPL"}, Features: []string{"MACD"}})
		require.Error(t, err)
	})

	t.Run("unknown feature", func(t *testing.T) {
		_, err := loader.Load(types.LoadRequest{Symbols: []string{"AAPL"}, Features: []string{"Close", "Volume"}})
		require.Error(t, err)
	})

	t.Run("empty range", func(t *testing.T) {
		_, err := loader.Load(types.LoadRequest{
			Symbols:  []string{"AAPL"},
			Start:    date("2024-01-01"),
			Features: []string{"Close"},
		})
		assert.ErrorIs(t, err, ErrNoData)
	})

	t.Run("no symbols", func(t *testing.T) {
		_, err := loader.Load(types.LoadRequest{})
		require.Error(t, err)
	})
}

func TestLoad_DerivesMissingIndicators(t *testing.T) {
	dir := t.TempDir()
	var b strings.Builder
	b.WriteString("Date,Open,High,Low,Close,Volume\n")
	d := date("2022-01-01")
	for i := 0; i < 80; i++ {
		c := 100 + 5*float64(i%7) + float64(i)/4
		fmt.Fprintf(&b, "%s,%.2f,%.2f,%.2f,%.2f,1000\n", d.AddDate(0, 0, i).Format("2006-01-02"), c, c+1, c-1, c)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "AMZN.csv"), []byte(b.String()), 0644))

	md, err := newLoader(dir).Load(types.LoadRequest{
		Symbols:  []string{"AMZN"},
		Start:    date("2022-02-15"),
		Features: types.DefaultFeatures,
	})
	require.NoError(t, err)
	require.Equal(t, len(types.DefaultFeatures), md.NumFeatures())

	last := md.Values[0][md.NumDays()-1]
	rsi := last[md.FeatureIndex("RSI")]
	assert.Greater(t, rsi, 0.0)
	assert.Less(t, rsi, 100.0)
	assert.NotZero(t, last[md.FeatureIndex("MACD")])
	assert.NotZero(t, last[md.FeatureIndex("ADX")])
}

func TestEnrichCSV(t *testing.T) {
	dir := t.TempDir()
	out := t.TempDir()
	writeCSV(t, dir, "GOOGL", "2022-01-01", 60, 90)

	loader := newLoader(dir)
	_, _, err := loader.EnrichCSV("GOOGL", out)
	require.Error(t, err, "CCI needs High and Low")

	var b strings.Builder
	b.WriteString("Date,High,Low,Close\n")
	d := date("2022-01-01")
	for i := 0; i < 60; i++ {
		c := 90 + float64(i%5)
		fmt.Fprintf(&b, "%s,%.2f,%.2f,%.2f\n", d.AddDate(0, 0, i).Format("2006-01-02"), c+1, c-1, c)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "GOOGL.csv"), []byte(b.String()), 0644))

	path, added, err := loader.EnrichCSV("GOOGL", out)
	require.NoError(t, err)
	assert.Equal(t, DerivedIndicators, added)

	enriched, err := NewCSVLoader(out, zerolog.Nop()).Load(types.LoadRequest{
		Symbols:  []string{"GOOGL"},
		Features: types.DefaultFeatures,
	})
	require.NoError(t, err)
	assert.Equal(t, 60, enriched.NumDays())
	assert.FileExists(t, path)
}

func TestParseHeaderAliases(t *testing.T) {
	idx := parseHeader([]string{"timestamp", "Adj Close", "close", "MACD_Signal"})
	assert.Equal(t, 0, idx["date"])
	assert.Equal(t, 1, idx["adjclose"])
	assert.Equal(t, 2, idx["close"])
	assert.Equal(t, 3, idx["signal"])
}
