package data

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/opsxjacky/multistock-rl/pkg/types"
)

// CSVLoader CSV数据加载器, 每个标的一个文件 <dataDir>/<SYMBOL>.csv
type CSVLoader struct {
	dataDir string
	log     zerolog.Logger
}

// NewCSVLoader 创建CSV加载器
func NewCSVLoader(dataDir string, log zerolog.Logger) *CSVLoader {
	return &CSVLoader{
		dataDir: dataDir,
		log:     log.With().Str("component", "csv_loader").Logger(),
	}
}

// SourceType 返回数据源类型
func (l *CSVLoader) SourceType() string {
	return "csv"
}

// series 单个标的的特征序列, values 索引为 [day][feature]
type series struct {
	symbol string
	dates  []time.Time
	values [][]float64
}

func (s *series) filter(req types.LoadRequest) *series {
	out := &series{symbol: s.symbol}
	for i, d := range s.dates {
		if req.InRange(d) {
			out.dates = append(out.dates, d)
			out.values = append(out.values, s.values[i])
		}
	}
	return out
}

// Load 加载并对齐多标的行情
func (l *CSVLoader) Load(req types.LoadRequest) (*types.MarketData, error) {
	if len(req.Symbols) == 0 {
		return nil, errors.New("no symbols requested")
	}

	features := req.Features
	if len(features) == 0 {
		features = types.DefaultFeatures
	}
	if indexOf(features, types.CloseFeature) < 0 {
		return nil, fmt.Errorf("feature list must include %q", types.CloseFeature)
	}

	minRows := req.MinRows
	kept := make([]*series, 0, len(req.Symbols))
	for _, symbol := range req.Symbols {
		full, err := l.loadSymbolData(symbol, features)
		if err != nil {
			return nil, fmt.Errorf("failed to load data for %s: %w", symbol, err)
		}
		s := full.filter(req)

		// 未指定最小行数时以第一个区间内有数据的标的为准
		if minRows <= 0 && len(s.dates) > 0 {
			minRows = len(s.dates)
			l.log.Debug().Str("reference", symbol).Int("min_rows", minRows).Msg("Derived minimum row count")
		}

		if len(s.dates) == 0 || len(s.dates) < minRows {
			l.log.Info().
				Str("symbol", symbol).
				Int("rows", len(s.dates)).
				Int("min_rows", minRows).
				Msg("Skipping stock with insufficient data")
			continue
		}
		kept = append(kept, s)
	}

	if len(kept) == 0 {
		return nil, ErrNoData
	}

	aligned, dates, err := align(kept, req.Align)
	if err != nil {
		return nil, err
	}
	if len(dates) == 0 {
		return nil, ErrNoData
	}

	md := &types.MarketData{
		Symbols:  make([]string, len(aligned)),
		Dates:    dates,
		Features: append([]string(nil), features...),
		Values:   make([][][]float64, len(aligned)),
	}
	for i, s := range aligned {
		md.Symbols[i] = s.symbol
		md.Values[i] = s.values
	}

	l.log.Info().
		Strs("symbols", md.Symbols).
		Int("days", md.NumDays()).
		Int("features", md.NumFeatures()).
		Msg("Loaded market data")
	return md, nil
}

// align 按对齐策略统一各标的的交易日
func align(all []*series, policy types.AlignPolicy) ([]*series, []time.Time, error) {
	if policy == types.AlignStrict {
		ref := all[0]
		for _, s := range all[1:] {
			if !sameDates(ref.dates, s.dates) {
				return nil, nil, fmt.Errorf("%w: %s has %d rows, %s has %d rows",
					ErrMisaligned, ref.symbol, len(ref.dates), s.symbol, len(s.dates))
			}
		}
		return all, ref.dates, nil
	}

	// 取交集
	counts := make(map[int64]int)
	for _, s := range all {
		for _, d := range s.dates {
			counts[d.Unix()]++
		}
	}

	out := make([]*series, len(all))
	var dates []time.Time
	for i, s := range all {
		trimmed := &series{symbol: s.symbol}
		for j, d := range s.dates {
			if counts[d.Unix()] == len(all) {
				trimmed.dates = append(trimmed.dates, d)
				trimmed.values = append(trimmed.values, s.values[j])
			}
		}
		out[i] = trimmed
		if i == 0 {
			dates = trimmed.dates
		}
	}
	return out, dates, nil
}

func sameDates(a, b []time.Time) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !a[i].Equal(b[i]) {
			return false
		}
	}
	return true
}

// table 已按日期升序排列的 CSV 内容
type table struct {
	header   []string
	colIndex map[string]int
	dates    []time.Time
	rows     [][]string
}

// column 解析数值列, 解析失败按 0 处理
func (t *table) column(name string) ([]float64, bool) {
	idx, ok := t.colIndex[canonicalColumn(name)]
	if !ok {
		return nil, false
	}
	out := make([]float64, len(t.rows))
	for i, row := range t.rows {
		if idx < len(row) {
			out[i], _ = strconv.ParseFloat(strings.TrimSpace(row[idx]), 64)
		}
	}
	return out, true
}

// ohlc 取推导指标所需的价格列
func (t *table) ohlc() OHLC {
	var o OHLC
	o.Close, _ = t.column("Close")
	o.High, _ = t.column("High")
	o.Low, _ = t.column("Low")
	return o
}

// readTable 读取CSV并按日期排序; 无法解析日期的行被跳过
func (l *CSVLoader) readTable(symbol string) (*table, error) {
	filePath := filepath.Join(l.dataDir, symbol+".csv")
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", filePath, err)
	}
	defer file.Close()

	reader := csv.NewReader(file)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err == io.EOF {
		return &table{colIndex: map[string]int{}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}
	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to read CSV: %w", err)
	}

	t := &table{header: header, colIndex: parseHeader(header)}
	dateIdx, ok := t.colIndex["date"]
	if !ok {
		return nil, fmt.Errorf("%s has no Date column", filePath)
	}

	type dated struct {
		date time.Time
		row  []string
	}
	parsed := make([]dated, 0, len(records))
	for _, row := range records {
		if dateIdx >= len(row) {
			continue
		}
		d, err := parseDate(strings.TrimSpace(row[dateIdx]))
		if err != nil {
			continue // 跳过解析错误的行
		}
		parsed = append(parsed, dated{date: d, row: row})
	}

	// 按日期排序
	sort.SliceStable(parsed, func(i, j int) bool {
		return parsed[i].date.Before(parsed[j].date)
	})

	// 同一日期出现多行时保留最后一行
	t.dates = make([]time.Time, 0, len(parsed))
	t.rows = make([][]string, 0, len(parsed))
	duplicates := 0
	for _, p := range parsed {
		if n := len(t.dates); n > 0 && t.dates[n-1].Equal(p.date) {
			t.rows[n-1] = p.row
			duplicates++
			continue
		}
		t.dates = append(t.dates, p.date)
		t.rows = append(t.rows, p.row)
	}
	if duplicates > 0 {
		l.log.Debug().Str("symbol", symbol).Int("duplicates", duplicates).Msg("Dropped duplicate date rows")
	}
	return t, nil
}

// loadSymbolData 加载单个标的全部历史 (日期过滤前), 缺失的指标列由 OHLC 推导
func (l *CSVLoader) loadSymbolData(symbol string, features []string) (*series, error) {
	t, err := l.readTable(symbol)
	if err != nil {
		return nil, err
	}
	if len(t.dates) == 0 {
		return &series{symbol: symbol}, nil
	}

	columns := make([][]float64, len(features))
	for f, name := range features {
		col, ok := t.column(name)
		if !ok {
			if !CanDerive(name) {
				return nil, fmt.Errorf("feature %q not found", name)
			}
			col, err = DeriveIndicator(name, t.ohlc())
			if err != nil {
				return nil, err
			}
			l.log.Debug().Str("symbol", symbol).Str("feature", name).Msg("Derived indicator column")
		}
		columns[f] = col
	}

	s := &series{
		symbol: symbol,
		dates:  t.dates,
		values: make([][]float64, len(t.dates)),
	}
	for d := range t.dates {
		row := make([]float64, len(features))
		for f := range features {
			row[f] = columns[f][d]
		}
		s.values[d] = row
	}
	return s, nil
}

// EnrichCSV 为标的文件补齐可推导的指标列并写入 outDir, 返回新增的列
func (l *CSVLoader) EnrichCSV(symbol string, outDir string) (string, []string, error) {
	t, err := l.readTable(symbol)
	if err != nil {
		return "", nil, err
	}
	if len(t.rows) == 0 {
		return "", nil, fmt.Errorf("%s has no data rows", symbol)
	}

	header := append([]string(nil), t.header...)
	var added []string
	var derived [][]float64
	for _, name := range DerivedIndicators {
		if _, ok := t.colIndex[canonicalColumn(name)]; ok {
			continue
		}
		col, err := DeriveIndicator(name, t.ohlc())
		if err != nil {
			return "", nil, fmt.Errorf("%s: %w", symbol, err)
		}
		header = append(header, name)
		added = append(added, name)
		derived = append(derived, col)
	}

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return "", nil, fmt.Errorf("failed to create %s: %w", outDir, err)
	}
	outPath := filepath.Join(outDir, symbol+".csv")
	file, err := os.Create(outPath)
	if err != nil {
		return "", nil, fmt.Errorf("failed to create %s: %w", outPath, err)
	}
	defer file.Close()

	w := csv.NewWriter(file)
	if err := w.Write(header); err != nil {
		return "", nil, err
	}
	for i, row := range t.rows {
		out := append([]string(nil), row...)
		for _, col := range derived {
			out = append(out, strconv.FormatFloat(col[i], 'f', 6, 64))
		}
		if err := w.Write(out); err != nil {
			return "", nil, err
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", nil, fmt.Errorf("failed to write %s: %w", outPath, err)
	}

	l.log.Info().Str("symbol", symbol).Strs("added", added).Str("path", outPath).Msg("Enriched CSV")
	return outPath, added, nil
}

// parseHeader 解析CSV表头, 返回规范列名到下标的映射
func parseHeader(header []string) map[string]int {
	colIndex := make(map[string]int)
	for i, col := range header {
		key := canonicalColumn(strings.TrimPrefix(col, "\ufeff"))
		if _, dup := colIndex[key]; !dup {
			colIndex[key] = i
		}
	}
	return colIndex
}

// parseDate 解析日期字符串
func parseDate(dateStr string) (time.Time, error) {
	formats := []string{
		"2006-01-02",
		"2006/01/02",
		"01/02/2006",
		"02-01-2006",
		"2006-01-02 15:04:05",
	}

	for _, format := range formats {
		if t, err := time.Parse(format, dateStr); err == nil {
			return t, nil
		}
	}

	return time.Time{}, fmt.Errorf("unable to parse date: %s", dateStr)
}

func indexOf(list []string, name string) int {
	for i, v := range list {
		if canonicalColumn(v) == canonicalColumn(name) {
			return i
		}
	}
	return -1
}
