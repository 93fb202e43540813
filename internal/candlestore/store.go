// Package candlestore implements the columnar candle file layout of
// spec.md §4.2: one ZSTD-compressed file per calendar month of candles,
// keyed by (pair, timeframe). No teacher file implements a columnar
// candle store directly; this is grounded on internal/database/config.go
// naming "zstd" as a supported storage codec, and on the
// write-tmp-then-rename atomic file convention used throughout the
// teacher's internal/database connection-lifecycle code.
package candlestore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/nexustrade/tradingcore/internal/model"
)

const fileExt = ".cnd"

// AvailableRange summarizes the on-disk coverage for a (pair,timeframe).
type AvailableRange struct {
	Earliest     int64
	Latest       int64
	TotalCandles int64
	TotalFiles   int
}

// Store reads and writes candle files under BasePath, one file per
// calendar month: <BasePath>/<BASE-QUOTE>/<timeframe>/YYYY-MM.cnd.
type Store struct {
	BasePath string
	logger   *zap.Logger

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

// New creates a Store rooted at basePath.
func New(basePath string, logger *zap.Logger) *Store {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		BasePath: basePath,
		logger:   logger.Named("candlestore"),
		locks:    make(map[string]*sync.Mutex),
	}
}

func (s *Store) fileLock(pair model.Pair, tf model.Timeframe, month string) *sync.Mutex {
	key := fmt.Sprintf("%s|%s|%s", pair, tf, month)
	s.locksMu.Lock()
	defer s.locksMu.Unlock()
	m, ok := s.locks[key]
	if !ok {
		m = &sync.Mutex{}
		s.locks[key] = m
	}
	return m
}

func (s *Store) dirFor(pair model.Pair, tf model.Timeframe) string {
	return filepath.Join(s.BasePath, pair.FileToken(), string(tf))
}

func monthKey(ts int64) string {
	t := time.UnixMilli(ts).UTC()
	return fmt.Sprintf("%04d-%02d", t.Year(), t.Month())
}

func (s *Store) pathFor(pair model.Pair, tf model.Timeframe, month string) string {
	return filepath.Join(s.dirFor(pair, tf), month+fileExt)
}

// AppendCandles merges candles into their respective month files,
// deduplicating by timestamp (last write wins), sorting ascending, and
// rewriting each touched file atomically (write-tmp, rename).
func (s *Store) AppendCandles(pair model.Pair, tf model.Timeframe, candles []model.Candle) error {
	byMonth := make(map[string][]model.Candle)
	for _, c := range candles {
		if err := c.Validate(); err != nil {
			return fmt.Errorf("candlestore: %w", err)
		}
		byMonth[monthKey(c.TimestampMs)] = append(byMonth[monthKey(c.TimestampMs)], c)
	}

	for month, newCandles := range byMonth {
		if err := s.appendMonth(pair, tf, month, newCandles); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) appendMonth(pair model.Pair, tf model.Timeframe, month string, newCandles []model.Candle) error {
	lock := s.fileLock(pair, tf, month)
	lock.Lock()
	defer lock.Unlock()

	path := s.pathFor(pair, tf, month)
	existing, err := readFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("candlestore: read %s: %w", path, err)
	}

	merged := mergeDedup(existing, newCandles)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("candlestore: mkdir: %w", err)
	}
	return writeFileAtomic(path, merged)
}

func mergeDedup(existing, incoming []model.Candle) []model.Candle {
	byTs := make(map[int64]model.Candle, len(existing)+len(incoming))
	for _, c := range existing {
		byTs[c.TimestampMs] = c
	}
	for _, c := range incoming {
		byTs[c.TimestampMs] = c // last write wins
	}
	out := make([]model.Candle, 0, len(byTs))
	for _, c := range byTs {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TimestampMs < out[j].TimestampMs })
	return out
}

// ReadRange returns candles in [from,to] for (pair,timeframe), merged
// and sorted ascending across the month files that can contain them
// plus one neighbor on each side.
func (s *Store) ReadRange(pair model.Pair, tf model.Timeframe, from, to int64) ([]model.Candle, error) {
	months := monthsInRangeWithNeighbors(from, to)
	var out []model.Candle
	for _, month := range months {
		path := s.pathFor(pair, tf, month)
		candles, err := readFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				continue
			}
			return nil, fmt.Errorf("candlestore: read %s: %w", path, err)
		}
		for _, c := range candles {
			if c.TimestampMs >= from && c.TimestampMs <= to {
				out = append(out, c)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TimestampMs < out[j].TimestampMs })
	return out, nil
}

func monthsInRangeWithNeighbors(from, to int64) []string {
	start := time.UnixMilli(from).UTC()
	end := time.UnixMilli(to).UTC()
	start = time.Date(start.Year(), start.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, -1, 0)
	end = time.Date(end.Year(), end.Month(), 1, 0, 0, 0, 0, time.UTC).AddDate(0, 1, 0)

	var months []string
	for cur := start; !cur.After(end); cur = cur.AddDate(0, 1, 0) {
		months = append(months, fmt.Sprintf("%04d-%02d", cur.Year(), cur.Month()))
	}
	return months
}

// GetAvailableRange reports the earliest/latest timestamp and candle
// count on disk for (pair,timeframe), or false if nothing is stored.
func (s *Store) GetAvailableRange(pair model.Pair, tf model.Timeframe) (AvailableRange, bool) {
	dir := s.dirFor(pair, tf)
	entries, err := os.ReadDir(dir)
	if err != nil {
		return AvailableRange{}, false
	}

	var rng AvailableRange
	first := true
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != fileExt {
			continue
		}
		candles, err := readFile(filepath.Join(dir, e.Name()))
		if err != nil || len(candles) == 0 {
			continue
		}
		rng.TotalFiles++
		rng.TotalCandles += int64(len(candles))
		lo, hi := candles[0].TimestampMs, candles[len(candles)-1].TimestampMs
		if first || lo < rng.Earliest {
			rng.Earliest = lo
		}
		if first || hi > rng.Latest {
			rng.Latest = hi
		}
		first = false
	}
	if rng.TotalFiles == 0 {
		return AvailableRange{}, false
	}
	return rng, true
}

// DeleteBefore removes candles strictly older than cutoff across all
// month files for (pair,timeframe), rewriting (or removing) each file
// atomically.
func (s *Store) DeleteBefore(pair model.Pair, tf model.Timeframe, cutoff int64) error {
	dir := s.dirFor(pair, tf)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("candlestore: readdir: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != fileExt {
			continue
		}
		month := e.Name()[:len(e.Name())-len(fileExt)]
		lock := s.fileLock(pair, tf, month)
		lock.Lock()
		path := filepath.Join(dir, e.Name())
		candles, err := readFile(path)
		if err != nil {
			lock.Unlock()
			return fmt.Errorf("candlestore: read %s: %w", path, err)
		}
		kept := candles[:0]
		for _, c := range candles {
			if c.TimestampMs >= cutoff {
				kept = append(kept, c)
			}
		}
		var werr error
		if len(kept) == 0 {
			werr = os.Remove(path)
			if os.IsNotExist(werr) {
				werr = nil
			}
		} else {
			werr = writeFileAtomic(path, kept)
		}
		lock.Unlock()
		if werr != nil {
			return fmt.Errorf("candlestore: delete before %s: %w", path, werr)
		}
	}
	return nil
}

// --- wire format: column arrays, binary-encoded, zstd-compressed ---

func readFile(path string) ([]model.Candle, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("candlestore: zstd reader: %w", err)
	}
	defer dec.Close()
	plain, err := dec.DecodeAll(raw, nil)
	if err != nil {
		return nil, fmt.Errorf("candlestore: zstd decode: %w", err)
	}
	return decodeColumns(plain)
}

func writeFileAtomic(path string, candles []model.Candle) error {
	plain := encodeColumns(candles)

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return fmt.Errorf("candlestore: zstd writer: %w", err)
	}
	compressed := enc.EncodeAll(plain, nil)
	enc.Close()

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, compressed, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

// encodeColumns writes {timestamp,open,high,low,close,volume} as
// column arrays: a count, then six columns each length-prefixed.
func encodeColumns(candles []model.Candle) []byte {
	var buf bytes.Buffer
	n := uint32(len(candles))
	binary.Write(&buf, binary.LittleEndian, n)

	writeInt64Column := func(get func(model.Candle) int64) {
		for _, c := range candles {
			binary.Write(&buf, binary.LittleEndian, get(c))
		}
	}
	writeDecimalColumn := func(get func(model.Candle) decimal.Decimal) {
		for _, c := range candles {
			s := get(c).String()
			b := []byte(s)
			binary.Write(&buf, binary.LittleEndian, uint16(len(b)))
			buf.Write(b)
		}
	}

	writeInt64Column(func(c model.Candle) int64 { return c.TimestampMs })
	writeDecimalColumn(func(c model.Candle) decimal.Decimal { return c.Open })
	writeDecimalColumn(func(c model.Candle) decimal.Decimal { return c.High })
	writeDecimalColumn(func(c model.Candle) decimal.Decimal { return c.Low })
	writeDecimalColumn(func(c model.Candle) decimal.Decimal { return c.Close })
	writeDecimalColumn(func(c model.Candle) decimal.Decimal { return c.Volume })

	return buf.Bytes()
}

func decodeColumns(data []byte) ([]model.Candle, error) {
	r := bytes.NewReader(data)
	var n uint32
	if err := binary.Read(r, binary.LittleEndian, &n); err != nil {
		return nil, fmt.Errorf("candlestore: decode count: %w", err)
	}

	readInt64Column := func() ([]int64, error) {
		out := make([]int64, n)
		for i := range out {
			if err := binary.Read(r, binary.LittleEndian, &out[i]); err != nil {
				return nil, err
			}
		}
		return out, nil
	}
	readDecimalColumn := func() ([]decimal.Decimal, error) {
		out := make([]decimal.Decimal, n)
		for i := range out {
			var l uint16
			if err := binary.Read(r, binary.LittleEndian, &l); err != nil {
				return nil, err
			}
			b := make([]byte, l)
			if _, err := io.ReadFull(r, b); err != nil {
				return nil, err
			}
			d, err := decimal.NewFromString(string(b))
			if err != nil {
				return nil, err
			}
			out[i] = d
		}
		return out, nil
	}

	ts, err := readInt64Column()
	if err != nil {
		return nil, err
	}
	open, err := readDecimalColumn()
	if err != nil {
		return nil, err
	}
	high, err := readDecimalColumn()
	if err != nil {
		return nil, err
	}
	low, err := readDecimalColumn()
	if err != nil {
		return nil, err
	}
	close_, err := readDecimalColumn()
	if err != nil {
		return nil, err
	}
	vol, err := readDecimalColumn()
	if err != nil {
		return nil, err
	}

	out := make([]model.Candle, n)
	for i := range out {
		out[i] = model.Candle{TimestampMs: ts[i], Open: open[i], High: high[i], Low: low[i], Close: close_[i], Volume: vol[i]}
	}
	return out, nil
}
