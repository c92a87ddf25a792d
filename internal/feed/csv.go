package feed

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"
)

// CSVFeed streams observations from a price or candle CSV. The header row
// names the columns: a time column (time, timestamp, or date) and a price
// column (price or close) are required; other columns are ignored. Timestamps
// are RFC3339 or UNIX seconds. A malformed value stops the feed with an error
// rather than skipping the row.
type CSVFeed struct {
	file     *os.File
	reader   *csv.Reader
	timeIdx  int
	priceIdx int
	row      int64
	err      error
	done     bool
}

func OpenCSV(path string) (*CSVFeed, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open price csv: %w", err)
	}

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	header, err := r.Read()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("read csv header: %w", err)
	}

	timeIdx, priceIdx := -1, -1
	for i, h := range header {
		switch strings.ToLower(strings.TrimSpace(h)) {
		case "time", "timestamp", "date":
			if timeIdx == -1 {
				timeIdx = i
			}
		case "price", "close":
			if priceIdx == -1 {
				priceIdx = i
			}
		}
	}
	if timeIdx == -1 || priceIdx == -1 {
		f.Close()
		return nil, fmt.Errorf("csv header missing time or price column: %v", header)
	}

	return &CSVFeed{
		file:     f,
		reader:   r,
		timeIdx:  timeIdx,
		priceIdx: priceIdx,
		row:      1, // header consumed
	}, nil
}

func (f *CSVFeed) Next() (Observation, bool) {
	if f.done {
		return Observation{}, false
	}

	rec, err := f.reader.Read()
	if err == io.EOF {
		f.close()
		return Observation{}, false
	}
	if err != nil {
		f.fail(fmt.Errorf("row %d: %w", f.row+1, err))
		return Observation{}, false
	}
	f.row++

	if f.timeIdx >= len(rec) || f.priceIdx >= len(rec) {
		f.fail(fmt.Errorf("row %d: too few fields (%d)", f.row, len(rec)))
		return Observation{}, false
	}

	ts, err := parseTimeFlexible(strings.TrimSpace(rec[f.timeIdx]))
	if err != nil {
		f.fail(fmt.Errorf("row %d: parse time: %w", f.row, err))
		return Observation{}, false
	}

	price, err := strconv.ParseFloat(strings.TrimSpace(rec[f.priceIdx]), 64)
	if err != nil {
		f.fail(fmt.Errorf("row %d: parse price: %w", f.row, err))
		return Observation{}, false
	}

	return Observation{Timestamp: ts, Price: price}, true
}

func (f *CSVFeed) Err() error { return f.err }

// Close releases the underlying file. Safe to call after exhaustion.
func (f *CSVFeed) Close() error {
	if f.file == nil {
		return nil
	}
	err := f.file.Close()
	f.file = nil
	f.done = true
	return err
}

func (f *CSVFeed) close() {
	f.done = true
	if f.file != nil {
		f.file.Close()
		f.file = nil
	}
}

func (f *CSVFeed) fail(err error) {
	f.err = err
	f.close()
}

// parseTimeFlexible supports RFC3339 or UNIX seconds.
func parseTimeFlexible(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC(), nil
	}
	if sec, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(sec, 0).UTC(), nil
	}
	return time.Time{}, fmt.Errorf("bad time: %s", s)
}
