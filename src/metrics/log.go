// Package metrics keeps the append-only CSV log of relay transactions and analyses it.
package metrics

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"flpre/src/utils"
)

// TimeLayout is the minute-resolution day-first timestamp used in the log.
const TimeLayout = "02-01-2006 15:04"

const (
	RoleServer = "server"
	RoleClient = "client"
)

var Header = []string{
	"timestamp", "role", "method", "endpoint", "client_id", "type", "file",
	"payload_size", "bytes_sent", "bytes_received", "latency_ms", "http_code",
}

// Record is one tracked upload or download.
type Record struct {
	Timestamp     time.Time
	Role          string
	Method        string
	Endpoint      string
	ClientID      string
	Type          string
	File          string
	PayloadSize   int64
	BytesSent     int64
	BytesReceived int64
	LatencyMs     int64
	HTTPCode      int
}

func (r Record) row() []string {
	return []string{
		r.Timestamp.Format(TimeLayout),
		r.Role,
		r.Method,
		r.Endpoint,
		r.ClientID,
		r.Type,
		r.File,
		strconv.FormatInt(r.PayloadSize, 10),
		strconv.FormatInt(r.BytesSent, 10),
		strconv.FormatInt(r.BytesReceived, 10),
		strconv.FormatInt(r.LatencyMs, 10),
		strconv.Itoa(r.HTTPCode),
	}
}

// Log appends records to a CSV file, writing the header when the file is empty.
type Log struct {
	mu   sync.Mutex
	path string
}

func NewLog(path string) (*Log, error) {
	if err := utils.EnsureParentDir(path); err != nil {
		return nil, err
	}
	return &Log{path: path}, nil
}

func (l *Log) Path() string { return l.path }

func (l *Log) Append(r Record) (err error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("%w: open metrics log %s: %w", utils.ErrArtifact, l.path, err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("%w: close metrics log %s: %w", utils.ErrArtifact, l.path, cerr)
		}
	}()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("%w: stat metrics log %s: %w", utils.ErrArtifact, l.path, err)
	}

	w := csv.NewWriter(f)
	if info.Size() == 0 {
		if err = w.Write(Header); err != nil {
			return fmt.Errorf("%w: write metrics header: %w", utils.ErrArtifact, err)
		}
	}
	if err = w.Write(r.row()); err != nil {
		return fmt.Errorf("%w: write metrics record: %w", utils.ErrArtifact, err)
	}
	w.Flush()
	if err = w.Error(); err != nil {
		return fmt.Errorf("%w: flush metrics log: %w", utils.ErrArtifact, err)
	}
	return nil
}

// ReadLog parses a metrics file. Columns are located by header name; missing
// numeric fields read as zero and unparsable timestamps as the zero time.
func ReadLog(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("%w: os.Open(%s): %w", utils.ErrArtifact, path, err)
	}
	defer f.Close()
	return readRecords(f)
}

func readRecords(r io.Reader) ([]Record, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1

	head, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("metrics header: %w", err)
	}
	index := make(map[string]int, len(head))
	for i, name := range head {
		index[name] = i
	}
	field := func(row []string, name string) string {
		if i, ok := index[name]; ok && i < len(row) {
			return row[i]
		}
		return ""
	}
	number := func(row []string, name string) int64 {
		n, _ := strconv.ParseInt(field(row, name), 10, 64)
		return n
	}

	var records []Record
	for {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return records, fmt.Errorf("metrics row %d: %w", len(records)+1, err)
		}
		ts, _ := time.ParseInLocation(TimeLayout, field(row, "timestamp"), time.Local)
		records = append(records, Record{
			Timestamp:     ts,
			Role:          field(row, "role"),
			Method:        field(row, "method"),
			Endpoint:      field(row, "endpoint"),
			ClientID:      field(row, "client_id"),
			Type:          field(row, "type"),
			File:          field(row, "file"),
			PayloadSize:   number(row, "payload_size"),
			BytesSent:     number(row, "bytes_sent"),
			BytesReceived: number(row, "bytes_received"),
			LatencyMs:     number(row, "latency_ms"),
			HTTPCode:      int(number(row, "http_code")),
		})
	}
	return records, nil
}
