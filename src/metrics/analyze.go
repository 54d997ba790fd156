package metrics

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/montanaflynn/stats"
)

// RoundWindow groups transactions of one training round.
const RoundWindow = 2 * time.Minute

// MatchWindow bounds the clock distance between a client record and its server counterpart.
const MatchWindow = 60 * time.Second

type Latency struct {
	Mean   float64
	Median float64
	P95    float64
}

type TypeSummary struct {
	Count         int
	PayloadSize   int64
	BytesSent     int64
	BytesReceived int64
	Latency       Latency
}

type Summary struct {
	Count         int
	PayloadSize   int64
	BytesSent     int64
	BytesReceived int64
	// UploadPayload sums the payload of POST records.
	UploadPayload int64
	// Overhead is bytes sent beyond the payload on POST records.
	Overhead int64
	Latency  Latency
	ByType   map[string]TypeSummary
}

type Round struct {
	Start         time.Time
	Role          string
	PayloadSize   int64
	BytesSent     int64
	BytesReceived int64
}

// InferType guesses the artifact type of a record logged without one.
func InferType(r Record) string {
	if r.Type != "" {
		return r.Type
	}
	f, e := strings.ToLower(r.File), strings.ToLower(r.Endpoint)
	switch {
	case strings.Contains(f, "cc.json") || strings.Contains(e, "getcc"):
		return "config"
	case strings.Contains(f, "rekey") || strings.Contains(e, "rekey"):
		return "rekey"
	case strings.Contains(f, "pub") || strings.Contains(e, "pbkey") || strings.Contains(e, "pubkey"):
		return "pubkey"
	case strings.Contains(f, "weight") || strings.Contains(f, "aggreg") || strings.Contains(f, "domain"):
		return "weights"
	}
	return "unknown"
}

func latency(records []Record) Latency {
	data := make(stats.Float64Data, 0, len(records))
	for _, r := range records {
		data = append(data, float64(r.LatencyMs))
	}
	if len(data) == 0 {
		return Latency{}
	}
	var l Latency
	l.Mean, _ = stats.Mean(data)
	l.Median, _ = stats.Median(data)
	l.P95, _ = stats.Percentile(data, 95)
	return l
}

func Summarize(records []Record) Summary {
	s := Summary{Count: len(records), ByType: map[string]TypeSummary{}}
	grouped := map[string][]Record{}
	for _, r := range records {
		s.PayloadSize += r.PayloadSize
		s.BytesSent += r.BytesSent
		s.BytesReceived += r.BytesReceived
		if strings.EqualFold(r.Method, "POST") {
			s.UploadPayload += r.PayloadSize
			s.Overhead += r.BytesSent - r.PayloadSize
		}
		t := InferType(r)
		grouped[t] = append(grouped[t], r)
	}
	s.Latency = latency(records)
	for t, rs := range grouped {
		ts := TypeSummary{Count: len(rs), Latency: latency(rs)}
		for _, r := range rs {
			ts.PayloadSize += r.PayloadSize
			ts.BytesSent += r.BytesSent
			ts.BytesReceived += r.BytesReceived
		}
		s.ByType[t] = ts
	}
	return s
}

// Rounds buckets records by role into windows aligned on window boundaries, oldest first.
func Rounds(records []Record, window time.Duration) []Round {
	type key struct {
		start time.Time
		role  string
	}
	buckets := map[key]*Round{}
	for _, r := range records {
		if r.Timestamp.IsZero() {
			continue
		}
		k := key{start: r.Timestamp.Truncate(window), role: r.Role}
		b, ok := buckets[k]
		if !ok {
			b = &Round{Start: k.start, Role: k.role}
			buckets[k] = b
		}
		b.PayloadSize += r.PayloadSize
		b.BytesSent += r.BytesSent
		b.BytesReceived += r.BytesReceived
	}
	rounds := make([]Round, 0, len(buckets))
	for _, b := range buckets {
		rounds = append(rounds, *b)
	}
	sort.Slice(rounds, func(i, j int) bool {
		if !rounds[i].Start.Equal(rounds[j].Start) {
			return rounds[i].Start.Before(rounds[j].Start)
		}
		return rounds[i].Role < rounds[j].Role
	})
	return rounds
}

func matchKey(r Record) string {
	return strings.TrimSpace(r.Endpoint) + "||" + filepath.Base(r.File)
}

func withinTolerance(a, b int64) bool {
	diff := a - b
	if diff < 0 {
		diff = -diff
	}
	return diff <= max(1, a/100)
}

// CrossCheck pairs every client record with a server record of the same endpoint and file
// name logged within window, and reports missing partners and size disagreements over 1%.
func CrossCheck(client, server []Record, window time.Duration) []string {
	index := map[string][]Record{}
	for _, s := range server {
		k := matchKey(s)
		index[k] = append(index[k], s)
	}

	var mismatches []string
	for _, c := range client {
		base := filepath.Base(c.File)
		candidates, ok := index[matchKey(c)]
		if !ok {
			mismatches = append(mismatches, fmt.Sprintf("No server entry for client row [%s %s file=%s]", c.Method, c.Endpoint, base))
			continue
		}

		var match *Record
		for i := range candidates {
			s := &candidates[i]
			if c.Timestamp.IsZero() || s.Timestamp.IsZero() {
				match = s
				break
			}
			dt := s.Timestamp.Sub(c.Timestamp)
			if dt < 0 {
				dt = -dt
			}
			if dt <= window {
				match = s
				break
			}
		}
		if match == nil {
			mismatches = append(mismatches, fmt.Sprintf("No time-close server match for client [%s %s file=%s]", c.Method, c.Endpoint, base))
			continue
		}

		switch strings.ToUpper(c.Method) {
		case "POST":
			if !withinTolerance(c.PayloadSize, match.BytesReceived) {
				mismatches = append(mismatches, fmt.Sprintf("POST size mismatch for %s: client payload=%d vs server received=%d",
					base, c.PayloadSize, match.BytesReceived))
			}
		case "GET":
			if match.PayloadSize != 0 && !withinTolerance(match.PayloadSize, c.BytesReceived) {
				mismatches = append(mismatches, fmt.Sprintf("GET size mismatch for %s: server payload=%d vs client received=%d",
					base, match.PayloadSize, c.BytesReceived))
			}
		}
	}
	return mismatches
}
