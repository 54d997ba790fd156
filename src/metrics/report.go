package metrics

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"flpre/src/utils"
)

// WriteReport prints the client and server summaries, the per-round totals and the
// cross-check of the two logs.
func WriteReport(w io.Writer, client, server []Record) {
	size := utils.FriendlyBytes

	c := Summarize(client)
	var posts []Record
	negative := 0
	for _, r := range client {
		if strings.EqualFold(r.Method, "POST") {
			posts = append(posts, r)
			if r.BytesSent < r.PayloadSize {
				negative++
			}
		}
	}
	p := Summarize(posts)

	fmt.Fprintln(w, "\n================ CLIENT SUMMARY ================")
	fmt.Fprintf(w, "Total client payload (all operations):   %s\n", size(c.PayloadSize))
	fmt.Fprintf(w, "Total client bytes_sent:                 %s\n", size(c.BytesSent))
	fmt.Fprintf(w, "Total client uploads (POST payload sum): %s\n", size(c.UploadPayload))
	fmt.Fprintf(w, "Client latency [all]:                    mean %.0f ms, median %.0f ms, p95 %.0f ms\n", c.Latency.Mean, c.Latency.Median, c.Latency.P95)
	fmt.Fprintf(w, "Client latency [POST only]:              mean %.0f ms\n", p.Latency.Mean)
	if len(posts) > 0 {
		fmt.Fprintf(w, "Average overhead (bytes) [POST only]:    %d bytes\n", c.Overhead/int64(len(posts)))
		fmt.Fprintf(w, "Average overhead %% [POST only]:          %.4f%%\n", float64(c.Overhead)/float64(max(1, c.UploadPayload))*100)
	}
	if negative > 0 {
		fmt.Fprintf(w, "WARNING: %d client POST rows have negative overhead (instrumentation mismatch).\n", negative)
	}
	fmt.Fprintln(w, "\nBreakdown (client) by type:")
	for _, t := range sortedTypes(c) {
		s := c.ByType[t]
		fmt.Fprintf(w, " - %-8s: payload=%s, sent=%s, avg_latency=%.0f ms\n", t, size(s.PayloadSize), size(s.BytesSent), s.Latency.Mean)
	}

	s := Summarize(server)
	fmt.Fprintln(w, "\n================ SERVER SUMMARY ================")
	fmt.Fprintf(w, "Total server bytes_received (all operations): %s\n", size(s.BytesReceived))
	fmt.Fprintf(w, "Total server payload_size:                    %s\n", size(s.PayloadSize))
	fmt.Fprintf(w, "Server latency:                               mean %.0f ms, median %.0f ms, p95 %.0f ms\n", s.Latency.Mean, s.Latency.Median, s.Latency.P95)
	fmt.Fprintln(w, "\nBreakdown (server) by type:")
	for _, t := range sortedTypes(s) {
		ts := s.ByType[t]
		fmt.Fprintf(w, " - %-8s: payload=%s, received=%s, avg_latency=%.0f ms\n", t, size(ts.PayloadSize), size(ts.BytesReceived), ts.Latency.Mean)
	}

	fmt.Fprintln(w, "\n================ PER-ROUND SUMMARY ================")
	combined := append(append([]Record{}, client...), server...)
	for i := range combined[:len(client)] {
		combined[i].Role = RoleClient
	}
	for i := len(client); i < len(combined); i++ {
		combined[i].Role = RoleServer
	}
	var last string
	for _, r := range Rounds(combined, RoundWindow) {
		if start := r.Start.Format(TimeLayout); start != last {
			fmt.Fprintf(w, "\nRound starting %s:\n", start)
			last = start
		}
		fmt.Fprintf(w, "  %-6s payload=%s, sent=%s, recv=%s\n", r.Role, size(r.PayloadSize), size(r.BytesSent), size(r.BytesReceived))
	}

	fmt.Fprintln(w, "\n================ CROSS-CHECK ================")
	mismatches := CrossCheck(client, server, MatchWindow)
	if len(mismatches) == 0 {
		fmt.Fprintln(w, "OK: All matched between client and server (within tolerance).")
		return
	}
	fmt.Fprintln(w, "Mismatches found:")
	for _, m := range mismatches {
		fmt.Fprintln(w, " -", m)
	}
}

func sortedTypes(s Summary) []string {
	types := make([]string, 0, len(s.ByType))
	for t := range s.ByType {
		types = append(types, t)
	}
	sort.Strings(types)
	return types
}
