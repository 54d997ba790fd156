package utils

import (
	"fmt"
	"io"
	"math"
	"os"
	"runtime"
	"strings"
	"sync"
	"time"
)

// DEBUG for turning debug logs on/off
const DEBUG = true
const MeMStat = true
const PREFIX = ""
const LONG_PREFIX = "->> "

type logger struct {
	debug bool
	mu    *sync.Mutex
	out   io.Writer
	err   io.Writer
}

// NewLogger prints to stdout, errors to stderr.
func NewLogger(debug bool) Logger {
	return &logger{
		debug: debug,
		mu:    &sync.Mutex{},
		out:   os.Stdout,
		err:   os.Stderr,
	}
}

// NewLoggerTo prints everything, errors included, to w.
func NewLoggerTo(w io.Writer, debug bool) Logger {
	return &logger{
		debug: debug,
		mu:    &sync.Mutex{},
		out:   w,
		err:   w,
	}
}

type Logger interface {
	PrintMessage(message string)
	PrintMessages(messages ...interface{})
	PrintFormatted(format string, args ...interface{})
	PrintError(format string, args ...interface{})
	PrintHeader(header string)
	PrintMemUsage(name string)
	PrintRunningTime(name string, t time.Time)
	PrintSummarizedVector(name string, vec []float64, numElements int)
}

func (l logger) PrintMessage(message string) {
	if l.debug {
		l.mu.Lock()
		defer l.mu.Unlock()
		fmt.Fprint(l.out, PREFIX)
		fmt.Fprintf(l.out, "%s", message)
		fmt.Fprintln(l.out)
	}
}

func (l logger) PrintMessages(messages ...interface{}) {
	if l.debug {
		l.mu.Lock()
		defer l.mu.Unlock()
		fmt.Fprint(l.out, PREFIX)
		for _, message := range messages {
			fmt.Fprint(l.out, message)
		}
		fmt.Fprintln(l.out)
	}
}

func (l logger) PrintFormatted(format string, args ...interface{}) {
	if l.debug {
		l.mu.Lock()
		defer l.mu.Unlock()
		fmt.Fprint(l.out, LONG_PREFIX)
		fmt.Fprintf(l.out, format, args...)
		fmt.Fprintln(l.out)
	}
}

// PrintError is never silenced by the debug flag.
func (l logger) PrintError(format string, args ...interface{}) {
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprint(l.err, "|-> Error: ")
	fmt.Fprintf(l.err, format, args...)
	fmt.Fprintln(l.err)
}

// PrintHeader prints a nicely formatted header, auto-wrapping if too long.
func (l logger) PrintHeader(header string) {
	const totalWidth = 80
	const padding = 4

	if !l.debug {
		return
	}
	lines := splitIntoLines(header, totalWidth-(padding*2))

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.out)
	fmt.Fprintln(l.out, strings.Repeat("=", totalWidth))

	for _, line := range lines {
		paddingLeft := (totalWidth - len(line)) / 2
		paddingRight := totalWidth - len(line) - paddingLeft
		fmt.Fprintln(l.out, strings.Repeat(" ", paddingLeft)+line+strings.Repeat(" ", paddingRight))
	}

	fmt.Fprintln(l.out, strings.Repeat("=", totalWidth))
}

// splitIntoLines splits a string into multiple lines based on max width.
func splitIntoLines(text string, maxWidth int) []string {
	var lines []string
	for len(text) > maxWidth {
		// Find the nearest space before maxWidth
		splitAt := strings.LastIndex(text[:maxWidth], " ")
		if splitAt == -1 {
			splitAt = maxWidth
		}
		lines = append(lines, strings.TrimSpace(text[:splitAt]))
		text = strings.TrimSpace(text[splitAt:])
	}
	if len(text) > 0 {
		lines = append(lines, text)
	}
	return lines
}

// PrintMemUsage outputs the followings
// Alloc: the bytes of allocated heap objects.
// TotalAlloc: the cumulative bytes allocated for heap objects
// Sys: the total bytes of memory obtained from the OS
// For more info check: https://golang.org/pkg/runtime/#MemStats
func (l logger) PrintMemUsage(name string) {
	if !MeMStat || !l.debug {
		return
	}
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	mb := 1e6
	alloc := float64(m.Alloc) / mb
	tAlloc := float64(m.TotalAlloc) / mb
	mSys := float64(m.Sys) / mb
	buf := new(strings.Builder)
	width := 15 + 7
	fmt.Fprintf(buf, "|-> %-*s", width, name)
	buf.WriteByte('\t')
	prettyPrint(buf, alloc, "MB")
	buf.WriteByte('\t')
	prettyPrint(buf, tAlloc, "MB")
	buf.WriteByte('\t')
	prettyPrint(buf, mSys, "MB")

	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprintln(l.out, buf)
}

func (l logger) PrintRunningTime(name string, t time.Time) {
	if !l.debug {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	fmt.Fprint(l.out, PREFIX)
	fmt.Fprintf(l.out, "%s running time: %f (s)\n", name, time.Since(t).Seconds())
}

// Helps to print the MemStats
func prettyPrint(w io.Writer, x float64, unit string) {
	// Print all numbers with 10 places before the decimal point
	// and small numbers with four sig figs.
	var format string
	switch y := math.Abs(x); {
	case y == 0 || y >= 0.99995:
		format = "%10.3f %s"
	case y >= 0.099995:
		format = "%15.4f %s"
	case y >= 0.0099995:
		format = "%16.5f %s"
	case y >= 0.00099995:
		format = "%17.6f %s"
	default:
		format = "%18.7f %s"
	}
	fmt.Fprintf(w, format, x, unit)
}

// PrintSummarizedVector prints the head and the tail of a vector
func (l logger) PrintSummarizedVector(name string, vec []float64, numElements int) {
	const summaryLength = 4
	if !l.debug {
		return
	}
	if numElements > len(vec) {
		numElements = len(vec)
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if numElements == 0 {
		fmt.Fprint(l.out, PREFIX)
		fmt.Fprintf(l.out, "[%s]: vector is empty!\n", name)
		return
	}

	format := "%.6f "
	fmt.Fprintf(l.out, "[%s]: {", name)
	if numElements > 2*summaryLength {
		for i := 0; i < summaryLength; i++ {
			fmt.Fprintf(l.out, format, vec[i])
		}
		fmt.Fprintf(l.out, "... ")
		for i := numElements - summaryLength; i < numElements; i++ {
			fmt.Fprintf(l.out, format, vec[i])
		}
	} else {
		for i := 0; i < numElements; i++ {
			fmt.Fprintf(l.out, format, vec[i])
		}
	}
	fmt.Fprintf(l.out, "}\n")
}
