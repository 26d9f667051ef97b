// Package replay records raw sensor reports to a text log and plays them
// back with their original timing.
//
// Log format, one record per line:
//
//	# comment            ignored, as are blank lines
//	START                resets the time origin
//	<t_ns>,<hex>         report bytes, t_ns nanoseconds since START
package replay

import (
	"bufio"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Record is one log line. A nil Report marks a START line.
type Record struct {
	At     time.Duration
	Report []byte
}

func (r Record) IsStart() bool { return r.Report == nil }

type Reader struct {
	r io.Reader
}

func NewReader(r io.Reader) *Reader {
	return &Reader{r: r}
}

func (rr *Reader) ReadAll() ([]Record, error) {
	s := bufio.NewScanner(rr.r)
	s.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	recs := make([]Record, 0, 1024)
	lineNo := 0
	for s.Scan() {
		lineNo++
		line := strings.TrimSpace(s.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if line == "START" {
			recs = append(recs, Record{})
			continue
		}
		rec, err := parseLine(line)
		if err != nil {
			return nil, fmt.Errorf("replay: line %d: %w", lineNo, err)
		}
		recs = append(recs, rec)
	}
	if err := s.Err(); err != nil {
		return nil, err
	}
	return recs, nil
}

func parseLine(line string) (Record, error) {
	tsStr, hexStr, ok := strings.Cut(line, ",")
	if !ok {
		return Record{}, fmt.Errorf("missing comma in %q", line)
	}
	tsStr = strings.TrimSpace(tsStr)
	hexStr = strings.ReplaceAll(strings.TrimSpace(hexStr), " ", "")
	if tsStr == "" || hexStr == "" {
		return Record{}, fmt.Errorf("empty field in %q", line)
	}
	ns, err := strconv.ParseInt(tsStr, 10, 64)
	if err != nil {
		return Record{}, fmt.Errorf("timestamp %q: %w", tsStr, err)
	}
	if ns < 0 {
		return Record{}, fmt.Errorf("negative timestamp %d", ns)
	}
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		return Record{}, fmt.Errorf("payload: %w", err)
	}
	return Record{At: time.Duration(ns), Report: b}, nil
}

// ReadFile loads a whole log from disk.
func ReadFile(path string) ([]Record, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return NewReader(f).ReadAll()
}

// Writer appends reports to a log. Safe for concurrent use.
type Writer struct {
	mu     sync.Mutex
	f      *os.File
	w      *bufio.Writer
	start  time.Time
	closed bool
}

func CreateWriter(path string) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	bw := bufio.NewWriterSize(f, 64*1024)
	if _, err := bw.WriteString("START\n"); err != nil {
		_ = f.Close()
		return nil, err
	}
	return &Writer{f: f, w: bw, start: time.Now()}, nil
}

func (ww *Writer) WriteReport(now time.Time, report []byte) error {
	if len(report) == 0 {
		return errors.New("replay: empty report")
	}
	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.closed {
		return errors.New("replay: writer is closed")
	}
	d := now.Sub(ww.start)
	if d < 0 {
		d = 0
	}
	_, err := fmt.Fprintf(ww.w, "%d,%s\n", d.Nanoseconds(), hex.EncodeToString(report))
	return err
}

func (ww *Writer) Flush() error {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.closed {
		return nil
	}
	return ww.w.Flush()
}

func (ww *Writer) Close() error {
	ww.mu.Lock()
	defer ww.mu.Unlock()
	if ww.closed {
		return nil
	}
	ww.closed = true
	if err := ww.w.Flush(); err != nil {
		_ = ww.f.Close()
		return err
	}
	return ww.f.Close()
}

// Sleeper waits between records. Sleep returns early with ctx.Err() when
// the context ends.
type Sleeper interface {
	Sleep(ctx context.Context, d time.Duration) error
}

type realSleeper struct{}

func (realSleeper) Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

type PlayOptions struct {
	// Speed scales playback: 2 halves every wait. Must be > 0.
	Speed float64
	Loop  bool
	// Sleeper defaults to wall-clock timers.
	Sleeper Sleeper
}

// Play hands each report to emit, waiting between reports for the recorded
// gap divided by Speed. It stops when the log ends (unless looping), when
// emit returns an error, or when ctx is done.
func Play(ctx context.Context, records []Record, opts PlayOptions, emit func(report []byte) error) error {
	if opts.Speed <= 0 {
		return fmt.Errorf("replay: speed must be > 0, got %v", opts.Speed)
	}
	if emit == nil {
		return errors.New("replay: emit is nil")
	}
	if !slices.ContainsFunc(records, func(r Record) bool { return !r.IsStart() }) {
		return errors.New("replay: no reports in log")
	}
	sleeper := opts.Sleeper
	if sleeper == nil {
		sleeper = realSleeper{}
	}

	for {
		var origin, lastAt time.Duration
		haveLast := false

		for _, r := range records {
			if err := ctx.Err(); err != nil {
				return err
			}
			if r.IsStart() {
				origin = r.At
				lastAt = 0
				haveLast = false
				continue
			}

			at := max(r.At-origin, 0)
			if haveLast {
				wait := time.Duration(float64(max(at-lastAt, 0)) / opts.Speed)
				if wait > 0 {
					if err := sleeper.Sleep(ctx, wait); err != nil {
						return err
					}
				}
			}
			if err := emit(r.Report); err != nil {
				return err
			}
			lastAt = at
			haveLast = true
		}

		if !opts.Loop {
			return nil
		}
	}
}
