package replay

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"testing"
	"time"
)

type fakeSleeper struct {
	slept []time.Duration
}

func (fs *fakeSleeper) Sleep(ctx context.Context, d time.Duration) error {
	fs.slept = append(fs.slept, d)
	return ctx.Err()
}

func TestReaderReadAll(t *testing.T) {
	in := strings.NewReader(`
# captured on bench

START
0, 0102
10, 0a 0b
`)

	recs, err := NewReader(in).ReadAll()
	if err != nil {
		t.Fatalf("ReadAll() error: %v", err)
	}
	if len(recs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(recs))
	}
	if !recs[0].IsStart() {
		t.Fatalf("expected START marker, got %+v", recs[0])
	}
	if recs[1].At != 0 || !reflect.DeepEqual(recs[1].Report, []byte{0x01, 0x02}) {
		t.Fatalf("unexpected record 1: %+v", recs[1])
	}
	if recs[2].At != 10*time.Nanosecond || !reflect.DeepEqual(recs[2].Report, []byte{0x0a, 0x0b}) {
		t.Fatalf("unexpected record 2: %+v", recs[2])
	}
}

func TestReaderReadAll_InvalidLines(t *testing.T) {
	for _, in := range []string{
		"not-a-valid-line\n",
		"START\n-5,01\n",
		"START\nabc,01\n",
		"START\n5,zz\n",
		"START\n5,\n",
	} {
		if _, err := NewReader(strings.NewReader(in)).ReadAll(); err == nil {
			t.Fatalf("expected error for %q", in)
		}
	}
}

func TestPlay_RespectsTimingAndStart(t *testing.T) {
	var got [][]byte
	fs := &fakeSleeper{}

	recs := []Record{
		{At: 1 * time.Second},
		{At: 1 * time.Second, Report: []byte{0xAA}},
		{At: 1*time.Second + 100*time.Nanosecond, Report: []byte{0xBB}},
		{At: 2 * time.Second},
		{At: 2*time.Second + 50*time.Nanosecond, Report: []byte{0xCC}},
	}

	err := Play(context.Background(), recs, PlayOptions{Speed: 1, Sleeper: fs}, func(r []byte) error {
		got = append(got, append([]byte(nil), r...))
		return nil
	})
	if err != nil {
		t.Fatalf("Play() error: %v", err)
	}

	want := [][]byte{{0xAA}, {0xBB}, {0xCC}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("reports = %x, want %x", got, want)
	}
	if !reflect.DeepEqual(fs.slept, []time.Duration{100 * time.Nanosecond}) {
		t.Fatalf("slept = %v, want [100ns]", fs.slept)
	}
}

func TestPlay_SpeedMultiplier(t *testing.T) {
	fs := &fakeSleeper{}
	recs := []Record{
		{At: 0, Report: []byte{0x01}},
		{At: 100 * time.Nanosecond, Report: []byte{0x02}},
	}

	err := Play(context.Background(), recs, PlayOptions{Speed: 2, Sleeper: fs}, func([]byte) error { return nil })
	if err != nil {
		t.Fatalf("Play() error: %v", err)
	}
	if !reflect.DeepEqual(fs.slept, []time.Duration{50 * time.Nanosecond}) {
		t.Fatalf("slept = %v, want [50ns]", fs.slept)
	}
}

func TestPlay_InvalidArgs(t *testing.T) {
	ctx := context.Background()
	recs := []Record{{At: 0, Report: []byte{0x01}}}
	noop := func([]byte) error { return nil }
	if err := Play(ctx, recs, PlayOptions{Speed: 0}, noop); err == nil {
		t.Fatalf("expected error for zero speed")
	}
	if err := Play(ctx, recs, PlayOptions{Speed: 1}, nil); err == nil {
		t.Fatalf("expected error for nil emit")
	}
	if err := Play(ctx, []Record{{}}, PlayOptions{Speed: 1, Loop: true}, noop); err == nil {
		t.Fatalf("expected error for log without reports")
	}
}

func TestPlay_LoopStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	recs := []Record{{At: 0, Report: []byte{0x01}}}
	n := 0
	err := Play(ctx, recs, PlayOptions{Speed: 1, Loop: true, Sleeper: &fakeSleeper{}}, func([]byte) error {
		n++
		if n == 5 {
			cancel()
		}
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("Play() error = %v, want context.Canceled", err)
	}
	if n != 5 {
		t.Fatalf("emitted %d reports, want 5", n)
	}
}

func TestPlay_EmitErrorStops(t *testing.T) {
	boom := errors.New("boom")
	recs := []Record{{Report: []byte{1}}, {Report: []byte{2}}}
	n := 0
	err := Play(context.Background(), recs, PlayOptions{Speed: 1, Sleeper: &fakeSleeper{}}, func([]byte) error {
		n++
		return boom
	})
	if !errors.Is(err, boom) || n != 1 {
		t.Fatalf("err=%v n=%d", err, n)
	}
}

func TestWriter_WritesExpectedFormat(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.log")

	w, err := CreateWriter(path)
	if err != nil {
		t.Fatalf("CreateWriter() error: %v", err)
	}
	w.start = time.Unix(0, 0)

	if err := w.WriteReport(time.Unix(0, 20), []byte{0x01, 0x02}); err != nil {
		t.Fatalf("WriteReport() error: %v", err)
	}
	if err := w.WriteReport(time.Unix(0, 30), nil); err == nil {
		t.Fatalf("expected error for empty report")
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	if err := w.WriteReport(time.Unix(0, 40), []byte{0x03}); err == nil {
		t.Fatalf("expected error after Close")
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	if string(b) != "START\n20,0102\n" {
		t.Fatalf("unexpected file contents: %q", string(b))
	}
}

func TestRecordReplay_RoundTripInOrder(t *testing.T) {
	path := filepath.Join(t.TempDir(), "reports.log")

	w, err := CreateWriter(path)
	if err != nil {
		t.Fatalf("CreateWriter() error: %v", err)
	}
	now := time.Now()
	in := [][]byte{{1, 2, 3}, {4, 5, 6}, {7, 8, 9}}
	for _, r := range in {
		if err := w.WriteReport(now, r); err != nil {
			t.Fatalf("WriteReport() error: %v", err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	recs, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error: %v", err)
	}
	var out [][]byte
	err = Play(context.Background(), recs, PlayOptions{Speed: 1}, func(r []byte) error {
		out = append(out, r)
		return nil
	})
	if err != nil {
		t.Fatalf("Play() error: %v", err)
	}
	if !reflect.DeepEqual(out, in) {
		t.Fatalf("replayed %x, want %x", out, in)
	}
}
