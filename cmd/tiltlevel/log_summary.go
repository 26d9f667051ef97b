package main

import (
	"fmt"
	"io"
	"strings"
	"time"

	"tiltlevel/internal/filter"
	"tiltlevel/internal/level"
	"tiltlevel/internal/replay"
	"tiltlevel/internal/report"
)

type logSummary struct {
	Segments    int
	Reports     int
	Short       int
	MaxDuration time.Duration
	// Final is the raw orientation after every report went through the filter.
	Final      level.Orientation
	LevelTicks int
}

// summarizeReportLog runs a recorded log through the filter offline. Each
// report is treated as one filter update; LevelTicks counts the reports after
// which the raw (uncalibrated) orientation was level.
func summarizeReportLog(records []replay.Record) logSummary {
	var s logSummary
	f := filter.New()
	var origin time.Duration
	hasReports := false

	for _, r := range records {
		if r.IsStart() {
			s.Segments++
			origin = r.At
			continue
		}
		hasReports = true
		s.Reports++
		s.MaxDuration = max(s.MaxDuration, r.At-origin)

		sample, ok := report.Decode(r.Report)
		if !ok {
			s.Short++
			continue
		}
		if level.Compute(f.Update(sample)).IsLevel() {
			s.LevelTicks++
		}
	}
	if s.Segments == 0 && hasReports {
		s.Segments = 1
	}
	s.Final = level.Compute(f.State())
	return s
}

func printLogSummary(w io.Writer, path string) error {
	path = strings.TrimSpace(path)
	if path == "" {
		return fmt.Errorf("path is empty")
	}
	recs, err := replay.ReadFile(path)
	if err != nil {
		return err
	}
	s := summarizeReportLog(recs)

	fmt.Fprintf(w, "path: %s\n", path)
	fmt.Fprintf(w, "segments: %d\n", s.Segments)
	fmt.Fprintf(w, "reports: %d\n", s.Reports)
	fmt.Fprintf(w, "short_reports: %d\n", s.Short)
	fmt.Fprintf(w, "max_duration: %s\n", s.MaxDuration)
	fmt.Fprintf(w, "level_reports: %d\n", s.LevelTicks)
	fmt.Fprintf(w, "final_roll_deg: %.2f\n", s.Final.RollDeg)
	fmt.Fprintf(w, "final_pitch_deg: %.2f\n", s.Final.PitchDeg)
	return nil
}
