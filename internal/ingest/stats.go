package ingest

import (
	"fmt"
	"log/slog"
)

// Stats counts what one run did. Counters are per node unless noted.
type Stats struct {
	Discovered   int // entries registered or re-registered during listing
	Processed    int
	Skipped      int // fingerprint unchanged, or directory already walked
	Locked       int // leased by another run
	Failed       int
	Unrecognized int
	Damaged      int // archives that would not open
	Enumerated   int // registered without parsing
	ListErrors   int

	Records        int // per record
	RecordFailures int // per record
}

// failures is the number of problems that keep an enclosing archive from
// completing.
func (s Stats) failures() int {
	return s.Failed + s.Damaged + s.ListErrors + s.RecordFailures
}

func (s Stats) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int("discovered", s.Discovered),
		slog.Int("processed", s.Processed),
		slog.Int("skipped", s.Skipped),
		slog.Int("locked", s.Locked),
		slog.Int("failed", s.Failed),
		slog.Int("unrecognized", s.Unrecognized),
		slog.Int("damaged", s.Damaged),
		slog.Int("enumerated", s.Enumerated),
		slog.Int("list_errors", s.ListErrors),
		slog.Int("records", s.Records),
		slog.Int("record_failures", s.RecordFailures),
	)
}

func (s Stats) String() string {
	return fmt.Sprintf("discovered=%d processed=%d skipped=%d locked=%d failed=%d unrecognized=%d damaged=%d enumerated=%d list_errors=%d records=%d record_failures=%d",
		s.Discovered, s.Processed, s.Skipped, s.Locked, s.Failed, s.Unrecognized,
		s.Damaged, s.Enumerated, s.ListErrors, s.Records, s.RecordFailures)
}
