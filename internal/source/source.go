// Package source is the typed registry of corpus entries: directories,
// archives and data files, each a node of a nested-set tree with a lease
// and completion lifecycle.
package source

import (
	"database/sql"
	"time"

	"github.com/agentic-research/corpus/internal/tree"
)

// Kind classifies an entry by its content.
type Kind string

const (
	KindDirectory Kind = "directory"
	KindArchive   Kind = "archive"
	KindXML       Kind = "xml"
	KindJSON      Kind = "json"
	KindCSV       Kind = "csv"
	KindUnknown   Kind = "unknown"
)

// IsData reports whether the kind carries decodable records.
func (k Kind) IsData() bool {
	return k == KindXML || k == KindJSON || k == KindCSV
}

// Source is one registry row.
type Source struct {
	tree.Node

	// Path is the entry name relative to its parent. For roots it is the
	// configured root name.
	Path        string
	Kind        Kind
	MIME        string
	Fingerprint string
	Temporary   bool

	CreatedAt time.Time
	UpdatedAt time.Time
	StartedAt *time.Time
	ParsedAt  *time.Time
}

// Leased reports whether a lease is currently recorded.
func (s *Source) Leased() bool { return s.StartedAt != nil }

// Parsed reports whether processing has completed at least once.
func (s *Source) Parsed() bool { return s.ParsedAt != nil }

// Unchanged reports whether s was completed with the given fingerprint.
func (s *Source) Unchanged(fingerprint string) bool {
	return s.ParsedAt != nil && s.Fingerprint != "" && s.Fingerprint == fingerprint
}

const table = "sources"

const columns = tree.Columns + ", path, kind, mime, fingerprint, temporary, created_at, updated_at, started_at, parsed_at"

// row holds the scan targets of one record.
type row struct {
	s           Source
	fingerprint sql.NullString
	temporary   int
	created     int64
	updated     int64
	started     sql.NullInt64
	parsed      sql.NullInt64
}

func (r *row) dest() []any {
	return append(r.s.Dest(),
		&r.s.Path, &r.s.Kind, &r.s.MIME, &r.fingerprint, &r.temporary,
		&r.created, &r.updated, &r.started, &r.parsed)
}

func (r *row) source() *Source {
	s := r.s
	s.Fingerprint = r.fingerprint.String
	s.Temporary = r.temporary != 0
	s.CreatedAt = fromNanos(r.created)
	s.UpdatedAt = fromNanos(r.updated)
	if r.started.Valid {
		t := fromNanos(r.started.Int64)
		s.StartedAt = &t
	}
	if r.parsed.Valid {
		t := fromNanos(r.parsed.Int64)
		s.ParsedAt = &t
	}
	return &s
}

// Timestamps are stored as unix nanoseconds.
func nanos(t time.Time) int64 { return t.UnixNano() }

func fromNanos(n int64) time.Time { return time.Unix(0, n).UTC() }

func nullNanos(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UnixNano()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
