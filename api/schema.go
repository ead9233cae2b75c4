package api

import (
	"context"
	"errors"
	"fmt"
)

// Record is one decoded registry record handed to a RecordParser.
// Attributes are keyed "@name", repeated child elements become []any,
// and element text lives under "$".
type Record map[string]any

// SourceRef identifies the node a record was read from.
type SourceRef struct {
	ID     int64
	TreeID int64
	// Path is the logical path of the node from its root, slash separated.
	Path string
}

// Result is what a parser reports after a successful write.
type Result struct {
	// Key is the domain key the parser wrote (e.g. an OGRN). Empty when the
	// record was recognized as irrelevant and ignored.
	Key string
}

// Ignored reports whether the parser deliberately skipped the record.
func (r Result) Ignored() bool { return r.Key == "" }

// RecordParser turns one decoded record into a domain entity.
// Implementations must be idempotent: the same record may be delivered
// again after an interrupted run.
type RecordParser interface {
	Parse(ctx context.Context, rec Record, src SourceRef) (Result, error)
}

// RecordParserFunc adapts a function to RecordParser.
type RecordParserFunc func(ctx context.Context, rec Record, src SourceRef) (Result, error)

// Parse implements RecordParser.
func (f RecordParserFunc) Parse(ctx context.Context, rec Record, src SourceRef) (Result, error) {
	return f(ctx, rec, src)
}

var (
	// ErrMalformedRecord means required fields are missing or unreadable.
	ErrMalformedRecord = errors.New("malformed record")
	// ErrRejectedRecord means the record was readable but could not be stored.
	ErrRejectedRecord = errors.New("rejected record")
)

// RecordError is the typed failure returned across the parser boundary.
type RecordError struct {
	Reason string
	Key    string
	Err    error
}

func (e *RecordError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("record %s: %s: %v", e.Key, e.Reason, e.Err)
	}
	return fmt.Sprintf("record: %s: %v", e.Reason, e.Err)
}

func (e *RecordError) Unwrap() error { return e.Err }
