// Package entity stores registry records as legal entities and individual
// entrepreneurs. Sink is the default api.RecordParser.
package entity

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ohler55/ojg/jp"

	"github.com/agentic-research/corpus/api"
	"github.com/agentic-research/corpus/internal/store"
)

// ErrNotFound is returned by the lookups when no row matches.
var ErrNotFound = errors.New("entity not found")

// field binds a column to the JSONPath its value is read from.
type field struct {
	column string
	path   jp.Expr
}

func fields(pairs ...string) []field {
	out := make([]field, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, field{column: pairs[i], path: jp.MustParseString(pairs[i+1])})
	}
	return out
}

var (
	legalMarker = jp.MustParseString("$['СвЮЛ']")
	soleMarker  = jp.MustParseString("$['СвИП']")

	legalFields = fields(
		"ogrn", "$['СвЮЛ']['@ОГРН']",
		"inn", "$['СвЮЛ']['@ИНН']",
		"kpp", "$['СвЮЛ']['@КПП']",
		"name", "$['СвЮЛ']['СвНаимЮЛ']['@НаимЮЛПолн']",
		"opf_code", "$['СвЮЛ']['@КодОПФ']",
		"email", "$['СвЮЛ']['СвАдрЭлПочты']['@E-mail']",
		"reg_date", "$['СвЮЛ']['@ДатаОГРН']",
		"extract_date", "$['СвЮЛ']['@ДатаВып']",
	)

	soleFields = fields(
		"ogrnip", "$['СвИП']['@ОГРНИП']",
		"inn", "$['СвИП']['@ИННФЛ']",
		"type_code", "$['СвИП']['@КодВидИП']",
		"gender", "$['СвИП']['СвФЛ']['@Пол']",
		"email", "$['СвИП']['СвАдрЭлПочты']['@E-mail']",
		"reg_date", "$['СвИП']['@ДатаОГРНИП']",
		"extract_date", "$['СвИП']['@ДатаВып']",
	)

	fioPaths = []jp.Expr{
		jp.MustParseString("$['СвИП']['СвФЛ']['ФИОРус']['@Фамилия']"),
		jp.MustParseString("$['СвИП']['СвФЛ']['ФИОРус']['@Имя']"),
		jp.MustParseString("$['СвИП']['СвФЛ']['ФИОРус']['@Отчество']"),
	}
)

// Schema returns the DDL of the entity tables.
func Schema() []string {
	return []string{
		`CREATE TABLE IF NOT EXISTS legal_entities (
			ogrn TEXT PRIMARY KEY,
			inn TEXT NOT NULL DEFAULT '',
			kpp TEXT NOT NULL DEFAULT '',
			name TEXT NOT NULL DEFAULT '',
			opf_code TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			reg_date TEXT NOT NULL DEFAULT '',
			extract_date TEXT NOT NULL DEFAULT '',
			source_id BIGINT NOT NULL,
			record TEXT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS entrepreneurs (
			ogrnip TEXT PRIMARY KEY,
			inn TEXT NOT NULL DEFAULT '',
			fio TEXT NOT NULL DEFAULT '',
			gender TEXT NOT NULL DEFAULT '',
			type_code TEXT NOT NULL DEFAULT '',
			email TEXT NOT NULL DEFAULT '',
			reg_date TEXT NOT NULL DEFAULT '',
			extract_date TEXT NOT NULL DEFAULT '',
			source_id BIGINT NOT NULL,
			record TEXT NOT NULL,
			updated_at BIGINT NOT NULL
		)`,
		"CREATE INDEX IF NOT EXISTS idx_legal_entities_inn ON legal_entities(inn)",
		"CREATE INDEX IF NOT EXISTS idx_entrepreneurs_inn ON entrepreneurs(inn)",
	}
}

// Sink writes records into the entity tables. Writes are upserts where
// the row from the newer extract wins, so redelivering a record is a no-op.
type Sink struct {
	db  *store.DB
	now func() time.Time
}

func New(ctx context.Context, db *store.DB) (*Sink, error) {
	if err := db.Migrate(ctx, Schema()...); err != nil {
		return nil, fmt.Errorf("entity schema: %w", err)
	}
	return &Sink{db: db, now: time.Now}, nil
}

// Parse implements api.RecordParser. Records that are neither a legal
// entity nor an entrepreneur are ignored.
func (s *Sink) Parse(ctx context.Context, rec api.Record, src api.SourceRef) (api.Result, error) {
	data := map[string]any(rec)
	switch {
	case legalMarker.Has(data):
		return s.upsert(ctx, "legal_entities", legalFields, nil, data, src)
	case soleMarker.Has(data):
		return s.upsert(ctx, "entrepreneurs", soleFields, []string{"fio", fio(data)}, data, src)
	}
	return api.Result{}, nil
}

func (s *Sink) upsert(ctx context.Context, table string, fs []field, extra []string, data map[string]any, src api.SourceRef) (api.Result, error) {
	key := fs[0].column
	cols := make([]string, 0, len(fs)+4)
	args := make([]any, 0, len(fs)+4)
	for _, f := range fs {
		cols = append(cols, f.column)
		args = append(args, str(f.path.First(data)))
	}
	id := args[0].(string)
	if id == "" {
		return api.Result{}, &api.RecordError{
			Reason: "missing " + key,
			Err:    api.ErrMalformedRecord,
		}
	}
	for i := 0; i+1 < len(extra); i += 2 {
		cols = append(cols, extra[i])
		args = append(args, extra[i+1])
	}

	raw, err := json.Marshal(data)
	if err != nil {
		return api.Result{}, &api.RecordError{Reason: "encode record", Key: id, Err: fmt.Errorf("%w: %w", api.ErrMalformedRecord, err)}
	}
	cols = append(cols, "source_id", "record", "updated_at")
	args = append(args, src.ID, string(raw), s.now().UnixNano())

	updates := make([]string, 0, len(cols)-1)
	for _, c := range cols[1:] {
		updates = append(updates, c+" = excluded."+c)
	}
	query := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) DO UPDATE SET %s WHERE %s.extract_date <= excluded.extract_date",
		table, strings.Join(cols, ", "), placeholders(len(cols)), key, strings.Join(updates, ", "), table)

	if _, err := s.db.Exec(ctx, query, args...); err != nil {
		return api.Result{}, &api.RecordError{Reason: "store " + table, Key: id, Err: fmt.Errorf("%w: %w", api.ErrRejectedRecord, err)}
	}
	return api.Result{Key: id}, nil
}

func fio(data map[string]any) string {
	parts := make([]string, 0, len(fioPaths))
	for _, p := range fioPaths {
		if v := str(p.First(data)); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " ")
}

func str(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case map[string]any:
		// An element that carried text and attributes.
		return str(t["$"])
	}
	return fmt.Sprint(v)
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

// LegalEntity is a stored legal_entities row.
type LegalEntity struct {
	OGRN, INN, KPP, Name string
	OPFCode, Email       string
	RegDate, ExtractDate string
	SourceID             int64
}

// Entrepreneur is a stored entrepreneurs row.
type Entrepreneur struct {
	OGRNIP, INN, FIO     string
	Gender, TypeCode     string
	Email                string
	RegDate, ExtractDate string
	SourceID             int64
}

func (s *Sink) LegalEntity(ctx context.Context, ogrn string) (LegalEntity, error) {
	var e LegalEntity
	err := s.db.QueryRow(ctx,
		"SELECT ogrn, inn, kpp, name, opf_code, email, reg_date, extract_date, source_id FROM legal_entities WHERE ogrn = ?", ogrn,
	).Scan(&e.OGRN, &e.INN, &e.KPP, &e.Name, &e.OPFCode, &e.Email, &e.RegDate, &e.ExtractDate, &e.SourceID)
	if errors.Is(err, sql.ErrNoRows) {
		return e, ErrNotFound
	}
	return e, err
}

func (s *Sink) Entrepreneur(ctx context.Context, ogrnip string) (Entrepreneur, error) {
	var e Entrepreneur
	err := s.db.QueryRow(ctx,
		"SELECT ogrnip, inn, fio, gender, type_code, email, reg_date, extract_date, source_id FROM entrepreneurs WHERE ogrnip = ?", ogrnip,
	).Scan(&e.OGRNIP, &e.INN, &e.FIO, &e.Gender, &e.TypeCode, &e.Email, &e.RegDate, &e.ExtractDate, &e.SourceID)
	if errors.Is(err, sql.ErrNoRows) {
		return e, ErrNotFound
	}
	return e, err
}

// Counts returns the number of stored legal entities and entrepreneurs.
func (s *Sink) Counts(ctx context.Context) (legal, sole int64, err error) {
	if err = s.db.QueryRow(ctx, "SELECT COUNT(*) FROM legal_entities").Scan(&legal); err != nil {
		return 0, 0, err
	}
	if err = s.db.QueryRow(ctx, "SELECT COUNT(*) FROM entrepreneurs").Scan(&sole); err != nil {
		return 0, 0, err
	}
	return legal, sole, nil
}
