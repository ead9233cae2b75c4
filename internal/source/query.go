package source

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/agentic-research/corpus/internal/tree"
)

// Query is a chainable filter over the sources table.
type Query struct {
	r *Registry
	q tree.Query
}

// Find starts an unfiltered query.
func (r *Registry) Find() Query { return Query{r: r} }

func (q Query) Where(cond string, args ...any) Query {
	q.q = q.q.And(cond, args...)
	return q
}

// Within restricts the query to a structural selection.
func (q Query) Within(tq tree.Query) Query {
	q.q = q.q.Merge(tq)
	return q
}

func (q Query) Roots() Query { return q.Within(tree.Roots()) }

func (q Query) OfKind(kinds ...Kind) Query {
	if len(kinds) == 0 {
		return q
	}
	marks := strings.TrimSuffix(strings.Repeat("?, ", len(kinds)), ", ")
	args := make([]any, len(kinds))
	for i, k := range kinds {
		args[i] = string(k)
	}
	return q.Where("kind IN ("+marks+")", args...)
}

func (q Query) NotParsed() Query     { return q.Where("parsed_at IS NULL") }
func (q Query) AlreadyParsed() Query { return q.Where("parsed_at IS NOT NULL") }
func (q Query) NotLeased() Query     { return q.Where("started_at IS NULL") }
func (q Query) Leased() Query        { return q.Where("started_at IS NOT NULL") }
func (q Query) NotTemporary() Query  { return q.Where("temporary = 0") }

func (q Query) OrderBy(order string) Query {
	q.q = q.q.OrderBy(order)
	return q
}

func (q Query) Limit(n int) Query {
	q.q = q.q.Limit(n)
	return q
}

// All returns every matching source.
func (q Query) All(ctx context.Context) ([]*Source, error) {
	query, args := q.q.Select(columns, table)
	rows, err := q.r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*Source
	for rows.Next() {
		var rw row
		if err := rows.Scan(rw.dest()...); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		out = append(out, rw.source())
	}
	return out, rows.Err()
}

// One returns the first matching source or ErrNotFound.
func (q Query) One(ctx context.Context) (*Source, error) {
	query, args := q.q.Limit(1).Select(columns, table)
	var rw row
	if err := q.r.db.QueryRow(ctx, query, args...).Scan(rw.dest()...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query source: %w", err)
	}
	return rw.source(), nil
}

// IDs returns the ids of every matching source, in query order.
func (q Query) IDs(ctx context.Context) ([]int64, error) {
	query, args := q.q.Select("id", table)
	rows, err := q.r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query source ids: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Count returns the number of matching sources.
func (q Query) Count(ctx context.Context) (int64, error) {
	return q.r.tree.Count(ctx, q.q)
}
