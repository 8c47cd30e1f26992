package storage

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// --- Analytics aggregates ---

// Range is a half-open [From, To) window on captured_at. A zero bound is
// unbounded.
type Range struct {
	From time.Time
	To   time.Time
}

// Dimension is a groupable visit attribute. Only the constants below are
// accepted; they map to fixed SQL expressions.
type Dimension string

const (
	DimGender   Dimension = "gender"
	DimEmotion  Dimension = "emotion"
	DimCategory Dimension = "category"
	DimCamera   Dimension = "camera"
	DimAgeLow   Dimension = "age_low"
	DimAgeHigh  Dimension = "age_high"
	DimDate     Dimension = "date"
	DimWeekday  Dimension = "weekday"
	DimHour     Dimension = "hour"
)

var dimensionExpr = map[Dimension]string{
	DimGender:   "gender",
	DimEmotion:  "primary_emotion",
	DimCategory: "product_category",
	DimCamera:   "camera_id::text",
	DimAgeLow:   "age_low::text",
	DimAgeHigh:  "age_high::text",
	DimDate:     "to_char(captured_at AT TIME ZONE 'UTC', 'YYYY-MM-DD')",
	DimWeekday:  "EXTRACT(ISODOW FROM captured_at AT TIME ZONE 'UTC')::int::text",
	DimHour:     "EXTRACT(HOUR FROM captured_at AT TIME ZONE 'UTC')::int::text",
}

// GroupCount is one row of a grouped count. Values follow the order of the
// requested dimensions.
type GroupCount struct {
	Values []string
	Count  int
}

// CountVisits counts visits in r grouped by dims, largest groups first.
func (s *PostgresStore) CountVisits(ctx context.Context, r Range, dims ...Dimension) ([]GroupCount, error) {
	if len(dims) == 0 {
		return nil, fmt.Errorf("count visits: at least one dimension is required")
	}
	exprs := make([]string, len(dims))
	for i, d := range dims {
		e, ok := dimensionExpr[d]
		if !ok {
			return nil, fmt.Errorf("count visits: unknown dimension %q", d)
		}
		exprs[i] = e
	}

	var where []string
	var args []any
	if !r.From.IsZero() {
		args = append(args, r.From)
		where = append(where, fmt.Sprintf("captured_at >= $%d", len(args)))
	}
	if !r.To.IsZero() {
		args = append(args, r.To)
		where = append(where, fmt.Sprintf("captured_at < $%d", len(args)))
	}
	clause := ""
	if len(where) > 0 {
		clause = "WHERE " + strings.Join(where, " AND ")
	}

	cols := strings.Join(exprs, ", ")
	query := fmt.Sprintf(`SELECT %s, COUNT(*) FROM visit_records %s GROUP BY %s ORDER BY COUNT(*) DESC, %s`,
		cols, clause, cols, cols)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, wrap("count visits", err)
	}
	defer rows.Close()

	var out []GroupCount
	for rows.Next() {
		values := make([]string, len(dims))
		dest := make([]any, len(dims)+1)
		for i := range values {
			dest[i] = &values[i]
		}
		var gc GroupCount
		dest[len(dims)] = &gc.Count
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan visit count: %w", err)
		}
		gc.Values = values
		out = append(out, gc)
	}
	if err := rows.Err(); err != nil {
		return nil, wrap("iterate visit counts", err)
	}
	return out, nil
}
