package store

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/wallace-lab/wallace/internal/models"
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000Z"

// timeResolution is the precision kept by timeLayout.
const timeResolution = time.Microsecond

type scanner interface {
	Scan(dest ...any) error
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse time %q: %w", s, err)
	}
	return t, nil
}

func parseNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := parseTime(ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	s := ns.String
	return &s
}

func stringArg(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

// propertyColumns are appended to every graph entity SELECT.
const propertyColumns = "property1, property2, property3, property4, property5"

type nullProperties [5]sql.NullString

func (p *nullProperties) dest() []any {
	return []any{&p[0], &p[1], &p[2], &p[3], &p[4]}
}

func (p *nullProperties) properties() models.Properties {
	return models.Properties{
		Property1: nullString(p[0]),
		Property2: nullString(p[1]),
		Property3: nullString(p[2]),
		Property4: nullString(p[3]),
		Property5: nullString(p[4]),
	}
}

func propertyArgs(p models.Properties) []any {
	return []any{
		stringArg(p.Property1),
		stringArg(p.Property2),
		stringArg(p.Property3),
		stringArg(p.Property4),
		stringArg(p.Property5),
	}
}

// inClause renders "col IN (?, ?, ...)" for a non-empty value set.
func inClause(col string, values []string) (string, []any) {
	marks := make([]string, len(values))
	args := make([]any, len(values))
	for i, v := range values {
		marks[i] = "?"
		args[i] = v
	}
	return col + " IN (" + strings.Join(marks, ", ") + ")", args
}

// failedClause renders the predicate for a FailedFilter on column col.
func failedClause(col string, f models.FailedFilter) (string, error) {
	switch f {
	case "", models.FailedExclude:
		return col + " = 0", nil
	case models.FailedOnly:
		return col + " = 1", nil
	case models.FailedAll:
		return "", nil
	default:
		return "", fmt.Errorf("unknown failed filter %q", f)
	}
}

// where joins non-empty predicates with AND.
func where(preds []string) string {
	var kept []string
	for _, p := range preds {
		if p != "" {
			kept = append(kept, p)
		}
	}
	if len(kept) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(kept, " AND ")
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
