package mapping

import "strings"

// Row is one returned tuple: ordered column names and their values.
// A nil value is the database NULL.
type Row struct {
	Columns []string
	Values  []any
}

// HasColumn reports whether the row has a column called name.
// The comparison ignores case and is not locale-sensitive.
func (r *Row) HasColumn(name string) bool {
	return r.index(name) >= 0
}

// Value returns the value of the first column matching name, ignoring case.
func (r *Row) Value(name string) (any, bool) {
	i := r.index(name)
	if i < 0 {
		return nil, false
	}
	return r.Values[i], true
}

// Record returns the row as a column-keyed map. A repeated column name
// keeps its last value.
func (r *Row) Record() map[string]any {
	rec := make(map[string]any, len(r.Columns))
	for i, c := range r.Columns {
		if i < len(r.Values) {
			rec[c] = r.Values[i]
		}
	}
	return rec
}

// index finds the first matching column. A column without a value counts
// as absent.
func (r *Row) index(name string) int {
	if r == nil {
		return -1
	}
	for i, c := range r.Columns {
		if strings.EqualFold(c, name) {
			if i >= len(r.Values) {
				return -1
			}
			return i
		}
	}
	return -1
}

// Table is a single result set.
type Table struct {
	Columns []string `json:"columns"`
	Rows    [][]any  `json:"rows"`
}

// Len returns the number of rows in the table.
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Rows)
}

// Row returns the i-th row as a *Row sharing the table's column slice.
func (t *Table) Row(i int) *Row {
	return &Row{Columns: t.Columns, Values: t.Rows[i]}
}

// Records returns every row as a column-keyed map.
func (t *Table) Records() []map[string]any {
	out := make([]map[string]any, 0, t.Len())
	for i := 0; i < t.Len(); i++ {
		out = append(out, t.Row(i).Record())
	}
	return out
}

// DataSet is every result set produced by one procedure call, in order.
type DataSet struct {
	Tables []*Table `json:"tables"`
}
