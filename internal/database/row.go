package database

import (
	"errors"

	"github.com/koustreak/sproc/internal/errs"
	"github.com/koustreak/sproc/internal/mapping"
)

// EachRow calls fn for every row of the current result set, in order.
// It stops at the first error from fn and returns it unchanged.
// EachRow does not close rows.
func EachRow(rows Rows, fn func(*mapping.Row) error) error {
	columns, err := rows.Columns()
	if err != nil {
		return wrap("failed to read column names", err)
	}

	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return wrap("failed to scan row", err)
		}
		if err := fn(&mapping.Row{Columns: columns, Values: values}); err != nil {
			return err
		}
	}

	if err := rows.Err(); err != nil {
		return wrap("error during row iteration", err)
	}
	return nil
}

// ReadTable buffers the current result set.
// The returned table is always non-nil (no rows on an empty set).
func ReadTable(rows Rows) (*mapping.Table, error) {
	columns, err := rows.Columns()
	if err != nil {
		return nil, wrap("failed to read column names", err)
	}

	table := &mapping.Table{Columns: columns, Rows: make([][]any, 0)}
	err = EachRow(rows, func(r *mapping.Row) error {
		table.Rows = append(table.Rows, r.Values)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return table, nil
}

// ReadDataSet buffers every remaining result set. Result sets without
// columns (status packets some servers send after CALL) are dropped.
// ReadDataSet always closes rows.
func ReadDataSet(rows Rows) (*mapping.DataSet, error) {
	defer rows.Close()

	ds := &mapping.DataSet{Tables: make([]*mapping.Table, 0, 1)}
	for {
		table, err := ReadTable(rows)
		if err != nil {
			return nil, err
		}
		if len(table.Columns) > 0 {
			ds.Tables = append(ds.Tables, table)
		}
		if !rows.NextResultSet() {
			break
		}
	}

	if err := rows.Err(); err != nil {
		return nil, wrap("error advancing result sets", err)
	}
	return ds, nil
}

// wrap keeps driver errors that are already classified and marks the rest
// as query failures.
func wrap(msg string, err error) error {
	var e *errs.Error
	if errors.As(err, &e) {
		return err
	}
	return errs.Wrap(errs.ErrKindQueryFailed, msg, err)
}
