// Package mapping turns procedure result rows into typed Go values.
//
// Fields bind by an explicit ColumnBinder table first, then by `db:"name"`
// tag, then by field name. Column lookup ignores case. Values whose type
// differs from the field go through a closed conversion table (numeric
// widening and narrowing with range checks, string parsing, decimal, uuid,
// time). What happens when nothing matches is the mapper's Policy.
package mapping

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/koustreak/sproc/internal/errs"
)

// Policy decides what the mapper does with a field it cannot fill.
type Policy int

const (
	// PolicyPermissive leaves unmatched or unconvertible fields at their
	// zero value.
	PolicyPermissive Policy = iota

	// PolicyStrict fails the row when a bound field has no column or the
	// column value cannot be converted.
	PolicyStrict
)

func (p Policy) String() string {
	if p == PolicyStrict {
		return "strict"
	}
	return "permissive"
}

// ParsePolicy accepts "permissive", "strict" or "" (permissive).
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "permissive":
		return PolicyPermissive, nil
	case "strict":
		return PolicyStrict, nil
	}
	return PolicyPermissive, errs.Newf(errs.ErrKindInvalidInput, "unknown mapping policy %q", s)
}

// Mapper maps rows into structs. It caches one binding table per type and
// is safe for concurrent use.
type Mapper struct {
	policy   Policy
	bindings sync.Map // reflect.Type -> []Binding
}

// NewMapper returns a Mapper applying policy p.
func NewMapper(p Policy) *Mapper {
	return &Mapper{policy: p}
}

// Policy returns the mapper's policy.
func (m *Mapper) Policy() Policy { return m.policy }

// Bindings returns the cached field → column table for struct type rt.
func (m *Mapper) Bindings(rt reflect.Type) []Binding {
	if v, ok := m.bindings.Load(rt); ok {
		return v.([]Binding)
	}
	b := buildBindings(rt)
	v, _ := m.bindings.LoadOrStore(rt, b)
	return v.([]Binding)
}

// MapRow maps row into a fresh T. ok is false when row is nil.
func MapRow[T any](m *Mapper, row *Row) (out T, ok bool, err error) {
	if row == nil {
		return out, false, nil
	}
	v, err := m.Map(row, reflect.TypeOf((*T)(nil)).Elem())
	if err != nil {
		return out, false, err
	}
	return v.Interface().(T), true, nil
}

// Map builds a new value of type rt from row. rt must be a struct or a
// pointer to a struct.
func (m *Mapper) Map(row *Row, rt reflect.Type) (reflect.Value, error) {
	base, ptr := rt, false
	if rt.Kind() == reflect.Pointer {
		base, ptr = rt.Elem(), true
	}
	if base.Kind() != reflect.Struct {
		return reflect.Value{}, errs.Newf(errs.ErrKindConstruction,
			"cannot construct %s: target must be a struct or pointer to struct", rt)
	}

	pv := reflect.New(base)
	root := pv.Elem()

	for _, b := range m.Bindings(base) {
		val, found := row.Value(b.Column)
		if !found {
			if m.policy == PolicyStrict {
				return reflect.Value{}, errs.Newf(errs.ErrKindUnmappable,
					"%s.%s: no column %q in result", base.Name(), b.Field, b.Column)
			}
			continue
		}
		if val == nil {
			continue
		}
		fv := root.FieldByIndex(b.Index)
		out, ok := Convert(val, b.Type)
		if !ok {
			if m.policy == PolicyStrict {
				return reflect.Value{}, errs.New(errs.ErrKindUnmappable,
					fmt.Sprintf("%s.%s: cannot convert column %q from %T to %s",
						base.Name(), b.Field, b.Column, val, b.Type))
			}
			continue
		}
		fv.Set(out)
	}

	if ptr {
		return pv, nil
	}
	return root, nil
}
