package mapping

import (
	"reflect"
	"strings"
)

// ColumnBinder lets a type declare its field → column table explicitly.
// Entries override `db` tags; fields absent from the map fall back to
// tag, then field name.
type ColumnBinder interface {
	Columns() map[string]string
}

// Binding ties one settable struct field to the column it reads from.
type Binding struct {
	Field  string
	Column string
	Index  []int
	Type   reflect.Type
}

// Resolve returns override when set, otherwise the property name unchanged.
func Resolve(property, override string) string {
	if override != "" {
		return override
	}
	return property
}

var binderType = reflect.TypeOf((*ColumnBinder)(nil)).Elem()

// buildBindings walks rt's exported fields, flattening embedded structs.
// When two fields resolve to the same column (ignoring case) the shallower
// one wins, and on equal depth the first declared.
func buildBindings(rt reflect.Type) []Binding {
	var explicit map[string]string
	if reflect.PointerTo(rt).Implements(binderType) {
		explicit = reflect.New(rt).Interface().(ColumnBinder).Columns()
	}

	type candidate struct {
		Binding
		depth int
	}
	var cands []candidate

	var walk func(t reflect.Type, base []int)
	walk = func(t reflect.Type, base []int) {
		for i := 0; i < t.NumField(); i++ {
			sf := t.Field(i)
			if sf.PkgPath != "" && !sf.Anonymous {
				continue
			}
			tag, omit := parseTag(sf.Tag.Get("db"))
			if omit {
				continue
			}
			path := append(append([]int(nil), base...), i)

			if sf.Anonymous && tag == "" && sf.Type.Kind() == reflect.Struct {
				walk(sf.Type, path)
				continue
			}
			if sf.PkgPath != "" {
				continue
			}
			if col, ok := explicit[sf.Name]; ok {
				tag = col
			}
			cands = append(cands, candidate{
				Binding: Binding{
					Field:  sf.Name,
					Column: Resolve(sf.Name, tag),
					Index:  path,
					Type:   sf.Type,
				},
				depth: len(path),
			})
		}
	}
	walk(rt, nil)

	winner := make(map[string]int, len(cands))
	for i, c := range cands {
		key := strings.ToLower(c.Column)
		if j, ok := winner[key]; !ok || c.depth < cands[j].depth {
			winner[key] = i
		}
	}

	out := make([]Binding, 0, len(winner))
	for i, c := range cands {
		if winner[strings.ToLower(c.Column)] == i {
			out = append(out, c.Binding)
		}
	}
	return out
}

// parseTag supports "-", "col" and "col,opt..."; options are ignored.
func parseTag(tag string) (name string, omit bool) {
	if tag == "-" {
		return "", true
	}
	if i := strings.IndexByte(tag, ','); i >= 0 {
		tag = tag[:i]
	}
	return strings.TrimSpace(tag), false
}
