package mapping

import (
	"database/sql"
	"math"
	"math/big"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/shopspring/decimal"

	"github.com/koustreak/sproc/internal/errs"
)

// class groups reflect kinds the conversion table dispatches on.
type class uint8

const (
	classOther class = iota
	classInt
	classUint
	classFloat
	classBool
	classString
	classBytes
)

func classOf(t reflect.Type) class {
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return classInt
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return classUint
	case reflect.Float32, reflect.Float64:
		return classFloat
	case reflect.Bool:
		return classBool
	case reflect.String:
		return classString
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			return classBytes
		}
	}
	return classOther
}

func (c class) numeric() bool {
	return c == classInt || c == classUint || c == classFloat
}

// rule converts src into a fresh value of dst; ok is false when the input
// is out of range or unparsable.
type rule func(src reflect.Value, dst reflect.Type) (reflect.Value, bool)

type pair struct{ from, to class }

var (
	scannerType = reflect.TypeOf((*sql.Scanner)(nil)).Elem()
	timeType    = reflect.TypeOf(time.Time{})
	decimalType = reflect.TypeOf(decimal.Decimal{})
	uuidType    = reflect.TypeOf(uuid.UUID{})
	numericType = reflect.TypeOf(pgtype.Numeric{})
)

var kindRules = map[pair]rule{
	{classInt, classInt}:     intToInt,
	{classInt, classUint}:    intToUint,
	{classInt, classFloat}:   intToFloat,
	{classInt, classBool}:    intToBool,
	{classUint, classInt}:    uintToInt,
	{classUint, classUint}:   uintToUint,
	{classUint, classFloat}:  uintToFloat,
	{classUint, classBool}:   uintToBool,
	{classFloat, classFloat}: floatToFloat,
	{classFloat, classInt}:   floatToInt,
	{classFloat, classUint}:  floatToUint,
	{classBool, classBool}:   boolToBool,
	{classBool, classInt}:    boolToInt,

	{classString, classString}: stringToString,
	{classString, classBytes}:  stringToBytes,
	{classString, classInt}:    parsed(parseInt),
	{classString, classUint}:   parsed(parseUint),
	{classString, classFloat}:  parsed(parseFloat),
	{classString, classBool}:   parsed(parseBool),
	{classBytes, classString}:  bytesToString,
	{classBytes, classBytes}:   bytesToBytes,
	{classBytes, classInt}:     parsed(parseInt),
	{classBytes, classUint}:    parsed(parseUint),
	{classBytes, classFloat}:   parsed(parseFloat),
	{classBytes, classBool}:    parsed(parseBool),
}

// typeRules are keyed by destination type and tried before the kind table.
var typeRules = map[reflect.Type]rule{
	timeType:    toTime,
	decimalType: toDecimal,
	uuidType:    toUUID,
}

// sourceRules are keyed by source type for driver values with no useful kind.
var sourceRules = map[reflect.Type]rule{
	numericType: fromNumeric,
}

// Convert turns a non-nil driver value into a value of type dst.
func Convert(src any, dst reflect.Type) (reflect.Value, bool) {
	if src == nil {
		return reflect.Value{}, false
	}
	sv := reflect.ValueOf(src)
	if sv.Type() == dst {
		return sv, true
	}
	if r, ok := typeRules[dst]; ok {
		if out, ok := r(sv, dst); ok {
			return out, true
		}
	}
	if r, ok := sourceRules[sv.Type()]; ok {
		if out, ok := r(sv, dst); ok {
			return out, true
		}
	}
	if reflect.PointerTo(dst).Implements(scannerType) {
		p := reflect.New(dst)
		if err := p.Interface().(sql.Scanner).Scan(src); err != nil {
			return reflect.Value{}, false
		}
		return p.Elem(), true
	}
	if dst.Kind() == reflect.Pointer {
		out, ok := Convert(src, dst.Elem())
		if !ok {
			return reflect.Value{}, false
		}
		p := reflect.New(dst.Elem())
		p.Elem().Set(out)
		return p, true
	}
	if sv.Type().AssignableTo(dst) {
		return sv.Convert(dst), true
	}
	if r, ok := kindRules[pair{classOf(sv.Type()), classOf(dst)}]; ok {
		return r(sv, dst)
	}
	return reflect.Value{}, false
}

// Cast converts a scalar result to T. Beyond an exact type match it only
// performs lossless conversions between numeric kinds; strings are never
// parsed. A NULL casts to the zero value of nilable types only.
func Cast[T any](v any) (T, error) {
	var zero T
	if t, ok := v.(T); ok {
		return t, nil
	}
	rt := reflect.TypeOf((*T)(nil)).Elem()
	if v == nil {
		if nilable(rt) {
			return zero, nil
		}
		return zero, errs.Newf(errs.ErrKindInvalidCast, "cannot cast NULL to %s", rt)
	}
	if out, ok := castNumeric(reflect.ValueOf(v), rt); ok {
		return out.Interface().(T), nil
	}
	return zero, errs.Newf(errs.ErrKindInvalidCast, "cannot cast %T to %s", v, rt)
}

func castNumeric(sv reflect.Value, rt reflect.Type) (reflect.Value, bool) {
	if rt.Kind() == reflect.Pointer {
		out, ok := castNumeric(sv, rt.Elem())
		if !ok {
			return reflect.Value{}, false
		}
		p := reflect.New(rt.Elem())
		p.Elem().Set(out)
		return p, true
	}
	if sv.Type() == numericType {
		switch classOf(rt) {
		case classFloat:
			return numericToFloatExact(sv, rt)
		case classInt:
			return fromNumeric(sv, rt)
		}
		return reflect.Value{}, false
	}
	from, to := classOf(sv.Type()), classOf(rt)
	if !from.numeric() || !to.numeric() {
		return reflect.Value{}, false
	}
	return castRules[pair{from, to}](sv, rt)
}

// castRules mirror the numeric part of kindRules but reject any conversion
// whose result does not round-trip to the source value.
var castRules = map[pair]rule{
	{classInt, classInt}:     intToInt,
	{classInt, classUint}:    intToUint,
	{classInt, classFloat}:   intToFloatExact,
	{classUint, classInt}:    uintToInt,
	{classUint, classUint}:   uintToUint,
	{classUint, classFloat}:  uintToFloatExact,
	{classFloat, classFloat}: floatToFloatExact,
	{classFloat, classInt}:   floatToInt,
	{classFloat, classUint}:  floatToUint,
}

func intToFloatExact(src reflect.Value, dst reflect.Type) (reflect.Value, bool) {
	v := src.Int()
	f := float64(v)
	if f >= 0x1p63 || int64(f) != v {
		return reflect.Value{}, false
	}
	return setFloatExact(dst, f)
}

func uintToFloatExact(src reflect.Value, dst reflect.Type) (reflect.Value, bool) {
	u := src.Uint()
	f := float64(u)
	if f >= 0x1p64 || uint64(f) != u {
		return reflect.Value{}, false
	}
	return setFloatExact(dst, f)
}

func floatToFloatExact(src reflect.Value, dst reflect.Type) (reflect.Value, bool) {
	return setFloatExact(dst, src.Float())
}

func numericToFloatExact(src reflect.Value, dst reflect.Type) (reflect.Value, bool) {
	n := src.Interface().(pgtype.Numeric)
	if !finite(n) {
		return reflect.Value{}, false
	}
	f, err := n.Float64Value()
	if err != nil || !f.Valid {
		return reflect.Value{}, false
	}
	if !decimal.NewFromFloat(f.Float64).Equal(decimal.NewFromBigInt(n.Int, n.Exp)) {
		return reflect.Value{}, false
	}
	return setFloatExact(dst, f.Float64)
}

// setFloatExact fails when storing v in dst rounds, underflows or overflows.
func setFloatExact(dst reflect.Type, v float64) (reflect.Value, bool) {
	out := reflect.New(dst).Elem()
	out.SetFloat(v)
	if out.Float() != v && !math.IsNaN(v) {
		return reflect.Value{}, false
	}
	return out, true
}

func nilable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Pointer, reflect.Interface, reflect.Map, reflect.Slice:
		return true
	}
	return false
}

// --- numeric ---

func intToInt(src reflect.Value, dst reflect.Type) (reflect.Value, bool) {
	return setInt(dst, src.Int())
}

func intToUint(src reflect.Value, dst reflect.Type) (reflect.Value, bool) {
	v := src.Int()
	if v < 0 {
		return reflect.Value{}, false
	}
	return setUint(dst, uint64(v))
}

func uintToInt(src reflect.Value, dst reflect.Type) (reflect.Value, bool) {
	u := src.Uint()
	if u > math.MaxInt64 {
		return reflect.Value{}, false
	}
	return setInt(dst, int64(u))
}

func uintToUint(src reflect.Value, dst reflect.Type) (reflect.Value, bool) {
	return setUint(dst, src.Uint())
}

func intToFloat(src reflect.Value, dst reflect.Type) (reflect.Value, bool) {
	return setFloat(dst, float64(src.Int()))
}

func uintToFloat(src reflect.Value, dst reflect.Type) (reflect.Value, bool) {
	return setFloat(dst, float64(src.Uint()))
}

func floatToFloat(src reflect.Value, dst reflect.Type) (reflect.Value, bool) {
	return setFloat(dst, src.Float())
}

func floatToInt(src reflect.Value, dst reflect.Type) (reflect.Value, bool) {
	f := src.Float()
	if !integral(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return reflect.Value{}, false
	}
	return setInt(dst, int64(f))
}

func floatToUint(src reflect.Value, dst reflect.Type) (reflect.Value, bool) {
	f := src.Float()
	if !integral(f) || f < 0 || f >= math.MaxUint64 {
		return reflect.Value{}, false
	}
	return setUint(dst, uint64(f))
}

func integral(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0) && f == math.Trunc(f)
}

func setInt(dst reflect.Type, v int64) (reflect.Value, bool) {
	out := reflect.New(dst).Elem()
	if out.OverflowInt(v) {
		return reflect.Value{}, false
	}
	out.SetInt(v)
	return out, true
}

func setUint(dst reflect.Type, v uint64) (reflect.Value, bool) {
	out := reflect.New(dst).Elem()
	if out.OverflowUint(v) {
		return reflect.Value{}, false
	}
	out.SetUint(v)
	return out, true
}

func setFloat(dst reflect.Type, v float64) (reflect.Value, bool) {
	out := reflect.New(dst).Elem()
	if out.OverflowFloat(v) {
		return reflect.Value{}, false
	}
	out.SetFloat(v)
	return out, true
}

// --- bool ---

func intToBool(src reflect.Value, dst reflect.Type) (reflect.Value, bool) {
	return bitToBool(dst, src.Int())
}

func uintToBool(src reflect.Value, dst reflect.Type) (reflect.Value, bool) {
	if src.Uint() > 1 {
		return reflect.Value{}, false
	}
	return bitToBool(dst, int64(src.Uint()))
}

func bitToBool(dst reflect.Type, v int64) (reflect.Value, bool) {
	if v != 0 && v != 1 {
		return reflect.Value{}, false
	}
	out := reflect.New(dst).Elem()
	out.SetBool(v == 1)
	return out, true
}

func boolToBool(src reflect.Value, dst reflect.Type) (reflect.Value, bool) {
	out := reflect.New(dst).Elem()
	out.SetBool(src.Bool())
	return out, true
}

func boolToInt(src reflect.Value, dst reflect.Type) (reflect.Value, bool) {
	if src.Bool() {
		return setInt(dst, 1)
	}
	return setInt(dst, 0)
}

// --- text ---

func stringToString(src reflect.Value, dst reflect.Type) (reflect.Value, bool) {
	out := reflect.New(dst).Elem()
	out.SetString(src.String())
	return out, true
}

func bytesToString(src reflect.Value, dst reflect.Type) (reflect.Value, bool) {
	out := reflect.New(dst).Elem()
	out.SetString(string(src.Bytes()))
	return out, true
}

func stringToBytes(src reflect.Value, dst reflect.Type) (reflect.Value, bool) {
	out := reflect.New(dst).Elem()
	out.SetBytes([]byte(src.String()))
	return out, true
}

func bytesToBytes(src reflect.Value, dst reflect.Type) (reflect.Value, bool) {
	out := reflect.New(dst).Elem()
	out.SetBytes(append([]byte(nil), src.Bytes()...))
	return out, true
}

// text returns the string form of a string or []byte value.
func text(src reflect.Value) string {
	if src.Kind() == reflect.String {
		return src.String()
	}
	return string(src.Bytes())
}

func parsed(parse func(s string, dst reflect.Type) (reflect.Value, bool)) rule {
	return func(src reflect.Value, dst reflect.Type) (reflect.Value, bool) {
		return parse(strings.TrimSpace(text(src)), dst)
	}
}

func parseInt(s string, dst reflect.Type) (reflect.Value, bool) {
	v, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return reflect.Value{}, false
	}
	return setInt(dst, v)
}

func parseUint(s string, dst reflect.Type) (reflect.Value, bool) {
	v, err := strconv.ParseUint(s, 10, 64)
	if err != nil {
		return reflect.Value{}, false
	}
	return setUint(dst, v)
}

func parseFloat(s string, dst reflect.Type) (reflect.Value, bool) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return reflect.Value{}, false
	}
	return setFloat(dst, v)
}

func parseBool(s string, dst reflect.Type) (reflect.Value, bool) {
	v, err := strconv.ParseBool(s)
	if err != nil {
		return reflect.Value{}, false
	}
	out := reflect.New(dst).Elem()
	out.SetBool(v)
	return out, true
}

// --- typed destinations ---

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

func toTime(src reflect.Value, _ reflect.Type) (reflect.Value, bool) {
	switch classOf(src.Type()) {
	case classString, classBytes:
	default:
		return reflect.Value{}, false
	}
	s := strings.TrimSpace(text(src))
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return reflect.ValueOf(t), true
		}
	}
	return reflect.Value{}, false
}

func toDecimal(src reflect.Value, _ reflect.Type) (reflect.Value, bool) {
	var (
		d   decimal.Decimal
		err error
	)
	switch classOf(src.Type()) {
	case classString, classBytes:
		d, err = decimal.NewFromString(strings.TrimSpace(text(src)))
	case classInt:
		d = decimal.NewFromInt(src.Int())
	case classUint:
		d = decimal.NewFromBigInt(new(big.Int).SetUint64(src.Uint()), 0)
	case classFloat:
		f := src.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return reflect.Value{}, false
		}
		d = decimal.NewFromFloat(f)
	default:
		n, ok := src.Interface().(pgtype.Numeric)
		if !ok || !finite(n) {
			return reflect.Value{}, false
		}
		d = decimal.NewFromBigInt(n.Int, n.Exp)
	}
	if err != nil {
		return reflect.Value{}, false
	}
	return reflect.ValueOf(d), true
}

func toUUID(src reflect.Value, _ reflect.Type) (reflect.Value, bool) {
	var (
		id  uuid.UUID
		err error
	)
	switch {
	case src.Kind() == reflect.Array && src.Len() == 16 && src.Type().Elem().Kind() == reflect.Uint8:
		for i := 0; i < 16; i++ {
			id[i] = byte(src.Index(i).Uint())
		}
	case src.Kind() == reflect.String:
		id, err = uuid.Parse(src.String())
	case classOf(src.Type()) == classBytes && src.Len() == 16:
		id, err = uuid.FromBytes(src.Bytes())
	case classOf(src.Type()) == classBytes:
		id, err = uuid.ParseBytes(src.Bytes())
	default:
		return reflect.Value{}, false
	}
	if err != nil {
		return reflect.Value{}, false
	}
	return reflect.ValueOf(id), true
}

// fromNumeric handles pgx's arbitrary-precision numeric for float and
// integer destinations.
func fromNumeric(src reflect.Value, dst reflect.Type) (reflect.Value, bool) {
	n := src.Interface().(pgtype.Numeric)
	if !finite(n) {
		return reflect.Value{}, false
	}
	switch classOf(dst) {
	case classFloat:
		f, err := n.Float64Value()
		if err != nil || !f.Valid {
			return reflect.Value{}, false
		}
		return setFloat(dst, f.Float64)
	case classInt:
		i, err := n.Int64Value()
		if err != nil || !i.Valid {
			return reflect.Value{}, false
		}
		return setInt(dst, i.Int64)
	case classString:
		return stringToString(reflect.ValueOf(decimal.NewFromBigInt(n.Int, n.Exp).String()), dst)
	}
	return reflect.Value{}, false
}

func finite(n pgtype.Numeric) bool {
	return n.Valid && !n.NaN && n.InfinityModifier == pgtype.Finite && n.Int != nil
}
