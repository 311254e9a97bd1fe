package xlreport

import (
	"fmt"
	"iter"
	"reflect"
	"strings"
	"time"

	"github.com/javajack/xlreport/issuer"
	"github.com/shopspring/decimal"
)

// fieldValue extracts a named field from a map or struct record. A dotted
// path descends into nested values. ok is false when the field is absent;
// a present nil value reports ok.
func fieldValue(item any, path string) (any, bool) {
	cur := item
	for name := range strings.SplitSeq(path, ".") {
		v, ok := lookupField(cur, name)
		if !ok {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

func lookupField(item any, name string) (any, bool) {
	if item == nil {
		return nil, false
	}
	if m, ok := item.(map[string]any); ok {
		v, ok := m[name]
		return v, ok
	}
	v := reflect.ValueOf(item)
	for v.Kind() == reflect.Pointer || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return nil, false
		}
		v = v.Elem()
	}
	switch v.Kind() {
	case reflect.Map:
		if v.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		mv := v.MapIndex(reflect.ValueOf(name).Convert(v.Type().Key()))
		if !mv.IsValid() {
			return nil, false
		}
		return mv.Interface(), true
	case reflect.Struct:
		f := v.FieldByName(name)
		if !f.IsValid() || !f.CanInterface() {
			return nil, false
		}
		return f.Interface(), true
	}
	return nil, false
}

// getField is fieldValue without the presence flag.
func getField(item any, path string) any {
	v, _ := fieldValue(item, path)
	return v
}

// sameValue reports whether two discriminator values are equal. Numbers
// compare by value regardless of their Go type.
func sameValue(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return compareValues(a, b) == 0
}

// compareValues orders two values: numerically when both are numbers,
// chronologically for times, by text otherwise. nil sorts first.
func compareValues(a, b any) int {
	if a == nil && b == nil {
		return 0
	}
	if a == nil {
		return -1
	}
	if b == nil {
		return 1
	}
	if fa, ok := toFloat64(a); ok {
		if fb, ok := toFloat64(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			}
			return 0
		}
	}
	if ta, ok := a.(time.Time); ok {
		if tb, ok := b.(time.Time); ok {
			return ta.Compare(tb)
		}
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

// toFloat64 attempts to convert a numeric value to float64.
func toFloat64(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case decimal.Decimal:
		return n.InexactFloat64(), true
	}
	return 0, false
}

// toInt converts a numeric or numeric-string value to int.
func toInt(v any) (int, bool) {
	if f, ok := toFloat64(v); ok {
		return int(f), true
	}
	if s, ok := v.(string); ok {
		var n int
		if _, err := fmt.Sscan(strings.TrimSpace(s), &n); err == nil {
			return n, true
		}
	}
	return 0, false
}

// toSlice converts any slice or array value to []any.
func toSlice(val any) ([]any, error) {
	if val == nil {
		return nil, nil
	}
	if items, ok := val.([]any); ok {
		return items, nil
	}
	v := reflect.ValueOf(val)
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		result := make([]any, v.Len())
		for i := range v.Len() {
			result[i] = v.Index(i).Interface()
		}
		return result, nil
	default:
		return nil, fmt.Errorf("cannot iterate over %T", val)
	}
}

// toIssuer turns a collection-like value into a row source: an Issuer, a
// Provider, a sequence or any slice.
func toIssuer(ec *Context, val any) (issuer.Issuer[any], error) {
	switch v := val.(type) {
	case nil:
		return issuer.Empty[any](), nil
	case issuer.Issuer[any]:
		return v, nil
	case issuer.Issuer[issuer.Record]:
		return issuer.Any(v), nil
	case Provider:
		return v.RowSource(ec)
	case iter.Seq[any]:
		return seqIssuer(v), nil
	case func(func(any) bool):
		return seqIssuer(v), nil
	case iter.Seq2[any, error]:
		return issuer.FromSeq[any]("sequence", v), nil
	}
	items, err := toSlice(val)
	if err != nil {
		return nil, err
	}
	return issuer.FromSlice(items), nil
}

func seqIssuer(seq iter.Seq[any]) issuer.Issuer[any] {
	return issuer.FromSeq[any]("sequence", func(yield func(any, error) bool) {
		for x := range seq {
			if !yield(x, nil) {
				return
			}
		}
	})
}
