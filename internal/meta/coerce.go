package meta

import (
	"encoding"
	"fmt"
	"reflect"
	"strconv"
)

var textUnmarshalerType = reflect.TypeOf((*encoding.TextUnmarshaler)(nil)).Elem()

// Coerce converts an index part back into a value of type t so stores can
// bind it against typed columns. Types without a known conversion are
// returned as the raw string.
func Coerce(s string, t reflect.Type) (any, error) {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}

	if reflect.PointerTo(t).Implements(textUnmarshalerType) {
		v := reflect.New(t)
		if err := v.Interface().(encoding.TextUnmarshaler).UnmarshalText([]byte(s)); err != nil {
			return nil, fmt.Errorf("meta: coerce %q to %s: %w", s, t, err)
		}
		return v.Elem().Interface(), nil
	}

	switch t.Kind() {
	case reflect.String:
		return reflect.ValueOf(s).Convert(t).Interface(), nil
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, fmt.Errorf("meta: coerce %q to %s: %w", s, t, err)
		}
		return reflect.ValueOf(b).Convert(t).Interface(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(s, 10, t.Bits())
		if err != nil {
			return nil, fmt.Errorf("meta: coerce %q to %s: %w", s, t, err)
		}
		return reflect.ValueOf(n).Convert(t).Interface(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(s, 10, t.Bits())
		if err != nil {
			return nil, fmt.Errorf("meta: coerce %q to %s: %w", s, t, err)
		}
		return reflect.ValueOf(n).Convert(t).Interface(), nil
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(s, t.Bits())
		if err != nil {
			return nil, fmt.Errorf("meta: coerce %q to %s: %w", s, t, err)
		}
		return reflect.ValueOf(f).Convert(t).Interface(), nil
	default:
		return s, nil
	}
}
