package meta

import (
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
)

type orderID string

func TestCoerce(t *testing.T) {
	id := uuid.MustParse("7d444840-9dc0-11d1-b245-5ffdce74fad2")
	tests := []struct {
		name string
		in   string
		typ  reflect.Type
		want any
	}{
		{"string", "foo", reflect.TypeOf(""), "foo"},
		{"named string", "o-1", reflect.TypeOf(orderID("")), orderID("o-1")},
		{"int", "42", reflect.TypeOf(0), 42},
		{"int64", "-7", reflect.TypeOf(int64(0)), int64(-7)},
		{"uint16", "9", reflect.TypeOf(uint16(0)), uint16(9)},
		{"float", "1.5", reflect.TypeOf(0.0), 1.5},
		{"bool", "true", reflect.TypeOf(false), true},
		{"pointer", "3", reflect.TypeOf((*int)(nil)), 3},
		{"text unmarshaler", id.String(), reflect.TypeOf(uuid.UUID{}), id},
		{"fallback", "x", reflect.TypeOf([]int{}), "x"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Coerce(tt.in, tt.typ)
			if err != nil {
				t.Fatalf("Coerce: %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("got %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestCoerce_Invalid(t *testing.T) {
	tests := []struct {
		name string
		in   string
		typ  reflect.Type
	}{
		{"int", "abc", reflect.TypeOf(0)},
		{"int8 overflow", "300", reflect.TypeOf(int8(0))},
		{"bool", "maybe", reflect.TypeOf(false)},
		{"uuid", "not-a-uuid", reflect.TypeOf(uuid.UUID{})},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Coerce(tt.in, tt.typ); err == nil {
				t.Errorf("Coerce(%q, %s): expected error", tt.in, tt.typ)
			}
		})
	}
}

func TestStringify(t *testing.T) {
	s := "p1"
	var nilInt *int
	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, ""},
		{"string", "foo", "foo"},
		{"int", 42, "42"},
		{"pointer", &s, "p1"},
		{"pointer to pointer", func() **string { p := &s; return &p }(), "p1"},
		{"nil pointer", nilInt, ""},
		{"time", time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), "2024-01-02T03:04:05Z"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Stringify(tt.in); got != tt.want {
				t.Errorf("Stringify(%v) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}

func TestStringifyCoerce_RoundTrip(t *testing.T) {
	stamp := time.Date(2024, 1, 2, 3, 4, 5, 600, time.FixedZone("CET", 3600))
	id := uuid.MustParse("7d444840-9dc0-11d1-b245-5ffdce74fad2")
	n := int64(-12)
	tests := []struct {
		name  string
		in    any
		typ   reflect.Type
		equal func(got any) bool
	}{
		{"time", stamp, reflect.TypeOf(time.Time{}), func(got any) bool { return got.(time.Time).Equal(stamp) }},
		{"uuid", id, reflect.TypeOf(uuid.UUID{}), func(got any) bool { return got == id }},
		{"int", 7, reflect.TypeOf(0), func(got any) bool { return got == 7 }},
		{"bool", true, reflect.TypeOf(false), func(got any) bool { return got == true }},
		{"int64 pointer", &n, reflect.TypeOf(&n), func(got any) bool { return got == n }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			text := Stringify(tt.in)
			got, err := Coerce(text, tt.typ)
			if err != nil {
				t.Fatalf("Coerce(%q): %v", text, err)
			}
			if !tt.equal(got) {
				t.Errorf("Coerce(Stringify(%v)) = %v", tt.in, got)
			}
		})
	}
}
