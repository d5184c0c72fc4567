package meta

import (
	"encoding"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"
	"unicode"

	"github.com/ripkitten-co/dataindexer/internal/tags"
)

// Kind classifies a Go type for indexing purposes.
type Kind int

const (
	KindConcrete Kind = iota
	KindAbstract
	KindMappedSuperclass
	KindUnsupported
)

func (k Kind) String() string {
	switch k {
	case KindConcrete:
		return "concrete"
	case KindAbstract:
		return "abstract"
	case KindMappedSuperclass:
		return "mapped superclass"
	default:
		return "unsupported"
	}
}

var (
	ErrNotStruct        = errors.New("not a struct type")
	ErrAbstract         = errors.New("abstract type")
	ErrMappedSuperclass = errors.New("mapped superclass")
	ErrNoIdentifier     = errors.New("no identifier fields")
	ErrUnknownField     = errors.New("unknown field")
	ErrNilEntity        = errors.New("nil entity")
)

// Field is one exported struct field reachable from an entity type, possibly
// promoted through an `extends` embedding.
type Field struct {
	Name   string
	GoName string
	Index  []int
	Type   reflect.Type
}

// EntityMeta is the resolved metadata of a single Go type.
type EntityMeta struct {
	Type        reflect.Type
	Root        reflect.Type
	Kind        Kind
	Identifiers []Field
	Fields      []Field

	byName map[string]int
}

// Field looks up a data field by its document name.
func (m *EntityMeta) Field(name string) (Field, bool) {
	i, ok := m.byName[name]
	if !ok {
		return Field{}, false
	}
	return m.Fields[i], true
}

// IdentifierNames returns the names of the identifier fields in declaration order.
func (m *EntityMeta) IdentifierNames() []string {
	names := make([]string, len(m.Identifiers))
	for i, f := range m.Identifiers {
		names[i] = f.Name
	}
	return names
}

var cache sync.Map

func Analyze[T any]() *EntityMeta {
	return AnalyzeType(reflect.TypeOf((*T)(nil)).Elem())
}

func AnalyzeType(t reflect.Type) *EntityMeta {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if cached, ok := cache.Load(t); ok {
		return cached.(*EntityMeta)
	}
	m := analyze(t)
	actual, _ := cache.LoadOrStore(t, m)
	return actual.(*EntityMeta)
}

func analyze(t reflect.Type) *EntityMeta {
	m := &EntityMeta{Type: t, Root: t, byName: make(map[string]int)}
	switch t.Kind() {
	case reflect.Interface:
		m.Kind = KindAbstract
		return m
	case reflect.Struct:
	default:
		m.Kind = KindUnsupported
		return m
	}

	var own []Field
	inherited := false
	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		opts := tags.Parse(f.Tag.Get(tags.Key))
		if f.Name == "_" {
			switch {
			case opts.MappedSuperclass:
				m.Kind = KindMappedSuperclass
			case opts.Abstract:
				m.Kind = KindAbstract
			}
			continue
		}
		if opts.Skip {
			continue
		}
		if f.Anonymous && opts.Extends && f.IsExported() && f.Type.Kind() == reflect.Struct {
			parent := AnalyzeType(f.Type)
			inheritFrom(m, parent, i)
			inherited = parent.Kind != KindMappedSuperclass && len(parent.Identifiers) > 0
			continue
		}
		if !f.IsExported() {
			continue
		}
		field := Field{Name: nameForField(f), GoName: f.Name, Index: []int{i}, Type: f.Type}
		m.addField(field)
		if opts.ID {
			own = append(own, field)
		}
	}

	if !inherited {
		m.Identifiers = append(m.Identifiers, own...)
	}
	if len(m.Identifiers) == 0 {
		applyConventionDefaults(m)
	}
	return m
}

// inheritFrom copies the parent's fields and identifiers into m, prefixing
// their index paths with the position of the embedded parent. A mapped
// superclass contributes fields but is not a root, so m stays its own root.
func inheritFrom(m *EntityMeta, parent *EntityMeta, at int) {
	for _, f := range parent.Fields {
		m.addField(promote(f, at))
	}
	for _, f := range parent.Identifiers {
		m.Identifiers = append(m.Identifiers, promote(f, at))
	}
	if parent.Kind != KindMappedSuperclass {
		m.Root = parent.Root
	}
}

func promote(f Field, at int) Field {
	idx := make([]int, 0, len(f.Index)+1)
	idx = append(idx, at)
	idx = append(idx, f.Index...)
	f.Index = idx
	return f
}

// addField records f, replacing an inherited field of the same name the way
// Go promotion lets the shallower field win.
func (m *EntityMeta) addField(f Field) {
	if i, ok := m.byName[f.Name]; ok {
		m.Fields[i] = f
		return
	}
	m.byName[f.Name] = len(m.Fields)
	m.Fields = append(m.Fields, f)
}

func applyConventionDefaults(m *EntityMeta) {
	for _, f := range m.Fields {
		if f.GoName == "ID" && len(f.Index) == 1 {
			m.Identifiers = []Field{f}
			return
		}
	}
}

func nameForField(f reflect.StructField) string {
	key := jsonKeyFromTag(f.Tag.Get("json"))
	if key == "" || key == "-" {
		key = toCamelCase(f.Name)
	}
	return key
}

func jsonKeyFromTag(tag string) string {
	if tag == "" {
		return ""
	}
	name, _, _ := strings.Cut(tag, ",")
	return name
}

func toCamelCase(s string) string {
	if s == "" {
		return s
	}
	runes := []rune(s)
	if unicode.IsLower(runes[0]) {
		return s
	}

	upper := 0
	for _, r := range runes {
		if !unicode.IsUpper(r) {
			break
		}
		upper++
	}

	// "ID", "URL"
	if upper == len(runes) {
		return strings.ToLower(s)
	}
	if upper == 1 {
		return string(unicode.ToLower(runes[0])) + string(runes[1:])
	}
	// "HTTPStatus" -> "httpStatus": the last capital starts the next word
	return strings.ToLower(string(runes[:upper-1])) + string(runes[upper-1:])
}

// RootOf returns the root type for t, rejecting types that cannot be indexed
// directly.
func RootOf(t reflect.Type) (reflect.Type, error) {
	m := AnalyzeType(t)
	switch m.Kind {
	case KindConcrete:
		return m.Root, nil
	case KindAbstract:
		return nil, fmt.Errorf("meta: %s: %w", m.Type, ErrAbstract)
	case KindMappedSuperclass:
		return nil, fmt.Errorf("meta: %s: %w", m.Type, ErrMappedSuperclass)
	default:
		return nil, fmt.Errorf("meta: %s: %w", m.Type, ErrNotStruct)
	}
}

// TypeName returns the name stores persist to tell subtypes of one root
// apart: the package path and type name of t with pointers stripped.
func TypeName(t reflect.Type) string {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.PkgPath() == "" {
		return t.String()
	}
	return t.PkgPath() + "." + t.Name()
}

// IdentifierNames returns the identifier schema of root.
func IdentifierNames(root reflect.Type) ([]string, error) {
	m := AnalyzeType(root)
	if len(m.Identifiers) == 0 {
		return nil, fmt.Errorf("meta: %s: %w", m.Type, ErrNoIdentifier)
	}
	return m.IdentifierNames(), nil
}

func analyzeValue(entity any) (reflect.Value, *EntityMeta, error) {
	v := reflect.ValueOf(entity)
	for v.Kind() == reflect.Ptr {
		if v.IsNil() {
			return reflect.Value{}, nil, ErrNilEntity
		}
		v = v.Elem()
	}
	if !v.IsValid() {
		return reflect.Value{}, nil, ErrNilEntity
	}
	if v.Kind() != reflect.Struct {
		return reflect.Value{}, nil, fmt.Errorf("meta: %s: %w", v.Type(), ErrNotStruct)
	}
	return v, AnalyzeType(v.Type()), nil
}

// Read returns the value of the named field, dereferencing pointers. A nil
// pointer field reads as nil.
func Read(entity any, name string) (any, error) {
	v, m, err := analyzeValue(entity)
	if err != nil {
		return nil, err
	}
	f, ok := m.Field(name)
	if !ok {
		return nil, fmt.Errorf("meta: %s.%s: %w", m.Type, name, ErrUnknownField)
	}
	fv := v.FieldByIndex(f.Index)
	if fv.Kind() == reflect.Ptr {
		if fv.IsNil() {
			return nil, nil
		}
		fv = fv.Elem()
	}
	return fv.Interface(), nil
}

// Tuple returns the stringified identifier values of entity in schema order.
func Tuple(entity any) ([]string, error) {
	_, m, err := analyzeValue(entity)
	if err != nil {
		return nil, err
	}
	if len(m.Identifiers) == 0 {
		return nil, fmt.Errorf("meta: %s: %w", m.Type, ErrNoIdentifier)
	}
	out := make([]string, len(m.Identifiers))
	for i, f := range m.Identifiers {
		val, err := Read(entity, f.Name)
		if err != nil {
			return nil, err
		}
		out[i] = Stringify(val)
	}
	return out, nil
}

// Stringify renders an identifier value the way it appears in an index.
// Pointers are dereferenced and a nil pointer renders as "". Values
// implementing encoding.TextMarshaler use their text form so Coerce can
// parse them back.
func Stringify(v any) string {
	if v == nil {
		return ""
	}
	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Ptr {
		if rv.IsNil() {
			return ""
		}
		rv = rv.Elem()
	}
	if m, ok := rv.Interface().(encoding.TextMarshaler); ok {
		if text, err := m.MarshalText(); err == nil {
			return string(text)
		}
	}
	return fmt.Sprint(rv.Interface())
}
