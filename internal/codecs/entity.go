package codecs

import (
	"fmt"
	"reflect"

	jsoniter "github.com/json-iterator/go"
	"github.com/ripkitten-co/dataindexer/internal/meta"
)

// EntityCodec encodes entities as flat documents keyed by metadata field
// names, so identifier fields can be addressed by the same names the
// indexer uses. Fields promoted through `extends` are flattened into the
// document.
type EntityCodec struct {
	inner Codec
}

func NewEntity(inner Codec) *EntityCodec {
	return &EntityCodec{inner: inner}
}

func (c *EntityCodec) Marshal(v any) ([]byte, error) {
	val := reflect.ValueOf(v)
	for val.Kind() == reflect.Ptr {
		if val.IsNil() {
			return nil, fmt.Errorf("codecs: marshal nil %s", val.Type())
		}
		val = val.Elem()
	}
	if val.Kind() != reflect.Struct {
		return c.inner.Marshal(v)
	}
	m := meta.AnalyzeType(val.Type())

	out := make(map[string]any, len(m.Fields))
	for _, f := range m.Fields {
		out[f.Name] = val.FieldByIndex(f.Index).Interface()
	}
	return c.inner.Marshal(out)
}

func (c *EntityCodec) Unmarshal(data []byte, v any) error {
	val := reflect.ValueOf(v)
	if val.Kind() != reflect.Ptr || val.IsNil() {
		return fmt.Errorf("codecs: unmarshal into non-pointer %T", v)
	}
	val = val.Elem()
	if val.Kind() != reflect.Struct {
		return c.inner.Unmarshal(data, v)
	}

	var raw map[string]jsoniter.RawMessage
	if err := c.inner.Unmarshal(data, &raw); err != nil {
		return err
	}

	m := meta.AnalyzeType(val.Type())
	for _, f := range m.Fields {
		rawVal, ok := raw[f.Name]
		if !ok {
			continue
		}
		fieldPtr := reflect.New(f.Type)
		if err := c.inner.Unmarshal(rawVal, fieldPtr.Interface()); err != nil {
			return fmt.Errorf("field %s: %w", f.Name, err)
		}
		val.FieldByIndex(f.Index).Set(fieldPtr.Elem())
	}
	return nil
}
