package keys

import (
	"fmt"

	jsoniter "github.com/json-iterator/go"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Tuple returns the storage key of an identifier tuple. Values are encoded
// as a JSON array so no value can collide with another tuple's key.
func Tuple(values []string) (string, error) {
	b, err := json.Marshal(values)
	if err != nil {
		return "", fmt.Errorf("keys: encode tuple: %w", err)
	}
	return string(b), nil
}

// FromCriteria orders the criteria values by fields and returns their key.
func FromCriteria(fields []string, c map[string]string) (string, error) {
	values := make([]string, len(fields))
	for i, f := range fields {
		v, ok := c[f]
		if !ok {
			return "", fmt.Errorf("keys: criteria missing field %q", f)
		}
		values[i] = v
	}
	return Tuple(values)
}
