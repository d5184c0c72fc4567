package dataindexer

import (
	"fmt"
	"sort"
	"strings"
)

// Criteria maps identifier field names to the values of a single index.
type Criteria map[string]string

func (c Criteria) String() string {
	keys := make([]string, 0, len(c))
	for k := range c {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, len(keys))
	for i, k := range keys {
		parts[i] = fmt.Sprintf("%s=%q", k, c[k])
	}
	return strings.Join(parts, ", ")
}

// SliceCriteria maps identifier field names to the values of a batch of
// indexes. It is columnar: element i of every field comes from the i-th index.
type SliceCriteria map[string][]string

// Len returns the number of indexes the criteria were built from.
func (c SliceCriteria) Len() int {
	for _, v := range c {
		return len(v)
	}
	return 0
}

// Row returns the criteria of the i-th index.
func (c SliceCriteria) Row(i int) Criteria {
	row := make(Criteria, len(c))
	for field, values := range c {
		row[field] = values[i]
	}
	return row
}
