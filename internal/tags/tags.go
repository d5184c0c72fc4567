package tags

import "strings"

// Key is the struct tag key read by the metadata layer.
const Key = "dataindexer"

// Options is the parsed form of a `dataindexer:"..."` struct tag.
type Options struct {
	ID               bool
	Extends          bool
	Abstract         bool
	MappedSuperclass bool
	Skip             bool
}

// Parse splits a comma separated tag value into Options. Unknown options are
// ignored so tags shared with other tooling do not break analysis.
func Parse(tag string) Options {
	var o Options
	if tag == "" {
		return o
	}
	if tag == "-" {
		o.Skip = true
		return o
	}
	for _, part := range strings.Split(tag, ",") {
		switch strings.TrimSpace(part) {
		case "id":
			o.ID = true
		case "extends":
			o.Extends = true
		case "abstract":
			o.Abstract = true
		case "mapped_superclass":
			o.MappedSuperclass = true
		}
	}
	return o
}
