package dataindexer

import "errors"

var (
	// ErrInvalidInput is returned when data passed to Index or Validate is not
	// an instance of the configured type, or one of its identifier fields
	// cannot be read.
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnsupportedType is returned by New when the target type has no
	// resolvable identifier schema or is abstract or a mapped superclass.
	ErrUnsupportedType = errors.New("unsupported type")

	// ErrAmbiguousIndex is returned when an index does not split into exactly
	// as many parts as there are identifier fields. It usually means the
	// separator also occurs inside an identifier value.
	ErrAmbiguousIndex = errors.New("ambiguous index")

	// ErrNotFound is returned when no entity matches a decoded index.
	ErrNotFound = errors.New("not found")
)
