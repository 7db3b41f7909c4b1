package records

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

var (
	// ErrSchemaMismatch is returned when a named column is not present in the input.
	ErrSchemaMismatch = errors.New("schema mismatch")
	// ErrMalformed marks a single unusable record. Callers skip and count it.
	ErrMalformed = errors.New("malformed record")
)

func malformed(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrMalformed, fmt.Sprintf(format, args...))
}

// Edge is one contact edge between two users (or, after substitution, two locations).
type Edge struct {
	Source      string
	Destination string
	Weights     []int64
}

// EdgeSchema binds the source, destination and weight columns of a delimited edge file to
// positions in a row.
type EdgeSchema struct {
	SourceField      string
	DestinationField string
	WeightFields     []string

	width     int
	sourceIdx int
	destIdx   int
	weightIdx []int
}

// NewEdgeSchema binds the names against the given column list (a header line, or the field
// names supplied for a header-less file). Every named column must be present.
func NewEdgeSchema(columns []string, source, destination string, weights []string) (*EdgeSchema, error) {
	index := make(map[string]int, len(columns))
	for i, c := range columns {
		index[strings.TrimSpace(c)] = i
	}
	lookup := func(name string) (int, error) {
		i, ok := index[name]
		if !ok {
			return 0, fmt.Errorf("%w: column %q not in %v", ErrSchemaMismatch, name, columns)
		}
		return i, nil
	}

	s := &EdgeSchema{
		SourceField:      source,
		DestinationField: destination,
		WeightFields:     weights,
		width:            len(columns),
	}
	var err error
	if s.sourceIdx, err = lookup(source); err != nil {
		return nil, err
	}
	if s.destIdx, err = lookup(destination); err != nil {
		return nil, err
	}
	if len(weights) == 0 {
		return nil, fmt.Errorf("%w: at least one weight column is required", ErrSchemaMismatch)
	}
	for _, w := range weights {
		i, err := lookup(w)
		if err != nil {
			return nil, err
		}
		s.weightIdx = append(s.weightIdx, i)
	}
	return s, nil
}

// Width is the number of columns a row must have.
func (s *EdgeSchema) Width() int { return s.width }

// Decode converts a row into an Edge. Rows of the wrong width, and weights that are not
// non-negative integers, are ErrMalformed.
func (s *EdgeSchema) Decode(row []string) (Edge, error) {
	if len(row) != s.width {
		return Edge{}, malformed("expected %d fields, got %d", s.width, len(row))
	}
	e := Edge{
		Source:      row[s.sourceIdx],
		Destination: row[s.destIdx],
		Weights:     make([]int64, len(s.weightIdx)),
	}
	for k, i := range s.weightIdx {
		v, err := strconv.ParseInt(strings.TrimSpace(row[i]), 10, 64)
		if err != nil {
			return Edge{}, malformed("weight %s=%q: %v", s.WeightFields[k], row[i], err)
		}
		if v < 0 {
			return Edge{}, malformed("weight %s=%d is negative", s.WeightFields[k], v)
		}
		e.Weights[k] = v
	}
	return e, nil
}
