package lookup

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strings"

	"geo-contacts/src/filter"
	"geo-contacts/src/records"
)

// ErrMisaligned is returned when two aligned sources do not have the same number of lines.
var ErrMisaligned = errors.New("lookup sources are misaligned")

// Options control how a Table is built.
type Options struct {
	// Stoplist entries are never inserted and therefore resolve to missing.
	Stoplist *filter.Stoplist
}

// Table maps normalized raw keys to normalized values. It is immutable once built and safe
// for concurrent reads.
type Table struct {
	entries    map[string]string
	duplicates int
	stopped    int
	skipped    int
}

// Resolve returns the value for raw, normalizing it the same way keys were normalized.
func (t *Table) Resolve(raw string) (string, bool) {
	v, ok := t.entries[NormalizeKey(raw)]
	return v, ok
}

// Len returns the number of distinct keys.
func (t *Table) Len() int { return len(t.entries) }

// Duplicates returns how many inserts overwrote an earlier key (last write wins).
func (t *Table) Duplicates() int { return t.duplicates }

// Stopped returns how many entries were dropped by the stoplist.
func (t *Table) Stopped() int { return t.stopped }

// Skipped returns how many rows of a column source were unusable.
func (t *Table) Skipped() int { return t.skipped }

// Entries returns a copy of the normalized mapping.
func (t *Table) Entries() map[string]string {
	out := make(map[string]string, len(t.entries))
	for k, v := range t.entries {
		out[k] = v
	}
	return out
}

func newTable() *Table {
	return &Table{entries: make(map[string]string)}
}

func (t *Table) put(raw, value string, opts Options) {
	if opts.Stoplist.Contains(raw) {
		t.stopped++
		return
	}
	key := NormalizeKey(raw)
	if _, exists := t.entries[key]; exists {
		t.duplicates++
	}
	t.entries[key] = value
}

// FromMap builds a Table from an in-memory mapping.
func FromMap(m map[string]string, opts Options) *Table {
	t := newTable()
	for k, v := range m {
		t.put(k, v, opts)
	}
	return t
}

func newLineScanner(r io.Reader) *bufio.Scanner {
	s := bufio.NewScanner(records.StripNUL(r))
	s.Buffer(make([]byte, 64*1024), 16*1024*1024)
	return s
}

func trimCR(s string) string { return strings.TrimSuffix(s, "\r") }

// FromAligned builds a Table where line i of keys maps to line i of values, e.g. the
// frequentplaces.txt / frequentplaces.txt.resolved pair. Sources of different lengths fail
// with ErrMisaligned instead of being silently truncated.
func FromAligned(keys, values io.Reader, opts Options) (*Table, error) {
	ks, vs := newLineScanner(keys), newLineScanner(values)
	t := newTable()
	line := 0
	for {
		kOK, vOK := ks.Scan(), vs.Scan()
		if err := ks.Err(); err != nil {
			return nil, fmt.Errorf("read keys at line %d: %w", line+1, err)
		}
		if err := vs.Err(); err != nil {
			return nil, fmt.Errorf("read values at line %d: %w", line+1, err)
		}
		if !kOK && !vOK {
			return t, nil
		}
		line++
		if kOK != vOK {
			side := "keys"
			if kOK {
				side = "values"
			}
			return nil, fmt.Errorf("%w: %s source ends before line %d", ErrMisaligned, side, line)
		}
		t.put(trimCR(ks.Text()), trimCR(vs.Text()), opts)
	}
}

// FromPairedLines builds a Table from one file that alternates a raw line and its resolved
// line. A trailing raw line without a value fails with ErrMisaligned.
func FromPairedLines(r io.Reader, opts Options) (*Table, error) {
	s := newLineScanner(r)
	t := newTable()
	line := 0
	for s.Scan() {
		line++
		raw := trimCR(s.Text())
		if !s.Scan() {
			if err := s.Err(); err != nil {
				return nil, fmt.Errorf("read line %d: %w", line+1, err)
			}
			return nil, fmt.Errorf("%w: raw line %d has no resolved line", ErrMisaligned, line)
		}
		line++
		t.put(raw, trimCR(s.Text()), opts)
	}
	if err := s.Err(); err != nil {
		return nil, fmt.Errorf("read line %d: %w", line+1, err)
	}
	return t, nil
}

// ColumnSpec names the key and value columns of a delimited lookup file.
type ColumnSpec struct {
	KeyColumn   string
	ValueColumn string
	// Fields names the columns of a header-less file. When empty the first row is the
	// header. A first row equal to Fields is treated as a header and skipped.
	Fields []string
}

// FromColumns builds a Table from a CSV file with named columns, such as userId -> location
// from the replaced users file. Rows with the wrong number of fields are skipped and counted.
func FromColumns(r io.Reader, spec ColumnSpec, opts Options) (*Table, error) {
	reader := csv.NewReader(records.StripNUL(r))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	columns := spec.Fields
	first, err := reader.Read()
	if err == io.EOF {
		return newTable(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	pending := first
	if len(columns) == 0 {
		columns = first
		pending = nil
	} else if equalRows(first, columns) {
		pending = nil
	}

	keyIdx, valIdx := -1, -1
	for i, c := range columns {
		switch strings.TrimSpace(c) {
		case spec.KeyColumn:
			keyIdx = i
		case spec.ValueColumn:
			valIdx = i
		}
	}
	if keyIdx < 0 || valIdx < 0 {
		return nil, fmt.Errorf("%w: need columns %q and %q, have %v",
			records.ErrSchemaMismatch, spec.KeyColumn, spec.ValueColumn, columns)
	}

	t := newTable()
	add := func(row []string) {
		if len(row) != len(columns) {
			t.skipped++
			return
		}
		t.put(row[keyIdx], row[valIdx], opts)
	}
	if pending != nil {
		add(pending)
	}
	for {
		row, err := reader.Read()
		if err == io.EOF {
			return t, nil
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				t.skipped++
				continue
			}
			return nil, fmt.Errorf("read lookup row: %w", err)
		}
		add(row)
	}
}

func equalRows(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if strings.TrimSpace(a[i]) != b[i] {
			return false
		}
	}
	return true
}
