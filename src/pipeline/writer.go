package pipeline

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"

	"geo-contacts/src/records"
)

// OutputMode says what happens to an existing output file.
type OutputMode string

const (
	// Truncate replaces the output file.
	Truncate OutputMode = "truncate"
	// Append adds to it; the header is written only when the file is empty.
	Append OutputMode = "append"
)

// WriterConfig configures a ResultWriter.
type WriterConfig struct {
	// Header is the column list, e.g. i,j,count or i,j,contacts,mentions.
	Header []string
	Mode   OutputMode
	// FlushEvery flushes after every N rows; 0 or 1 flushes after each row.
	FlushEvery int
	// Sentinel is written for missing endpoints.
	Sentinel string
}

// DefaultHeader returns i,j followed by the weight names, or i,j,count for one unnamed
// weight.
func DefaultHeader(weights []string) []string {
	if len(weights) == 0 {
		return []string{"i", "j", "count"}
	}
	return append([]string{"i", "j"}, weights...)
}

// ResultWriter writes aggregate rows as CSV.
type ResultWriter struct {
	cfg     WriterConfig
	csv     *csv.Writer
	closer  io.Closer
	pending int
	written int
}

// NewResultWriter writes cfg.Header to w and returns a writer for the rows.
func NewResultWriter(w io.Writer, cfg WriterConfig) (*ResultWriter, error) {
	rw := newResultWriter(w, cfg)
	if err := rw.writeHeader(); err != nil {
		return nil, err
	}
	return rw, nil
}

func newResultWriter(w io.Writer, cfg WriterConfig) *ResultWriter {
	if cfg.FlushEvery <= 0 {
		cfg.FlushEvery = 1
	}
	return &ResultWriter{cfg: cfg, csv: csv.NewWriter(w)}
}

func (rw *ResultWriter) writeHeader() error {
	if len(rw.cfg.Header) == 0 {
		return nil
	}
	if err := rw.csv.Write(rw.cfg.Header); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}
	rw.csv.Flush()
	return rw.csv.Error()
}

// CreateResultFile opens path once for the whole run according to cfg.Mode.
func CreateResultFile(path string, cfg WriterConfig) (*ResultWriter, error) {
	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if cfg.Mode == Append {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	f, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open output: %w", err)
	}
	rw := newResultWriter(f, cfg)
	rw.closer = f

	header := true
	if cfg.Mode == Append {
		info, err := f.Stat()
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to stat output: %w", err)
		}
		header = info.Size() == 0
	}
	if header {
		if err := rw.writeHeader(); err != nil {
			f.Close()
			return nil, err
		}
	}
	return rw, nil
}

// WriteRow writes raw cells.
func (rw *ResultWriter) WriteRow(cells []string) error {
	if err := rw.csv.Write(cells); err != nil {
		return fmt.Errorf("failed to write row: %w", err)
	}
	rw.written++
	rw.pending++
	if rw.pending >= rw.cfg.FlushEvery {
		rw.pending = 0
		rw.csv.Flush()
		return rw.csv.Error()
	}
	return nil
}

// WriteEntry writes source,destination,weights...
func (rw *ResultWriter) WriteEntry(e Entry) error {
	cells := make([]string, 0, 2+len(e.Weights))
	cells = append(cells, e.Pair.Source.Text(rw.cfg.Sentinel), e.Pair.Destination.Text(rw.cfg.Sentinel))
	for _, w := range e.Weights {
		cells = append(cells, strconv.FormatInt(w, 10))
	}
	return rw.WriteRow(cells)
}

// WriteTable writes every entry of t, in insertion order unless sorted is set.
func (rw *ResultWriter) WriteTable(t *Table, sorted bool) error {
	entries := t.Entries()
	if sorted {
		entries = t.Sorted(rw.cfg.Sentinel)
	}
	for _, e := range entries {
		if err := rw.WriteEntry(e); err != nil {
			return err
		}
	}
	return nil
}

// Written returns the number of rows written, header excluded.
func (rw *ResultWriter) Written() int { return rw.written }

// Close flushes and closes the underlying file, if the writer owns one.
func (rw *ResultWriter) Close() error {
	rw.csv.Flush()
	err := rw.csv.Error()
	if rw.closer != nil {
		err = errors.Join(err, rw.closer.Close())
		rw.closer = nil
	}
	return err
}

// ReadTable reads a result file back into a table. The header decides the number of weight
// columns; every sentinel spelling reads back as a missing endpoint.
func ReadTable(r io.Reader, sentinel string) (*Table, error) {
	reader := csv.NewReader(records.StripNUL(r))
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	if len(header) < 3 {
		return nil, fmt.Errorf("%w: result header %v needs at least three columns", records.ErrSchemaMismatch, header)
	}
	t := NewTable(len(header) - 2)
	for {
		row, err := reader.Read()
		if err == io.EOF {
			return t, nil
		}
		if err != nil {
			return nil, fmt.Errorf("read result row: %w", err)
		}
		weights := make([]int64, len(row)-2)
		for k, cell := range row[2:] {
			if weights[k], err = strconv.ParseInt(cell, 10, 64); err != nil {
				return nil, fmt.Errorf("%w: weight %q: %v", records.ErrMalformed, cell, err)
			}
		}
		p := Pair{
			Source:      records.ParseEndpoint(row[0], sentinel),
			Destination: records.ParseEndpoint(row[1], sentinel),
		}
		if err := t.Add(p, weights); err != nil {
			return nil, err
		}
	}
}
