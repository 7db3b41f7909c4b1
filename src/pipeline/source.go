package pipeline

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"geo-contacts/src/records"
)

// Format selects how an edge line is split into cells.
type Format string

const (
	// FormatCSV is RFC 4180 CSV; bracketed values must be quoted.
	FormatCSV Format = "csv"
	// FormatBracketed also accepts the unquoted [a, b],[c, d],5 rows the old scripts wrote.
	FormatBracketed Format = "bracketed"
)

// ReaderConfig describes an edge file.
type ReaderConfig struct {
	Format Format
	// Header means the first line names the columns.
	Header bool
	// Fields names the columns of a header-less file.
	Fields           []string
	SourceField      string
	DestinationField string
	WeightFields     []string
}

// EdgeSource yields edges one at a time and returns io.EOF at the end of the stream.
type EdgeSource interface {
	Next(ctx context.Context) (records.Edge, error)
}

// LineDecoder turns text lines into edges under a bound schema.
type LineDecoder struct {
	cfg     ReaderConfig
	schema  *records.EdgeSchema
	skipped int
}

// NewLineDecoder creates a decoder. When cfg.Header is false the schema is bound to
// cfg.Fields immediately, otherwise BindHeader must be called with the first line.
func NewLineDecoder(cfg ReaderConfig) (*LineDecoder, error) {
	if cfg.Format == "" {
		cfg.Format = FormatCSV
	}
	if cfg.Format != FormatCSV && cfg.Format != FormatBracketed {
		return nil, fmt.Errorf("unknown edge format %q", cfg.Format)
	}
	d := &LineDecoder{cfg: cfg}
	if !cfg.Header {
		if len(cfg.Fields) == 0 {
			return nil, fmt.Errorf("%w: header-less input needs field names", records.ErrSchemaMismatch)
		}
		if err := d.bind(cfg.Fields); err != nil {
			return nil, err
		}
	}
	return d, nil
}

func (d *LineDecoder) bind(columns []string) error {
	schema, err := records.NewEdgeSchema(columns, d.cfg.SourceField, d.cfg.DestinationField, d.cfg.WeightFields)
	if err != nil {
		return err
	}
	d.schema = schema
	return nil
}

// BindHeader binds the schema to a header line.
func (d *LineDecoder) BindHeader(line string) error {
	cells, err := d.split(line)
	if err != nil {
		return fmt.Errorf("%w: unreadable header: %v", records.ErrSchemaMismatch, err)
	}
	return d.bind(cells)
}

// Bound reports whether a schema is bound.
func (d *LineDecoder) Bound() bool { return d.schema != nil }

func (d *LineDecoder) split(line string) ([]string, error) {
	if d.cfg.Format == FormatBracketed {
		return records.SplitBracketed(line)
	}
	reader := csv.NewReader(strings.NewReader(line))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	cells, err := reader.Read()
	if err == io.EOF {
		return nil, fmt.Errorf("%w: empty line", records.ErrMalformed)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: %v", records.ErrMalformed, err)
	}
	return cells, nil
}

// Decode parses one line. Errors wrap records.ErrMalformed.
func (d *LineDecoder) Decode(line string) (records.Edge, error) {
	if d.schema == nil {
		return records.Edge{}, fmt.Errorf("%w: no header bound", records.ErrSchemaMismatch)
	}
	cells, err := d.split(line)
	if err != nil {
		return records.Edge{}, err
	}
	return d.schema.Decode(cells)
}

// Accept decodes line and counts it as skipped when it is malformed.
func (d *LineDecoder) Accept(line string) (records.Edge, bool) {
	edge, err := d.Decode(line)
	if err != nil {
		d.skipped++
		slog.Debug("Skipping edge row", "error", err)
		return records.Edge{}, false
	}
	return edge, true
}

// Skipped returns the number of lines skipped as malformed.
func (d *LineDecoder) Skipped() int { return d.skipped }

// EdgeReader streams edges from a delimited text file.
type EdgeReader struct {
	*LineDecoder
	scanner *bufio.Scanner
	closers []io.Closer
	line    int
}

// NewEdgeReader reads edges from r. The header, if configured, is read and bound here so that
// a schema mismatch fails before any record is processed.
func NewEdgeReader(r io.Reader, cfg ReaderConfig) (*EdgeReader, error) {
	d, err := NewLineDecoder(cfg)
	if err != nil {
		return nil, err
	}
	scanner := bufio.NewScanner(records.StripNUL(r))
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)
	er := &EdgeReader{LineDecoder: d, scanner: scanner}
	if cfg.Header {
		if !scanner.Scan() {
			if err := scanner.Err(); err != nil {
				return nil, fmt.Errorf("read header: %w", err)
			}
			return nil, fmt.Errorf("%w: input is empty, expected a header", records.ErrSchemaMismatch)
		}
		er.line++
		if err := d.BindHeader(strings.TrimSuffix(scanner.Text(), "\r")); err != nil {
			return nil, err
		}
	}
	return er, nil
}

// OpenEdgeFile opens path, transparently decompressing .gz files.
func OpenEdgeFile(path string, cfg ReaderConfig) (*EdgeReader, error) {
	r, closers, err := OpenInput(path)
	if err != nil {
		return nil, err
	}
	er, err := NewEdgeReader(r, cfg)
	if err != nil {
		closeAll(closers)
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	er.closers = closers
	return er, nil
}

// OpenInput opens a file for reading, wrapping it in a gzip reader when it ends in .gz.
// The returned closers must be closed in order.
func OpenInput(path string) (io.Reader, []io.Closer, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open input: %w", err)
	}
	if !strings.HasSuffix(path, ".gz") {
		return f, []io.Closer{f}, nil
	}
	gz, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, nil, fmt.Errorf("failed to open gzip %s: %w", path, err)
	}
	return gz, []io.Closer{gz, f}, nil
}

func closeAll(closers []io.Closer) error {
	var first error
	for _, c := range closers {
		if err := c.Close(); err != nil && first == nil {
			first = err
		}
	}
	return first
}

// Next returns the next well-formed edge. Malformed lines are skipped and counted.
func (er *EdgeReader) Next(ctx context.Context) (records.Edge, error) {
	for er.scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return records.Edge{}, err
		}
		er.line++
		text := strings.TrimSuffix(er.scanner.Text(), "\r")
		if text == "" {
			continue
		}
		if edge, ok := er.Accept(text); ok {
			return edge, nil
		}
	}
	if err := er.scanner.Err(); err != nil {
		return records.Edge{}, fmt.Errorf("read line %d: %w", er.line+1, err)
	}
	return records.Edge{}, io.EOF
}

// Close releases the underlying file.
func (er *EdgeReader) Close() error {
	return closeAll(er.closers)
}

// SliceSource serves edges from memory.
type SliceSource struct {
	Edges []records.Edge
	pos   int
}

// Next returns the next edge of the slice.
func (s *SliceSource) Next(ctx context.Context) (records.Edge, error) {
	if err := ctx.Err(); err != nil {
		return records.Edge{}, err
	}
	if s.pos >= len(s.Edges) {
		return records.Edge{}, io.EOF
	}
	e := s.Edges[s.pos]
	s.pos++
	return e, nil
}
