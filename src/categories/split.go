package categories

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"strconv"

	"geo-contacts/src/pipeline"
	"geo-contacts/src/records"
)

// Stats are the diagnostics of a filter or split run.
type Stats struct {
	Rows    int
	Kept    int
	Dropped int
	Skipped int
}

func newReader(r io.Reader) *csv.Reader {
	reader := csv.NewReader(records.StripNUL(r))
	reader.FieldsPerRecord = -1
	return reader
}

// readRows calls fn for every parsable data row after the header.
func readRows(ctx context.Context, r io.Reader, stats *Stats, fn func(Row) error) error {
	reader := newReader(r)
	if _, err := reader.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: input is empty, expected a header", records.ErrSchemaMismatch)
		}
		return fmt.Errorf("read header: %w", err)
	}
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		cells, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return nil
		}
		stats.Rows++
		if err != nil {
			var perr *csv.ParseError
			if !errors.As(err, &perr) {
				return fmt.Errorf("read row: %w", err)
			}
			stats.Skipped++
			continue
		}
		row, err := ParseRow(cells)
		if err != nil {
			stats.Skipped++
			slog.Debug("Skipping labeled row", "row", stats.Rows, "error", err)
			continue
		}
		if err := fn(row); err != nil {
			return err
		}
	}
}

// FirstFilter copies the rows of r that carry at least one type code to w, with header
// i,j,contacts,types.
func FirstFilter(ctx context.Context, r io.Reader, w io.Writer) (Stats, error) {
	var stats Stats
	out, err := pipeline.NewResultWriter(w, pipeline.WriterConfig{
		Header:     []string{"i", "j", "contacts", "types"},
		FlushEvery: 1000,
	})
	if err != nil {
		return stats, err
	}
	err = readRows(ctx, r, &stats, func(row Row) error {
		if len(row.Types) == 0 {
			stats.Dropped++
			return nil
		}
		stats.Kept++
		return out.WriteRow([]string{row.I, row.J, row.Contacts, FormatTypes(row.Types)})
	})
	return stats, errors.Join(err, out.Close())
}

// Splitter writes one i,j,contacts file per category and selection. contacts is the number of
// type codes of the row that matched; rows with no match are omitted from that file.
type Splitter struct {
	selections []Selection
	writers    [][Count + 1]*pipeline.ResultWriter
	written    map[string]int
}

// NewSplitter opens the outputs in dir. Existing files are handled per cfg.Mode.
func NewSplitter(dir string, selections []Selection, cfg pipeline.WriterConfig) (*Splitter, error) {
	cfg.Header = []string{"i", "j", "contacts"}
	s := &Splitter{selections: selections, written: make(map[string]int)}
	for _, sel := range selections {
		if !sel.Valid() {
			s.Close()
			return nil, fmt.Errorf("unknown category selection %q", sel)
		}
		var set [Count + 1]*pipeline.ResultWriter
		for k := range set {
			w, err := pipeline.CreateResultFile(filepath.Join(dir, OutputName(k, sel)+".csv"), cfg)
			if err != nil {
				s.writers = append(s.writers, set)
				s.Close()
				return nil, err
			}
			set[k] = w
		}
		s.writers = append(s.writers, set)
	}
	return s, nil
}

// Add tallies one row into every output.
func (s *Splitter) Add(row Row) error {
	for i, sel := range s.selections {
		counts := Tally(row.Types, sel)
		for k, n := range counts {
			if n == 0 {
				continue
			}
			if err := s.writers[i][k].WriteRow([]string{row.I, row.J, strconv.FormatInt(n, 10)}); err != nil {
				return err
			}
			s.written[OutputName(k, sel)]++
		}
	}
	return nil
}

// Written returns the rows written per output name.
func (s *Splitter) Written() map[string]int {
	out := make(map[string]int, len(s.written))
	for k, v := range s.written {
		out[k] = v
	}
	return out
}

// Close flushes and closes every output.
func (s *Splitter) Close() error {
	var errs []error
	for _, set := range s.writers {
		for _, w := range set {
			if w != nil {
				errs = append(errs, w.Close())
			}
		}
	}
	s.writers = nil
	return errors.Join(errs...)
}

// Split reads the filtered labeled file from r and writes the per-category outputs.
func Split(ctx context.Context, r io.Reader, s *Splitter) (Stats, error) {
	var stats Stats
	err := readRows(ctx, r, &stats, func(row Row) error {
		stats.Kept++
		return s.Add(row)
	})
	return stats, err
}
