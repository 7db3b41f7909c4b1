package pipeline

import (
	"encoding/gob"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"geo-contacts/src/records"
)

// Pair is the key of the aggregate table: the two substituted endpoints of an edge.
type Pair struct {
	Source      records.Endpoint
	Destination records.Endpoint
}

// Entry is one row of the aggregate table.
type Entry struct {
	Pair    Pair
	Weights []int64
}

// Table accumulates weights per Pair. Entries keep their first-insertion order.
type Table struct {
	columns int
	index   map[Pair]int
	entries []Entry
}

// NewTable creates an empty table with the given number of weight columns.
func NewTable(columns int) *Table {
	return &Table{
		columns: columns,
		index:   make(map[Pair]int),
	}
}

// Columns returns the number of weight columns.
func (t *Table) Columns() int { return t.columns }

// Len returns the number of distinct pairs.
func (t *Table) Len() int { return len(t.entries) }

// Add adds weights to the entry for p, creating it at zero on first sight.
func (t *Table) Add(p Pair, weights []int64) error {
	if len(weights) != t.columns {
		return fmt.Errorf("expected %d weights, got %d", t.columns, len(weights))
	}
	for _, w := range weights {
		if w < 0 {
			return fmt.Errorf("negative weight %d for %v", w, p)
		}
	}
	i, ok := t.index[p]
	if !ok {
		i = len(t.entries)
		t.index[p] = i
		t.entries = append(t.entries, Entry{Pair: p, Weights: make([]int64, t.columns)})
	}
	acc := t.entries[i].Weights
	for k, w := range weights {
		acc[k] += w
	}
	return nil
}

// Get returns the accumulated weights for p.
func (t *Table) Get(p Pair) ([]int64, bool) {
	i, ok := t.index[p]
	if !ok {
		return nil, false
	}
	return append([]int64(nil), t.entries[i].Weights...), true
}

// Entries returns the entries in insertion order. The slice is a copy.
func (t *Table) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	for i, e := range t.entries {
		out[i] = Entry{Pair: e.Pair, Weights: append([]int64(nil), e.Weights...)}
	}
	return out
}

// Sorted returns the entries ordered by source then destination text, rendering missing
// endpoints as sentinel.
func (t *Table) Sorted(sentinel string) []Entry {
	out := t.Entries()
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i].Pair, out[j].Pair
		as, bs := a.Source.Text(sentinel), b.Source.Text(sentinel)
		if as != bs {
			return as < bs
		}
		return a.Destination.Text(sentinel) < b.Destination.Text(sentinel)
	})
	return out
}

// Totals returns the per-column sum over all entries.
func (t *Table) Totals() []int64 {
	totals := make([]int64, t.columns)
	for _, e := range t.entries {
		for k, w := range e.Weights {
			totals[k] += w
		}
	}
	return totals
}

// Merge adds every entry of other into t, in other's order.
func (t *Table) Merge(other *Table) error {
	if other.columns != t.columns {
		return fmt.Errorf("cannot merge %d-column table into %d-column table", other.columns, t.columns)
	}
	for _, e := range other.entries {
		if err := t.Add(e.Pair, e.Weights); err != nil {
			return err
		}
	}
	return nil
}

// snapshot is the gob form of a Table.
type snapshot struct {
	Columns int
	Entries []Entry
}

// SaveToFile writes the table to filename using gob encoding.
func (t *Table) SaveToFile(filename string) error {
	dir := filepath.Dir(filename)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	file, err := os.Create(filename)
	if err != nil {
		return fmt.Errorf("failed to create file %s: %w", filename, err)
	}
	defer file.Close()

	if err := gob.NewEncoder(file).Encode(snapshot{Columns: t.columns, Entries: t.entries}); err != nil {
		return fmt.Errorf("failed to encode table to %s: %w", filename, err)
	}
	return file.Close()
}

// LoadTable reads a table written by SaveToFile.
func LoadTable(filename string) (*Table, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file %s: %w", filename, err)
	}
	defer file.Close()

	var snap snapshot
	if err := gob.NewDecoder(file).Decode(&snap); err != nil {
		return nil, fmt.Errorf("failed to decode table from %s: %w", filename, err)
	}
	t := NewTable(snap.Columns)
	for _, e := range snap.Entries {
		if err := t.Add(e.Pair, e.Weights); err != nil {
			return nil, fmt.Errorf("table %s: %w", filename, err)
		}
	}
	return t, nil
}
