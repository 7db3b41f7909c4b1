package users

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"geo-contacts/src/lookup"
	"geo-contacts/src/records"
)

// ReplaceStats are the diagnostics of one replacement run.
type ReplaceStats struct {
	Users   int
	Matched int
	Missed  int
	Skipped int
}

// Replacer substitutes the location column of the users CSV.
type Replacer struct {
	resolver lookup.Resolver
	sentinel string
	stats    ReplaceStats
	misses   map[string]int
}

// NewReplacer returns a Replacer writing sentinel for locations the resolver misses.
func NewReplacer(resolver lookup.Resolver, sentinel string) *Replacer {
	if sentinel == "" {
		sentinel = records.LegacySentinel
	}
	return &Replacer{
		resolver: resolver,
		sentinel: sentinel,
		misses:   make(map[string]int),
	}
}

// Run streams the users CSV from r to w. A header row equal to the user columns is
// optional on input and always written on output. Rows of the wrong width are skipped.
func (rp *Replacer) Run(ctx context.Context, r io.Reader, w io.Writer) error {
	reader := csv.NewReader(records.StripNUL(r))
	reader.FieldsPerRecord = -1
	out := csv.NewWriter(w)
	if err := out.Write(records.UserColumns); err != nil {
		return fmt.Errorf("failed to write header: %w", err)
	}

	first := true
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		row, err := reader.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			var perr *csv.ParseError
			if errors.As(err, &perr) {
				rp.stats.Skipped++
				slog.Debug("Skipping user row", "error", err)
				continue
			}
			return fmt.Errorf("read users: %w", err)
		}
		if first {
			first = false
			if slices.Equal(row, records.UserColumns) {
				continue
			}
		}
		user, err := records.UserFromRow(row)
		if err != nil {
			rp.stats.Skipped++
			continue
		}
		rp.Replace(&user)
		if err := out.Write(user.Row()); err != nil {
			return fmt.Errorf("failed to write user: %w", err)
		}
	}
	out.Flush()
	return out.Error()
}

// Replace substitutes the location of one user in place.
func (rp *Replacer) Replace(u *records.User) {
	rp.stats.Users++
	raw := u.Location
	if v, ok := rp.resolver.Resolve(raw); ok && strings.TrimSpace(raw) != "" {
		u.Location = canonicalList(v)
		rp.stats.Matched++
		return
	}
	u.Location = rp.sentinel
	rp.stats.Missed++
	if raw != "" {
		rp.misses[lookup.NormalizeKey(raw)]++
	}
}

// canonicalList rewrites a resolved list such as [us, united states, None] in the quoted form
// ['us', 'united states', 'none']. Values that are not lists are kept.
func canonicalList(v string) string {
	items, err := records.ParseList(v)
	if err != nil || items == nil {
		return v
	}
	return records.FormatList(items)
}

// Stats returns the counters so far.
func (rp *Replacer) Stats() ReplaceStats { return rp.stats }

// Unresolved is a free-text location that no lookup entry matched.
type Unresolved struct {
	Location string
	Count    int
}

// Unresolved returns the missed locations by count descending, then by text.
func (rp *Replacer) Unresolved() []Unresolved {
	out := make([]Unresolved, 0, len(rp.misses))
	for loc, n := range rp.misses {
		out = append(out, Unresolved{Location: loc, Count: n})
	}
	slices.SortFunc(out, func(a, b Unresolved) int {
		if a.Count != b.Count {
			return b.Count - a.Count
		}
		return strings.Compare(a.Location, b.Location)
	})
	return out
}

// WriteUnresolved writes count,location rows, most frequent first.
func (rp *Replacer) WriteUnresolved(w io.Writer) error {
	out := csv.NewWriter(w)
	out.Write([]string{"count", "location"})
	for _, u := range rp.Unresolved() {
		out.Write([]string{strconv.Itoa(u.Count), u.Location})
	}
	out.Flush()
	return out.Error()
}

// ReplaceLocations is the one-shot form of Replacer.Run.
func ReplaceLocations(ctx context.Context, r io.Reader, resolver lookup.Resolver, sentinel string, w io.Writer) (*Replacer, error) {
	rp := NewReplacer(resolver, sentinel)
	return rp, rp.Run(ctx, r, w)
}
