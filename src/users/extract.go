// Package users turns the raw user dump into the users CSV and replaces free-text locations
// with resolved ones.
package users

import (
	"bufio"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"log/slog"
	"regexp"

	"github.com/tidwall/gjson"

	"geo-contacts/src/records"
)

// ExtractStats are the diagnostics of one extraction.
type ExtractStats struct {
	Lines   int
	Written int
	Skipped int
	// NoDate counts lines dropped by QuoteDates because they carry no timestamp. They are
	// included in Skipped.
	NoDate int
}

// ExtractOptions control the preprocessing of raw dump lines.
type ExtractOptions struct {
	// QuoteDates wraps bare ISO timestamps (2019-03-01T10:20:30) in quotes so that raw dumps
	// parse as JSON. Lines without any timestamp are dropped.
	QuoteDates bool
}

// timestamp matches an ISO date-time with an optional suffix, and an opening quote if present.
var timestamp = regexp.MustCompile(`"?\d{4}-\d{2}-\d{2}T\d{2}:\d{2}:\d{2}[^\s,}\]"]*"?`)

// QuoteDates quotes every bare timestamp of line. ok is false when line has none.
func QuoteDates(line []byte) (out []byte, ok bool) {
	if timestamp.Find(line) == nil {
		return line, false
	}
	return timestamp.ReplaceAllFunc(line, func(m []byte) []byte {
		if m[0] == '"' {
			return m
		}
		q := make([]byte, 0, len(m)+2)
		q = append(q, '"')
		q = append(q, m...)
		return append(q, '"')
	}), true
}

// Extract reads one JSON document per line from r and writes the users CSV to w. Lines that
// are not valid JSON or lack a required field are skipped and counted.
func Extract(ctx context.Context, r io.Reader, w io.Writer, opts ExtractOptions) (ExtractStats, error) {
	var stats ExtractStats
	scanner := bufio.NewScanner(records.StripNUL(r))
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	out := csv.NewWriter(w)
	if err := out.Write(records.UserColumns); err != nil {
		return stats, fmt.Errorf("failed to write header: %w", err)
	}

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return stats, err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		stats.Lines++
		if opts.QuoteDates {
			var found bool
			if line, found = QuoteDates(line); !found {
				stats.NoDate++
				stats.Skipped++
				slog.Debug("Skipping user line without a timestamp", "line", stats.Lines)
				continue
			}
		}
		user, ok := parseUser(line)
		if !ok {
			stats.Skipped++
			slog.Debug("Skipping user line", "line", stats.Lines)
			continue
		}
		if err := out.Write(user.Row()); err != nil {
			return stats, fmt.Errorf("failed to write user: %w", err)
		}
		stats.Written++
	}
	if err := scanner.Err(); err != nil {
		return stats, fmt.Errorf("read users: %w", err)
	}
	out.Flush()
	return stats, out.Error()
}

func parseUser(line []byte) (records.User, bool) {
	if !gjson.ValidBytes(line) {
		return records.User{}, false
	}
	values := gjson.GetManyBytes(line, records.UserColumns...)
	cells := make([]string, len(values))
	for i, v := range values {
		if !v.Exists() {
			return records.User{}, false
		}
		cells[i] = verbatim(v)
	}
	user, err := records.UserFromRow(cells)
	return user, err == nil
}

// verbatim renders numbers as written in the dump, strings unquoted and null as empty.
func verbatim(v gjson.Result) string {
	switch v.Type {
	case gjson.String:
		return v.String()
	case gjson.Null:
		return ""
	default:
		return v.Raw
	}
}
