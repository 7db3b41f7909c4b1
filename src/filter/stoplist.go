package filter

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strings"
)

// Stoplist holds free-text values that must never resolve, such as the "worldwide" or
// "earth" locations users type into their profile. Matching is case-insensitive.
type Stoplist struct {
	entries map[string]bool
}

// NewStoplist creates a Stoplist from the given entries.
func NewStoplist(entries ...string) *Stoplist {
	sl := &Stoplist{entries: make(map[string]bool, len(entries))}
	for _, e := range entries {
		sl.Add(e)
	}
	return sl
}

// LoadStoplist reads a stoplist file. Each line holds one entry, lines starting with # are
// comments.
func LoadStoplist(filename string) (*Stoplist, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open stoplist %s: %w", filename, err)
	}
	defer file.Close()

	sl := NewStoplist()
	if err := sl.Read(file); err != nil {
		return nil, fmt.Errorf("stoplist %s: %w", filename, err)
	}
	return sl, nil
}

// Read adds the entries of r.
func (sl *Stoplist) Read(r io.Reader) error {
	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		sl.Add(line)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read error at line %d: %w", lineNum, err)
	}
	return nil
}

// Add adds a single entry.
func (sl *Stoplist) Add(entry string) {
	sl.entries[strings.ToLower(strings.TrimSpace(entry))] = true
}

// Contains reports whether value is stoplisted. A nil Stoplist contains nothing.
func (sl *Stoplist) Contains(value string) bool {
	if sl == nil {
		return false
	}
	return sl.entries[strings.ToLower(strings.TrimSpace(value))]
}

// Len returns the number of entries.
func (sl *Stoplist) Len() int {
	if sl == nil {
		return 0
	}
	return len(sl.entries)
}
