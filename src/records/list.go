package records

import (
	"strings"
)

// Legacy spellings of "no location" found in files written by the old scripts.
const (
	LegacySentinel     = "['none', 'none', 'none', 'none', 'none']"
	LegacyNullSentinel = "[None, None, None, None, None]"
)

// Item is one element of a bracketed list cell.
type Item struct {
	Text string
	Null bool
}

// ParseList parses the bracketed-list micro-format that the old scripts embedded in CSV cells,
// e.g. ['us', 'united states', 'texas', 'austin', 'none'] or [12, 40].
//
//	list   = "[" [ item { "," item } ] "]"
//	item   = quoted | bare
//	quoted = "'" { char } "'" | `"` { char } `"`
//	bare   = { char except "," and "]" }
//
// Whitespace around items is ignored. Bare None/none/null/nan and quoted 'none' are null
// items. A bare item may not be empty unless the whole list is empty.
func ParseList(cell string) ([]Item, error) {
	s := strings.TrimSpace(cell)
	if len(s) < 2 || s[0] != '[' || s[len(s)-1] != ']' {
		return nil, malformed("list %q is not bracketed", cell)
	}
	body := s[1 : len(s)-1]
	if strings.TrimSpace(body) == "" {
		return nil, nil
	}

	var items []Item
	i := 0
	for {
		for i < len(body) && body[i] == ' ' {
			i++
		}
		if i >= len(body) {
			return nil, malformed("list %q has a trailing comma", cell)
		}

		var it Item
		if q := body[i]; q == '\'' || q == '"' {
			end := strings.IndexByte(body[i+1:], q)
			if end < 0 {
				return nil, malformed("list %q has an unterminated quote", cell)
			}
			it.Text = body[i+1 : i+1+end]
			it.Null = strings.EqualFold(it.Text, "none")
			i += end + 2
			for i < len(body) && body[i] == ' ' {
				i++
			}
			if i < len(body) && body[i] != ',' {
				return nil, malformed("list %q has text after a quoted item", cell)
			}
		} else {
			end := strings.IndexByte(body[i:], ',')
			if end < 0 {
				end = len(body) - i
			}
			it.Text = strings.TrimSpace(body[i : i+end])
			if it.Text == "" {
				return nil, malformed("list %q has an empty item", cell)
			}
			switch strings.ToLower(it.Text) {
			case "none", "null", "nan":
				it.Null = true
			}
			i += end
		}
		items = append(items, it)

		if i >= len(body) {
			return items, nil
		}
		i++ // comma
	}
}

// FormatList renders items in the quoted form the location resolver writes.
func FormatList(items []Item) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, it := range items {
		if i > 0 {
			b.WriteString(", ")
		}
		text := it.Text
		if it.Null {
			text = "none"
		}
		q := byte('\'')
		if strings.IndexByte(text, '\'') >= 0 {
			q = '"'
		}
		b.WriteByte(q)
		b.WriteString(text)
		b.WriteByte(q)
	}
	b.WriteByte(']')
	return b.String()
}

// IsSentinel reports whether text means "no location": either legacy spelling, any list whose
// items are all null, the empty cell, or one of the extra spellings given (usually the
// configured sentinel).
func IsSentinel(text string, extra ...string) bool {
	t := strings.TrimSpace(text)
	if t == "" || t == LegacySentinel || t == LegacyNullSentinel {
		return true
	}
	for _, e := range extra {
		if e != "" && t == e {
			return true
		}
	}
	if t[0] != '[' {
		return strings.EqualFold(t, "none")
	}
	items, err := ParseList(t)
	if err != nil || len(items) == 0 {
		return false
	}
	for _, it := range items {
		if !it.Null {
			return false
		}
	}
	return true
}

// SplitBracketed splits a legacy row on commas that are outside brackets and quotes, so that
// [a, b],[c, d],5 yields "[a, b]", "[c, d]" and "5". A cell that starts with a double quote is
// read CSV style up to its closing quote ("" is an escaped quote) and returned unquoted.
func SplitBracketed(line string) ([]string, error) {
	var (
		cells []string
		cur   strings.Builder
		depth int
		quote byte // quote char of a quoted list item, 0 when outside
		csvQ  bool // inside a CSV-quoted cell
		start = true
	)
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case csvQ:
			if c == '"' {
				if i+1 < len(line) && line[i+1] == '"' {
					cur.WriteByte('"')
					i++
					continue
				}
				csvQ = false
				continue
			}
			cur.WriteByte(c)
		case quote != 0:
			cur.WriteByte(c)
			if c == quote {
				quote = 0
			}
		case c == '"' && start && depth == 0:
			csvQ = true
			start = false
		case (c == '\'' || c == '"') && depth > 0 && itemStart(cur.String()):
			quote = c
			cur.WriteByte(c)
		case c == '[':
			depth++
			start = false
			cur.WriteByte(c)
		case c == ']':
			if depth == 0 {
				return nil, malformed("unbalanced ']' in %q", line)
			}
			depth--
			cur.WriteByte(c)
		case c == ',' && depth == 0:
			cells = append(cells, cur.String())
			cur.Reset()
			start = true
		default:
			if c != ' ' {
				start = false
			}
			cur.WriteByte(c)
		}
	}
	if depth != 0 || quote != 0 || csvQ {
		return nil, malformed("unterminated bracket or quote in %q", line)
	}
	return append(cells, cur.String()), nil
}

// itemStart reports whether the text written so far ends at the start of a list item.
func itemStart(s string) bool {
	s = strings.TrimRight(s, " ")
	return s == "" || strings.HasSuffix(s, "[") || strings.HasSuffix(s, ",")
}
