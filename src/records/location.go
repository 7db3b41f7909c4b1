package records

import "strings"

// Endpoint is a substituted edge endpoint: a resolved value, or missing. The zero value is
// missing, so every code path that fails to resolve produces the same Endpoint.
type Endpoint struct {
	Value string
	Known bool
}

// Resolved wraps a lookup hit.
func Resolved(v string) Endpoint { return Endpoint{Value: v, Known: true} }

// Missing is the endpoint of a lookup miss.
func Missing() Endpoint { return Endpoint{} }

// Text renders the endpoint, writing sentinel for a missing one.
func (e Endpoint) Text(sentinel string) string {
	if !e.Known {
		return sentinel
	}
	return e.Value
}

// ParseEndpoint reads a persisted endpoint back, mapping every sentinel spelling to Missing.
func ParseEndpoint(text, sentinel string) Endpoint {
	if IsSentinel(text, sentinel) {
		return Missing()
	}
	return Resolved(text)
}

// Location is a resolved place: country code, country, state, city and one trailing part the
// resolver emits. Empty strings are unset parts.
type Location struct {
	CountryCode string
	Country     string
	State       string
	City        string
	Extra       string
}

// ParseLocation parses a bracketed resolver cell. ok is false for sentinel cells and for cells
// that do not parse.
func ParseLocation(cell string) (loc Location, ok bool) {
	if IsSentinel(cell) {
		return Location{}, false
	}
	items, err := ParseList(cell)
	if err != nil || len(items) == 0 {
		return Location{}, false
	}
	parts := make([]string, 5)
	for i := 0; i < len(items) && i < len(parts); i++ {
		if !items[i].Null {
			parts[i] = strings.TrimSpace(items[i].Text)
		}
	}
	loc = Location{
		CountryCode: parts[0],
		Country:     parts[1],
		State:       parts[2],
		City:        parts[3],
		Extra:       parts[4],
	}
	return loc, true
}
