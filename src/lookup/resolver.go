package lookup

import "geo-contacts/src/records"

// Resolver maps a raw identifier to a normalized value. ok is false on a miss.
type Resolver interface {
	Resolve(raw string) (value string, ok bool)
}

// ResolverFunc adapts a function to Resolver.
type ResolverFunc func(raw string) (string, bool)

// Resolve calls f.
func (f ResolverFunc) Resolve(raw string) (string, bool) { return f(raw) }

// CountryCode resolves a bracketed location cell to its country code.
type CountryCode struct{}

// Resolve returns the first element of the location list.
func (CountryCode) Resolve(raw string) (string, bool) {
	loc, ok := records.ParseLocation(raw)
	if !ok || loc.CountryCode == "" {
		return "", false
	}
	return loc.CountryCode, true
}

// Identity passes values through unchanged, except that every sentinel spelling is a miss.
// It re-aggregates tables whose endpoints are already locations.
type Identity struct {
	Sentinel string
}

// Resolve returns raw unless it is a sentinel.
func (id Identity) Resolve(raw string) (string, bool) {
	if records.IsSentinel(raw, id.Sentinel) {
		return "", false
	}
	return raw, true
}

// Chain resolves through each resolver in turn; a miss anywhere is a miss.
func Chain(resolvers ...Resolver) Resolver {
	return ResolverFunc(func(raw string) (string, bool) {
		v := raw
		for _, r := range resolvers {
			var ok bool
			if v, ok = r.Resolve(v); !ok {
				return "", false
			}
		}
		return v, true
	})
}
