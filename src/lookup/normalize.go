package lookup

import (
	"sync"
	"unicode/utf8"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"
)

// Casers are stateful, so each goroutine takes its own from the pool.
var casers = sync.Pool{
	New: func() any {
		c := cases.Lower(language.Und)
		return &c
	},
}

// NormalizeKey lowercases s and composes it to NFC, so "KaSSel, Deutschland" and
// "kassel, deutschland" meet in the same slot. Empty and invalid UTF-8 keys are returned
// unchanged.
func NormalizeKey(s string) string {
	if s == "" || !utf8.ValidString(s) {
		return s
	}
	c := casers.Get().(*cases.Caser)
	defer casers.Put(c)
	return norm.NFC.String(c.String(s))
}
