// Package categories splits labeled contact edges by misinformation category.
//
// Each type code packs nine two-bit levels; bits 2k and 2k+1 hold the level of category k+1.
package categories

import (
	"strconv"
	"strings"

	"geo-contacts/src/records"
)

// Count is the number of categories packed in one type code.
const Count = 9

// Levels are the decoded levels of the nine categories, 0 to 3.
type Levels [Count]uint8

// Decode unpacks a type code.
func Decode(code int64) Levels {
	var l Levels
	for k := 0; k < Count; k++ {
		l[k] = uint8((code >> (2 * k)) & 3)
	}
	return l
}

// Row is one labeled edge: i,j,contacts followed by the list of type codes.
type Row struct {
	I        string
	J        string
	Contacts string
	Types    []int64
}

// ParseRow reads a labeled row. The type list may span several cells when it was written
// without quoting, as in 1,2,5,[12, 48].
func ParseRow(cells []string) (Row, error) {
	if len(cells) < 4 {
		return Row{}, records.ErrMalformed
	}
	row := Row{I: cells[0], J: cells[1], Contacts: cells[2]}
	list := strings.Join(cells[3:], ",")
	items, err := records.ParseList(list)
	if err != nil {
		return Row{}, err
	}
	for _, it := range items {
		code, err := strconv.ParseInt(strings.TrimSpace(it.Text), 10, 64)
		if err != nil || it.Null {
			return Row{}, records.ErrMalformed
		}
		row.Types = append(row.Types, code)
	}
	return row, nil
}

// FormatTypes renders the type list without spaces, as [12,48].
func FormatTypes(types []int64) string {
	parts := make([]string, len(types))
	for i, t := range types {
		parts[i] = strconv.FormatInt(t, 10)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// Selection picks which levels count towards an output.
type Selection string

const (
	// Only3 counts level 3.
	Only3 Selection = "only_3"
	// Only2 counts level 2.
	Only2 Selection = "only_2"
	// TwoOrThree counts levels 2 and 3.
	TwoOrThree Selection = "only_2_or_3"
)

// Match reports whether level counts under s.
func (s Selection) Match(level uint8) bool {
	switch s {
	case Only3:
		return level == 3
	case Only2:
		return level == 2
	case TwoOrThree:
		return level >= 2
	}
	return false
}

// Valid reports whether s is a known selection.
func (s Selection) Valid() bool {
	return s == Only3 || s == Only2 || s == TwoOrThree
}

// Tally counts, for one row, how many type codes match s per category. Index Count holds
// the codes where any category matches.
func Tally(types []int64, s Selection) [Count + 1]int64 {
	var out [Count + 1]int64
	for _, code := range types {
		levels := Decode(code)
		hit := false
		for k, l := range levels {
			if s.Match(l) {
				out[k]++
				hit = true
			}
		}
		if hit {
			out[Count]++
		}
	}
	return out
}

// OutputName returns the base file name for category index k (0-based, Count for "all").
func OutputName(k int, s Selection) string {
	if k == Count {
		return "cat_all_" + string(s)
	}
	return "cat_" + leftPad(k+1) + "_" + string(s)
}

func leftPad(n int) string {
	if n < 10 {
		return "0" + strconv.Itoa(n)
	}
	return strconv.Itoa(n)
}
