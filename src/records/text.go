package records

import (
	"bytes"
	"io"
)

// nulStripper drops NUL bytes, which show up in the raw dumps and break encoding/csv.
type nulStripper struct {
	r io.Reader
}

// StripNUL wraps r so that NUL bytes are removed from everything read through it.
func StripNUL(r io.Reader) io.Reader {
	return &nulStripper{r: r}
}

func (s *nulStripper) Read(p []byte) (int, error) {
	for {
		n, err := s.r.Read(p)
		if n > 0 && bytes.IndexByte(p[:n], 0) >= 0 {
			n = copy(p, bytes.ReplaceAll(p[:n], []byte{0}, nil))
		}
		// A chunk made only of NULs must not look like a zero-byte read.
		if n > 0 || err != nil {
			return n, err
		}
	}
}
