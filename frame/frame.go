// Package frame is a minimal column-oriented dataframe used as a cacheable
// artifact. It carries just enough structure to fingerprint its content
// and to round-trip through a cache handler.
package frame

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/opencontainers/go-digest"
)

// Column is a named, typed column. Values are kept in their text form.
type Column struct {
	Name   string
	DType  string
	Values []string
}

// Frame is an ordered set of equally long columns.
type Frame struct {
	Columns []Column
}

// New builds a frame from columns, which must have distinct names and the
// same length.
func New(columns ...Column) (*Frame, error) {
	seen := make(map[string]struct{}, len(columns))
	for i, c := range columns {
		if c.Name == "" {
			return nil, fmt.Errorf("column %d has no name", i)
		}
		if _, ok := seen[c.Name]; ok {
			return nil, fmt.Errorf("duplicate column %q", c.Name)
		}
		seen[c.Name] = struct{}{}
		if len(c.Values) != len(columns[0].Values) {
			return nil, fmt.Errorf("column %q has %d rows, want %d", c.Name, len(c.Values), len(columns[0].Values))
		}
	}
	return &Frame{Columns: columns}, nil
}

// Rows returns the number of rows.
func (f *Frame) Rows() int {
	if f == nil || len(f.Columns) == 0 {
		return 0
	}
	return len(f.Columns[0].Values)
}

// Column returns the column called name.
func (f *Frame) Column(name string) (Column, bool) {
	for _, c := range f.Columns {
		if c.Name == name {
			return c, true
		}
	}
	return Column{}, false
}

// Select returns a frame holding the named columns in the given order.
func (f *Frame) Select(names ...string) (*Frame, error) {
	out := make([]Column, 0, len(names))
	for _, name := range names {
		c, ok := f.Column(name)
		if !ok {
			return nil, fmt.Errorf("unknown column %q", name)
		}
		out = append(out, c)
	}
	return New(out...)
}

// ContentHash digests column order, names, dtypes and values. Equal frames
// hash equally; any change to one of them changes the hash.
func (f *Frame) ContentHash() (string, error) {
	if f == nil {
		return "", errors.New("nil frame")
	}
	d := digest.Canonical.Digester()
	h := d.Hash()
	writeField(h, strconv.Itoa(len(f.Columns)))
	for _, c := range f.Columns {
		writeField(h, c.Name)
		writeField(h, c.DType)
		writeField(h, strconv.Itoa(len(c.Values)))
		for _, v := range c.Values {
			writeField(h, v)
		}
	}
	return d.Digest().Encoded(), nil
}

// writeField writes s length-prefixed so that adjacent fields cannot run
// into each other.
func writeField(w io.Writer, s string) {
	var n [binary.MaxVarintLen64]byte
	w.Write(n[:binary.PutUvarint(n[:], uint64(len(s)))])
	io.WriteString(w, s)
}
