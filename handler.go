package methodcache

import (
	"encoding/gob"
	"encoding/json"
	"fmt"
	"io"
	"reflect"

	"github.com/klauspost/compress/zstd"
)

// Handler describes how one artifact format is persisted. Write encodes a
// value, Read decodes into a pointer to the destination type. AcceptsNil
// reports whether the format can represent a nil payload; nil results with
// a handler that cannot are returned to the caller without being cached.
//
// Handlers are plain values and are never modified after construction.
type Handler struct {
	Suffix     string
	AcceptsNil bool
	Write      func(w io.Writer, v any) error
	Read       func(r io.Reader, dst any) error
}

// GobHandler stores arbitrary Go values with encoding/gob.
var GobHandler = Handler{
	Suffix: "gob",
	Write: func(w io.Writer, v any) error {
		return gob.NewEncoder(w).Encode(v)
	},
	Read: func(r io.Reader, dst any) error {
		return gob.NewDecoder(r).Decode(dst)
	},
}

// CompressedGobHandler is GobHandler with zstd compression, for large
// model artifacts.
var CompressedGobHandler = Handler{
	Suffix: "gob.zst",
	Write: func(w io.Writer, v any) error {
		zw, err := zstd.NewWriter(w)
		if err != nil {
			return fmt.Errorf("failed to create zstd writer: %w", err)
		}
		if err := gob.NewEncoder(zw).Encode(v); err != nil {
			zw.Close()
			return err
		}
		return zw.Close()
	},
	Read: func(r io.Reader, dst any) error {
		zr, err := zstd.NewReader(r)
		if err != nil {
			return fmt.Errorf("failed to create zstd reader: %w", err)
		}
		defer zr.Close()
		return gob.NewDecoder(zr).Decode(dst)
	},
}

// JSONHandler stores JSON-serializable values. A nil payload is stored as
// JSON null.
var JSONHandler = Handler{
	Suffix:     "json",
	AcceptsNil: true,
	Write: func(w io.Writer, v any) error {
		return json.NewEncoder(w).Encode(v)
	},
	Read: func(r io.Reader, dst any) error {
		return json.NewDecoder(r).Decode(dst)
	},
}

// TextHandler stores strings and byte slices verbatim. Values implementing
// fmt.Stringer are stored by their String output.
var TextHandler = Handler{
	Suffix: "txt",
	Write: func(w io.Writer, v any) error {
		switch t := v.(type) {
		case string:
			_, err := io.WriteString(w, t)
			return err
		case []byte:
			_, err := w.Write(t)
			return err
		case fmt.Stringer:
			_, err := io.WriteString(w, t.String())
			return err
		default:
			return fmt.Errorf("text handler cannot write %T", v)
		}
	},
	Read: func(r io.Reader, dst any) error {
		data, err := io.ReadAll(r)
		if err != nil {
			return err
		}
		switch d := dst.(type) {
		case *string:
			*d = string(data)
		case *[]byte:
			*d = data
		default:
			return fmt.Errorf("text handler cannot read into %T", dst)
		}
		return nil
	},
}

func (h Handler) validate() error {
	if h.Suffix == "" {
		return fmt.Errorf("handler suffix is empty")
	}
	if h.Write == nil || h.Read == nil {
		return fmt.Errorf("handler %q is missing a writer or reader", h.Suffix)
	}
	return nil
}

func isNil(v any) bool {
	if v == nil {
		return true
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Chan, reflect.Func, reflect.Interface, reflect.Map, reflect.Pointer, reflect.Slice:
		return rv.IsNil()
	}
	return false
}
