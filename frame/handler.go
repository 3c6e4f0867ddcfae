package frame

import (
	"encoding/gob"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"

	"github.com/richardartoul/methodcache"
)

// Handler stores *Frame values as zstd-compressed gob with the "frame"
// suffix. Nil frames are not cacheable.
var Handler = methodcache.Handler{
	Suffix: "frame",
	Write: func(w io.Writer, v any) error {
		f, ok := v.(*Frame)
		if !ok {
			return fmt.Errorf("frame handler cannot write %T", v)
		}
		zw, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedBetterCompression))
		if err != nil {
			return fmt.Errorf("failed to create zstd writer: %w", err)
		}
		if err := gob.NewEncoder(zw).Encode(f); err != nil {
			zw.Close()
			return fmt.Errorf("failed to encode frame: %w", err)
		}
		return zw.Close()
	},
	Read: func(r io.Reader, dst any) error {
		p, ok := dst.(**Frame)
		if !ok {
			return fmt.Errorf("frame handler cannot read into %T", dst)
		}
		zr, err := zstd.NewReader(r)
		if err != nil {
			return fmt.Errorf("failed to create zstd reader: %w", err)
		}
		defer zr.Close()
		var f Frame
		if err := gob.NewDecoder(zr).Decode(&f); err != nil {
			return fmt.Errorf("failed to decode frame: %w", err)
		}
		*p = &f
		return nil
	},
}
