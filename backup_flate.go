package sixfs

import (
	"io"

	"github.com/klauspost/compress/flate"
)

func init() {
	RegisterCompHandler(CodecFlate, &CompHandler{
		Compress: func(w io.Writer) (io.WriteCloser, error) {
			return flate.NewWriter(w, flate.DefaultCompression)
		},
		// flate.NewReader returns a bare io.ReadCloser; nil error here just
		// satisfies the shared CompHandler shape.
		Decompress: func(r io.Reader) (io.ReadCloser, error) {
			return flate.NewReader(r), nil
		},
	})
}
