package sixfs

import (
	"io"

	"github.com/ulikunitz/xz"
)

func init() {
	RegisterCompHandler(CodecXZ, &CompHandler{
		Compress: func(w io.Writer) (io.WriteCloser, error) {
			xw, err := xz.NewWriter(w)
			if err != nil {
				return nil, err
			}
			return xw, nil
		},
		Decompress: func(r io.Reader) (io.ReadCloser, error) {
			rc, err := xz.NewReader(r)
			if err != nil {
				return nil, err
			}
			return io.NopCloser(rc), nil
		},
	})
}
