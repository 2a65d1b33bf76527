package sixfs

import (
	"fmt"
	"io"
	"os"
)

// Codec names a container-snapshot compressor. The on-disk container
// format itself (§3) is always raw and uncompressed — there is no codec
// field in the header, and none of this is consulted by Create/Open —
// this only governs how Backup/Restore stream a whole container file to
// and from a compressed snapshot.
type Codec uint16

const (
	CodecFlate Codec = 1
	CodecXZ    Codec = 2
)

func (c Codec) String() string {
	switch c {
	case CodecFlate:
		return "flate"
	case CodecXZ:
		return "xz"
	default:
		return fmt.Sprintf("Codec(%d)", c)
	}
}

// CompHandler pairs a compressor with its matching decompressor, mirroring
// the codec registry shape of github.com/KarpelesLab/squashfs.
type CompHandler struct {
	Compress   func(io.Writer) (io.WriteCloser, error)
	Decompress func(io.Reader) (io.ReadCloser, error)
}

var compHandlers = map[Codec]*CompHandler{}

// RegisterCompHandler installs the handler for codec c. Called from each
// codec file's init(); those files carry no build tags, so every binary
// links both the flate and the xz compressor.
func RegisterCompHandler(c Codec, h *CompHandler) {
	compHandlers[c] = h
}

func lookupCompHandler(c Codec) (*CompHandler, error) {
	h, ok := compHandlers[c]
	if !ok {
		return nil, newErr(KindUnsupported, c.String())
	}
	return h, nil
}

// Backup streams the entire container file at hostPath through codec's
// compressor into snapshotPath. The container must not be open for
// writes elsewhere concurrently; Backup does not itself lock it.
func Backup(hostPath, snapshotPath string, codec Codec) error {
	h, err := lookupCompHandler(codec)
	if err != nil {
		return err
	}
	in, err := os.Open(hostPath)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(snapshotPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	w, err := h.Compress(out)
	if err != nil {
		return err
	}
	if _, err := io.Copy(w, in); err != nil {
		w.Close()
		return err
	}
	return w.Close()
}

// Restore reverses Backup, decompressing snapshotPath back into a
// container file at hostPath.
func Restore(snapshotPath, hostPath string, codec Codec) error {
	h, err := lookupCompHandler(codec)
	if err != nil {
		return err
	}
	in, err := os.Open(snapshotPath)
	if err != nil {
		return err
	}
	defer in.Close()

	r, err := h.Decompress(in)
	if err != nil {
		return err
	}
	defer r.Close()

	out, err := os.OpenFile(hostPath, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer out.Close()

	_, err = io.Copy(out, r)
	return err
}
