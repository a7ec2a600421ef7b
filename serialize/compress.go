package serialize

import (
	"bytes"
	"io"

	"github.com/klauspost/compress/zlib"
)

// Compress zlib-compresses a job's data or exc_info field before it is
// written to the store.
func Compress(data []byte) []byte {
	var buf bytes.Buffer
	w := zlib.NewWriter(&buf)
	w.Write(data) //nolint:errcheck // bytes.Buffer writes cannot fail
	w.Close()     //nolint:errcheck
	return buf.Bytes()
}

// Decompress reverses Compress. Values that do not carry a zlib header are
// returned unchanged: records written before compression was introduced
// stay readable.
func Decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return data, nil
	}

	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		if err == zlib.ErrHeader || err == io.ErrUnexpectedEOF {
			return data, nil
		}
		return nil, err
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return out, nil
}
