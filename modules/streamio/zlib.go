package streamio

import (
	"io"
	"sync"

	"github.com/klauspost/compress/zlib"
)

var (
	zlibReader = sync.Pool{
		New: func() any {
			return &ZlibReader{}
		},
	}
	zlibWriter = sync.Pool{
		New: func() any {
			return zlib.NewWriter(nil)
		},
	}
)

type ZlibReader struct {
	rc io.ReadCloser
}

func (z *ZlibReader) Read(p []byte) (int, error) {
	return z.rc.Read(p)
}

// GetZlibReader returns a ZlibReader that is managed by a sync.Pool.
//
// After use, the ZlibReader should be put back into the sync.Pool
// by calling PutZlibReader.
func GetZlibReader(r io.Reader) (*ZlibReader, error) {
	z := zlibReader.Get().(*ZlibReader)
	if z.rc == nil {
		rc, err := zlib.NewReader(r)
		if err != nil {
			zlibReader.Put(z)
			return nil, err
		}
		z.rc = rc
		return z, nil
	}
	if err := z.rc.(zlib.Resetter).Reset(r, nil); err != nil {
		zlibReader.Put(z)
		return nil, err
	}
	return z, nil
}

// PutZlibReader puts z back into its sync.Pool, first closing the inner
// reader.
func PutZlibReader(z *ZlibReader) {
	if z.rc != nil {
		_ = z.rc.Close()
	}
	zlibReader.Put(z)
}

// GetZlibWriter returns a *zlib.Writer that is managed by a sync.Pool.
// Returns a writer that is reset with w and ready for use.
//
// After use, the *zlib.Writer should be put back into the sync.Pool
// by calling PutZlibWriter.
func GetZlibWriter(w io.Writer) *zlib.Writer {
	z := zlibWriter.Get().(*zlib.Writer)
	z.Reset(w)
	return z
}

// PutZlibWriter puts w back into its sync.Pool.
func PutZlibWriter(w *zlib.Writer) {
	zlibWriter.Put(w)
}
