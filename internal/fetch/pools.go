package fetch

import (
	"bytes"
	"io"
	"sync"
)

// maxPooledBuffer keeps one oversized document from pinning memory in the pool
const maxPooledBuffer = 256 << 10

var bodyBufferPool = sync.Pool{
	New: func() interface{} {
		return bytes.NewBuffer(make([]byte, 0, 16<<10))
	},
}

func getBodyBuffer() *bytes.Buffer {
	buf := bodyBufferPool.Get().(*bytes.Buffer)
	buf.Reset()
	return buf
}

func putBodyBuffer(buf *bytes.Buffer) {
	if buf == nil || buf.Cap() > maxPooledBuffer {
		return
	}
	bodyBufferPool.Put(buf)
}

// readBody reads at most limit+1 bytes of r through a pooled buffer and
// returns a copy the caller owns.
func readBody(r io.Reader, limit int64) ([]byte, error) {
	buf := getBodyBuffer()
	defer putBodyBuffer(buf)

	if _, err := buf.ReadFrom(io.LimitReader(r, limit+1)); err != nil {
		return nil, err
	}
	return bytes.Clone(buf.Bytes()), nil
}
