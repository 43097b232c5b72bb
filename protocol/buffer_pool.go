package protocol

import "sync"

const (
	initialFrameBuffer = 4096
	maxPooledFrame     = 1024 * 1024 // larger buffers go back to the GC
)

var framePool = sync.Pool{
	New: func() any {
		b := make([]byte, 0, initialFrameBuffer)
		return &b
	},
}

// getFrameBuffer returns an empty buffer with room for at least n bytes.
func getFrameBuffer(n int) *[]byte {
	bp := framePool.Get().(*[]byte)
	if cap(*bp) < n {
		*bp = make([]byte, 0, n)
	}
	*bp = (*bp)[:0]
	return bp
}

func putFrameBuffer(bp *[]byte) {
	if cap(*bp) > maxPooledFrame {
		return
	}
	framePool.Put(bp)
}
