package cleancache

import (
	"io"
)

// small util to wrap a buffer we want to write to. Tells you easily how much
// data you can still write to it.
type iobuf struct {
	dst []byte
	off int
}

func (ib *iobuf) Write(src []byte) (int, error) {
	n := copy(ib.dst[ib.off:], src)
	ib.off += n
	return n, nil
}

func (ib *iobuf) Len() int {
	return ib.off
}

func (ib *iobuf) Left() int {
	return len(ib.dst) - ib.off
}

// zeroPadReader wraps another reader which has data
// until `size`. If `length` > `size` than it pads the
// gap with zero reads.
type zeroPadReader struct {
	r                 io.Reader
	off, size, length int64
}

func memzero(buf []byte) {
	for idx := range buf {
		buf[idx] = 0
	}
}

func (zpr *zeroPadReader) Read(buf []byte) (int, error) {
	if zpr.size >= zpr.length {
		// zpr.length might be also shorter.
		// then we don't do any padding but work like
		// io.LimitReader().
		zpr.size = zpr.length
	}

	diff := zpr.length - zpr.off
	bufLen := int64(len(buf))
	if diff < bufLen {
		// clamp buf to zpr.length
		bufLen = diff
	}

	if zpr.off < zpr.size {
		// below underlying stream size:
		if left := zpr.size - zpr.off; left < bufLen {
			bufLen = left
		}

		n, err := zpr.r.Read(buf[:bufLen])
		zpr.off += int64(n)
		if err == io.EOF && zpr.off < zpr.length {
			if zpr.off < zpr.size {
				// the stream is shorter than it claimed to be.
				return n, io.ErrUnexpectedEOF
			}

			// the rest is padding.
			err = nil
		}

		return n, err
	}

	if diff > 0 {
		// above underlying stream size,
		// but below padded length.
		memzero(buf[:bufLen])
		zpr.off += bufLen
		return int(bufLen), nil
	}

	return 0, io.EOF
}
