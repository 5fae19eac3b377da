package testutil

import (
	"io/ioutil"
	"os"
	"testing"
)

// CreateDummyBuf creates a byte slice that is `size` big.
// It's filled with the repeating numbers [0...255].
func CreateDummyBuf(size int64) []byte {
	buf := make([]byte, size)

	for i := int64(0); i < size; i++ {
		// Be evil and stripe the data:
		buf[i] = byte(i % 255)
	}

	return buf
}

// CreatePatternBuf creates a buffer of `size` bytes whose content
// depends on `seed`. Buffers of different seeds differ in every byte.
func CreatePatternBuf(seed uint64, size int64) []byte {
	buf := make([]byte, size)
	for i := int64(0); i < size; i++ {
		buf[i] = byte(uint64(i)*7 + seed*13 + 1)
	}

	return buf
}

// CreateFile creates a temporary file in the systems tmp-folder.
// The file will be `size` bytes big, filled with content from CreateDummyBuf.
func CreateFile(size int64) string {
	fd, err := ioutil.TempFile("", "gcma_test")
	if err != nil {
		panic("Cannot create temp file")
	}

	if _, err := fd.Write(CreateDummyBuf(size)); err != nil {
		panic(err)
	}

	if err := fd.Close(); err != nil {
		return ""
	}

	return fd.Name()
}

// Remover removes all files in paths recursively and errors when it fails.
// It is no error if there's nothing to delete. It's useful in defer statements.
func Remover(t *testing.T, paths ...string) {
	for _, path := range paths {
		if err := os.RemoveAll(path); err != nil {
			t.Errorf("removing temp directory failed: %v", err)
		}
	}
}

// RequireFilled fails the test unless every byte of `buf` equals `val`.
func RequireFilled(t *testing.T, buf []byte, val byte) {
	t.Helper()

	for idx, b := range buf {
		if b != val {
			t.Fatalf("byte %d is %#x, want %#x", idx, b, val)
		}
	}
}
