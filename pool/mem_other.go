//go:build !unix

package pool

func mapArea(size int) ([]byte, error) {
	return make([]byte, size), nil
}

func unmapArea(mem []byte) error {
	return nil
}
