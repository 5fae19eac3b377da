// Package util holds helpers that would not hurt the simplicity of Go
// if they were in the builtins or the stdlib.
package util

// Min returns the minimum of a and b.
func Min(a, b int) int {
	if a < b {
		return a
	}

	return b
}

// Min64 is like Min() but for int64.
func Min64(a, b int64) int64 {
	if a < b {
		return a
	}

	return b
}

// Max64 is like Max() but for int64.
func Max64(a, b int64) int64 {
	if a < b {
		return b
	}

	return a
}
