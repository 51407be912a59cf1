//go:build !linux && !darwin

package proxy

// unsentBytes always reports an empty queue, so the watermark resets on
// every check.
func unsentBytes(int) (int, error) {
	return 0, nil
}
