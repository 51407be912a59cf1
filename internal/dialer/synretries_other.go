//go:build !linux

package dialer

func setSynRetries(int, int) error {
	return nil
}
