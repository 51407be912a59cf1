//go:build !linux

package desync

import "errors"

// DecoySupported reports whether NewDecoy works on this platform.
const DecoySupported = false

var errDecoyUnsupported = errors.New("decoy sends need memfd and sendfile")

func newDecoy(int, int) (Decoy, error) {
	return nil, errDecoyUnsupported
}
