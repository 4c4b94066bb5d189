//go:build !linux && !darwin && !windows

package clip

import "errors"

func newNative() (Backend, error) {
	return nil, errors.New("native clipboard not supported on this platform")
}
