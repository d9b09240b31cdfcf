//go:build !unix

package transport

import "os"

const nativeSupported = false

func socketPair() (*os.File, *os.File, error) {
	return nil, nil, ErrNativeUnsupported
}
