//go:build !unix

package transport

import (
	"fmt"
	"net"
)

func listenFD(fd uintptr) (net.Listener, error) {
	return nil, fmt.Errorf("inherited socket descriptors are not supported on this platform (fd %d)", fd)
}
