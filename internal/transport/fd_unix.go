//go:build unix

package transport

import (
	"fmt"
	"net"
	"os"
)

func listenFD(fd uintptr) (net.Listener, error) {
	f := os.NewFile(fd, fmt.Sprintf("listener-fd-%d", fd))
	if f == nil {
		return nil, fmt.Errorf("invalid descriptor %d", fd)
	}
	defer f.Close()

	l, err := net.FileListener(f)
	if err != nil {
		return nil, fmt.Errorf("descriptor %d is not a listening socket: %w", fd, err)
	}
	return l, nil
}
