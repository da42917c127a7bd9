package transport

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Network is the closed set of listener kinds
type Network int

const (
	// NetworkTCP listens on a host:port endpoint
	NetworkTCP Network = iota
	// NetworkUnix listens on a Unix domain socket path
	NetworkUnix
	// NetworkUnixFD adopts an already bound Unix socket descriptor
	NetworkUnixFD
)

// String returns the URL scheme of the network
func (n Network) String() string {
	switch n {
	case NetworkTCP:
		return "tcp"
	case NetworkUnix:
		return "unix"
	case NetworkUnixFD:
		return "fd"
	default:
		return "unknown"
	}
}

const (
	defaultAdminPort   = 8000
	alternateAdminPort = 8001
)

// BindAddress names the endpoint a listener is bound on. It is chosen once
// at startup and never changes.
type BindAddress struct {
	network Network
	address string
	fd      uintptr
}

// TCPAddress builds a TCP bind address from host:port
func TCPAddress(hostPort string) BindAddress {
	return BindAddress{network: NetworkTCP, address: hostPort}
}

// UnixAddress builds a Unix socket bind address from a filesystem path
func UnixAddress(path string) BindAddress {
	return BindAddress{network: NetworkUnix, address: path}
}

// UnixFDAddress builds a bind address for an inherited socket descriptor
func UnixFDAddress(fd uintptr) BindAddress {
	return BindAddress{network: NetworkUnixFD, fd: fd, address: strconv.FormatUint(uint64(fd), 10)}
}

// ParseBindAddress accepts tcp://host:port, unix:///path, fd://N or a bare
// host:port which is treated as TCP
func ParseBindAddress(s string) (BindAddress, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return BindAddress{}, fmt.Errorf("empty bind address")
	}

	scheme, rest, found := strings.Cut(s, "://")
	if !found {
		scheme, rest = "tcp", s
	}

	switch scheme {
	case "tcp":
		if _, _, err := net.SplitHostPort(rest); err != nil {
			return BindAddress{}, fmt.Errorf("invalid tcp bind address %q: %w", s, err)
		}
		return TCPAddress(rest), nil
	case "unix":
		if rest == "" {
			return BindAddress{}, fmt.Errorf("unix bind address %q has no path", s)
		}
		return UnixAddress(rest), nil
	case "fd":
		fd, err := strconv.ParseUint(rest, 10, 32)
		if err != nil {
			return BindAddress{}, fmt.Errorf("invalid descriptor in %q: %w", s, err)
		}
		return UnixFDAddress(uintptr(fd)), nil
	default:
		return BindAddress{}, fmt.Errorf("unsupported bind scheme %q", scheme)
	}
}

// Network returns the listener kind
func (b BindAddress) Network() Network {
	return b.network
}

// Address returns host:port, the socket path or the descriptor number
func (b BindAddress) Address() string {
	return b.address
}

// IsZero reports whether the address was never set
func (b BindAddress) IsZero() bool {
	return b == BindAddress{}
}

// String renders the address in the form ParseBindAddress accepts
func (b BindAddress) String() string {
	return b.network.String() + "://" + b.address
}

// Port returns the TCP port, or false for non-TCP addresses
func (b BindAddress) Port() (int, bool) {
	if b.network != NetworkTCP {
		return 0, false
	}
	_, port, err := net.SplitHostPort(b.address)
	if err != nil {
		return 0, false
	}
	p, err := strconv.Atoi(port)
	if err != nil {
		return 0, false
	}
	return p, true
}

// DefaultAdminAddress derives the admin endpoint from a primary endpoint:
// same host on port 8000, or 8001 when the primary already uses 8000.
// Unix listeners fall back to all interfaces on port 8000.
func (b BindAddress) DefaultAdminAddress() BindAddress {
	if b.network != NetworkTCP {
		return TCPAddress(net.JoinHostPort("0.0.0.0", strconv.Itoa(defaultAdminPort)))
	}

	host, _, err := net.SplitHostPort(b.address)
	if err != nil {
		host = "0.0.0.0"
	}
	port := defaultAdminPort
	if p, ok := b.Port(); ok && p == defaultAdminPort {
		port = alternateAdminPort
	}
	return TCPAddress(net.JoinHostPort(host, strconv.Itoa(port)))
}

// UnmarshalText implements encoding.TextUnmarshaler
func (b *BindAddress) UnmarshalText(text []byte) error {
	parsed, err := ParseBindAddress(string(text))
	if err != nil {
		return err
	}
	*b = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler
func (b BindAddress) MarshalText() ([]byte, error) {
	if b.IsZero() {
		return []byte{}, nil
	}
	return []byte(b.String()), nil
}

// UnmarshalYAML implements yaml.Unmarshaler
func (b *BindAddress) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	if s == "" {
		*b = BindAddress{}
		return nil
	}
	return b.UnmarshalText([]byte(s))
}

// MarshalYAML implements yaml.Marshaler
func (b BindAddress) MarshalYAML() (interface{}, error) {
	if b.IsZero() {
		return "", nil
	}
	return b.String(), nil
}
