package transport

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"
)

// Stream is a bidirectional connection whose two directions can be shut
// down independently. *net.TCPConn and *net.UnixConn both satisfy it.
type Stream interface {
	net.Conn
	CloseRead() error
	CloseWrite() error
}

// Listener accepts Streams regardless of the transport it was bound on
type Listener struct {
	listener net.Listener
	bind     BindAddress
}

// Bind opens a listener for the address
func (b BindAddress) Bind() (*Listener, error) {
	var (
		l   net.Listener
		err error
	)

	switch b.network {
	case NetworkTCP:
		l, err = net.Listen("tcp", b.address)
	case NetworkUnix:
		if err = removeStaleSocket(b.address); err == nil {
			l, err = net.Listen("unix", b.address)
		}
	case NetworkUnixFD:
		l, err = listenFD(b.fd)
	default:
		err = fmt.Errorf("unsupported network %v", b.network)
	}
	if err != nil {
		return nil, err
	}

	return &Listener{listener: l, bind: b}, nil
}

// NewListener adopts an already open net.Listener
func NewListener(l net.Listener) *Listener {
	bind := TCPAddress(l.Addr().String())
	if l.Addr().Network() == "unix" {
		bind = UnixAddress(l.Addr().String())
	}
	return &Listener{listener: l, bind: bind}
}

// Accept waits for the next client and returns its stream and remote address
func (l *Listener) Accept() (Stream, net.Addr, error) {
	conn, err := l.listener.Accept()
	if err != nil {
		return nil, nil, err
	}
	return AsStream(conn), conn.RemoteAddr(), nil
}

// Addr returns the bound local address
func (l *Listener) Addr() net.Addr {
	return l.listener.Addr()
}

// NetListener exposes the underlying listener for servers that need one
func (l *Listener) NetListener() net.Listener {
	return l.listener
}

// BindAddress returns the address the listener was opened for
func (l *Listener) BindAddress() BindAddress {
	return l.bind
}

// Close stops accepting; Unix socket files created by Bind are removed
func (l *Listener) Close() error {
	return l.listener.Close()
}

// Dial connects to a TCP backend, bounded by timeout when it is non-zero
func Dial(ctx context.Context, address string, timeout time.Duration) (Stream, error) {
	dialer := net.Dialer{Timeout: timeout}
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, err
	}
	return AsStream(conn), nil
}

// AsStream returns conn itself when it supports half-close, otherwise a
// wrapper whose half-close calls are no-ops
func AsStream(conn net.Conn) Stream {
	if s, ok := conn.(Stream); ok {
		return s
	}
	return fullDuplexOnly{conn}
}

type fullDuplexOnly struct {
	net.Conn
}

func (fullDuplexOnly) CloseRead() error { return nil }
func (fullDuplexOnly) CloseWrite() error { return nil }

// ReadHalf is the source side of a stream. Each Read is bounded by the
// configured timeout.
type ReadHalf struct {
	stream  Stream
	timeout time.Duration
}

// WriteHalf is the destination side of a stream. Each Write is bounded by
// the configured timeout.
type WriteHalf struct {
	stream  Stream
	timeout time.Duration
}

// Split returns independent read and write halves of s
func Split(s Stream, readTimeout, writeTimeout time.Duration) (*ReadHalf, *WriteHalf) {
	return &ReadHalf{stream: s, timeout: readTimeout}, &WriteHalf{stream: s, timeout: writeTimeout}
}

// Read implements io.Reader
func (r *ReadHalf) Read(p []byte) (int, error) {
	if r.timeout > 0 {
		if err := r.stream.SetReadDeadline(time.Now().Add(r.timeout)); err != nil {
			return 0, err
		}
	}
	return r.stream.Read(p)
}

// Close shuts down the read direction only
func (r *ReadHalf) Close() error {
	return r.stream.CloseRead()
}

// Write implements io.Writer
func (w *WriteHalf) Write(p []byte) (int, error) {
	if w.timeout > 0 {
		if err := w.stream.SetWriteDeadline(time.Now().Add(w.timeout)); err != nil {
			return 0, err
		}
	}
	return w.stream.Write(p)
}

// Close shuts down the write direction, signalling EOF to the peer
func (w *WriteHalf) Close() error {
	return w.stream.CloseWrite()
}

// removeStaleSocket deletes a leftover socket file so a restart can bind
func removeStaleSocket(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.Mode()&os.ModeSocket == 0 {
		return fmt.Errorf("%s exists and is not a socket", path)
	}
	return os.Remove(path)
}
