// Package netutil holds the listener and line-framing helpers shared by
// the bridge, the event stream server and the HTTP API.
package netutil

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
)

// ErrNotLoopback is returned for addresses that would listen beyond the
// local machine.
var ErrNotLoopback = errors.New("address is not loopback")

// ErrLineTooLong describes a line ReadLine dropped for exceeding its limit.
var ErrLineTooLong = errors.New("line too long")

// IsExpectedCloseError reports whether err is an ordinary end of a
// connection: EOF, use of a closed connection, broken pipe or reset.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}

// RequireLoopback checks that a host:port address names a loopback
// interface. "localhost" is accepted; an empty host is not, since it
// means every interface.
func RequireLoopback(addr string) error {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("parse %q: %w", addr, err)
	}
	if host == "localhost" {
		return nil
	}
	ip := net.ParseIP(host)
	if ip == nil || !ip.IsLoopback() {
		return fmt.Errorf("%w: %q", ErrNotLoopback, addr)
	}
	return nil
}

// Listen opens a listener on network/addr. TCP addresses must be loopback.
func Listen(network, addr string) (net.Listener, error) {
	if network == "tcp" || network == "tcp4" || network == "tcp6" {
		if err := RequireLoopback(addr); err != nil {
			return nil, err
		}
	}
	ln, err := net.Listen(network, addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s %s: %w", network, addr, err)
	}
	return ln, nil
}

// ReadLine returns the next line without its terminator. A line longer than
// limit is consumed through its newline and reported with tooLong set. At EOF
// an unterminated final line is returned together with io.EOF.
func ReadLine(r *bufio.Reader, limit int) (line []byte, tooLong bool, err error) {
	for {
		chunk, err := r.ReadSlice('\n')
		if !tooLong {
			if len(line)+len(chunk) > limit+2 {
				tooLong, line = true, nil
			} else {
				line = append(line, chunk...)
			}
		}
		if errors.Is(err, bufio.ErrBufferFull) {
			continue
		}
		line = bytes.TrimRight(line, "\r\n")
		if !tooLong && len(line) > limit {
			tooLong, line = true, nil
		}
		return line, tooLong, err
	}
}
