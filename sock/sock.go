// Package sock resolves the transport's address schemes onto real sockets.
//
// Two substrates are supported:
//
//	unix:///run/agent.sock   local inter-process socket
//	vsock://3:1024           guest/host VM socket (cid:port)
//
// The package also owns descriptor duplication for listener handoff: a bound
// socket can be extracted as an *os.File that outlives the net.Listener
// wrapper, so "stop accepting" does not close the underlying OS socket.
package sock

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"syscall"

	"github.com/mdlayher/vsock"
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

const (
	SchemeUnix  = "unix"
	SchemeVsock = "vsock"
)

// Listen binds a listener for a scheme-qualified address.
func Listen(address string) (net.Listener, error) {
	scheme, rest, err := split(address)
	if err != nil {
		return nil, err
	}
	switch scheme {
	case SchemeUnix:
		l, err := net.Listen("unix", rest)
		if err != nil {
			return nil, errors.Wrapf(err, "bind unix listener %q", rest)
		}
		return l, nil
	case SchemeVsock:
		_, port, err := parseVsock(rest)
		if err != nil {
			return nil, err
		}
		// The cid in a listen address is informational: a vsock socket can
		// only be bound on the local context ID.
		l, err := vsock.Listen(port, nil)
		if err != nil {
			return nil, errors.Wrapf(err, "bind vsock listener port %d", port)
		}
		return l, nil
	default:
		return nil, fmt.Errorf("sock: unsupported scheme %q in %q", scheme, address)
	}
}

// Dial connects to a scheme-qualified address.
func Dial(address string) (net.Conn, error) {
	scheme, rest, err := split(address)
	if err != nil {
		return nil, err
	}
	switch scheme {
	case SchemeUnix:
		c, err := net.Dial("unix", rest)
		if err != nil {
			return nil, errors.Wrapf(err, "dial unix %q", rest)
		}
		return c, nil
	case SchemeVsock:
		cid, port, err := parseVsock(rest)
		if err != nil {
			return nil, err
		}
		c, err := vsock.Dial(cid, port, nil)
		if err != nil {
			return nil, errors.Wrapf(err, "dial vsock %d:%d", cid, port)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("sock: unsupported scheme %q in %q", scheme, address)
	}
}

// DupFile extracts a duplicated descriptor for l's underlying OS socket.
// Closing l afterwards leaves the returned file's socket open and bound.
//
// net listeners expose File(), which dups internally. Anything else must
// implement syscall.Conn; the raw descriptor is then duplicated explicitly
// with dup(2) and marked close-on-exec.
func DupFile(l net.Listener) (*os.File, error) {
	if f, ok := l.(interface{ File() (*os.File, error) }); ok {
		return f.File()
	}
	sc, ok := l.(syscall.Conn)
	if !ok {
		return nil, fmt.Errorf("sock: listener %T does not expose its descriptor", l)
	}
	raw, err := sc.SyscallConn()
	if err != nil {
		return nil, errors.Wrap(err, "raw listener conn")
	}
	var (
		nfd    int
		dupErr error
	)
	if err := raw.Control(func(fd uintptr) {
		nfd, dupErr = unix.Dup(int(fd))
		if dupErr == nil {
			unix.CloseOnExec(nfd)
		}
	}); err != nil {
		return nil, errors.Wrap(err, "control listener fd")
	}
	if dupErr != nil {
		return nil, errors.Wrap(dupErr, "dup listener fd")
	}
	return os.NewFile(uintptr(nfd), l.Addr().String()), nil
}

func split(address string) (scheme, rest string, err error) {
	scheme, rest, ok := strings.Cut(address, "://")
	if !ok || scheme == "" || rest == "" {
		return "", "", fmt.Errorf("sock: malformed address %q", address)
	}
	return scheme, rest, nil
}

func parseVsock(rest string) (cid, port uint32, err error) {
	cidStr, portStr, ok := strings.Cut(rest, ":")
	if !ok {
		return 0, 0, fmt.Errorf("sock: vsock address %q must be cid:port", rest)
	}
	c, err := strconv.ParseUint(cidStr, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("sock: bad vsock cid %q: %v", cidStr, err)
	}
	p, err := strconv.ParseUint(portStr, 10, 32)
	if err != nil {
		return 0, 0, fmt.Errorf("sock: bad vsock port %q: %v", portStr, err)
	}
	return uint32(c), uint32(p), nil
}
