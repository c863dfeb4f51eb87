package sock

import (
	"net"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplitAddress(t *testing.T) {
	for _, addr := range []string{"", "unix://", "://path", "no-scheme"} {
		_, _, err := split(addr)
		require.Error(t, err, "address %q should not parse", addr)
	}

	scheme, rest, err := split("unix:///run/agent.sock")
	require.NoError(t, err)
	require.Equal(t, "unix", scheme)
	require.Equal(t, "/run/agent.sock", rest)
}

func TestParseVsock(t *testing.T) {
	cid, port, err := parseVsock("3:1024")
	require.NoError(t, err)
	require.Equal(t, uint32(3), cid)
	require.Equal(t, uint32(1024), port)

	for _, bad := range []string{"3", "x:1024", "3:y", "3:"} {
		_, _, err := parseVsock(bad)
		require.Error(t, err, "vsock address %q should not parse", bad)
	}
}

func TestUnsupportedScheme(t *testing.T) {
	_, err := Listen("tcp://127.0.0.1:0")
	require.Error(t, err)
	_, err = Dial("tcp://127.0.0.1:0")
	require.Error(t, err)
}

func TestUnixListenDial(t *testing.T) {
	addr := "unix://" + filepath.Join(t.TempDir(), "agent.sock")

	l, err := Listen(addr)
	require.NoError(t, err)
	defer l.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		c, err := l.Accept()
		if err == nil {
			c.Close()
		}
	}()

	c, err := Dial(addr)
	require.NoError(t, err)
	c.Close()
	<-done
}

func TestDupFileSurvivesListenerClose(t *testing.T) {
	addr := "unix://" + filepath.Join(t.TempDir(), "agent.sock")

	l, err := Listen(addr)
	require.NoError(t, err)

	f, err := DupFile(l)
	require.NoError(t, err)
	defer f.Close()

	require.NoError(t, l.Close())

	// The duplicated descriptor still refers to a live, bound socket.
	resurrected, err := net.FileListener(f)
	require.NoError(t, err)
	resurrected.Close()
}
