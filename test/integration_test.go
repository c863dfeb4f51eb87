// End-to-end tests of the whole stack: client → frame protocol → binary
// codec → middleware chain → method table → handler, over a real unix
// socket, through graceful shutdown.
package test

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"agentrpc/client"
	"agentrpc/health"
	"agentrpc/message"
	"agentrpc/middleware"
	"agentrpc/server"
	"agentrpc/status"
)

const buildVersion = "test-build"

func startAgent(t *testing.T) (*server.Server, string) {
	t.Helper()
	addr := "unix://" + filepath.Join(t.TempDir(), "agent.sock")

	s := server.NewServer(server.WithQueueDepth(64))
	require.NoError(t, s.Bind(addr))
	require.NoError(t, s.Use(middleware.Recovery(logrus.StandardLogger())))
	require.NoError(t, s.Use(middleware.Logging(logrus.StandardLogger())))
	require.NoError(t, s.RegisterService(health.ServiceName, health.Methods(buildVersion)))
	require.NoError(t, s.RegisterService("Sandbox", map[string]server.Handler{
		"Exec": func(ctx context.Context, req *message.Request) ([]byte, error) {
			return append([]byte("ran: "), req.Payload...), nil
		},
		"Crash": func(ctx context.Context, req *message.Request) ([]byte, error) {
			panic("container escaped")
		},
	}))
	require.NoError(t, s.Start())
	return s, addr
}

func TestFullStack(t *testing.T) {
	s, addr := startAgent(t)
	defer s.Shutdown()

	c, err := client.Dial(addr)
	require.NoError(t, err)
	defer c.Close()

	// Liveness probe: empty success payload.
	out, err := c.Call(context.Background(), "Agent", "Check", nil)
	require.NoError(t, err)
	require.Empty(t, out)

	// Version rides back as the payload.
	out, err = c.Call(context.Background(), "Agent", "Version", nil)
	require.NoError(t, err)
	require.Equal(t, buildVersion, string(out))

	// A second service on the same table.
	out, err = c.Call(context.Background(), "Sandbox", "Exec", []byte("/bin/true"))
	require.NoError(t, err)
	require.Equal(t, "ran: /bin/true", string(out))

	// A panicking handler answers INTERNAL and the connection survives.
	_, err = c.Call(context.Background(), "Sandbox", "Crash", nil)
	st := status.FromError(err)
	require.Equal(t, status.Internal, st.Code)

	_, err = c.Call(context.Background(), "Agent", "Check", nil)
	require.NoError(t, err)
}

func TestManyClientsManyCalls(t *testing.T) {
	s, addr := startAgent(t)
	defer s.Shutdown()

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c, err := client.Dial(addr)
			if err != nil {
				t.Error(err)
				return
			}
			defer c.Close()
			for j := 0; j < 16; j++ {
				if _, err := c.Call(context.Background(), "Agent", "Check", nil); err != nil {
					t.Errorf("call failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestShutdownRefusesNewWork(t *testing.T) {
	s, addr := startAgent(t)

	c, err := client.Dial(addr)
	require.NoError(t, err)
	defer c.Close()
	_, err = c.Call(context.Background(), "Agent", "Check", nil)
	require.NoError(t, err)

	require.NoError(t, s.Shutdown())

	// The listener is gone and the old connection is torn down.
	_, err = client.Dial(addr)
	require.Error(t, err)

	_, err = c.Call(context.Background(), "Agent", "Check", nil)
	require.Error(t, err)
}

func TestRateLimitedAgent(t *testing.T) {
	addr := "unix://" + filepath.Join(t.TempDir(), "agent.sock")

	s := server.NewServer()
	require.NoError(t, s.Bind(addr))
	require.NoError(t, s.Use(middleware.RateLimit(0.0001, 2)))
	require.NoError(t, s.RegisterService(health.ServiceName, health.Methods(buildVersion)))
	require.NoError(t, s.Start())
	defer s.Shutdown()

	c, err := client.Dial(addr)
	require.NoError(t, err)
	defer c.Close()

	for i := 0; i < 2; i++ {
		_, err := c.Call(context.Background(), "Agent", "Check", nil)
		require.NoError(t, err)
	}

	_, err = c.Call(context.Background(), "Agent", "Check", nil)
	st := status.FromError(err)
	require.Equal(t, status.ResourceExhausted, st.Code)
}

func TestDeadlinePropagation(t *testing.T) {
	addr := "unix://" + filepath.Join(t.TempDir(), "agent.sock")

	s := server.NewServer()
	require.NoError(t, s.Bind(addr))
	require.NoError(t, s.RegisterService("Sandbox", map[string]server.Handler{
		"Wait": func(ctx context.Context, req *message.Request) ([]byte, error) {
			if req.TimeoutNanos == 0 {
				return nil, status.New(status.InvalidArgument, "expected a deadline")
			}
			// Cooperative handler: leaves early once the deadline context
			// fires instead of sleeping through it.
			<-ctx.Done()
			return nil, ctx.Err()
		},
	}))
	require.NoError(t, s.Start())
	defer s.Shutdown()

	c, err := client.Dial(addr)
	require.NoError(t, err)
	defer c.Close()

	// The client deadline reaches the handler as TimeoutNanos, and the call
	// resolves around the deadline rather than hanging.
	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	start := time.Now()
	_, err = c.Call(ctx, "Sandbox", "Wait", nil)
	require.Error(t, err)
	require.Less(t, time.Since(start), time.Second)
}
