//go:build linux

package core

import (
	"bufio"
	"encoding/json"
	"io"
	"net"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/searchktools/fast-uring/config"
	"github.com/searchktools/fast-uring/core/ring"
	"github.com/searchktools/fast-uring/core/router"
)

// startUringWorker runs a worker on the io_uring backend, skipping the test
// where the kernel has no io_uring
func startUringWorker(t *testing.T, routes []router.Route, opts ...func(*config.Config)) (*Worker, string, func()) {
	t.Helper()
	cfg := config.Default()
	cfg.MaxConnections = 16
	for _, opt := range opts {
		opt(cfg)
	}
	cfg.Normalize()

	q, err := ring.New(config.BackendUring, 256)
	if err != nil {
		t.Skipf("io_uring unavailable: %v", err)
	}
	return runWorker(t, cfg, q, routes)
}

// readBody reads one response with a Content-Length and returns its body
func readBody(t *testing.T, r *bufio.Reader) string {
	t.Helper()
	length := -1
	for {
		line, err := r.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\r\n")
		if line == "" {
			break
		}
		if v, ok := strings.CutPrefix(line, "Content-Length: "); ok {
			length, err = strconv.Atoi(v)
			require.NoError(t, err)
		}
	}
	require.GreaterOrEqual(t, length, 0, "response without Content-Length")
	body := make([]byte, length)
	_, err := io.ReadFull(r, body)
	require.NoError(t, err)
	return string(body)
}

func TestWorkerOverUring(t *testing.T) {
	_, addr, _ := startUringWorker(t, append(testRoutes(), catchAll()))

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	exchange(t, conn, "GET /hello HTTP/1.1\r\nHost: localhost\r\n\r\n",
		"HTTP/1.1 200 OK\r\nContent-Length: 11\r\n\r\nhello world")
	exchange(t, conn, "POST /echo HTTP/1.1\r\nHost: localhost\r\nContent-Length: 3\r\n\r\nabc",
		"HTTP/1.1 200 OK\r\nContent-Length: 23\r\n\r\nThe request body is abc")
	exchange(t, conn, "GET /id?id=42 HTTP/1.1\r\nHost: localhost\r\n\r\n",
		"HTTP/1.1 200 OK\r\nContent-Length: 18\r\n\r\n42 squared is 1764")
	exchange(t, conn, "HEAD /hello HTTP/1.1\r\nHost: localhost\r\n\r\n",
		"HTTP/1.1 200 OK\r\nContent-Length: 11\r\n\r\n")
	exchange(t, conn, "GET /missing HTTP/1.1\r\nHost: localhost\r\n\r\n",
		"HTTP/1.1 404 Not Found\r\nContent-Length: 23\r\n\r\nthis page doesn't exist")
	exchange(t, conn, "GET /big HTTP/1.1\r\nHost: localhost\r\n\r\n",
		"HTTP/1.1 200 OK\r\nContent-Length: 102400\r\n\r\n"+strings.Repeat("x", bigSize))

	// larger than a tenth of the pool: the body gets its own mapping
	body := strings.Repeat("b", 600000)
	exchange(t, conn, "POST /echo HTTP/1.1\r\nHost: localhost\r\nContent-Length: 600000\r\n\r\n"+body,
		"HTTP/1.1 200 OK\r\nContent-Length: 600020\r\n\r\nThe request body is "+body)

	exchange(t, conn, "GET /hello HTTP/1.1\r\nHost: localhost\r\n\r\n",
		"HTTP/1.1 200 OK\r\nContent-Length: 11\r\n\r\nhello world")

	_, err = io.WriteString(conn, "GET /stats HTTP/1.1\r\nHost: localhost\r\n\r\n")
	require.NoError(t, err)
	var snap Snapshot
	require.NoError(t, json.Unmarshal([]byte(readBody(t, bufio.NewReader(conn))), &snap))
	assert.Equal(t, uint64(1), snap.Pool.OverflowMaps)
	assert.GreaterOrEqual(t, snap.Counters.ZeroCopySends, uint64(2))
	assert.Equal(t, uint64(9), snap.Counters.Requests)
}

func TestWorkerOverUringContinue(t *testing.T) {
	_, addr, _ := startUringWorker(t, testRoutes())

	conn, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer conn.Close()

	exchange(t, conn, "POST /echo HTTP/1.1\r\nHost: localhost\r\nExpect: 100-continue\r\nContent-Length: 4\r\n\r\n",
		"HTTP/1.1 100 Continue\r\n\r\n")
	exchange(t, conn, "wxyz",
		"HTTP/1.1 200 OK\r\nContent-Length: 24\r\n\r\nThe request body is wxyz")
}

func TestWorkerOverUringIdleTimeout(t *testing.T) {
	w, addr, stop := startUringWorker(t, testRoutes(), func(c *config.Config) {
		c.IdleTimeout = 200 * time.Millisecond
	})

	active, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer active.Close()
	exchange(t, active, "GET /hello HTTP/1.1\r\nHost: localhost\r\n\r\n",
		"HTTP/1.1 200 OK\r\nContent-Length: 11\r\n\r\nhello world")

	idle, err := net.Dial("tcp", addr)
	require.NoError(t, err)
	defer idle.Close()
	require.NoError(t, idle.SetDeadline(time.Now().Add(5*time.Second)))
	_, err = idle.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF, "idle connection is closed by the server")

	_, err = active.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.EOF)

	stop()
	stats := w.Stats()
	assert.Equal(t, uint64(2), stats.TimedOut)
	assert.Equal(t, uint64(2), stats.Closed)
}
