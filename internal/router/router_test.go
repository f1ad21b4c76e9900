package router

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kagenti/mcp-bridge/internal/protocol"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeConn buffers writes so tests can read replies back.
type fakeConn struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (c *fakeConn) Read([]byte) (int, error) { return 0, io.EOF }
func (c *fakeConn) Write(b []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.Write(b)
}
func (c *fakeConn) Close() error                     { return nil }
func (c *fakeConn) LocalAddr() net.Addr              { return &net.TCPAddr{} }
func (c *fakeConn) RemoteAddr() net.Addr             { return &net.TCPAddr{} }
func (c *fakeConn) SetDeadline(time.Time) error      { return nil }
func (c *fakeConn) SetReadDeadline(time.Time) error  { return nil }
func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) lines(t *testing.T) []map[string]any {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []map[string]any
	for _, line := range strings.Split(strings.TrimSpace(c.buf.String()), "\n") {
		if line == "" {
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &m))
		out = append(out, m)
	}
	return out
}

func TestResolveCallWritesReply(t *testing.T) {
	r := New(testLogger())
	conn := &fakeConn{}

	require.Nil(t, r.BindCall("42", float64(42), "files", conn))
	require.True(t, r.ResolveCall("42", protocol.ToolResult{
		Success: true,
		Result:  json.RawMessage(`{"content":[]}`),
	}))

	replies := conn.lines(t)
	require.Len(t, replies, 1)
	assert.Equal(t, float64(42), replies[0]["id"])
	assert.Equal(t, true, replies[0]["success"])
	assert.Zero(t, r.PendingCalls())
}

func TestBindCallCollision(t *testing.T) {
	r := New(testLogger())
	conn := &fakeConn{}

	require.Nil(t, r.BindCall("a", "a", "files", conn))
	rpcErr := r.BindCall("a", "a", "files", conn)
	require.NotNil(t, rpcErr)
	assert.Equal(t, protocol.CodeInvalidRequest, rpcErr.Code)
	assert.Contains(t, rpcErr.Message, "already pending")
}

func TestLateReplyDropped(t *testing.T) {
	r := New(testLogger())
	assert.False(t, r.ResolveCall("ghost", protocol.ToolResult{Success: true}))
}

func TestSpawnSingleFlight(t *testing.T) {
	r := New(testLogger())
	conn := &fakeConn{}

	require.Nil(t, r.BindSpawn("files", "1", conn))
	rpcErr := r.BindSpawn("files", "2", conn)
	require.NotNil(t, rpcErr)
	assert.Equal(t, protocol.CodeInternal, rpcErr.Code)
	assert.True(t, r.HasSpawn("files"))

	require.True(t, r.ResolveSpawn("files", map[string]any{"status": "started"}))
	assert.False(t, r.HasSpawn("files"))

	// a ready event with no waiter is a no-op
	assert.False(t, r.ResolveSpawn("files", nil))
}

func TestFailSpawn(t *testing.T) {
	r := New(testLogger())
	conn := &fakeConn{}

	require.Nil(t, r.BindSpawn("files", "1", conn))
	require.True(t, r.FailSpawn("files", protocol.Errorf(protocol.CodeInternal, "service files failed to start: boom")))

	replies := conn.lines(t)
	require.Len(t, replies, 1)
	assert.Equal(t, false, replies[0]["success"])
	errObj := replies[0]["error"].(map[string]any)
	assert.Equal(t, float64(protocol.CodeInternal), errObj["code"])
	assert.Contains(t, errObj["message"], "failed to start")
}

func TestSweepExpiresOldEntries(t *testing.T) {
	r := New(testLogger())
	callConn := &fakeConn{}
	spawnConn := &fakeConn{}

	require.Nil(t, r.BindCall("slow", "slow", "files", callConn))
	require.Nil(t, r.BindSpawn("files", "s", spawnConn))
	time.Sleep(5 * time.Millisecond)

	r.Sweep(time.Millisecond, time.Millisecond)

	callReplies := callConn.lines(t)
	require.Len(t, callReplies, 1)
	errObj := callReplies[0]["error"].(map[string]any)
	assert.Equal(t, "Request timeout", errObj["message"])
	assert.Equal(t, float64(protocol.CodeInternal), errObj["code"])

	spawnReplies := spawnConn.lines(t)
	require.Len(t, spawnReplies, 1)
	errObj = spawnReplies[0]["error"].(map[string]any)
	assert.Contains(t, errObj["message"], "failed to start within")

	assert.Zero(t, r.PendingCalls())
	assert.Zero(t, r.PendingSpawns())

	// the late result after expiry is dropped silently
	assert.False(t, r.ResolveCall("slow", protocol.ToolResult{Success: true}))
}

func TestSweepKeepsFreshEntries(t *testing.T) {
	r := New(testLogger())
	conn := &fakeConn{}

	require.Nil(t, r.BindCall("fresh", "fresh", "files", conn))
	r.Sweep(time.Minute, time.Minute)

	assert.Equal(t, 1, r.PendingCalls())
	assert.Empty(t, conn.lines(t))
}

func TestDropConnSilent(t *testing.T) {
	r := New(testLogger())
	gone := &fakeConn{}
	alive := &fakeConn{}

	require.Nil(t, r.BindCall("a", "a", "files", gone))
	require.Nil(t, r.BindCall("b", "b", "files", alive))
	require.Nil(t, r.BindSpawn("files", "s", gone))

	r.DropConn(gone)

	assert.Equal(t, 1, r.PendingCalls())
	assert.Zero(t, r.PendingSpawns())
	assert.Empty(t, gone.lines(t))
}

func TestClear(t *testing.T) {
	r := New(testLogger())
	conn := &fakeConn{}
	require.Nil(t, r.BindCall("a", "a", "files", conn))
	require.Nil(t, r.BindSpawn("files", "s", conn))

	r.Clear()

	assert.Zero(t, r.PendingCalls())
	assert.Zero(t, r.PendingSpawns())
	assert.Empty(t, conn.lines(t))
}
