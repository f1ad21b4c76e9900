package ipc

import (
	"bytes"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type frame struct {
	Event string `json:"event"`
	ID    string `json:"id,omitempty"`
}

func TestSendAppendsNewline(t *testing.T) {
	var out bytes.Buffer
	c := New(strings.NewReader(""), &out)

	require.NoError(t, c.Send(frame{Event: "ready"}))
	require.NoError(t, c.Send(frame{Event: "closed"}))

	lines := strings.Split(strings.TrimSuffix(out.String(), "\n"), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, `{"event":"ready"}`, lines[0])
	assert.Equal(t, `{"event":"closed"}`, lines[1])
}

func TestRecvSkipsEmptyLines(t *testing.T) {
	input := "\n{\"event\":\"ready\"}\n\n{\"event\":\"tool_result\",\"id\":\"7\"}\n"
	c := New(strings.NewReader(input), io.Discard)

	var first frame
	require.NoError(t, c.Recv(&first))
	assert.Equal(t, "ready", first.Event)

	var second frame
	require.NoError(t, c.Recv(&second))
	assert.Equal(t, "tool_result", second.Event)
	assert.Equal(t, "7", second.ID)

	var third frame
	assert.ErrorIs(t, c.Recv(&third), io.EOF)
}

func TestRecvMalformedFrame(t *testing.T) {
	c := New(strings.NewReader("not json\n"), io.Discard)
	var f frame
	err := c.Recv(&f)
	require.Error(t, err)
	assert.NotErrorIs(t, err, io.EOF)
}

func TestRoundTrip(t *testing.T) {
	var wire bytes.Buffer
	sender := New(strings.NewReader(""), &wire)
	require.NoError(t, sender.Send(frame{Event: "ready", ID: "a"}))

	receiver := New(bytes.NewReader(wire.Bytes()), io.Discard)
	var got frame
	require.NoError(t, receiver.Recv(&got))
	assert.Equal(t, frame{Event: "ready", ID: "a"}, got)
}
