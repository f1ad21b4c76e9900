// Package ipc implements the newline-delimited JSON framing used on the pipe
// between the bridge and its helper subprocesses. One JSON object per line,
// LF-delimited; empty lines are skipped.
package ipc

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// maxFrameSize bounds a single IPC frame. Tool results can carry large
// payloads, so this is well above the bufio default.
const maxFrameSize = 16 * 1024 * 1024

// Conn frames JSON values over a reader/writer pair. Send is safe for
// concurrent use; Recv must be called from a single goroutine.
type Conn struct {
	wmu     sync.Mutex
	w       io.Writer
	scanner *bufio.Scanner
}

// New creates a Conn reading frames from r and writing frames to w.
func New(r io.Reader, w io.Writer) *Conn {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxFrameSize)
	return &Conn{w: w, scanner: scanner}
}

// Send marshals v and writes it as one frame.
func (c *Conn) Send(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal ipc frame: %w", err)
	}
	c.wmu.Lock()
	defer c.wmu.Unlock()
	if _, err := c.w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write ipc frame: %w", err)
	}
	return nil
}

// Recv reads the next frame into v. It returns io.EOF once the peer has gone
// away and no complete frame remains.
func (c *Conn) Recv(v any) error {
	for c.scanner.Scan() {
		line := c.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		if err := json.Unmarshal(line, v); err != nil {
			return fmt.Errorf("decode ipc frame: %w", err)
		}
		return nil
	}
	if err := c.scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}
