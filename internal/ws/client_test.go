package ws

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/notebook-gateway/backend/internal/notebook"
)

// fakeWire stands in for a gorilla connection: inbound frames come from a
// channel, written frames are recorded.
type fakeWire struct {
	inbound chan []byte

	mu      sync.Mutex
	written [][]byte
	pings   int

	closeOnce sync.Once
	closed    chan struct{}
}

func newFakeWire() *fakeWire {
	return &fakeWire{
		inbound: make(chan []byte, 16),
		closed:  make(chan struct{}),
	}
}

func (w *fakeWire) ReadMessage() (int, []byte, error) {
	select {
	case msg, ok := <-w.inbound:
		if !ok {
			return 0, nil, io.EOF
		}
		return websocket.TextMessage, msg, nil
	case <-w.closed:
		return 0, nil, io.EOF
	}
}

func (w *fakeWire) WriteMessage(messageType int, data []byte) error {
	select {
	case <-w.closed:
		return io.EOF
	default:
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	switch messageType {
	case websocket.TextMessage:
		w.written = append(w.written, data)
	case websocket.PingMessage:
		w.pings++
	}
	return nil
}

func (w *fakeWire) SetReadLimit(limit int64)                    {}
func (w *fakeWire) SetReadDeadline(t time.Time) error           { return nil }
func (w *fakeWire) SetWriteDeadline(t time.Time) error          { return nil }
func (w *fakeWire) SetPongHandler(h func(appData string) error) {}

func (w *fakeWire) Close() error {
	w.closeOnce.Do(func() { close(w.closed) })
	return nil
}

func (w *fakeWire) frames() [][]byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([][]byte, len(w.written))
	copy(out, w.written)
	return out
}

func TestClientRoutesInboundFrames(t *testing.T) {
	wire := newFakeWire()
	client := NewClient("c1", "nb.ipynb", wire, zaptest.NewLogger(t))

	var mu sync.Mutex
	var received [][]byte
	client.OnAction(func(raw []byte) {
		mu.Lock()
		received = append(received, raw)
		mu.Unlock()
	})

	disconnects := 0
	client.OnDisconnect(func() { disconnects++ })

	done := make(chan struct{})
	go func() {
		client.Run()
		close(done)
	}()

	wire.inbound <- []byte(`{"name":"notebook.executeCells"}`)
	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(received) == 1
	}, time.Second, time.Millisecond)

	close(wire.inbound)
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after the connection closed")
	}
	assert.Equal(t, 1, disconnects)
	assert.True(t, client.IsClosed())
}

func TestClientSendUpdateWritesFrame(t *testing.T) {
	wire := newFakeWire()
	client := NewClient("c1", "nb.ipynb", wire, zaptest.NewLogger(t))

	go client.Run()
	defer wire.Close()

	client.SendUpdate(notebook.NewSessionStatusUpdate("nb.ipynb", "running", ""))

	require.Eventually(t, func() bool { return len(wire.frames()) >= 1 }, time.Second, time.Millisecond)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(wire.frames()[0], &decoded))
	assert.Equal(t, "session.status", decoded["update"])
	assert.Equal(t, "nb.ipynb", decoded["path"])
}

func TestClientPreservesSendOrder(t *testing.T) {
	wire := newFakeWire()
	client := NewClient("c1", "nb.ipynb", wire, zaptest.NewLogger(t))

	go client.Run()
	defer wire.Close()

	const n = 50
	for i := 0; i < n; i++ {
		client.SendUpdate(notebook.NewSessionStatusUpdate("nb.ipynb", fmt.Sprintf("state-%d", i), ""))
	}

	require.Eventually(t, func() bool { return len(wire.frames()) == n }, time.Second, time.Millisecond)
	for i, frame := range wire.frames() {
		var decoded map[string]any
		require.NoError(t, json.Unmarshal(frame, &decoded))
		assert.Equal(t, fmt.Sprintf("state-%d", i), decoded["kernelState"])
	}
}

func TestClientFullBufferDropsClient(t *testing.T) {
	wire := newFakeWire()
	client := NewClient("c1", "nb.ipynb", wire, zaptest.NewLogger(t))

	// No write pump running: the buffer fills and the client is dropped.
	for i := 0; i < sendBufferSize+1; i++ {
		client.Send([]byte("x"))
	}
	assert.True(t, client.IsClosed())

	// Sends after close are ignored.
	client.Send([]byte("y"))
	client.SendUpdate(notebook.NewSaveStateUpdate(true, nil))
}

func TestClientIdentity(t *testing.T) {
	client := NewClient("c1", "notes/nb.ipynb", newFakeWire(), nil)
	assert.Equal(t, "c1", client.ID())
	assert.Equal(t, "notes/nb.ipynb", client.Path())
}
