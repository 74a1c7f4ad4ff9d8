package transport

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mythosmud/realtimecore/internal/v1/domain"
)

// fakeWSConn is an in-memory stand-in for *websocket.Conn.
type fakeWSConn struct {
	mu       sync.Mutex
	writes   [][]byte
	closed   bool
	readErr  chan error
}

func newFakeWSConn() *fakeWSConn {
	return &fakeWSConn{readErr: make(chan error, 1)}
}

func (f *fakeWSConn) ReadMessage() (int, []byte, error) {
	err := <-f.readErr
	return 0, nil, err
}
func (f *fakeWSConn) WriteMessage(messageType int, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := append([]byte(nil), data...)
	f.writes = append(f.writes, cp)
	return nil
}
func (f *fakeWSConn) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	select {
	case f.readErr <- assert.AnError:
	default:
	}
	return nil
}
func (f *fakeWSConn) SetReadDeadline(time.Time) error  { return nil }
func (f *fakeWSConn) SetWriteDeadline(time.Time) error { return nil }
func (f *fakeWSConn) SetPongHandler(func(string) error) {}

func (f *fakeWSConn) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func TestConnection_EnqueueDeliversToWritePump(t *testing.T) {
	fw := newFakeWSConn()
	c := NewConnection("conn-1", "player-1", "tok", fw, 8)
	go c.WritePump()

	require.True(t, c.Enqueue([]byte(`{"hello":"world"}`)))

	require.Eventually(t, func() bool { return fw.writeCount() == 1 }, time.Second, time.Millisecond)
	c.Detach()
}

func TestConnection_EnqueueFullQueueDropsOldest(t *testing.T) {
	fw := newFakeWSConn()
	c := NewConnection("conn-1", "player-1", "tok", fw, 1)
	// Do not run WritePump, so the single slot fills and stays full.
	require.True(t, c.Enqueue([]byte("a")))
	require.True(t, c.Enqueue([]byte("b")))

	select {
	case got := <-c.send:
		assert.Equal(t, "b", string(got), "newest frame should survive; oldest should have been evicted")
	default:
		t.Fatal("expected the queue to hold the newest frame")
	}
	c.Detach()
}

func TestConnection_EnqueueBlockingRespectsContextTimeout(t *testing.T) {
	fw := newFakeWSConn()
	c := NewConnection("conn-1", "player-1", "tok", fw, 1)
	require.True(t, c.Enqueue([]byte("a")))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.False(t, c.EnqueueBlocking(ctx, []byte("b")))
	c.Detach()
}

func TestConnection_DetachClosesTransportIdempotently(t *testing.T) {
	fw := newFakeWSConn()
	c := NewConnection("conn-1", "player-1", "tok", fw, 4)
	c.Detach()
	c.Detach() // must not panic
	assert.False(t, c.Open())
	assert.True(t, fw.closed)
}

func TestConnection_PingReportsErrorAfterDetach(t *testing.T) {
	fw := newFakeWSConn()
	c := NewConnection("conn-1", "player-1", "tok", fw, 4)
	assert.NoError(t, c.Ping(context.Background()))
	c.Detach()
	assert.ErrorIs(t, c.Ping(context.Background()), domain.ErrConnectionDead)
}

func TestConnection_ReadPumpInvokesHandlerThenOnClose(t *testing.T) {
	fw := newFakeWSConn()
	c := NewConnection("conn-1", "player-1", "tok", fw, 4)

	var handled []string
	var mu sync.Mutex
	closedCh := make(chan struct{})

	go c.ReadPump(context.Background(), func(ctx context.Context, data []byte) {
		mu.Lock()
		handled = append(handled, string(data))
		mu.Unlock()
	}, func() {
		close(closedCh)
	})

	c.Detach()
	select {
	case <-closedCh:
	case <-time.After(time.Second):
		t.Fatal("onClose was never called")
	}
}
