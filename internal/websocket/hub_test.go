package chatws

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Matar-GTB/CarnetdeSante-sub000/internal/metrics"
	"github.com/Matar-GTB/CarnetdeSante-sub000/internal/models"
)

// fakeConn feeds queued frames to ReadPump and records writes.
type fakeConn struct {
	mu      sync.Mutex
	frames  [][]byte
	written [][]byte
	closed  bool
}

var errConnClosed = errors.New("connection closed")

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if len(c.frames) == 0 {
		return 0, nil, errConnClosed
	}
	frame := c.frames[0]
	c.frames = c.frames[1:]
	return 1, frame, nil
}

func (c *fakeConn) WriteMessage(_ int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.written = append(c.written, data)
	return nil
}

func (c *fakeConn) SetReadLimit(int64) {}

func (c *fakeConn) SetReadDeadline(time.Time) error { return nil }

func (c *fakeConn) SetWriteDeadline(time.Time) error { return nil }

func (c *fakeConn) SetPongHandler(func(string) error) {}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	return nil
}

func startHub(t *testing.T) *Hub {
	t.Helper()

	hub := NewHub(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	t.Cleanup(cancel)
	return hub
}

func newTestClient(hub *Hub, userID int64) *Client {
	return NewClient(hub, &fakeConn{}, userID, models.RolePatient, nil, zap.NewNop())
}

func drain(client *Client) []string {
	var names []string
	for {
		select {
		case payload, ok := <-client.send:
			if !ok {
				return names
			}
			var event struct {
				Name string `json:"event"`
			}
			_ = json.Unmarshal(payload, &event)
			names = append(names, event.Name)
		default:
			return names
		}
	}
}

func TestRegisterTracksCurrentHandle(t *testing.T) {
	hub := startHub(t)
	first := newTestClient(hub, 7)
	second := newTestClient(hub, 7)

	require.Nil(t, hub.Register(first))
	require.True(t, hub.IsOnline(7))
	require.Same(t, first, hub.Register(second))
	require.Same(t, second, hub.Lookup(7))

	require.False(t, hub.Unregister(first), "replaced handle is not current")
	require.True(t, hub.IsOnline(7))
	require.True(t, hub.Unregister(second))
	require.False(t, hub.IsOnline(7))
	require.Nil(t, hub.Lookup(7))
}

func TestBroadcastToRoomDeliversOncePerClient(t *testing.T) {
	hub := startHub(t)
	patient := newTestClient(hub, 1)
	doctor := newTestClient(hub, 2)
	outsider := newTestClient(hub, 3)
	for _, client := range []*Client{patient, doctor, outsider} {
		hub.Register(client)
	}

	hub.Join(patient, 10)
	hub.Join(doctor, 10)
	require.True(t, hub.InRoom(doctor, 10))

	hub.BroadcastToRoom(10, models.Event{Name: models.EventNewMessage}, 2)

	require.Equal(t, []string{models.EventNewMessage}, drain(patient))
	require.Equal(t, []string{models.EventNewMessage}, drain(doctor))
	require.Empty(t, drain(outsider))
}

func TestBroadcastToRoomNotifiesUsersOutsideRoom(t *testing.T) {
	hub := startHub(t)
	patient := newTestClient(hub, 1)
	doctor := newTestClient(hub, 2)
	hub.Register(patient)
	hub.Register(doctor)
	hub.Join(patient, 10)

	hub.BroadcastToRoom(10, models.Event{Name: models.EventNewMessage}, 2, 99)

	require.Len(t, drain(patient), 1)
	require.Len(t, drain(doctor), 1)
}

func TestBroadcastExceptSkipsSender(t *testing.T) {
	hub := startHub(t)
	patient := newTestClient(hub, 1)
	doctor := newTestClient(hub, 2)
	hub.Register(patient)
	hub.Register(doctor)
	hub.Join(patient, 10)
	hub.Join(doctor, 10)

	hub.BroadcastExcept(10, models.Event{Name: models.EventUserTyping}, patient)

	require.Empty(t, drain(patient))
	require.Equal(t, []string{models.EventUserTyping}, drain(doctor))
}

func TestLeaveAndUnregisterClearRooms(t *testing.T) {
	hub := startHub(t)
	patient := newTestClient(hub, 1)
	hub.Register(patient)
	hub.Join(patient, 10)
	hub.Join(patient, 11)

	hub.Leave(patient, 10)
	require.False(t, hub.InRoom(patient, 10))
	require.True(t, hub.InRoom(patient, 11))

	hub.Unregister(patient)
	require.False(t, hub.InRoom(patient, 11))

	hub.Join(patient, 12)
	require.False(t, hub.InRoom(patient, 12), "unregistered clients cannot join")
}

func TestSlowClientIsDropped(t *testing.T) {
	hub := startHub(t)
	slow := newTestClient(hub, 1)
	hub.Register(slow)

	for i := 0; i < sendBufferSize+1; i++ {
		hub.BroadcastToUser(1, models.Event{Name: models.EventUserStatusChanged})
	}

	received := 0
	for range slow.send {
		received++
	}
	require.Equal(t, sendBufferSize, received)

	// the handle stays until the connection is unregistered
	require.True(t, hub.Unregister(slow))
}

func TestBroadcastAllReachesEveryClient(t *testing.T) {
	hub := startHub(t)
	clients := []*Client{newTestClient(hub, 1), newTestClient(hub, 2), newTestClient(hub, 3)}
	for _, client := range clients {
		hub.Register(client)
	}

	hub.BroadcastAll(models.Event{Name: models.EventUserStatusChanged})

	for _, client := range clients {
		require.Len(t, drain(client), 1)
	}
}

func TestHubCallsReturnAfterShutdown(t *testing.T) {
	hub := NewHub(zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	stopped := make(chan struct{})
	go func() {
		hub.Run(ctx)
		close(stopped)
	}()

	client := newTestClient(hub, 1)
	hub.Register(client)
	cancel()
	<-stopped

	_, open := <-client.send
	require.False(t, open, "send channel is closed on shutdown")
	require.False(t, hub.IsOnline(1))
	require.False(t, hub.Unregister(client))
}

func TestBroadcastMetricCountsEachDelivery(t *testing.T) {
	hub := startHub(t)
	patient := newTestClient(hub, 1)
	doctor := newTestClient(hub, 2)
	notified := newTestClient(hub, 3)
	hub.Register(patient)
	hub.Register(doctor)
	hub.Register(notified)
	hub.Join(patient, 10)
	hub.Join(doctor, 10)

	const name = "delivery_count_check"
	counter := metrics.Broadcasts.WithLabelValues(name)
	before := testutil.ToFloat64(counter)

	hub.BroadcastToRoom(10, models.Event{Name: name}, 2, 3)

	require.Equal(t, before+3, testutil.ToFloat64(counter))
	require.Equal(t, []string{name}, drain(patient))
	require.Equal(t, []string{name}, drain(doctor))
	require.Equal(t, []string{name}, drain(notified))
}
