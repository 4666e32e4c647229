package supervisor

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHub_streams_initial_state_and_updates(t *testing.T) {
	f := newServiceFixture(t, "cam1")
	hub := NewHub(testLogger())
	srv := httptest.NewServer(newTestRouter(t, f, hub))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var initial Snapshot
	require.NoError(t, conn.ReadJSON(&initial))
	assert.Equal(t, CameraID("cam1"), initial.CameraID)

	// The client is registered before its initial state is queued.
	assert.Equal(t, 1, hub.Clients())

	hub.Broadcast(Snapshot{CameraID: "cam1", Status: StatusStalled, Detail: "no new fragments"})
	var update Snapshot
	require.NoError(t, conn.ReadJSON(&update))
	assert.Equal(t, StatusStalled, update.Status)
	assert.Equal(t, "no new fragments", update.Detail)
}

func TestHub_update_during_connect_is_not_lost(t *testing.T) {
	hub := NewHub(testLogger())
	state := Snapshot{CameraID: "cam1", Status: StatusConnecting}
	initial := func() []Snapshot {
		// A status change racing the connect.
		go hub.Broadcast(Snapshot{CameraID: "cam1", Status: StatusConnected})
		return []Snapshot{state}
	}
	srv := httptest.NewServer(hub.ServeWS(initial))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var first, second Snapshot
	require.NoError(t, conn.ReadJSON(&first))
	require.NoError(t, conn.ReadJSON(&second))
	assert.Equal(t, StatusConnecting, first.Status)
	assert.Equal(t, StatusConnected, second.Status)
}

func TestHub_client_disconnect(t *testing.T) {
	hub := NewHub(testLogger())
	srv := httptest.NewServer(hub.ServeWS(nil))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http"), nil)
	require.NoError(t, err)
	require.Eventually(t, func() bool { return hub.Clients() == 1 }, time.Second, 5*time.Millisecond)

	conn.Close()
	require.Eventually(t, func() bool { return hub.Clients() == 0 }, time.Second, 5*time.Millisecond)

	// Broadcasting with nobody listening is harmless.
	hub.Broadcast(Snapshot{CameraID: "cam1"})
	assert.Zero(t, hub.Clients())
}
