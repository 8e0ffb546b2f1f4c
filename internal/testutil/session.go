// Package testutil provides shared test fixtures, grounded on the
// teacher's internal/testing package (CreateTestDB), for constructing a
// real gorilla/websocket connection pair so component tests can exercise
// Session.Close/Enqueue without hand-rolling a fake net.Conn.
package testutil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/skylinesignage/fleetd/internal/session"
)

// NewSessionPair dials a real WebSocket connection against a throwaway
// httptest.Server and returns a *session.Session wrapping the server side,
// plus the raw client-side *websocket.Conn. No write pump runs, so frames
// enqueued on the session stay on sess.Outbound() rather than reaching the
// client conn.
// Both ends and the server are torn down via t.Cleanup.
func NewSessionPair(t *testing.T) (*session.Session, *websocket.Conn) {
	t.Helper()

	upgrader := websocket.Upgrader{}
	serverConnCh := make(chan *websocket.Conn, 1)

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		serverConnCh <- conn
	}))
	t.Cleanup(srv.Close)

	wsURL := "ws" + srv.URL[len("http"):]
	clientConn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dialing test websocket server: %v", err)
	}
	t.Cleanup(func() { clientConn.Close() })

	serverConn := <-serverConnCh
	t.Cleanup(func() { serverConn.Close() })

	sess := session.New(uuid.NewString(), "127.0.0.1:0", serverConn)
	return sess, clientConn
}
