// Package session implements the Session Registry: the process-wide index
// from connection to Session, plus secondary indexes by bound principal.
// Grounded on the teacher's server.QNTXServer.clients map[*Client]bool
// plus per-client send channel (server/client.go, server/server.go),
// generalized from "one full-duplex graph stream" to "two kinds of
// full-duplex stream, gated by what's bound to it".
package session

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// Kind distinguishes a Client session from an Operator session. The Router
// gates handlers by Kind, since both kinds of session share one endpoint.
type Kind int

const (
	KindUnbound Kind = iota
	KindClient
	KindOperator
)

// Permission mirrors model.Permission without importing the model package,
// to keep session free of a dependency on the repository-backed aggregates.
type Permission string

// CloseReason is attached to the outbound Close frame when a session is
// evicted.
type CloseReason string

const (
	CloseReplaced     CloseReason = "replaced"
	CloseProtocol     CloseReason = "protocol_violation"
	CloseQueueOverflow CloseReason = "queue_overflow"
	CloseShutdown     CloseReason = "shutdown"
	CloseIdle         CloseReason = "idle_timeout"
)

// outboundQueueSize bounds the per-session send queue: back-pressure by a
// bounded queue, overflow disconnects with QueueOverflow.
const outboundQueueSize = 64

// Session is one live bidirectional connection.
type Session struct {
	ConnectionID    string
	Kind            Kind
	RemoteAddress   string
	BoundPrincipalID string
	Permissions     map[Permission]bool

	conn   *websocket.Conn
	send   chan []byte
	ctx    context.Context
	cancel context.CancelFunc

	mu             sync.Mutex
	lastActivity   time.Time
	closed         bool
	errCount       int
	errWindowStart time.Time
}

// New wraps conn in a Session with its own cancellation scope and bounded
// outbound queue.
func New(connectionID, remoteAddress string, conn *websocket.Conn) *Session {
	ctx, cancel := context.WithCancel(context.Background())
	return &Session{
		ConnectionID:  connectionID,
		RemoteAddress: remoteAddress,
		Kind:          KindUnbound,
		conn:          conn,
		send:          make(chan []byte, outboundQueueSize),
		ctx:           ctx,
		cancel:        cancel,
		lastActivity:  time.Now(),
	}
}

func (s *Session) Context() context.Context { return s.ctx }

// Enqueue pushes a frame onto the send queue without blocking. It reports
// false when the queue is full, at which point the session is considered
// unhealthy and the caller must disconnect it with QueueOverflow.
func (s *Session) Enqueue(payload []byte) bool {
	select {
	case s.send <- payload:
		return true
	default:
		return false
	}
}

// Outbound exposes the send channel for the per-connection write pump.
func (s *Session) Outbound() <-chan []byte { return s.send }

func (s *Session) Conn() *websocket.Conn { return s.conn }

// Touch records activity for liveness/read-timeout bookkeeping.
func (s *Session) Touch() {
	s.mu.Lock()
	s.lastActivity = time.Now()
	s.mu.Unlock()
}

func (s *Session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

// NoteProtocolError tracks the protocol error rate over a sliding window.
// Returns true once the session has crossed the threshold and should close.
func (s *Session) NoteProtocolError(threshold int, window time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	if now.Sub(s.errWindowStart) > window {
		s.errWindowStart = now
		s.errCount = 0
	}
	s.errCount++
	return s.errCount > threshold
}

func (s *Session) Bind(kind Kind, principalID string, perms map[Permission]bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Kind = kind
	s.BoundPrincipalID = principalID
	s.Permissions = perms
}

func (s *Session) HasPermission(p Permission) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Permissions != nil && s.Permissions[p]
}

// Close tears the session down exactly once: it sends a Close frame carrying
// reason, cancels the session context and closes the connection. The send
// channel is never closed, so a concurrent Enqueue cannot panic.
func (s *Session) Close(reason CloseReason) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()

	_ = s.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, string(reason)),
		time.Now().Add(time.Second))
	s.cancel()
	_ = s.conn.Close()
}

func (s *Session) Closed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
