// Package transport implements a secure framed bidirectional stream. It
// rides on net/http + gorilla/websocket rather than hand-rolling RFC 6455
// framing — gorilla/websocket already enforces the protocol rules this
// needs (inbound frames masked, outbound frames unmasked, Ping answered
// with matching-payload Pong, and the upgrade handshake's
// Sec-WebSocket-Accept derivation) and it's the library the teacher
// reaches for (server/client.go) for the identical job. The per-connection
// read/write pump pair is grounded on the same file.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/skylinesignage/fleetd/internal/errors"
	"github.com/skylinesignage/fleetd/internal/logger"
	"github.com/skylinesignage/fleetd/internal/session"
)

var log = logger.With(logger.SubsystemTransport)

const (
	writeWait  = 10 * time.Second
	pingPeriod = 30 * time.Second
)

// Config configures the Listener with the subset of server configuration
// that bears on transport.
type Config struct {
	Port             int
	AlternativePorts []int
	AutoSelectPort   bool
	CertificatePath  string
	KeyPath          string
	EndpointPath     string
	MaxMessageSize   int64
	// ReadTimeout should be set slightly longer than the heartbeat
	// interval so a client that's merely slow doesn't get reaped early.
	ReadTimeout time.Duration
}

// BindError is returned when every candidate port is occupied.
type BindError struct {
	Ports []int
}

func (e *BindError) Error() string {
	return fmt.Sprintf("all candidate ports occupied: %v", e.Ports)
}

// Listener accepts secure framed connections and hands each one to a
// caller-supplied onAccept as a *session.Session.
type Listener struct {
	cfg      Config
	server   *http.Server
	upgrader websocket.Upgrader
	ln       net.Listener
	boundPort int

	onAccept func(*session.Session)
}

// Listen binds the configured port (or the first free alternative when
// AutoSelectPort is set), returning a *BindError only once every candidate
// is occupied.
func Listen(cfg Config, onAccept func(*session.Session)) (*Listener, error) {
	cert, err := tls.LoadX509KeyPair(cfg.CertificatePath, cfg.KeyPath)
	if err != nil {
		return nil, errors.WithKind(errors.Wrap(err, "loading TLS certificate"), errors.KindInternal)
	}
	tlsConfig := &tls.Config{Certificates: []tls.Certificate{cert}, MinVersion: tls.VersionTLS12}

	candidates := append([]int{cfg.Port}, cfg.AlternativePorts...)
	var ln net.Listener
	var boundPort int
	for _, port := range candidates {
		raw, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err != nil {
			if !cfg.AutoSelectPort {
				break
			}
			continue
		}
		ln = tls.NewListener(raw, tlsConfig)
		boundPort = port
		break
	}
	if ln == nil {
		return nil, &BindError{Ports: candidates}
	}

	l := &Listener{
		cfg:       cfg,
		ln:        ln,
		boundPort: boundPort,
		onAccept:  onAccept,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc(cfg.EndpointPath, l.handleUpgrade)
	l.server = &http.Server{Handler: mux}

	return l, nil
}

func (l *Listener) Port() int { return l.boundPort }

// Serve blocks, accepting connections until ctx is canceled.
func (l *Listener) Serve(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		_ = l.server.Close()
	}()
	err := l.server.Serve(l.ln)
	if err != nil && err != http.ErrServerClosed {
		return errors.Wrap(err, "serving transport listener")
	}
	return nil
}

func (l *Listener) handleUpgrade(w http.ResponseWriter, r *http.Request) {
	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warnw("handshake failed", "remote", r.RemoteAddr, "error", err.Error())
		return
	}

	conn.SetReadLimit(l.cfg.MaxMessageSize)
	sess := session.New(uuid.NewString(), r.RemoteAddr, conn)

	conn.SetReadDeadline(time.Now().Add(l.cfg.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		sess.Touch()
		conn.SetReadDeadline(time.Now().Add(l.cfg.ReadTimeout))
		return nil
	})

	log.Infow("session accepted", "connection_id", sess.ConnectionID, "remote", r.RemoteAddr)

	go l.writePump(sess)

	// The receive loop (ReadMessage + route) is owned by the caller;
	// transport only establishes the secured, framed connection.
	l.onAccept(sess)
}

func (l *Listener) writePump(sess *session.Session) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		sess.Close(session.CloseShutdown)
	}()

	conn := sess.Conn()
	for {
		select {
		case <-sess.Context().Done():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
			return
		case payload, ok := <-sess.Outbound():
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				log.Debugw("write error, closing session", "connection_id", sess.ConnectionID, "error", err.Error())
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (l *Listener) Close() error {
	return l.ln.Close()
}
