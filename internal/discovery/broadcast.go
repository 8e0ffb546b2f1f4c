package discovery

import (
	"context"
	"encoding/json"
	"net"
	"strconv"
	"time"

	"github.com/skylinesignage/fleetd/internal/errors"
)

// probePayload is the literal ASCII probe string LAN discovery clients send.
const probePayload = "DIGITALSIGNAGE_DISCOVER_CLIENT"

type probeReply struct {
	ServerName string   `json:"serverName"`
	Port       int      `json:"port"`
	SSL        bool     `json:"ssl"`
	LocalIPs   []string `json:"localIps"`
}

// Responder answers link-local broadcast probes with this server's
// connection details, so a client on the same subnet can find it without
// prior configuration.
type Responder struct {
	serverName string
	port       int
	ssl        bool
}

func NewResponder(serverName string, port int, ssl bool) *Responder {
	return &Responder{serverName: serverName, port: port, ssl: ssl}
}

// Run listens on discoveryPort and replies to probePayload until ctx is
// canceled.
func (r *Responder) Run(ctx context.Context, discoveryPort int) error {
	lc := &net.ListenConfig{}
	conn, err := lc.ListenPacket(ctx, "udp4", ":"+strconv.Itoa(discoveryPort))
	if err != nil {
		return errors.Wrap(err, "binding discovery broadcast socket")
	}
	defer conn.Close()

	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	buf := make([]byte, 512)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		n, addr, err := conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				continue
			}
			continue
		}
		if string(buf[:n]) != probePayload {
			continue
		}
		r.reply(conn, addr)
	}
}

func (r *Responder) reply(conn net.PacketConn, addr net.Addr) {
	reply := probeReply{
		ServerName: r.serverName,
		Port:       r.port,
		SSL:        r.ssl,
		LocalIPs:   PrioritizedLocalIPs(),
	}
	payload, err := json.Marshal(reply)
	if err != nil {
		return
	}
	_, _ = conn.WriteTo(payload, addr)
}
