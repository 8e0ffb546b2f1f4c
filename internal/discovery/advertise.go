// Package discovery implements multicast service advertisement, a
// link-local broadcast responder, an on-demand LAN host scan, and a
// stale-device janitor. Grounded on ManuGH-xg2g's internal/hdhr SSDP
// announcer (internal/hdhr/hdhr.go) for the golang.org/x/net/ipv4
// multicast-join pattern, generalized from SSDP's fixed UPnP envelope to a
// plain TXT-style record.
package discovery

import (
	"context"
	"fmt"
	"net"
	"strings"
	"time"

	"golang.org/x/net/ipv4"

	"github.com/skylinesignage/fleetd/internal/logger"
)

var log = logger.With(logger.SubsystemDiscovery)

const (
	multicastAddr         = "239.255.255.250:5355"
	multicastGroupAddress = "239.255.255.250"
	advertiseInterval     = 30 * time.Second
	serviceType           = "_digitalsignage._tcp"
	searchMethod          = "M-SEARCH"
)

// ClientCounter reports the currently connected client count for the TXT
// "clients" attribute, satisfied by *session.Registry without discovery
// importing it directly (keeps discovery's only dependency on the rest of
// the system at a single narrow function).
type ClientCounter func() int

// Advertiser periodically announces the server via multicast and answers
// on-demand queries from operator devices browsing for the service.
type Advertiser struct {
	serverName string
	port       int
	ssl        bool
	counter    ClientCounter
}

func NewAdvertiser(serverName string, port int, ssl bool, counter ClientCounter) *Advertiser {
	return &Advertiser{serverName: serverName, port: port, ssl: ssl, counter: counter}
}

// Run joins the multicast group on every up, multicast-capable interface
// and sends periodic announcements until ctx is canceled.
func (a *Advertiser) Run(ctx context.Context) error {
	addr, err := net.ResolveUDPAddr("udp4", multicastAddr)
	if err != nil {
		return fmt.Errorf("resolving multicast address: %w", err)
	}

	lc := &net.ListenConfig{}
	pc, err := lc.ListenPacket(ctx, "udp4", ":5355")
	if err != nil {
		return fmt.Errorf("listening for multicast: %w", err)
	}
	defer pc.Close()

	udpConn, ok := pc.(*net.UDPConn)
	if !ok {
		return fmt.Errorf("expected *net.UDPConn, got %T", pc)
	}

	p := ipv4.NewPacketConn(udpConn)
	_ = p.SetMulticastTTL(2)
	_ = p.SetMulticastLoopback(true)

	group := net.ParseIP(multicastGroupAddress)
	ifaces, err := net.Interfaces()
	if err != nil {
		return fmt.Errorf("listing interfaces: %w", err)
	}

	joined := 0
	for i := range ifaces {
		iface := ifaces[i]
		if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 || iface.Flags&net.FlagMulticast == 0 {
			continue
		}
		if err := p.JoinGroup(&iface, &net.UDPAddr{IP: group}); err != nil {
			log.Debugw("failed to join multicast group", "interface", iface.Name, "error", err.Error())
			continue
		}
		joined++
	}
	if joined == 0 {
		log.Warnw("joined multicast group on no interface, service advertisement disabled")
	}

	go a.listenForQueries(ctx, pc)

	ticker := time.NewTicker(advertiseInterval)
	defer ticker.Stop()

	a.announce(pc, addr)
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			a.announce(pc, addr)
		}
	}
}

// listenForQueries answers inbound M-SEARCH-style queries with the same
// announcement record, unicast back to the querier, so an operator device
// doesn't have to wait out a full advertiseInterval tick to discover the
// server.
func (a *Advertiser) listenForQueries(ctx context.Context, conn net.PacketConn) {
	buf := make([]byte, 512)
	for {
		_ = conn.SetReadDeadline(time.Now().Add(time.Second))
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			select {
			case <-ctx.Done():
				return
			default:
			}
			continue
		}
		if !isSearchQuery(buf[:n]) {
			continue
		}
		if udpAddr, ok := from.(*net.UDPAddr); ok {
			a.announce(conn, udpAddr)
		}
	}
}

func isSearchQuery(payload []byte) bool {
	line := string(payload)
	if idx := strings.IndexAny(line, "\r\n"); idx >= 0 {
		line = line[:idx]
	}
	return strings.HasPrefix(line, searchMethod) && strings.Contains(string(payload), serviceType)
}

func (a *Advertiser) announce(conn net.PacketConn, addr *net.UDPAddr) {
	record := fmt.Sprintf(
		"NOTIFY * HTTP/1.1\r\nHOST: %s\r\nNT: %s\r\nNTS: ssdp:alive\r\n"+
			"VERSION: 1\r\nSSL: %t\r\nPORT: %d\r\nCLIENTS: %d\r\nNAME: %s\r\n\r\n",
		multicastAddr, serviceType, a.ssl, a.port, a.counter(), a.serverName,
	)
	if _, err := conn.WriteTo([]byte(record), addr); err != nil {
		log.Debugw("failed to send multicast advertisement", "error", err.Error())
	}
}
