package discovery

import (
	"context"
	"net"
	"sort"
	"strconv"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/skylinesignage/fleetd/internal/model"
)

const (
	scanTimeout      = 500 * time.Millisecond
	maxConcurrent    = 50
	defaultStaleness = 30 * time.Minute
)

var deepScanPorts = []int{22, 80, 443, 8080}

// Scanner owns the DiscoveredHost table exclusively; it is in-memory only
// and never persisted. Each scan adds or refreshes the hosts it reaches;
// entries are removed only by the stale-host janitor.
type Scanner struct {
	mu    sync.Mutex
	hosts map[string]*model.DiscoveredHost
}

func NewScanner() *Scanner {
	return &Scanner{hosts: make(map[string]*model.DiscoveredHost)}
}

// ScanSubnet sweeps every host address in cidr (typically the server's own
// /24), probing at most maxConcurrent addresses at a time so a /16 scan
// doesn't exhaust file descriptors. deep additionally attempts TCP connects
// to the well-known management ports.
func (s *Scanner) ScanSubnet(ctx context.Context, cidr string, deep bool) error {
	ip, ipnet, err := net.ParseCIDR(cidr)
	if err != nil {
		return err
	}

	sem := semaphore.NewWeighted(maxConcurrent)
	var wg sync.WaitGroup

	for addr := ip.Mask(ipnet.Mask); ipnet.Contains(addr); addr = nextIP(addr) {
		target := cloneIP(addr)
		if !ipnet.Contains(target) {
			break
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			break
		}
		wg.Add(1)
		go func(host net.IP) {
			defer wg.Done()
			defer sem.Release(1)
			s.probe(ctx, host, deep)
		}(target)
	}
	wg.Wait()
	return nil
}

func (s *Scanner) probe(ctx context.Context, host net.IP, deep bool) {
	addr := host.String()
	reachable, method := pingable(ctx, addr)
	if !reachable && deep {
		reachable, method = tcpProbe(ctx, addr)
	}
	if !reachable {
		return
	}

	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.hosts[addr]; ok {
		existing.LastSeenAt = now
		existing.DiscoveryMethod = method
		return
	}
	s.hosts[addr] = &model.DiscoveredHost{
		IPAddress:         addr,
		FirstSeenAt:       now,
		LastSeenAt:        now,
		DiscoveryMethod:   method,
		IsLikelyCandidate: deep && method == model.DiscoveryTCPProbe,
	}
}

// pingable sends one ICMP echo request and waits up to scanTimeout for an
// echo reply. Raw ICMP sockets typically require elevated privileges;
// without them the dial fails and the host counts as unreachable here.
// There is no TCP fallback in this function: TCP connects to the
// management ports happen only in a deep scan, via tcpProbe.
func pingable(ctx context.Context, addr string) (bool, model.DiscoveryMethod) {
	conn, err := net.DialTimeout("ip4:icmp", addr, scanTimeout)
	if err != nil {
		return false, ""
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(scanTimeout))
	// Echo request: type 8, code 0, checksum 0xf7fe, id 0, seq 1.
	if _, err := conn.Write([]byte{8, 0, 0xf7, 0xfe, 0, 0, 0, 1}); err != nil {
		return false, ""
	}
	buf := make([]byte, 1500)
	for {
		n, err := conn.Read(buf)
		if err != nil {
			return false, ""
		}
		// Reads on a raw IPv4 socket include the IP header; ICMP type 0 is an echo reply.
		if ihl := int(buf[0]&0x0f) * 4; n > ihl && buf[ihl] == 0 {
			return true, model.DiscoveryPing
		}
	}
}

func tcpProbe(ctx context.Context, addr string) (bool, model.DiscoveryMethod) {
	for _, port := range deepScanPorts {
		d := net.Dialer{Timeout: scanTimeout}
		conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(addr, strconv.Itoa(port)))
		if err == nil {
			conn.Close()
			return true, model.DiscoveryTCPProbe
		}
	}
	return false, ""
}

// Hosts returns a snapshot of every currently known DiscoveredHost.
func (s *Scanner) Hosts() []*model.DiscoveredHost {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*model.DiscoveredHost, 0, len(s.hosts))
	for _, h := range s.hosts {
		cp := *h
		out = append(out, &cp)
	}
	return out
}

// Janitor removes hosts not seen within staleness, defaulting to 30
// minutes, so a host unplugged mid-scan doesn't linger forever.
func (s *Scanner) Janitor(ctx context.Context, staleness time.Duration) {
	if staleness <= 0 {
		staleness = defaultStaleness
	}
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.sweepStale(staleness)
		}
	}
}

func (s *Scanner) sweepStale(staleness time.Duration) {
	cutoff := time.Now().Add(-staleness)
	s.mu.Lock()
	defer s.mu.Unlock()
	for addr, h := range s.hosts {
		if h.LastSeenAt.Before(cutoff) {
			delete(s.hosts, addr)
		}
	}
}

// PrioritizedLocalIPs returns the host's non-loopback, non-link-local IPv4
// addresses, ordered 192.168.* > 10.* > 172.{16..31}.* > other private >
// public, so the most likely LAN-facing address sorts first.
func PrioritizedLocalIPs() []string {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil
	}
	var ips []net.IP
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		ip := ipnet.IP.To4()
		if ip == nil || ip.IsLoopback() || ip.IsLinkLocalUnicast() || ip.IsUnspecified() {
			continue
		}
		ips = append(ips, ip)
	}
	sort.SliceStable(ips, func(i, j int) bool {
		return ipClass(ips[i]) < ipClass(ips[j])
	})
	out := make([]string, len(ips))
	for i, ip := range ips {
		out[i] = ip.String()
	}
	return out
}

// ipClass buckets an address by local-network priority: lower number sorts
// first.
func ipClass(ip net.IP) int {
	switch {
	case ip[0] == 192 && ip[1] == 168:
		return 0
	case ip[0] == 10:
		return 1
	case ip[0] == 172 && ip[1] >= 16 && ip[1] <= 31:
		return 2
	case ip.IsPrivate():
		return 3
	default:
		return 4
	}
}

func nextIP(ip net.IP) net.IP {
	next := cloneIP(ip)
	for i := len(next) - 1; i >= 0; i-- {
		next[i]++
		if next[i] != 0 {
			break
		}
	}
	return next
}

func cloneIP(ip net.IP) net.IP {
	cp := make(net.IP, len(ip))
	copy(cp, ip)
	return cp
}
