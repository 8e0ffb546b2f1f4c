package discovery

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/skylinesignage/fleetd/internal/model"
)

func TestIPClass_OrdersByPrivateRangePriority(t *testing.T) {
	assert.Equal(t, 0, ipClass(net.ParseIP("192.168.1.5").To4()))
	assert.Equal(t, 1, ipClass(net.ParseIP("10.0.0.5").To4()))
	assert.Equal(t, 2, ipClass(net.ParseIP("172.20.0.5").To4()))
	assert.Equal(t, 4, ipClass(net.ParseIP("8.8.8.8").To4()))
}

func TestSweepStale_RemovesOnlyHostsOlderThanThreshold(t *testing.T) {
	s := NewScanner()
	now := time.Now()
	s.hosts["10.0.0.1"] = &model.DiscoveredHost{IPAddress: "10.0.0.1", LastSeenAt: now.Add(-time.Hour)}
	s.hosts["10.0.0.2"] = &model.DiscoveredHost{IPAddress: "10.0.0.2", LastSeenAt: now}

	s.sweepStale(30 * time.Minute)

	hosts := s.Hosts()
	assert.Len(t, hosts, 1)
	assert.Equal(t, "10.0.0.2", hosts[0].IPAddress)
}

func TestNextIP_IncrementsWithCarry(t *testing.T) {
	ip := net.ParseIP("10.0.0.255").To4()
	next := nextIP(ip)
	assert.Equal(t, "10.0.1.0", next.String())
}

func TestHosts_ReturnsIndependentCopies(t *testing.T) {
	s := NewScanner()
	s.hosts["10.0.0.1"] = &model.DiscoveredHost{IPAddress: "10.0.0.1", LastSeenAt: time.Now()}

	snapshot := s.Hosts()
	h := snapshot[0]
	h.DiscoveryMethod = model.DiscoveryPing

	assert.NotEqual(t, model.DiscoveryPing, s.hosts["10.0.0.1"].DiscoveryMethod,
		"mutating a Hosts() snapshot must not affect the Scanner's internal state")
}
