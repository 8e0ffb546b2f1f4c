package model

import "time"

// DiscoveryMethod records how a DiscoveredHost was found.
type DiscoveryMethod string

const (
	DiscoveryPing          DiscoveryMethod = "Ping"
	DiscoveryTCPProbe      DiscoveryMethod = "TcpProbe"
	DiscoveryBroadcastReply DiscoveryMethod = "BroadcastReply"
)

// DiscoveredHost is an ephemeral LAN-scan finding. It is never persisted —
// the Discovery component owns it entirely in memory.
type DiscoveredHost struct {
	IPAddress         string
	Hostname          string
	FirstSeenAt       time.Time
	LastSeenAt        time.Time
	DiscoveryMethod   DiscoveryMethod
	IsLikelyCandidate bool
}
