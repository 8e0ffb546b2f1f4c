// Package model defines the durable aggregates: Client, Layout, Schedule,
// RegistrationToken, OperatorRegistration, plus the ephemeral
// DiscoveredHost. These are plain data — no change-notification machinery:
// any observer that cares about a change gets an explicit event, not a
// bound property.
package model

import "time"

// ClientStatus is a Client's liveness state.
type ClientStatus string

const (
	ClientOnline  ClientStatus = "Online"
	ClientOffline ClientStatus = "Offline"
	ClientError   ClientStatus = "Error"
	ClientUnknown ClientStatus = "Unknown"
)

// Clamp returns s if it's a recognized status, otherwise ClientUnknown —
// the Heartbeat handler clamps whatever a client reports.
func (s ClientStatus) Clamp() ClientStatus {
	switch s {
	case ClientOnline, ClientOffline, ClientError, ClientUnknown:
		return s
	default:
		return ClientUnknown
	}
}

// DeviceInfo is an opaque-to-the-core snapshot of client hardware state.
// The core stores and forwards it verbatim; it never inspects fields.
type DeviceInfo map[string]interface{}

// Client is a physical display endpoint.
type Client struct {
	ID               string
	Name             string
	MacAddress       string
	IPAddress        string
	Hostname         string
	Group            string
	Location         string
	Status           ClientStatus
	LastSeenAt       time.Time
	AssignedLayoutID *string
	DeviceInfo       DeviceInfo
	Metadata         map[string]string
}

// IsLive reports whether status=Online is still truthful given
// heartbeatTimeout: (now-lastSeenAt) <= heartbeatTimeout.
func (c *Client) IsLive(now time.Time, heartbeatTimeout time.Duration) bool {
	return now.Sub(c.LastSeenAt) <= heartbeatTimeout
}
