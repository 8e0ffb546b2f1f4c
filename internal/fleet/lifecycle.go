// Package fleet implements the Client Lifecycle: registration, identity
// resolution, heartbeat handling, and the background liveness monitor.
// Grounded on the teacher's client bookkeeping in server/server.go
// (connect/disconnect accounting, generalized here into a full
// registration and status-transition state machine) plus google/uuid for
// fresh Client ids, matching the teacher's id-generation idiom throughout.
package fleet

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skylinesignage/fleetd/internal/errors"
	"github.com/skylinesignage/fleetd/internal/logger"
	"github.com/skylinesignage/fleetd/internal/model"
	"github.com/skylinesignage/fleetd/internal/repository"
	"github.com/skylinesignage/fleetd/internal/router"
	"github.com/skylinesignage/fleetd/internal/session"
	"github.com/skylinesignage/fleetd/internal/token"
	"github.com/skylinesignage/fleetd/internal/wire"
)

var log = logger.With(logger.SubsystemFleet)

// LayoutResolver lets the Lifecycle consult the Scheduler for the layout to
// push immediately after a successful registration, without fleet
// importing scheduler — the dependency is broken by taking a narrow
// function type instead of the whole component.
type LayoutResolver func(ctx context.Context, clientID, group string) (layoutID string, elements map[string]interface{}, ok bool)

// StatusBroadcaster notifies operators of a client status transition
// observed by the liveness monitor. It's a function type for the same
// cycle-avoidance reason as LayoutResolver.
type StatusBroadcaster func(c *model.Client)

type Lifecycle struct {
	clients   repository.Clients
	validator *token.Validator
	registry  *session.Registry
	resolve   LayoutResolver
	broadcast StatusBroadcaster

	heartbeatTimeout time.Duration

	mu sync.Mutex
}

func New(clients repository.Clients, validator *token.Validator, registry *session.Registry,
	heartbeatTimeout time.Duration, resolve LayoutResolver, broadcast StatusBroadcaster) *Lifecycle {
	return &Lifecycle{
		clients:          clients,
		validator:        validator,
		registry:         registry,
		resolve:          resolve,
		broadcast:        broadcast,
		heartbeatTimeout: heartbeatTimeout,
	}
}

// Register resolves the connecting device to a Client row (by clientId,
// then by mac, else creating one), validates and consumes any registration
// token, binds the session, and acknowledges with the assigned layout if
// one exists. A rejected or failed token never leaves a Client row behind.
func (l *Lifecycle) Register(ctx context.Context, sess *session.Session, raw json.RawMessage) error {
	var req wire.Register
	if err := json.Unmarshal(raw, &req); err != nil {
		return errors.WithKind(errors.Wrap(err, "decoding Register"), errors.KindBadEnvelope)
	}

	var restrictGroup, restrictLocation string
	if req.RegistrationToken != "" {
		t, reason, err := l.validator.Check(ctx, req.RegistrationToken, token.RegistrationRequest{MacAddress: req.MacAddress})
		if err != nil {
			return errors.WithKind(err, errors.KindInternal)
		}
		if reason != "" {
			router.Push(sess, wire.RegistrationResponse{Type: "RegistrationResponse", Status: "Rejected", Message: reason})
			return nil
		}
		restrictGroup = t.RestrictedToGroup
		restrictLocation = t.RestrictedToLocation
	}

	// Registration is serialized per-lifecycle so "resolve-or-create by
	// id/mac" stays race free without a database-level unique-constraint
	// retry loop, and so a losing registration in a limited-use token race
	// never commits a Client row: the token is consumed first, under the
	// same lock that guards the Upsert, so a Consume failure short-circuits
	// before any Client field is touched.
	l.mu.Lock()
	if req.RegistrationToken != "" {
		res, err := l.validator.Consume(ctx, req.RegistrationToken)
		if err != nil {
			l.mu.Unlock()
			return errors.WithKind(err, errors.KindInternal)
		}
		if !res.Consumed {
			l.mu.Unlock()
			router.Push(sess, wire.RegistrationResponse{Type: "RegistrationResponse", Status: "Rejected", Message: res.Reason})
			return nil
		}
	}

	client, err := l.resolveClient(ctx, req.ClientID, req.MacAddress)
	if err != nil {
		l.mu.Unlock()
		return errors.WithKind(err, errors.KindInternal)
	}

	created := client == nil
	if created {
		client = &model.Client{ID: uuid.NewString(), Status: model.ClientUnknown}
	}

	client.MacAddress = req.MacAddress
	client.IPAddress = req.IPAddress
	client.DeviceInfo = model.DeviceInfo(req.DeviceInfo)
	client.LastSeenAt = time.Now()
	client.Status = model.ClientOnline
	if restrictGroup != "" {
		client.Group = restrictGroup
	}
	if restrictLocation != "" {
		client.Location = restrictLocation
	}

	if err := l.clients.Upsert(ctx, client); err != nil {
		l.mu.Unlock()
		router.Push(sess, wire.RegistrationResponse{Type: "RegistrationResponse", Status: "Error", Message: "internal error"})
		sess.Close(session.CloseProtocol)
		return nil
	}
	l.mu.Unlock()

	l.registry.Bind(sess, session.KindClient, client.ID, map[session.Permission]bool{})

	var assignedLayoutID string
	if client.AssignedLayoutID != nil {
		assignedLayoutID = *client.AssignedLayoutID
	}
	router.Push(sess, wire.RegistrationResponse{
		Type: "RegistrationResponse", Status: "Accepted",
		ClientID: client.ID, AssignedLayoutID: assignedLayoutID,
	})

	if layoutID, elements, ok := l.resolve(ctx, client.ID, client.Group); ok {
		router.Push(sess, wire.DisplayUpdate{Type: "DisplayUpdate", LayoutID: layoutID, Elements: elements})
	}

	return nil
}

// resolveClient looks up an existing Client by clientId first, then by
// mac, returning nil if neither matches (a fresh Client is created by the
// caller).
func (l *Lifecycle) resolveClient(ctx context.Context, clientID, mac string) (*model.Client, error) {
	if clientID != "" {
		if c, err := l.clients.Get(ctx, clientID); err != nil {
			return nil, err
		} else if c != nil {
			return c, nil
		}
	}
	if mac != "" {
		if c, err := l.clients.GetByMac(ctx, mac); err != nil {
			return nil, err
		} else if c != nil {
			return c, nil
		}
	}
	return nil, nil
}

// Heartbeat updates lastSeenAt to now, clamps and stores the reported
// status and deviceInfo, and sends no reply. Heartbeat failures are logged
// and ignored rather than surfaced to the client.
func (l *Lifecycle) Heartbeat(ctx context.Context, sess *session.Session, raw json.RawMessage) error {
	if sess.Kind != session.KindClient {
		return errors.WithKind(errors.New("heartbeat on unbound session"), errors.KindUnauthenticated)
	}
	var hb wire.Heartbeat
	if err := json.Unmarshal(raw, &hb); err != nil {
		return errors.WithKind(errors.Wrap(err, "decoding Heartbeat"), errors.KindBadEnvelope)
	}

	status := model.ClientStatus(hb.Status).Clamp()
	if hb.Offline {
		status = model.ClientOffline
	}
	if err := l.clients.UpdateStatus(ctx, sess.BoundPrincipalID, status, model.DeviceInfo(hb.DeviceInfo), time.Now()); err != nil {
		log.Warnw("heartbeat update failed, ignoring", "client_id", sess.BoundPrincipalID, "error", err.Error())
	}
	sess.Touch()
	return nil
}

// MonitorLiveness runs the background liveness sweep: every tick, any
// Client whose last-seen timestamp exceeds heartbeatTimeout is transitioned
// Offline, its session closed, and operators notified. It exits when ctx is
// canceled, tying its lifetime to server shutdown.
func (l *Lifecycle) MonitorLiveness(ctx context.Context, tickInterval time.Duration) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			l.sweepOnce(ctx)
		}
	}
}

func (l *Lifecycle) sweepOnce(ctx context.Context) {
	now := time.Now()
	for _, sess := range l.registry.IterateClients() {
		client, err := l.clients.Get(ctx, sess.BoundPrincipalID)
		if err != nil || client == nil {
			continue
		}
		// status=Online implies (now-lastSeenAt) <= heartbeatTimeout.
		// A heartbeat landing exactly on the boundary still counts as
		// live.
		if client.Status == model.ClientOnline && now.Sub(client.LastSeenAt) > l.heartbeatTimeout {
			client.Status = model.ClientOffline
			if err := l.clients.UpdateStatus(ctx, client.ID, model.ClientOffline, client.DeviceInfo, client.LastSeenAt); err != nil {
				log.Warnw("failed to persist liveness timeout", "client_id", client.ID, "error", err.Error())
				continue
			}
			sess.Close(session.CloseIdle)
			l.broadcast(client)
		}
	}
}
