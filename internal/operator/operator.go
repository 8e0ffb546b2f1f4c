// Package operator implements the operator-facing handlers: AppHeartbeat
// authentication, the RequestClientList/RequestLayoutList read paths, and
// the ClientListUpdate broadcast the Client Lifecycle's liveness monitor
// triggers on a status transition. Grounded on the teacher's
// broadcast-to-all-clients loop in server/broadcast.go, generalized to
// target only bound operator sessions.
package operator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/skylinesignage/fleetd/internal/errors"
	"github.com/skylinesignage/fleetd/internal/logger"
	"github.com/skylinesignage/fleetd/internal/model"
	"github.com/skylinesignage/fleetd/internal/repository"
	"github.com/skylinesignage/fleetd/internal/router"
	"github.com/skylinesignage/fleetd/internal/session"
	"github.com/skylinesignage/fleetd/internal/token"
	"github.com/skylinesignage/fleetd/internal/wire"
)

var log = logger.With(logger.SubsystemOperator)

type Handlers struct {
	operators repository.Operators
	clients   repository.Clients
	layouts   repository.Layouts
	registry  *session.Registry
}

func New(operators repository.Operators, clients repository.Clients, layouts repository.Layouts, registry *session.Registry) *Handlers {
	return &Handlers{operators: operators, clients: clients, layouts: layouts, registry: registry}
}

// AppHeartbeat authenticates an operator connection: the first message on
// an operator connection must be AppHeartbeat{appId, token}. A failed
// check closes the session.
func (h *Handlers) AppHeartbeat(ctx context.Context, sess *session.Session, raw json.RawMessage) error {
	var req wire.AppHeartbeat
	if err := json.Unmarshal(raw, &req); err != nil {
		return errors.WithKind(errors.Wrap(err, "decoding AppHeartbeat"), errors.KindBadEnvelope)
	}

	reg, err := h.operators.Get(ctx, req.AppID)
	if err != nil {
		return errors.WithKind(err, errors.KindInternal)
	}
	if reg == nil || reg.Status != model.OperatorApproved {
		sess.Close(session.CloseProtocol)
		return errors.WithKind(errors.New("operator not approved"), errors.KindUnauthenticated)
	}
	if reg.TokenFingerprint == "" || req.Token == "" || token.Fingerprint(req.Token) != reg.TokenFingerprint {
		sess.Close(session.CloseProtocol)
		return errors.WithKind(errors.New("operator token mismatch"), errors.KindTokenInvalid)
	}

	h.registry.Bind(sess, session.KindOperator, reg.ID, permSet(reg.Permissions))
	if err := h.operators.UpdateLastSeen(ctx, reg.ID, time.Now()); err != nil {
		log.Debugw("failed to update operator last_seen_at", "operator_id", reg.ID, "error", err.Error())
	}
	return nil
}

func permSet(perms map[model.Permission]bool) map[session.Permission]bool {
	out := make(map[session.Permission]bool, len(perms))
	for p, ok := range perms {
		if ok {
			out[session.Permission(p)] = true
		}
	}
	return out
}

// RequestClientList replies with a ClientListUpdate filtered per the
// Filter field.
func (h *Handlers) RequestClientList(ctx context.Context, sess *session.Session, raw json.RawMessage) error {
	var req wire.RequestClientList
	if err := json.Unmarshal(raw, &req); err != nil {
		return errors.WithKind(errors.Wrap(err, "decoding RequestClientList"), errors.KindBadEnvelope)
	}

	clients, err := h.clients.List(ctx)
	if err != nil {
		return errors.WithKind(err, errors.KindInternal)
	}

	infos := make([]wire.ClientInfo, 0, len(clients))
	for _, c := range clients {
		if !matchesFilter(req.Filter, c.Status) {
			continue
		}
		infos = append(infos, toClientInfo(c))
	}

	return router.Push(sess, wire.ClientListUpdate{Type: "ClientListUpdate", Clients: infos})
}

func matchesFilter(filter string, status model.ClientStatus) bool {
	switch filter {
	case "", "all":
		return true
	case "online":
		return status == model.ClientOnline
	case "offline":
		return status != model.ClientOnline
	default:
		return true
	}
}

func toClientInfo(c *model.Client) wire.ClientInfo {
	var assigned string
	if c.AssignedLayoutID != nil {
		assigned = *c.AssignedLayoutID
	}
	return wire.ClientInfo{
		ID: c.ID, Name: c.Name, Status: string(c.Status), Group: c.Group, Location: c.Location,
		AssignedLayoutID: assigned, LastSeenAt: c.LastSeenAt.UTC().Format(time.RFC3339),
	}
}

// RequestLayoutList implements the Operator -> Server layout listing.
func (h *Handlers) RequestLayoutList(ctx context.Context, sess *session.Session, raw json.RawMessage) error {
	layouts, err := h.layouts.List(ctx)
	if err != nil {
		return errors.WithKind(err, errors.KindInternal)
	}
	infos := make([]wire.LayoutInfo, 0, len(layouts))
	for _, l := range layouts {
		infos = append(infos, wire.LayoutInfo{ID: l.ID, Name: l.Name, Resolution: l.Resolution, Category: l.Category})
	}
	return router.Push(sess, wire.LayoutListResponse{Type: "LayoutListResponse", Layouts: infos})
}

// BroadcastStatusChange pushes a one-client ClientListUpdate to every
// bound operator session, used as fleet.StatusBroadcaster.
func (h *Handlers) BroadcastStatusChange(c *model.Client) {
	update := wire.ClientListUpdate{Type: "ClientListUpdate", Clients: []wire.ClientInfo{toClientInfo(c)}}
	for _, op := range h.registry.IterateOperators() {
		router.Push(op, update)
	}
}
