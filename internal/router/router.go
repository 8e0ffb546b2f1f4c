// Package router implements the Message Router: envelope parsing,
// type-to-handler dispatch, and the single seam that maps internal
// failures to wire Error frames instead of using exceptions for flow
// control. Grounded on the teacher's server.QNTXServer.handleMessage
// switch-on-type loop (server/server.go), generalized into a registrable
// handler table instead of a hardcoded switch, since fleetd's handler set
// is assembled from several packages (fleet, dispatch, scheduler, operator)
// that the router package cannot import without a cycle.
package router

import (
	"context"
	"encoding/json"
	"time"

	"github.com/skylinesignage/fleetd/internal/errors"
	"github.com/skylinesignage/fleetd/internal/logger"
	"github.com/skylinesignage/fleetd/internal/session"
	"github.com/skylinesignage/fleetd/internal/wire"
)

var log = logger.With(logger.SubsystemRouter)

// protocolErrorThreshold/Window close a session once its protocol error
// rate exceeds a small threshold within a sliding window.
const (
	protocolErrorThreshold = 5
	protocolErrorWindow    = time.Minute
)

// Handler processes one envelope's raw payload. It replies by calling
// sess.Enqueue directly (zero or more times — e.g. registration's
// RegistrationResponse followed by a DisplayUpdate) and returns an error,
// classified via errors.KindOf, for the router to translate into a wire
// Error frame.
type Handler func(ctx context.Context, sess *session.Session, raw json.RawMessage) error

// Requirement gates a Handler by what the session must already be: an
// authenticated kind and/or a specific permission.
type Requirement struct {
	RequireKind       session.Kind // session.KindUnbound means "no requirement"
	RequirePermission session.Permission
}

type route struct {
	handler Handler
	req     Requirement
}

// Router owns the type-to-handler table; per-session protocol error counts
// are kept by session.Session.NoteProtocolError. It has no knowledge of any particular envelope type beyond
// the routing metadata handlers register with.
type Router struct {
	routes map[string]route
}

func New() *Router {
	return &Router{routes: make(map[string]route)}
}

// Register installs h for envelope type typ, gated by req.
func (r *Router) Register(typ string, req Requirement, h Handler) {
	r.routes[typ] = route{handler: h, req: req}
}

// Dispatch parses one inbound frame and routes it to its handler, applying
// the registered kind/permission requirements. It never panics on
// malformed input.
func (r *Router) Dispatch(ctx context.Context, sess *session.Session, frame []byte) {
	env, err := wire.Decode(frame)
	if err != nil {
		r.fault(sess, errors.WithKind(err, errors.KindBadEnvelope), "")
		return
	}

	rt, ok := r.routes[env.Type]
	if !ok {
		r.fault(sess, errors.WithKind(errors.New("unrecognized message type: "+env.Type), errors.KindUnknownMessage), env.Type)
		return
	}

	if rt.req.RequireKind != session.KindUnbound && sess.Kind != rt.req.RequireKind {
		r.reply(sess, wire.NewError("unauthenticated", "this message requires an authenticated session"))
		return
	}
	if rt.req.RequirePermission != "" && !sess.HasPermission(rt.req.RequirePermission) {
		r.reply(sess, wire.NewError("forbidden", "missing required permission"))
		return
	}

	if err := rt.handler(ctx, sess, env.Raw); err != nil {
		r.fault(sess, err, env.Type)
	}
}

// fault maps a handler or decode error to a wire Error frame via its Kind,
// and closes the session once its protocol error rate crosses the
// threshold.
func (r *Router) fault(sess *session.Session, err error, envelopeType string) {
	kind := errors.KindOf(err)
	code, closeSession := wireCodeFor(kind)

	log.Debugw("dispatch fault", "connection_id", sess.ConnectionID, "type", envelopeType,
		"kind", kind, "error", err.Error())

	r.reply(sess, wire.NewError(code, err.Error()))

	if closeSession {
		sess.Close(session.CloseProtocol)
		return
	}
	if kind == errors.KindBadEnvelope || kind == errors.KindUnknownMessage {
		if sess.NoteProtocolError(protocolErrorThreshold, protocolErrorWindow) {
			sess.Close(session.CloseProtocol)
		}
	}
}

func wireCodeFor(kind errors.Kind) (code string, closeSession bool) {
	switch kind {
	case errors.KindBadEnvelope:
		return "bad_envelope", false
	case errors.KindUnknownMessage:
		return "unknown_message", false
	case errors.KindUnauthenticated:
		return "unauthenticated", true
	case errors.KindForbidden:
		return "forbidden", false
	case errors.KindTokenInvalid:
		return "token_invalid", true
	case errors.KindTokenConsumed:
		return "token_consumed", true
	case errors.KindNotConnected:
		return "not_connected", false
	case errors.KindQueueOverflow:
		return "queue_overflow", false
	case errors.KindTimeout:
		return "timeout", false
	default:
		return "internal", false
	}
}

func (r *Router) reply(sess *session.Session, env interface{}) {
	payload, err := wire.Encode(env)
	if err != nil {
		log.Errorw("failed to encode reply", "connection_id", sess.ConnectionID, "error", err.Error())
		return
	}
	if !sess.Enqueue(payload) {
		log.Warnw("outbound queue overflow", "connection_id", sess.ConnectionID)
		sess.Close(session.CloseQueueOverflow)
	}
}

// Push enqueues an unsolicited server-initiated envelope (DisplayUpdate,
// Command, ClientListUpdate, ...) onto sess, closing it on overflow.
func Push(sess *session.Session, env interface{}) error {
	payload, err := wire.Encode(env)
	if err != nil {
		return errors.Wrap(err, "encoding outbound envelope")
	}
	if !sess.Enqueue(payload) {
		sess.Close(session.CloseQueueOverflow)
		return errors.WithKind(errors.New("outbound queue overflow"), errors.KindQueueOverflow)
	}
	return nil
}
