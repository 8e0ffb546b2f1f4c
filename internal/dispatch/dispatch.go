// Package dispatch implements the Command Dispatcher: forwarding operator
// commands to clients and correlating the asynchronous screenshot reply
// path. Grounded on the teacher's request/response correlation pattern for
// long-running graph queries (server/server.go's pending-request map keyed
// by request id with a deadline), generalized from one pending table to
// the dispatcher's pending-screenshot table.
package dispatch

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/skylinesignage/fleetd/internal/errors"
	"github.com/skylinesignage/fleetd/internal/logger"
	"github.com/skylinesignage/fleetd/internal/router"
	"github.com/skylinesignage/fleetd/internal/session"
	"github.com/skylinesignage/fleetd/internal/wire"
)

var log = logger.With(logger.SubsystemDispatch)

// screenshotTTL is the default pending-request lifetime.
const screenshotTTL = 30 * time.Second

type pendingScreenshot struct {
	requestID  string
	clientID   string
	operator   *session.Session
	deadline   time.Time
	cancelTimer *time.Timer
}

// Dispatcher owns the pending-screenshot table exclusively; nothing else
// reads or writes it.
type Dispatcher struct {
	registry *session.Registry

	mu      sync.Mutex
	pending map[string]*pendingScreenshot // keyed by clientID; one outstanding request per client at a time
}

func New(registry *session.Registry) *Dispatcher {
	return &Dispatcher{
		registry: registry,
		pending:  make(map[string]*pendingScreenshot),
	}
}

// SendCommand forwards an operator command to the target client and
// acknowledges delivery. It requires Control permission, enforced by the
// Router's Requirement, not here.
func (d *Dispatcher) SendCommand(ctx context.Context, sess *session.Session, raw json.RawMessage) error {
	var req wire.SendCommand
	if err := json.Unmarshal(raw, &req); err != nil {
		return errors.WithKind(errors.Wrap(err, "decoding SendCommand"), errors.KindBadEnvelope)
	}

	target, ok := d.registry.LookupClient(req.TargetDeviceID)
	if !ok {
		return router.Push(sess, wire.CommandResult{
			Type: "CommandResult", DeviceID: req.TargetDeviceID, Command: req.Command,
			Success: false, Message: "not_connected",
		})
	}

	if req.Command == "Screenshot" {
		d.registerPending(req.TargetDeviceID, sess)
	}

	if err := router.Push(target, wire.Command{Type: "Command", Command: req.Command, Parameters: req.Parameters}); err != nil {
		return router.Push(sess, wire.CommandResult{
			Type: "CommandResult", DeviceID: req.TargetDeviceID, Command: req.Command,
			Success: false, Message: "queue_overflow",
		})
	}

	// Fire-and-forget: delivery, not execution, is acknowledged immediately.
	return router.Push(sess, wire.CommandResult{
		Type: "CommandResult", DeviceID: req.TargetDeviceID, Command: req.Command, Success: true,
	})
}

// RequestScreenshot is the dedicated operator-facing envelope for
// requesting a screenshot outside a generic SendCommand.
func (d *Dispatcher) RequestScreenshot(ctx context.Context, sess *session.Session, raw json.RawMessage) error {
	var req wire.RequestScreenshot
	if err := json.Unmarshal(raw, &req); err != nil {
		return errors.WithKind(errors.Wrap(err, "decoding RequestScreenshot"), errors.KindBadEnvelope)
	}

	target, ok := d.registry.LookupClient(req.DeviceID)
	if !ok {
		return router.Push(sess, wire.ScreenshotResult{Type: "ScreenshotResult", Error: "not_connected"})
	}

	d.registerPending(req.DeviceID, sess)

	return router.Push(target, wire.Command{Type: "Command", Command: "Screenshot"})
}

func (d *Dispatcher) registerPending(clientID string, operator *session.Session) {
	requestID := uuid.NewString()

	d.mu.Lock()
	if old, ok := d.pending[clientID]; ok {
		old.cancelTimer.Stop()
	}
	p := &pendingScreenshot{
		requestID: requestID,
		clientID:  clientID,
		operator:  operator,
		deadline:  time.Now().Add(screenshotTTL),
	}
	p.cancelTimer = time.AfterFunc(screenshotTTL, func() { d.timeout(clientID, requestID) })
	d.pending[clientID] = p
	d.mu.Unlock()
}

// timeout resolves a pending screenshot request with error="timeout" once
// its TTL elapses without a reply.
func (d *Dispatcher) timeout(clientID, requestID string) {
	d.mu.Lock()
	p, ok := d.pending[clientID]
	if !ok || p.requestID != requestID {
		d.mu.Unlock()
		return
	}
	delete(d.pending, clientID)
	d.mu.Unlock()

	if p.operator.Closed() {
		return
	}
	router.Push(p.operator, wire.ScreenshotResult{Type: "ScreenshotResult", RequestID: p.requestID, Error: "timeout"})
}

// Screenshot handles the client's asynchronous reply. If the operator
// session has already departed, the result is discarded silently.
func (d *Dispatcher) Screenshot(ctx context.Context, sess *session.Session, raw json.RawMessage) error {
	var msg wire.Screenshot
	if err := json.Unmarshal(raw, &msg); err != nil {
		return errors.WithKind(errors.Wrap(err, "decoding Screenshot"), errors.KindBadEnvelope)
	}

	d.mu.Lock()
	p, ok := d.pending[msg.ClientID]
	if ok {
		delete(d.pending, msg.ClientID)
	}
	d.mu.Unlock()

	if !ok {
		log.Debugw("screenshot reply with no pending request", "client_id", msg.ClientID)
		return nil
	}
	p.cancelTimer.Stop()

	if p.operator.Closed() {
		return nil
	}
	return router.Push(p.operator, wire.ScreenshotResult{
		Type: "ScreenshotResult", RequestID: p.requestID, ImageData: msg.ImageData,
	})
}
