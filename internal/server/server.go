// Package server wires every component together: Transport, Session
// Registry, Message Router, Client Lifecycle, Command Dispatcher,
// Scheduler, Discovery, and the Repository Port. Grounded on the
// teacher's QNTXServer lifecycle fields (ctx/cancel/wg for graceful
// shutdown, server/server.go), trimmed to fleetd's own component set
// instead of the teacher's graph-visualization/plugin/sync machinery.
package server

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/skylinesignage/fleetd/internal/config"
	"github.com/skylinesignage/fleetd/internal/dispatch"
	"github.com/skylinesignage/fleetd/internal/discovery"
	"github.com/skylinesignage/fleetd/internal/errors"
	"github.com/skylinesignage/fleetd/internal/fleet"
	"github.com/skylinesignage/fleetd/internal/logger"
	"github.com/skylinesignage/fleetd/internal/operator"
	"github.com/skylinesignage/fleetd/internal/repository"
	"github.com/skylinesignage/fleetd/internal/router"
	"github.com/skylinesignage/fleetd/internal/scheduler"
	"github.com/skylinesignage/fleetd/internal/session"
	"github.com/skylinesignage/fleetd/internal/tlsboot"
	"github.com/skylinesignage/fleetd/internal/token"
	"github.com/skylinesignage/fleetd/internal/transport"
	"github.com/skylinesignage/fleetd/internal/wire"
)

var log = logger.With(logger.SubsystemFleet)

// Server owns the process-wide singletons and their lifecycle.
type Server struct {
	cfg  *config.Config
	repo repository.Repository

	registry   *session.Registry
	router     *router.Router
	listener   *transport.Listener
	lifecycle  *fleet.Lifecycle
	dispatcher *dispatch.Dispatcher
	scheduler  *scheduler.Scheduler
	opHandlers *operator.Handlers
	advertiser *discovery.Advertiser
	responder  *discovery.Responder
	scanner    *discovery.Scanner

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New assembles every component against repo and cfg but does not start
// accepting connections yet; call Run for that.
func New(cfg *config.Config, repo repository.Repository) (*Server, error) {
	if cfg.CertificatePath == "" {
		cfg.CertificatePath = "certs/fleetd.crt"
	}
	keyPath := cfg.CertificatePath[:len(cfg.CertificatePath)-len(extOf(cfg.CertificatePath))] + ".key"
	if err := tlsboot.EnsureCertificates(cfg.CertificatePath, keyPath); err != nil {
		return nil, errors.Wrap(err, "bootstrapping TLS certificates")
	}

	registry := session.NewRegistry()
	validator := token.NewValidator(repo.Tokens())
	sched := scheduler.New(repo.Clients(), repo.Layouts(), repo.Schedules(), registry)
	opHandlers := operator.New(repo.Operators(), repo.Clients(), repo.Layouts(), registry)
	lifecycle := fleet.New(repo.Clients(), validator, registry, cfg.ClientHeartbeatTimeout.Duration, sched.Resolve, opHandlers.BroadcastStatusChange)
	dispatcher := dispatch.New(registry)

	r := router.New()
	r.Register("Register", router.Requirement{}, lifecycle.Register)
	r.Register("Heartbeat", router.Requirement{RequireKind: session.KindClient}, lifecycle.Heartbeat)
	r.Register("Screenshot", router.Requirement{RequireKind: session.KindClient}, dispatcher.Screenshot)
	r.Register("AppHeartbeat", router.Requirement{}, opHandlers.AppHeartbeat)
	r.Register("RequestClientList", router.Requirement{RequireKind: session.KindOperator}, opHandlers.RequestClientList)
	r.Register("RequestLayoutList", router.Requirement{RequireKind: session.KindOperator}, opHandlers.RequestLayoutList)
	r.Register("SendCommand", router.Requirement{RequireKind: session.KindOperator, RequirePermission: "Control"}, dispatcher.SendCommand)
	r.Register("RequestScreenshot", router.Requirement{RequireKind: session.KindOperator, RequirePermission: "Control"}, dispatcher.RequestScreenshot)
	r.Register("AssignLayout", router.Requirement{RequireKind: session.KindOperator, RequirePermission: "Manage"}, sched.AssignLayout)

	s := &Server{
		cfg:        cfg,
		repo:       repo,
		registry:   registry,
		router:     r,
		lifecycle:  lifecycle,
		dispatcher: dispatcher,
		scheduler:  sched,
		opHandlers: opHandlers,
		advertiser: discovery.NewAdvertiser("fleetd", cfg.Port, cfg.EnableSSL, func() int { c, _ := registry.Count(); return c }),
		responder:  discovery.NewResponder("fleetd", cfg.Port, cfg.EnableSSL),
		scanner:    discovery.NewScanner(),
	}

	listener, err := transport.Listen(transport.Config{
		Port:             cfg.Port,
		AlternativePorts: cfg.AlternativePorts,
		AutoSelectPort:   cfg.AutoSelectPort,
		CertificatePath:  cfg.CertificatePath,
		KeyPath:          keyPath,
		EndpointPath:     cfg.EndpointPath,
		MaxMessageSize:   cfg.MaxMessageSize,
		ReadTimeout:      cfg.ClientHeartbeatTimeout.Duration + cfg.LivenessCheckInterval.Duration,
	}, s.onAccept)
	if err != nil {
		return nil, errors.Wrap(err, "starting transport listener")
	}
	s.listener = listener

	return s, nil
}

// onAccept owns the per-connection receive loop, deferred by the transport
// package to its caller.
func (s *Server) onAccept(sess *session.Session) {
	s.registry.Attach(sess)
	defer s.registry.Detach(sess.ConnectionID)

	conn := sess.Conn()
	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if errors.Is(err, websocket.ErrReadLimit) {
				router.Push(sess, wire.NewError("bad_envelope", "message exceeds the configured size limit"))
				sess.Close(session.CloseProtocol)
				return
			}
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				log.Debugw("unexpected close", "connection_id", sess.ConnectionID, "error", err.Error())
			}
			sess.Close(session.CloseProtocol)
			return
		}
		var raw json.RawMessage = payload
		s.router.Dispatch(s.ctx, sess, raw)
	}
}

func extOf(path string) string {
	for i := len(path) - 1; i >= 0 && path[i] != '/'; i-- {
		if path[i] == '.' {
			return path[i:]
		}
	}
	return ""
}

// Run starts every background task and blocks until ctx is canceled.
func (s *Server) Run(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	defer s.cancel()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.listener.Serve(s.ctx); err != nil {
			log.Errorw("transport listener stopped", "error", err.Error())
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.lifecycle.MonitorLiveness(s.ctx, s.cfg.LivenessCheckInterval.Duration)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.scheduler.Run(s.ctx, s.cfg.SchedulerTickInterval.Duration)
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.advertiser.Run(s.ctx); err != nil {
			log.Warnw("discovery advertiser stopped", "error", err.Error())
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.responder.Run(s.ctx, s.cfg.DiscoveryPort); err != nil {
			log.Warnw("discovery broadcast responder stopped", "error", err.Error())
		}
	}()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.scanner.Janitor(s.ctx, 0)
	}()

	log.Infow("fleetd listening", "port", s.listener.Port(), "endpoint", s.cfg.EndpointPath)

	<-s.ctx.Done()
	return s.Shutdown()
}

// Shutdown cancels every background task and waits for them to exit.
func (s *Server) Shutdown() error {
	s.cancel()
	_ = s.listener.Close()
	s.wg.Wait()
	return s.repo.Close()
}

// Scanner exposes the server's LAN scanner. The server itself runs only
// the scanner's stale-host janitor, not a scan; the "discover" subcommand
// builds its own scanner.
func (s *Server) Scanner() *discovery.Scanner { return s.scanner }
