// Package scheduler implements layout assignment and scheduling: resolving
// the active layout for every Client on a one-minute wall-clock tick and
// pushing DisplayUpdate on change. Grounded on the teacher's ticker-driven
// background task pattern (pulse/schedule in the broader pack;
// teranos-QNTX's server/broadcast.go for the ticker+ctx.Done select loop
// shape).
package scheduler

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/skylinesignage/fleetd/internal/errors"
	"github.com/skylinesignage/fleetd/internal/logger"
	"github.com/skylinesignage/fleetd/internal/model"
	"github.com/skylinesignage/fleetd/internal/repository"
	"github.com/skylinesignage/fleetd/internal/router"
	"github.com/skylinesignage/fleetd/internal/session"
	"github.com/skylinesignage/fleetd/internal/wire"
)

var log = logger.With(logger.SubsystemScheduler)

// Scheduler owns the last-pushed-layout map exclusively; nothing else
// reads or writes it.
type Scheduler struct {
	clients   repository.Clients
	layouts   repository.Layouts
	schedules repository.Schedules
	registry  *session.Registry

	mu         sync.Mutex
	lastPushed map[string]string // clientID -> layoutID last sent
}

func New(clients repository.Clients, layouts repository.Layouts, schedules repository.Schedules, registry *session.Registry) *Scheduler {
	return &Scheduler{
		clients:    clients,
		layouts:    layouts,
		schedules:  schedules,
		registry:   registry,
		lastPushed: make(map[string]string),
	}
}

// Run evaluates on every 0th second of the minute, aligning the first tick
// to the next minute boundary and then ticking every tickInterval
// (normally 60s) thereafter.
func (s *Scheduler) Run(ctx context.Context, tickInterval time.Duration) {
	now := time.Now()
	firstTick := now.Truncate(time.Minute).Add(time.Minute)
	timer := time.NewTimer(firstTick.Sub(now))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
		s.EvaluateAll(ctx)
	}

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.EvaluateAll(ctx)
		}
	}
}

// EvaluateAll runs one full tick across every connected Client. It is
// bounded by the repository's own timeouts so that one slow tick cannot
// indefinitely delay the next.
func (s *Scheduler) EvaluateAll(ctx context.Context) {
	schedules, err := s.schedules.List(ctx)
	if err != nil {
		log.Warnw("failed to list schedules, skipping tick", "error", err.Error())
		return
	}

	now := time.Now()
	for _, sess := range s.registry.IterateClients() {
		client, err := s.clients.Get(ctx, sess.BoundPrincipalID)
		if err != nil || client == nil {
			continue
		}
		s.evaluateClient(ctx, sess, client, schedules, now)
	}
}

// EvaluateClient is the immediate per-client evaluation the AssignLayout
// handler triggers right after an operator reassigns a layout.
func (s *Scheduler) EvaluateClient(ctx context.Context, clientID string) {
	sess, ok := s.registry.LookupClient(clientID)
	if !ok {
		return
	}
	client, err := s.clients.Get(ctx, clientID)
	if err != nil || client == nil {
		return
	}
	schedules, err := s.schedules.List(ctx)
	if err != nil {
		return
	}
	s.evaluateClient(ctx, sess, client, schedules, time.Now())
}

// resolveLayout picks the active layoutId for a client out of its eligible
// schedules (or "" for "no layout").
func resolveLayout(client *model.Client, schedules []*model.Schedule, now time.Time) string {
	nowTOD := model.TimeOfDay{Hour: now.Hour(), Minute: now.Minute()}

	var eligible []*model.Schedule
	for _, sc := range schedules {
		if !sc.EligibleOn(now) {
			continue
		}
		if !sc.TargetsClient(client.ID, client.Group) {
			continue
		}
		if !sc.StartTime.InRangeInclusiveStartExclusiveEnd(nowTOD, sc.EndTime) {
			continue
		}
		eligible = append(eligible, sc)
	}

	if len(eligible) > 0 {
		sort.SliceStable(eligible, func(i, j int) bool {
			if eligible[i].Priority != eligible[j].Priority {
				return eligible[i].Priority > eligible[j].Priority
			}
			return eligible[i].Modified.After(eligible[j].Modified)
		})
		return eligible[0].LayoutID
	}

	if client.AssignedLayoutID != nil {
		return *client.AssignedLayoutID
	}
	return ""
}

func (s *Scheduler) evaluateClient(ctx context.Context, sess *session.Session, client *model.Client, schedules []*model.Schedule, now time.Time) {
	layoutID := resolveLayout(client, schedules, now)
	if layoutID == "" {
		return
	}

	s.mu.Lock()
	last := s.lastPushed[client.ID]
	s.mu.Unlock()
	if last == layoutID {
		return
	}

	layout, err := s.layouts.Get(ctx, layoutID)
	if err != nil || layout == nil {
		// A dangling layout reference is logged and treated as no
		// layout for this tick, not an error.
		log.Warnw("active layout not found, skipping push", "client_id", client.ID, "layout_id", layoutID)
		return
	}

	if err := router.Push(sess, wire.DisplayUpdate{Type: "DisplayUpdate", LayoutID: layout.ID, Elements: layout.Elements}); err != nil {
		return
	}

	s.mu.Lock()
	s.lastPushed[client.ID] = layoutID
	s.mu.Unlock()
}

// Resolve implements fleet.LayoutResolver: the one-time "active layout at
// registration time" lookup used by the registration reply's follow-up
// DisplayUpdate.
func (s *Scheduler) Resolve(ctx context.Context, clientID, group string) (string, map[string]interface{}, bool) {
	client, err := s.clients.Get(ctx, clientID)
	if err != nil || client == nil {
		return "", nil, false
	}
	schedules, err := s.schedules.List(ctx)
	if err != nil {
		return "", nil, false
	}
	layoutID := resolveLayout(client, schedules, time.Now())
	if layoutID == "" {
		return "", nil, false
	}
	layout, err := s.layouts.Get(ctx, layoutID)
	if err != nil || layout == nil {
		return "", nil, false
	}

	s.mu.Lock()
	s.lastPushed[clientID] = layoutID
	s.mu.Unlock()

	return layout.ID, layout.Elements, true
}

// AssignLayout handles an operator's manual layout assignment: updates
// Client.assignedLayoutId, persists, and triggers an immediate evaluation.
func (s *Scheduler) AssignLayout(ctx context.Context, sess *session.Session, raw json.RawMessage) error {
	var req wire.AssignLayout
	if err := json.Unmarshal(raw, &req); err != nil {
		return errors.WithKind(errors.Wrap(err, "decoding AssignLayout"), errors.KindBadEnvelope)
	}

	client, err := s.clients.Get(ctx, req.DeviceID)
	if err != nil {
		return errors.WithKind(err, errors.KindInternal)
	}
	if client == nil {
		return errors.WithKind(errors.Newf("unknown client %s", req.DeviceID), errors.KindInternal)
	}

	layoutID := req.LayoutID
	client.AssignedLayoutID = &layoutID
	if err := s.clients.Upsert(ctx, client); err != nil {
		return errors.WithKind(err, errors.KindInternal)
	}

	s.EvaluateClient(ctx, req.DeviceID)
	return nil
}
