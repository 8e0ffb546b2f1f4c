// Package memory is an in-process Repository Port implementation used by
// component tests that need something faster and more deterministic than
// sqlite. Grounded on the shape of the sqlite package, with a single mutex
// standing in for SQLite's own serialization of writers.
package memory

import (
	"context"
	"sync"
	"time"

	"github.com/skylinesignage/fleetd/internal/model"
	"github.com/skylinesignage/fleetd/internal/repository"
)

type Repository struct {
	mu        sync.Mutex
	clients   map[string]*model.Client
	layouts   map[string]*model.Layout
	schedules map[string]*model.Schedule
	tokens    map[string]*model.RegistrationToken
	operators map[string]*model.OperatorRegistration
}

func New() *Repository {
	return &Repository{
		clients:   make(map[string]*model.Client),
		layouts:   make(map[string]*model.Layout),
		schedules: make(map[string]*model.Schedule),
		tokens:    make(map[string]*model.RegistrationToken),
		operators: make(map[string]*model.OperatorRegistration),
	}
}

func (r *Repository) Close() error { return nil }

func (r *Repository) Clients() repository.Clients     { return &clientFacet{r} }
func (r *Repository) Layouts() repository.Layouts     { return &layoutFacet{r} }
func (r *Repository) Schedules() repository.Schedules { return &scheduleFacet{r} }
func (r *Repository) Tokens() repository.Tokens       { return &tokenFacet{r} }
func (r *Repository) Operators() repository.Operators { return &operatorFacet{r} }

// SeedLayout/SeedSchedule/SeedToken/SeedOperator let tests populate fixtures
// directly without going through the narrow per-aggregate interfaces.

func (r *Repository) SeedLayout(l *model.Layout) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.layouts[l.ID] = l
}

func (r *Repository) SeedSchedule(s *model.Schedule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.schedules[s.ID] = s
}

func (r *Repository) SeedToken(t *model.RegistrationToken) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tokens[t.Fingerprint] = t
}

func (r *Repository) SeedOperator(o *model.OperatorRegistration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.operators[o.ID] = o
}

type clientFacet struct{ r *Repository }

func (f *clientFacet) Get(_ context.Context, id string) (*model.Client, error) {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	c, ok := f.r.clients[id]
	if !ok {
		return nil, nil
	}
	cp := *c
	return &cp, nil
}

func (f *clientFacet) GetByMac(_ context.Context, mac string) (*model.Client, error) {
	if mac == "" {
		return nil, nil
	}
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	for _, c := range f.r.clients {
		if c.MacAddress == mac {
			cp := *c
			return &cp, nil
		}
	}
	return nil, nil
}

func (f *clientFacet) Upsert(_ context.Context, c *model.Client) error {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	cp := *c
	f.r.clients[c.ID] = &cp
	return nil
}

func (f *clientFacet) List(_ context.Context) ([]*model.Client, error) {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	out := make([]*model.Client, 0, len(f.r.clients))
	for _, c := range f.r.clients {
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

func (f *clientFacet) Delete(_ context.Context, id string) error {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	delete(f.r.clients, id)
	return nil
}

func (f *clientFacet) UpdateStatus(_ context.Context, id string, status model.ClientStatus, info model.DeviceInfo, lastSeenAt time.Time) error {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	c, ok := f.r.clients[id]
	if !ok {
		return nil
	}
	c.Status = status
	c.DeviceInfo = info
	c.LastSeenAt = lastSeenAt
	return nil
}

type layoutFacet struct{ r *Repository }

func (f *layoutFacet) Get(_ context.Context, id string) (*model.Layout, error) {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	l, ok := f.r.layouts[id]
	if !ok {
		return nil, nil
	}
	lp := *l
	return &lp, nil
}

func (f *layoutFacet) List(_ context.Context) ([]*model.Layout, error) {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	out := make([]*model.Layout, 0, len(f.r.layouts))
	for _, l := range f.r.layouts {
		lp := *l
		out = append(out, &lp)
	}
	return out, nil
}

type scheduleFacet struct{ r *Repository }

func (f *scheduleFacet) List(_ context.Context) ([]*model.Schedule, error) {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	out := make([]*model.Schedule, 0, len(f.r.schedules))
	for _, s := range f.r.schedules {
		sp := *s
		out = append(out, &sp)
	}
	return out, nil
}

type tokenFacet struct{ r *Repository }

func (f *tokenFacet) GetByFingerprint(_ context.Context, fp string) (*model.RegistrationToken, error) {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	t, ok := f.r.tokens[fp]
	if !ok {
		return nil, nil
	}
	tp := *t
	return &tp, nil
}

// Consume mirrors the sqlite facet's single-critical-section semantics: the
// whole mutex is held for the check-then-increment, so two concurrent
// Consume calls against a maxUses=1 token cannot both see usedCount=0.
func (f *tokenFacet) Consume(_ context.Context, fp string) (model.ConsumeResult, error) {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	t, ok := f.r.tokens[fp]
	if !ok {
		return model.ConsumeResult{Consumed: false, Reason: "not_found"}, nil
	}
	switch {
	case !t.IsActive:
		return model.ConsumeResult{Consumed: false, Reason: "inactive"}, nil
	case !t.ExpiresAt.After(time.Now()):
		return model.ConsumeResult{Consumed: false, Reason: "expired"}, nil
	case t.UsedCount >= t.MaxUses:
		return model.ConsumeResult{Consumed: false, Reason: "exhausted"}, nil
	}
	t.UsedCount++
	return model.ConsumeResult{Consumed: true}, nil
}

func (f *tokenFacet) Delete(_ context.Context, fp string) error {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	delete(f.r.tokens, fp)
	return nil
}

func (f *tokenFacet) Create(_ context.Context, t *model.RegistrationToken) error {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	tp := *t
	f.r.tokens[t.Fingerprint] = &tp
	return nil
}

func (f *tokenFacet) List(_ context.Context) ([]*model.RegistrationToken, error) {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	out := make([]*model.RegistrationToken, 0, len(f.r.tokens))
	for _, t := range f.r.tokens {
		tp := *t
		out = append(out, &tp)
	}
	return out, nil
}

type operatorFacet struct{ r *Repository }

func (f *operatorFacet) Get(_ context.Context, id string) (*model.OperatorRegistration, error) {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	o, ok := f.r.operators[id]
	if !ok {
		return nil, nil
	}
	op := *o
	return &op, nil
}

func (f *operatorFacet) GetByTokenFingerprint(_ context.Context, fp string) (*model.OperatorRegistration, error) {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	for _, o := range f.r.operators {
		if o.TokenFingerprint == fp {
			op := *o
			return &op, nil
		}
	}
	return nil, nil
}

func (f *operatorFacet) UpdateLastSeen(_ context.Context, id string, t time.Time) error {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	o, ok := f.r.operators[id]
	if !ok {
		return nil
	}
	o.LastSeenAt = t
	return nil
}

func (f *operatorFacet) Create(_ context.Context, o *model.OperatorRegistration) error {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	op := *o
	f.r.operators[o.ID] = &op
	return nil
}

func (f *operatorFacet) List(_ context.Context) ([]*model.OperatorRegistration, error) {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	out := make([]*model.OperatorRegistration, 0, len(f.r.operators))
	for _, o := range f.r.operators {
		op := *o
		out = append(out, &op)
	}
	return out, nil
}

func (f *operatorFacet) UpdateStatus(_ context.Context, id string, status model.OperatorStatus, approvedAt *time.Time) error {
	f.r.mu.Lock()
	defer f.r.mu.Unlock()
	o, ok := f.r.operators[id]
	if !ok {
		return nil
	}
	o.Status = status
	o.ApprovedAt = approvedAt
	return nil
}
