package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"

	"studioflow/internal/apperr"
	"studioflow/internal/config"
	"studioflow/internal/domain"
	"studioflow/internal/engine/auth"
	"studioflow/internal/engine/escrow"
	"studioflow/internal/engine/iteration"
	"studioflow/internal/engine/statemachine"
	"studioflow/internal/events"
	"studioflow/internal/gateway"
	"studioflow/internal/logging"
	"studioflow/internal/metrics"
	"studioflow/internal/notify"
	"studioflow/internal/repo"
)

// Engine coordinates every actor action on a project: it serializes work per
// project, applies the state machine, iteration tracker and escrow ledger, and
// persists the result atomically.
type Engine struct {
	DB     *sql.DB
	Repo   repo.Repo
	Config *config.Config
	Ledger *escrow.Ledger
	Notify notify.Emitter
	Log    *slog.Logger
	Now    func() time.Time
	NewID  func() string

	locks *keyedMutex
}

func New(db *sql.DB, cfg *config.Config, gw gateway.Gateway) Engine {
	if cfg == nil {
		cfg = config.Default()
	}
	ledger := escrow.New(gw)
	ledger.CallTimeout = cfg.GatewayTimeout()
	ledger.Retries = cfg.GatewayRetries()
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Config: cfg,
		Ledger: ledger,
		Notify: notify.Nop{},
		Now:    time.Now,
		locks:  newKeyedMutex(),
	}
}

// Result is the snapshot returned by every action.
type Result struct {
	Project   domain.Project        `json:"project"`
	Iteration *domain.Iteration     `json:"iteration,omitempty"`
	Escrow    *domain.EscrowPayment `json:"escrow,omitempty"`
	Steps     []statemachine.Step   `json:"steps,omitempty"`
	Payments  []escrow.Transition   `json:"payments,omitempty"`
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) ts() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) newID() string {
	if e.NewID != nil {
		return e.NewID()
	}
	return uuid.New().String()
}

// audit stamps events with the engine clock.
func (e Engine) audit() events.Writer {
	return events.Writer{Now: e.now}
}

func (e Engine) log() *slog.Logger {
	if e.Log != nil {
		return e.Log
	}
	return logging.Get()
}

func (e Engine) ledger() *escrow.Ledger {
	if e.Ledger != nil {
		if e.Ledger.Now == nil {
			e.Ledger.Now = e.now
		}
		return e.Ledger
	}
	l := escrow.New(nil)
	l.Now = e.now
	return l
}

func (e Engine) cfg() *config.Config {
	if e.Config != nil {
		return e.Config
	}
	return config.Default()
}

func validActor(actor domain.Actor) error {
	if actor.ID == "" {
		return apperr.Forbidden("actor identity required")
	}
	if !actor.Role.Valid() {
		return apperr.InvalidArgument("unknown role %q", actor.Role)
	}
	return nil
}

// change accumulates everything one action does to a loaded aggregate.
type change struct {
	e       Engine
	actor   domain.Actor
	agg     *repo.Aggregate
	tracker *iteration.Tracker
	entries []events.Entry
	steps   []statemachine.Step
	pays    []escrow.Transition
	touched *domain.Iteration
}

func (c *change) project() *domain.Project { return &c.agg.Project }

func (c *change) event(evtType, entityKind, entityID string, payload events.Payload) {
	c.entries = append(c.entries, events.Entry{
		Type:       evtType,
		ProjectID:  c.agg.Project.ID,
		EntityKind: entityKind,
		EntityID:   entityID,
		ActorID:    c.actor.ID,
		Payload:    payload,
	})
}

// authorize checks role and state, then ownership, without changing anything.
func (c *change) authorize(action statemachine.Action) error {
	p := c.project()
	if err := statemachine.Can(p.Status, action, c.actor.Role); err != nil {
		return err
	}
	return auth.Check(*p, c.actor, action)
}

// transition authorizes action and applies it.
func (c *change) transition(action statemachine.Action) error {
	if err := c.authorize(action); err != nil {
		return err
	}
	step, err := statemachine.Transition(c.project(), action, c.actor.Role)
	if err != nil {
		return err
	}
	c.record(step)
	return nil
}

func (c *change) advance() {
	for _, step := range statemachine.Advance(c.project()) {
		c.record(step)
	}
}

func (c *change) record(step statemachine.Step) {
	c.steps = append(c.steps, step)
	c.project().UpdatedAt = c.e.ts()
	c.event("project."+string(step.Action), "project", c.agg.Project.ID, events.Payload{
		"from": step.From,
		"to":   step.To,
	})
}

func (c *change) payments(trail []escrow.Transition, pay domain.EscrowPayment) {
	if len(trail) == 0 {
		return
	}
	p := pay
	c.agg.Escrow = &p
	for _, t := range trail {
		c.pays = append(c.pays, t)
		payload := events.Payload{"to": t.To}
		if t.From != "" {
			payload["from"] = t.From
		}
		if t.Amount != 0 {
			payload["amount"] = t.Amount
			payload["currency"] = pay.Currency
		}
		if t.Reference != "" {
			payload["reference"] = t.Reference
		}
		c.event("escrow."+string(t.To), "escrow", pay.ID, payload)
	}
}

func (c *change) iterationChanged(it domain.Iteration, evtType string, payload events.Payload) {
	cp := it
	c.touched = &cp
	if payload == nil {
		payload = events.Payload{}
	}
	payload["number"] = it.Number
	payload["status"] = it.Status
	c.event(evtType, "iteration", it.ID, payload)
}

// run executes fn against a freshly loaded aggregate under the project lock
// and commits the result. Concurrent modifications from other processes are
// retried with backoff; every other error is returned as is.
func (e Engine) run(ctx context.Context, name, projectID string, actor domain.Actor, fn func(ctx context.Context, c *change) error) (res Result, err error) {
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = string(apperr.KindOf(err))
			if outcome == "" {
				outcome = "error"
			}
		}
		metrics.IncAction(name, outcome)
	}()
	if err := validActor(actor); err != nil {
		return Result{}, err
	}
	unlock := e.lockProject(projectID)
	defer unlock()

	cfg := e.cfg()
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.RetryInterval()
	if bo.InitialInterval <= 0 {
		bo.InitialInterval = time.Millisecond
	}
	var committed *change
	attempt := func() (Result, error) {
		c, err := e.attempt(ctx, projectID, actor, fn)
		if err != nil {
			if apperr.IsKind(err, apperr.KindConcurrentModification) {
				return Result{}, err
			}
			return Result{}, backoff.Permanent(err)
		}
		committed = c
		return c.result(), nil
	}
	res, err = backoff.Retry(ctx, attempt,
		backoff.WithBackOff(bo),
		backoff.WithMaxTries(uint(cfg.Workflow.Retry.Attempts)),
		backoff.WithNotify(func(err error, next time.Duration) {
			metrics.IncRetry()
			e.log().Warn("concurrent modification, retrying", "action", name, "project_id", projectID, "next", next)
		}),
	)
	if err != nil {
		return Result{}, err
	}
	e.emit(ctx, committed)
	return res, nil
}

func (e Engine) attempt(ctx context.Context, projectID string, actor domain.Actor, fn func(ctx context.Context, c *change) error) (*change, error) {
	agg, err := e.Repo.LoadAggregate(ctx, projectID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return nil, apperr.NotFound("project", projectID)
		}
		return nil, err
	}
	tracker := iteration.NewTracker(projectID, agg.Iterations)
	tracker.Now = e.now
	tracker.NewID = e.newID
	c := &change{e: e, actor: actor, agg: &agg, tracker: tracker}
	if err := fn(ctx, c); err != nil {
		return nil, err
	}
	c.agg.Iterations = tracker.Items

	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	if err := e.Repo.SaveAggregate(ctx, tx, c.agg, tracker.Changed()); err != nil {
		if errors.Is(err, repo.ErrVersionConflict) {
			return nil, apperr.Wrap(apperr.KindConcurrentModification, "project "+projectID+" changed concurrently", err)
		}
		if errors.Is(err, repo.ErrNotFound) {
			return nil, apperr.NotFound("project", projectID)
		}
		return nil, err
	}
	if err := e.audit().AppendAll(ctx, tx, c.entries); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return c, nil
}

func (c *change) result() Result {
	res := Result{
		Project:  c.agg.Project,
		Steps:    c.steps,
		Payments: c.pays,
	}
	if c.touched != nil {
		it := *c.touched
		res.Iteration = &it
	}
	if c.agg.Escrow != nil {
		pay := *c.agg.Escrow
		res.Escrow = &pay
	}
	return res
}

func (e Engine) emit(ctx context.Context, c *change) {
	if c == nil || e.Notify == nil {
		return
	}
	now := e.now()
	for _, entry := range c.entries {
		e.Notify.Emit(ctx, notify.New(now, entry.Type, entry.ProjectID, entry.ActorID, entry.Payload))
	}
}

var defaultLocks = newKeyedMutex()

func (e Engine) lockProject(projectID string) func() {
	locks := e.locks
	if locks == nil {
		locks = defaultLocks
	}
	return locks.Lock(projectID)
}

// keyedMutex hands out one mutex per key and forgets it once unused.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

type keyedLock struct {
	mu   sync.Mutex
	refs int
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: map[string]*keyedLock{}}
}

func (k *keyedMutex) Lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &keyedLock{}
		k.locks[key] = l
	}
	l.refs++
	k.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		k.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(k.locks, key)
		}
		k.mu.Unlock()
	}
}
