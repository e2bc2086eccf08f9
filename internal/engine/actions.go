package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"studioflow/internal/apperr"
	"studioflow/internal/domain"
	"studioflow/internal/engine/escrow"
	"studioflow/internal/engine/iteration"
	"studioflow/internal/engine/statemachine"
	"studioflow/internal/events"
	"studioflow/internal/metrics"
)

type ProjectCreateOptions struct {
	Title                 string
	Description           string
	Requirements          string
	Type                  domain.ProjectType
	Category              string
	Priority              domain.Priority
	ClientFee             int64
	MentorFee             int64
	StudentFee            int64
	MaxRevisions          *int
	EstimatedDeliveryDays int
	// ClientID is required when an admin creates a project on a client's behalf.
	ClientID string
}

// CreateProject stores a new draft project owned by the acting client.
func (e Engine) CreateProject(ctx context.Context, actor domain.Actor, opts ProjectCreateOptions) (res Result, err error) {
	defer func() {
		outcome := "ok"
		if err != nil {
			outcome = string(apperr.KindOf(err))
			if outcome == "" {
				outcome = "error"
			}
		}
		metrics.IncAction("create", outcome)
	}()
	if err := validActor(actor); err != nil {
		return Result{}, err
	}
	clientID := actor.ID
	switch actor.Role {
	case domain.RoleClient:
	case domain.RoleAdmin:
		if strings.TrimSpace(opts.ClientID) == "" {
			return Result{}, apperr.InvalidArgument("client id is required when an admin creates a project")
		}
		clientID = opts.ClientID
	default:
		return Result{}, apperr.Forbidden("only clients and admins create projects")
	}
	title := strings.TrimSpace(opts.Title)
	if title == "" {
		return Result{}, apperr.InvalidArgument("title is required")
	}
	if opts.ClientFee < 0 || opts.MentorFee < 0 || opts.StudentFee < 0 {
		return Result{}, apperr.InvalidArgument("fees must not be negative")
	}
	if opts.EstimatedDeliveryDays < 0 {
		return Result{}, apperr.InvalidArgument("estimated delivery must not be negative")
	}
	typ := opts.Type
	if typ == "" {
		typ = domain.ProjectTypeCustom
	}
	if typ != domain.ProjectTypeCustom && typ != domain.ProjectTypeModification {
		return Result{}, apperr.InvalidArgument("unknown project type %q", typ)
	}
	prio := opts.Priority
	if prio == "" {
		prio = domain.PriorityNormal
	}
	switch prio {
	case domain.PriorityLow, domain.PriorityNormal, domain.PriorityHigh, domain.PriorityUrgent:
	default:
		return Result{}, apperr.InvalidArgument("unknown priority %q", prio)
	}
	maxRev := e.cfg().Workflow.DefaultMaxRevisions
	if opts.MaxRevisions != nil {
		if *opts.MaxRevisions < 0 {
			return Result{}, apperr.InvalidArgument("max revisions must not be negative")
		}
		maxRev = *opts.MaxRevisions
	}
	now := e.ts()
	p := domain.Project{
		ID:                    e.newID(),
		Title:                 title,
		Description:           opts.Description,
		Requirements:          opts.Requirements,
		Type:                  typ,
		Category:              opts.Category,
		Priority:              prio,
		EstimatedDeliveryDays: opts.EstimatedDeliveryDays,
		ClientFee:             opts.ClientFee,
		MentorFee:             opts.MentorFee,
		StudentFee:            opts.StudentFee,
		MaxRevisions:          maxRev,
		ClientID:              clientID,
		Status:                domain.StatusDraft,
		Version:               1,
		CreatedAt:             now,
		UpdatedAt:             now,
	}
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return Result{}, err
	}
	defer tx.Rollback()
	if err := e.Repo.InsertProject(ctx, tx, &p); err != nil {
		return Result{}, fmt.Errorf("insert project: %w", err)
	}
	entry := events.Entry{
		Type:       "project.created",
		ProjectID:  p.ID,
		EntityKind: "project",
		EntityID:   p.ID,
		ActorID:    actor.ID,
		Payload:    events.Payload{"number": p.Number, "title": p.Title, "status": p.Status},
	}
	if err := e.audit().Append(ctx, tx, entry); err != nil {
		return Result{}, err
	}
	if err := tx.Commit(); err != nil {
		return Result{}, err
	}
	e.emit(ctx, &change{entries: []events.Entry{entry}})
	return Result{Project: p}, nil
}

func (e Engine) simple(ctx context.Context, action statemachine.Action, projectID string, actor domain.Actor, extra func(c *change) error) (Result, error) {
	return e.run(ctx, string(action), projectID, actor, func(ctx context.Context, c *change) error {
		if err := c.transition(action); err != nil {
			return err
		}
		if extra != nil {
			return extra(c)
		}
		return nil
	})
}

// SubmitProject sends a draft to the mentors for review.
func (e Engine) SubmitProject(ctx context.Context, actor domain.Actor, projectID string) (Result, error) {
	return e.simple(ctx, statemachine.ActionSubmit, projectID, actor, nil)
}

// AcceptProject takes a submitted project into review. A mentor accepting an
// unassigned project becomes its mentor.
func (e Engine) AcceptProject(ctx context.Context, actor domain.Actor, projectID string) (Result, error) {
	return e.simple(ctx, statemachine.ActionAccept, projectID, actor, func(c *change) error {
		if actor.Role == domain.RoleMentor && c.project().MentorID == nil {
			id := actor.ID
			c.project().MentorID = &id
		}
		return nil
	})
}

type ScopeOptions struct {
	Scope                 string
	MentorID              string
	ClientFee             *int64
	MentorFee             *int64
	StudentFee            *int64
	MaxRevisions          *int
	EstimatedDeliveryDays *int
	MentorDeadline        *string
	StudentDeadline       *string
}

// ScopeProject fixes the scope, fees and deadlines of a reviewed project.
func (e Engine) ScopeProject(ctx context.Context, actor domain.Actor, projectID string, opts ScopeOptions) (Result, error) {
	if strings.TrimSpace(opts.Scope) == "" {
		return Result{}, apperr.InvalidArgument("scope is required")
	}
	for _, fee := range []*int64{opts.ClientFee, opts.MentorFee, opts.StudentFee} {
		if fee != nil && *fee < 0 {
			return Result{}, apperr.InvalidArgument("fees must not be negative")
		}
	}
	if opts.MaxRevisions != nil && *opts.MaxRevisions < 0 {
		return Result{}, apperr.InvalidArgument("max revisions must not be negative")
	}
	if opts.EstimatedDeliveryDays != nil && *opts.EstimatedDeliveryDays < 0 {
		return Result{}, apperr.InvalidArgument("estimated delivery must not be negative")
	}
	for _, d := range []*string{opts.MentorDeadline, opts.StudentDeadline} {
		if err := validDeadline(d); err != nil {
			return Result{}, err
		}
	}
	return e.simple(ctx, statemachine.ActionScope, projectID, actor, func(c *change) error {
		p := c.project()
		p.Scope = strings.TrimSpace(opts.Scope)
		switch {
		case actor.Role == domain.RoleMentor:
			id := actor.ID
			p.MentorID = &id
		case opts.MentorID != "":
			id := opts.MentorID
			p.MentorID = &id
		}
		if p.MentorID == nil {
			return apperr.InvalidArgument("a mentor must be assigned when scoping")
		}
		if opts.ClientFee != nil {
			p.ClientFee = *opts.ClientFee
		}
		if opts.MentorFee != nil {
			p.MentorFee = *opts.MentorFee
		}
		if opts.StudentFee != nil {
			p.StudentFee = *opts.StudentFee
		}
		if opts.MaxRevisions != nil {
			if *opts.MaxRevisions < p.RevisionCount {
				return apperr.InvalidArgument("max revisions %d is below the revisions already used", *opts.MaxRevisions)
			}
			p.MaxRevisions = *opts.MaxRevisions
		}
		if opts.EstimatedDeliveryDays != nil {
			p.EstimatedDeliveryDays = *opts.EstimatedDeliveryDays
		}
		if opts.MentorDeadline != nil {
			p.MentorDeadline = opts.MentorDeadline
		}
		if opts.StudentDeadline != nil {
			p.StudentDeadline = opts.StudentDeadline
		}
		c.event("project.scoped", "project", p.ID, events.Payload{
			"mentor_id":   *p.MentorID,
			"client_fee":  p.ClientFee,
			"mentor_fee":  p.MentorFee,
			"student_fee": p.StudentFee,
		})
		return nil
	})
}

// PublishProject opens a funded, scoped project to students.
func (e Engine) PublishProject(ctx context.Context, actor domain.Actor, projectID string) (Result, error) {
	return e.simple(ctx, statemachine.ActionPublish, projectID, actor, func(c *change) error {
		if c.agg.Escrow == nil || c.agg.Escrow.Status != domain.PaymentEscrowed {
			return apperr.InvalidState("project %s must be funded before it is published", projectID)
		}
		return nil
	})
}

// ClaimProject lets a student pick up a published project. Admins claim on
// behalf of studentID.
func (e Engine) ClaimProject(ctx context.Context, actor domain.Actor, projectID, studentID string) (Result, error) {
	return e.simple(ctx, statemachine.ActionClaim, projectID, actor, func(c *change) error {
		id := actor.ID
		if actor.Role == domain.RoleAdmin {
			if studentID == "" {
				return apperr.InvalidArgument("student id is required when an admin claims a project")
			}
			id = studentID
		}
		c.project().StudentID = &id
		return nil
	})
}

// AssignStudent confirms the claiming student, or assigns studentID instead.
func (e Engine) AssignStudent(ctx context.Context, actor domain.Actor, projectID, studentID string) (Result, error) {
	return e.simple(ctx, statemachine.ActionAssignStudent, projectID, actor, func(c *change) error {
		p := c.project()
		if studentID != "" {
			id := studentID
			p.StudentID = &id
		}
		if p.StudentID == nil {
			return apperr.InvalidArgument("no student to assign")
		}
		c.event("project.student_assigned", "project", p.ID, events.Payload{"student_id": *p.StudentID})
		return nil
	})
}

// StartWork begins execution. The student deadline defaults to the
// estimated delivery from now.
func (e Engine) StartWork(ctx context.Context, actor domain.Actor, projectID string) (Result, error) {
	return e.simple(ctx, statemachine.ActionStart, projectID, actor, func(c *change) error {
		p := c.project()
		if p.StudentDeadline == nil && p.EstimatedDeliveryDays > 0 {
			d := e.now().UTC().Add(time.Duration(p.EstimatedDeliveryDays) * 24 * time.Hour).Format(time.RFC3339)
			p.StudentDeadline = &d
		}
		return nil
	})
}

// Fund charges the client and holds the funds in escrow. Funding an already
// escrowed project returns the existing payment without a new charge.
func (e Engine) Fund(ctx context.Context, actor domain.Actor, projectID string, amount int64, currency string) (Result, error) {
	return e.run(ctx, "fund", projectID, actor, func(ctx context.Context, c *change) error {
		p := c.project()
		if actor.Role != domain.RoleClient && actor.Role != domain.RoleAdmin {
			return apperr.Forbidden("only the client or an admin funds a project")
		}
		if actor.Role == domain.RoleClient && p.ClientID != actor.ID {
			return apperr.Forbidden("%s is not the client of project %s", actor.ID, p.ID)
		}
		if c.agg.Escrow == nil {
			switch p.Status {
			case domain.StatusDraft, domain.StatusSubmitted, domain.StatusUnderReview, domain.StatusScoped, domain.StatusPublished:
			default:
				return apperr.IllegalTransition(string(p.Status), "fund")
			}
		}
		if amount == 0 {
			amount = p.ClientFee
		}
		if currency == "" {
			currency = e.cfg().Workflow.DefaultCurrency
		}
		pay, trail, err := e.ledger().Fund(ctx, c.agg.Escrow, *p, amount, currency)
		if err != nil {
			return err
		}
		if len(trail) == 0 {
			c.agg.Escrow = &pay
			return nil
		}
		c.payments(trail, pay)
		return nil
	})
}

// SubmitIteration records new work. A student's submission goes to mentor
// review; a mentor's own revision goes straight to the client.
func (e Engine) SubmitIteration(ctx context.Context, actor domain.Actor, projectID, notes string) (Result, error) {
	action := statemachine.ActionSubmitWork
	stage := domain.StageMentor
	if actor.Role == domain.RoleMentor {
		action = statemachine.ActionSubmitRevision
		stage = domain.StageClient
	}
	return e.run(ctx, "submit_iteration", projectID, actor, func(ctx context.Context, c *change) error {
		if err := c.transition(action); err != nil {
			return err
		}
		it, err := c.tracker.Submit(projectID, actor.ID, actor.Role, notes)
		if err != nil {
			return err
		}
		it, err = c.tracker.BeginReview(it.ID, stage)
		if err != nil {
			return err
		}
		c.iterationChanged(it, "iteration.submitted", events.Payload{"review_stage": stage})
		return nil
	})
}

// ReviewIteration applies the mentor's or client's decision on the pending
// iteration. An empty iterationID selects the pending one.
func (e Engine) ReviewIteration(ctx context.Context, actor domain.Actor, projectID, iterationID string, decision iteration.Decision, notes string) (Result, error) {
	if !decision.Valid() {
		return Result{}, apperr.InvalidArgument("unknown review decision %q", decision)
	}
	return e.run(ctx, "review_iteration", projectID, actor, func(ctx context.Context, c *change) error {
		p := c.project()
		var action statemachine.Action
		switch {
		case p.Status == domain.StatusUnderMentorReview && decision == iteration.DecisionApprove:
			action = statemachine.ActionMentorApprove
		case p.Status == domain.StatusUnderMentorReview:
			action = statemachine.ActionMentorRequestRevision
		case p.Status == domain.StatusClientReview && decision == iteration.DecisionApprove:
			action = statemachine.ActionClientApprove
		case p.Status == domain.StatusClientReview:
			action = statemachine.ActionClientRequestRevision
		default:
			return apperr.IllegalTransition(string(p.Status), "review_"+string(decision))
		}
		if err := c.authorize(action); err != nil {
			return err
		}
		id := iterationID
		if id == "" {
			pending, ok := c.tracker.Pending()
			if !ok {
				return apperr.InvalidState("project %s has no iteration awaiting review", projectID)
			}
			id = pending.ID
		}
		if decision == iteration.DecisionRequestRevision {
			if used := c.tracker.CurrentRevisionCount(projectID); used >= p.MaxRevisions {
				return apperr.WithMetadata(apperr.KindRevisionLimitExceeded,
					fmt.Sprintf("project %s has used %d of %d revisions", projectID, used, p.MaxRevisions),
					map[string]string{"used": fmt.Sprint(used), "max": fmt.Sprint(p.MaxRevisions)})
			}
		}
		if err := c.transition(action); err != nil {
			return err
		}
		reviewed, signal, err := c.tracker.Review(id, actor.ID, actor.Role, decision, notes)
		if err != nil {
			return err
		}
		c.iterationChanged(reviewed, "iteration.reviewed", events.Payload{"decision": decision, "review_stage": reviewed.ReviewStage})

		if signal == iteration.SignalRevise {
			p.RevisionCount = c.tracker.CurrentRevisionCount(projectID)
			c.advance()
			return nil
		}
		switch action {
		case statemachine.ActionMentorApprove:
			c.advance()
			fwd, err := c.tracker.Forward(projectID, reviewed, actor.ID, actor.Role)
			if err != nil {
				return err
			}
			c.iterationChanged(fwd, "iteration.forwarded", events.Payload{"forwarded_from": fwd.ForwardedFrom})
		case statemachine.ActionClientApprove:
			pay, trail, err := e.ledger().ReleaseToMentor(ctx, c.agg.Escrow, *p)
			if err != nil {
				return err
			}
			c.payments(trail, pay)
			pay, trail, err = e.ledger().ReleaseToStudent(ctx, c.agg.Escrow, *p)
			if err != nil {
				return err
			}
			c.payments(trail, pay)
		}
		return nil
	})
}

// OpenDispute freezes the project and its escrow until an admin resolves it.
func (e Engine) OpenDispute(ctx context.Context, actor domain.Actor, projectID, reason string) (Result, error) {
	return e.run(ctx, "dispute", projectID, actor, func(ctx context.Context, c *change) error {
		if status := c.project().Status; !statemachine.Disputable(status) {
			return apperr.IllegalTransition(string(status), string(statemachine.ActionDispute))
		}
		if err := c.transition(statemachine.ActionDispute); err != nil {
			return err
		}
		c.event("project.dispute_opened", "project", projectID, events.Payload{"reason": reason})
		if c.agg.Escrow == nil || c.agg.Escrow.Status.Terminal() {
			return nil
		}
		pay, trail, err := e.ledger().OpenDispute(c.agg.Escrow, reason)
		if err != nil {
			return err
		}
		c.payments(trail, pay)
		return nil
	})
}

// ResolveDispute either reinstates the project and escrow to where they were
// before the dispute, or cancels the project and refunds the client.
func (e Engine) ResolveDispute(ctx context.Context, actor domain.Actor, projectID string, outcome escrow.Resolution) (Result, error) {
	if !outcome.Valid() {
		return Result{}, apperr.InvalidArgument("unknown dispute resolution %q", outcome)
	}
	action := statemachine.ActionResolveReinstate
	if outcome == escrow.ResolveRefund {
		action = statemachine.ActionResolveRefund
	}
	return e.run(ctx, string(action), projectID, actor, func(ctx context.Context, c *change) error {
		if err := c.transition(action); err != nil {
			return err
		}
		if c.agg.Escrow == nil || c.agg.Escrow.Status != domain.PaymentDisputed {
			return nil
		}
		pay, trail, err := e.ledger().ResolveDispute(ctx, c.agg.Escrow, *c.project(), outcome)
		if err != nil {
			return err
		}
		c.payments(trail, pay)
		return nil
	})
}

// CancelProject withdraws a project before a student is assigned and
// refunds anything held.
func (e Engine) CancelProject(ctx context.Context, actor domain.Actor, projectID, reason string) (Result, error) {
	return e.run(ctx, "cancel", projectID, actor, func(ctx context.Context, c *change) error {
		if err := c.transition(statemachine.ActionCancel); err != nil {
			return err
		}
		if reason != "" {
			c.event("project.cancel_reason", "project", projectID, events.Payload{"reason": reason})
		}
		if c.agg.Escrow == nil {
			return nil
		}
		pay, trail, err := e.ledger().Refund(ctx, c.agg.Escrow, *c.project())
		if err != nil {
			return err
		}
		c.payments(trail, pay)
		return nil
	})
}

// ConfirmPayment closes a completed project once its escrow has paid out.
func (e Engine) ConfirmPayment(ctx context.Context, actor domain.Actor, projectID string) (Result, error) {
	return e.simple(ctx, statemachine.ActionConfirmPayment, projectID, actor, func(c *change) error {
		if c.agg.Escrow == nil || c.agg.Escrow.Status != domain.PaymentCompleted {
			return apperr.InvalidState("escrow of project %s has not completed", projectID)
		}
		return nil
	})
}

// GrantRevisions raises a project's revision cap. Admin only.
func (e Engine) GrantRevisions(ctx context.Context, actor domain.Actor, projectID string, extra int) (Result, error) {
	if extra <= 0 {
		return Result{}, apperr.InvalidArgument("granted revisions must be positive")
	}
	return e.run(ctx, "grant_revisions", projectID, actor, func(ctx context.Context, c *change) error {
		if actor.Role != domain.RoleAdmin {
			return apperr.Forbidden("only admins grant extra revisions")
		}
		p := c.project()
		if p.Status.Terminal() {
			return apperr.IllegalTransition(string(p.Status), "grant_revisions")
		}
		p.MaxRevisions += extra
		p.UpdatedAt = e.ts()
		c.event("project.revisions_granted", "project", p.ID, events.Payload{"extra": extra, "max_revisions": p.MaxRevisions})
		return nil
	})
}

func validDeadline(d *string) error {
	if d == nil || *d == "" {
		return nil
	}
	if _, err := time.Parse(time.RFC3339, *d); err != nil {
		return apperr.InvalidArgument("deadline %q is not an RFC3339 timestamp", *d)
	}
	return nil
}
