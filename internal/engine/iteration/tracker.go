// Package iteration tracks the submitted work revisions of a single project.
package iteration

import (
	"time"

	"github.com/google/uuid"

	"studioflow/internal/apperr"
	"studioflow/internal/domain"
)

type Decision string

const (
	DecisionApprove         Decision = "approve"
	DecisionRequestRevision Decision = "request_revision"
)

// Valid reports whether d is a known review decision.
func (d Decision) Valid() bool {
	return d == DecisionApprove || d == DecisionRequestRevision
}

// Signal tells the caller how the project should move after a review.
type Signal int

const (
	SignalNone Signal = iota
	SignalAdvance
	SignalRevise
)

// Tracker holds the iterations of one project, ordered by number. It keeps no
// storage of its own; the caller loads and persists Items.
type Tracker struct {
	ProjectID string
	Items     []domain.Iteration
	Now       func() time.Time
	NewID     func() string

	dirty map[string]bool
}

// NewTracker wraps the loaded iterations of projectID.
func NewTracker(projectID string, items []domain.Iteration) *Tracker {
	return &Tracker{
		ProjectID: projectID,
		Items:     items,
		Now:       time.Now,
		NewID:     func() string { return uuid.New().String() },
	}
}

func (t *Tracker) now() string {
	if t.Now == nil {
		return time.Now().UTC().Format(time.RFC3339)
	}
	return t.Now().UTC().Format(time.RFC3339)
}

func (t *Tracker) touch(id string) {
	if t.dirty == nil {
		t.dirty = map[string]bool{}
	}
	t.dirty[id] = true
}

// Changed returns the iterations modified or created since the tracker was built.
func (t *Tracker) Changed() []domain.Iteration {
	var out []domain.Iteration
	for _, it := range t.Items {
		if t.dirty[it.ID] {
			out = append(out, it)
		}
	}
	return out
}

func (t *Tracker) checkProject(projectID string) error {
	if projectID != t.ProjectID {
		return apperr.NotFound("project", projectID)
	}
	return nil
}

// Pending returns the iteration awaiting review, if any.
func (t *Tracker) Pending() (domain.Iteration, bool) {
	for _, it := range t.Items {
		if it.Status.Pending() {
			return it, true
		}
	}
	return domain.Iteration{}, false
}

// Latest returns the highest-numbered iteration.
func (t *Tracker) Latest() (domain.Iteration, bool) {
	if len(t.Items) == 0 {
		return domain.Iteration{}, false
	}
	return t.Items[len(t.Items)-1], true
}

// Submit records a new iteration. Iterations left in revision_requested are
// superseded by it.
func (t *Tracker) Submit(projectID, actorID string, role domain.Role, notes string) (domain.Iteration, error) {
	if err := t.checkProject(projectID); err != nil {
		return domain.Iteration{}, err
	}
	if p, ok := t.Pending(); ok {
		return domain.Iteration{}, apperr.InvalidState("iteration %d is still %s", p.Number, p.Status)
	}
	next := 1
	if last, ok := t.Latest(); ok {
		next = last.Number + 1
	}
	for i := range t.Items {
		if t.Items[i].Status == domain.IterationRevisionRequested {
			t.Items[i].Status = domain.IterationSuperseded
			t.touch(t.Items[i].ID)
		}
	}
	it := domain.Iteration{
		ID:            t.NewID(),
		ProjectID:     projectID,
		Number:        next,
		SubmittedBy:   actorID,
		SubmitterRole: role,
		Status:        domain.IterationSubmitted,
		Notes:         notes,
		CreatedAt:     t.now(),
	}
	t.Items = append(t.Items, it)
	t.touch(it.ID)
	return it, nil
}

// BeginReview opens a submitted iteration for review by stage.
func (t *Tracker) BeginReview(iterationID string, stage domain.ReviewStage) (domain.Iteration, error) {
	idx, err := t.index(iterationID)
	if err != nil {
		return domain.Iteration{}, err
	}
	it := &t.Items[idx]
	if it.Status != domain.IterationSubmitted {
		return *it, apperr.InvalidState("iteration %d is %s, not submitted", it.Number, it.Status)
	}
	it.Status = domain.IterationUnderReview
	it.ReviewStage = stage
	t.touch(it.ID)
	return *it, nil
}

// Forward resubmits an approved iteration for client review on behalf of
// the reviewer who approved it.
func (t *Tracker) Forward(projectID string, approved domain.Iteration, actorID string, role domain.Role) (domain.Iteration, error) {
	if approved.Status != domain.IterationApproved {
		return domain.Iteration{}, apperr.InvalidState("iteration %d is %s, not approved", approved.Number, approved.Status)
	}
	it, err := t.Submit(projectID, actorID, role, approved.Notes)
	if err != nil {
		return it, err
	}
	t.Items[len(t.Items)-1].ForwardedFrom = approved.Number
	return t.BeginReview(it.ID, domain.StageClient)
}

// Review applies the reviewer's decision to an iteration under review.
func (t *Tracker) Review(iterationID, reviewerID string, reviewerRole domain.Role, decision Decision, notes string) (domain.Iteration, Signal, error) {
	if !decision.Valid() {
		return domain.Iteration{}, SignalNone, apperr.InvalidArgument("unknown review decision %q", decision)
	}
	idx, err := t.index(iterationID)
	if err != nil {
		return domain.Iteration{}, SignalNone, err
	}
	it := &t.Items[idx]
	if it.Status != domain.IterationUnderReview {
		return *it, SignalNone, apperr.InvalidState("iteration %d is %s, not under review", it.Number, it.Status)
	}
	if !mayReview(it.ReviewStage, reviewerRole) {
		return *it, SignalNone, apperr.Forbidden("%s may not review an iteration at the %s stage", reviewerRole, it.ReviewStage)
	}
	ts := t.now()
	it.ReviewerID = &reviewerID
	it.ReviewedAt = &ts
	it.ReviewNotes = notes
	t.touch(it.ID)
	if decision == DecisionApprove {
		it.Status = domain.IterationApproved
		return *it, SignalAdvance, nil
	}
	it.Status = domain.IterationRevisionRequested
	return *it, SignalRevise, nil
}

func mayReview(stage domain.ReviewStage, role domain.Role) bool {
	if role == domain.RoleAdmin {
		return true
	}
	switch stage {
	case domain.StageMentor:
		return role == domain.RoleMentor
	case domain.StageClient:
		return role == domain.RoleClient
	}
	return false
}

// CurrentRevisionCount counts iterations that reached revision_requested,
// including those later superseded.
func (t *Tracker) CurrentRevisionCount(projectID string) int {
	if projectID != t.ProjectID {
		return 0
	}
	n := 0
	for _, it := range t.Items {
		if it.Status == domain.IterationRevisionRequested || it.Status == domain.IterationSuperseded {
			n++
		}
	}
	return n
}

func (t *Tracker) index(iterationID string) (int, error) {
	for i, it := range t.Items {
		if it.ID == iterationID {
			return i, nil
		}
	}
	return -1, apperr.NotFound("iteration", iterationID)
}
