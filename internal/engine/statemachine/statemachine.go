// Package statemachine owns the project lifecycle: the transition table, the
// role permissions attached to each transition, and milestone ordering.
package statemachine

import (
	"studioflow/internal/apperr"
	"studioflow/internal/domain"
)

// Action is a named lifecycle transition.
type Action string

const (
	ActionSubmit                Action = "submit"
	ActionAccept                Action = "accept"
	ActionScope                 Action = "scope"
	ActionPublish               Action = "publish"
	ActionClaim                 Action = "claim"
	ActionAssignStudent         Action = "assign_student"
	ActionStart                 Action = "start"
	ActionSubmitWork            Action = "submit_work"
	ActionSubmitRevision        Action = "submit_revision"
	ActionMentorApprove         Action = "mentor_approve"
	ActionMentorRequestRevision Action = "mentor_request_revision"
	ActionClientApprove         Action = "client_approve"
	ActionClientRequestRevision Action = "client_request_revision"
	ActionAdvance               Action = "advance"
	ActionConfirmPayment        Action = "confirm_payment"
	ActionDispute               Action = "dispute"
	ActionResolveReinstate      Action = "resolve_reinstate"
	ActionResolveRefund         Action = "resolve_refund"
	ActionCancel                Action = "cancel"
)

// Rule is one row of the transition table. An empty To restores the
// pre-dispute status. Rules with no Roles are applied by the engine itself.
type Rule struct {
	Action Action
	From   domain.ProjectStatus
	To     domain.ProjectStatus
	Roles  []domain.Role
}

// Step records one applied transition.
type Step struct {
	Action Action               `json:"action"`
	From   domain.ProjectStatus `json:"from"`
	To     domain.ProjectStatus `json:"to"`
}

var (
	anyParty    = []domain.Role{domain.RoleClient, domain.RoleMentor, domain.RoleStudent, domain.RoleAdmin}
	clientAdmin = []domain.Role{domain.RoleClient, domain.RoleAdmin}
	mentorAdmin = []domain.Role{domain.RoleMentor, domain.RoleAdmin}
)

// cancellable are the states strictly before StudentAssigned.
var cancellable = []domain.ProjectStatus{
	domain.StatusDraft,
	domain.StatusSubmitted,
	domain.StatusUnderReview,
	domain.StatusScoped,
	domain.StatusPublished,
	domain.StatusClaimed,
}

// disputable are the non-terminal states strictly after Claimed.
var disputable = []domain.ProjectStatus{
	domain.StatusStudentAssigned,
	domain.StatusInProgress,
	domain.StatusUnderMentorReview,
	domain.StatusRevisionRequested,
	domain.StatusMentorApproved,
	domain.StatusClientReview,
	domain.StatusClientRevisionRequested,
	domain.StatusCompleted,
}

var table = buildTable()

type key struct {
	action Action
	from   domain.ProjectStatus
}

func buildTable() map[key]Rule {
	rules := []Rule{
		{ActionSubmit, domain.StatusDraft, domain.StatusSubmitted, clientAdmin},
		{ActionAccept, domain.StatusSubmitted, domain.StatusUnderReview, mentorAdmin},
		{ActionScope, domain.StatusUnderReview, domain.StatusScoped, mentorAdmin},
		{ActionPublish, domain.StatusScoped, domain.StatusPublished, mentorAdmin},
		{ActionClaim, domain.StatusPublished, domain.StatusClaimed, []domain.Role{domain.RoleStudent, domain.RoleAdmin}},
		{ActionAssignStudent, domain.StatusClaimed, domain.StatusStudentAssigned, mentorAdmin},
		{ActionStart, domain.StatusStudentAssigned, domain.StatusInProgress, []domain.Role{domain.RoleStudent, domain.RoleMentor, domain.RoleAdmin}},
		{ActionSubmitWork, domain.StatusInProgress, domain.StatusUnderMentorReview, []domain.Role{domain.RoleStudent}},
		{ActionSubmitRevision, domain.StatusInProgress, domain.StatusClientReview, []domain.Role{domain.RoleMentor}},
		{ActionMentorApprove, domain.StatusUnderMentorReview, domain.StatusMentorApproved, mentorAdmin},
		{ActionMentorRequestRevision, domain.StatusUnderMentorReview, domain.StatusRevisionRequested, mentorAdmin},
		{ActionAdvance, domain.StatusMentorApproved, domain.StatusClientReview, nil},
		{ActionAdvance, domain.StatusRevisionRequested, domain.StatusInProgress, nil},
		{ActionAdvance, domain.StatusClientRevisionRequested, domain.StatusInProgress, nil},
		{ActionClientApprove, domain.StatusClientReview, domain.StatusCompleted, clientAdmin},
		{ActionClientRequestRevision, domain.StatusClientReview, domain.StatusClientRevisionRequested, clientAdmin},
		{ActionConfirmPayment, domain.StatusCompleted, domain.StatusPaid, []domain.Role{domain.RoleAdmin}},
		{ActionResolveReinstate, domain.StatusDisputed, "", []domain.Role{domain.RoleAdmin}},
		{ActionResolveRefund, domain.StatusDisputed, domain.StatusCancelled, []domain.Role{domain.RoleAdmin}},
	}
	for _, s := range cancellable {
		rules = append(rules, Rule{ActionCancel, s, domain.StatusCancelled, clientAdmin})
	}
	for _, s := range disputable {
		rules = append(rules, Rule{ActionDispute, s, domain.StatusDisputed, anyParty})
	}
	out := make(map[key]Rule, len(rules))
	for _, r := range rules {
		out[key{r.Action, r.From}] = r
	}
	return out
}

// Rules returns the transition table ordered by source status rank.
func Rules() []Rule {
	out := make([]Rule, 0, len(table))
	for _, s := range allStatuses {
		for _, r := range table {
			if r.From == s {
				out = append(out, r)
			}
		}
	}
	sortByAction(out)
	return out
}

func sortByAction(rules []Rule) {
	// stable insertion sort keeps the status ordering produced by Rules
	for i := 1; i < len(rules); i++ {
		for j := i; j > 0 && rank(rules[j].From) == rank(rules[j-1].From) && rules[j].Action < rules[j-1].Action; j-- {
			rules[j], rules[j-1] = rules[j-1], rules[j]
		}
	}
}

// Can reports whether role may perform action from status, without mutating anything.
func Can(status domain.ProjectStatus, action Action, role domain.Role) error {
	_, err := lookup(status, action, role)
	return err
}

func lookup(status domain.ProjectStatus, action Action, role domain.Role) (Rule, error) {
	r, ok := table[key{action, status}]
	if !ok {
		return Rule{}, apperr.IllegalTransition(string(status), string(action))
	}
	if r.Roles == nil {
		return Rule{}, apperr.IllegalTransition(string(status), string(action))
	}
	for _, allowed := range r.Roles {
		if allowed == role {
			return r, nil
		}
	}
	return Rule{}, apperr.WithMetadata(apperr.KindForbidden,
		"role "+string(role)+" may not "+string(action)+" in "+string(status),
		map[string]string{"role": string(role), "action": string(action), "status": string(status)})
}

// Transition applies action to p on behalf of role.
func Transition(p *domain.Project, action Action, role domain.Role) (Step, error) {
	r, err := lookup(p.Status, action, role)
	if err != nil {
		return Step{}, err
	}
	return apply(p, r)
}

func apply(p *domain.Project, r Rule) (Step, error) {
	step := Step{Action: r.Action, From: p.Status, To: r.To}
	switch r.Action {
	case ActionDispute:
		p.PreDisputeStatus = p.Status
	case ActionResolveReinstate:
		if p.PreDisputeStatus == "" {
			return Step{}, apperr.InvalidState("project %s has no pre-dispute status to reinstate", p.ID)
		}
		step.To = p.PreDisputeStatus
		p.PreDisputeStatus = ""
	case ActionResolveRefund:
		p.PreDisputeStatus = ""
	}
	p.Status = step.To
	return step, nil
}

// Advance applies the automatic follow-up transitions from p's current
// status (mentor approval to client review, revision requests back to work).
func Advance(p *domain.Project) []Step {
	var steps []Step
	for {
		r, ok := table[key{ActionAdvance, p.Status}]
		if !ok {
			return steps
		}
		step, _ := apply(p, r)
		steps = append(steps, step)
	}
}

// Disputable reports whether a dispute may be opened from status.
func Disputable(status domain.ProjectStatus) bool {
	_, ok := table[key{ActionDispute, status}]
	return ok
}

var allStatuses = []domain.ProjectStatus{
	domain.StatusDraft,
	domain.StatusSubmitted,
	domain.StatusUnderReview,
	domain.StatusScoped,
	domain.StatusPublished,
	domain.StatusClaimed,
	domain.StatusStudentAssigned,
	domain.StatusInProgress,
	domain.StatusUnderMentorReview,
	domain.StatusRevisionRequested,
	domain.StatusMentorApproved,
	domain.StatusClientReview,
	domain.StatusClientRevisionRequested,
	domain.StatusCompleted,
	domain.StatusPaid,
	domain.StatusDisputed,
	domain.StatusCancelled,
}

// rank orders statuses along the happy path; branch states rank -1.
func rank(s domain.ProjectStatus) int {
	switch s {
	case domain.StatusDisputed, domain.StatusCancelled:
		return -1
	case domain.StatusRevisionRequested:
		return rank(domain.StatusUnderMentorReview)
	case domain.StatusClientRevisionRequested:
		return rank(domain.StatusClientReview)
	}
	n := 0
	for _, c := range allStatuses {
		switch c {
		case domain.StatusRevisionRequested, domain.StatusClientRevisionRequested:
			continue
		}
		if c == s {
			return n
		}
		n++
	}
	return -1
}

// Reached reports whether status is at or past milestone on the happy path.
// Disputed and Cancelled never reach a milestone.
func Reached(status, milestone domain.ProjectStatus) bool {
	r := rank(status)
	return r >= 0 && r >= rank(milestone)
}
