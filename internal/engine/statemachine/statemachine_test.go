package statemachine

import (
	"errors"
	"testing"

	"studioflow/internal/apperr"
	"studioflow/internal/domain"
)

func TestHappyPathTransitions(t *testing.T) {
	p := &domain.Project{ID: "p1", Status: domain.StatusDraft}
	steps := []struct {
		action Action
		role   domain.Role
		want   domain.ProjectStatus
	}{
		{ActionSubmit, domain.RoleClient, domain.StatusSubmitted},
		{ActionAccept, domain.RoleMentor, domain.StatusUnderReview},
		{ActionScope, domain.RoleMentor, domain.StatusScoped},
		{ActionPublish, domain.RoleAdmin, domain.StatusPublished},
		{ActionClaim, domain.RoleStudent, domain.StatusClaimed},
		{ActionAssignStudent, domain.RoleMentor, domain.StatusStudentAssigned},
		{ActionStart, domain.RoleStudent, domain.StatusInProgress},
		{ActionSubmitWork, domain.RoleStudent, domain.StatusUnderMentorReview},
		{ActionMentorApprove, domain.RoleMentor, domain.StatusMentorApproved},
	}
	for _, s := range steps {
		step, err := Transition(p, s.action, s.role)
		if err != nil {
			t.Fatalf("%s: %v", s.action, err)
		}
		if step.To != s.want || p.Status != s.want {
			t.Fatalf("%s: expected %s, got %s", s.action, s.want, p.Status)
		}
	}
	adv := Advance(p)
	if len(adv) != 1 || p.Status != domain.StatusClientReview {
		t.Fatalf("expected auto advance to client review, got %v (%s)", adv, p.Status)
	}
	if _, err := Transition(p, ActionClientApprove, domain.RoleClient); err != nil {
		t.Fatalf("client approve: %v", err)
	}
	if _, err := Transition(p, ActionConfirmPayment, domain.RoleAdmin); err != nil {
		t.Fatalf("confirm payment: %v", err)
	}
	if p.Status != domain.StatusPaid {
		t.Fatalf("expected paid, got %s", p.Status)
	}
}

func TestNoSkipping(t *testing.T) {
	p := &domain.Project{Status: domain.StatusDraft}
	_, err := Transition(p, ActionScope, domain.RoleAdmin)
	if !errors.Is(err, apperr.ErrIllegalTransition) {
		t.Fatalf("expected illegal transition, got %v", err)
	}
	var ae *apperr.Error
	if !errors.As(err, &ae) || ae.Metadata["current"] != "draft" || ae.Metadata["attempted"] != "scope" {
		t.Fatalf("expected current/attempted metadata, got %+v", ae)
	}
	if p.Status != domain.StatusDraft {
		t.Fatalf("status changed on failure")
	}
}

func TestRoleTable(t *testing.T) {
	cases := []struct {
		status domain.ProjectStatus
		action Action
		role   domain.Role
		kind   apperr.Kind
	}{
		{domain.StatusDraft, ActionSubmit, domain.RoleStudent, apperr.KindForbidden},
		{domain.StatusPublished, ActionClaim, domain.RoleMentor, apperr.KindForbidden},
		{domain.StatusInProgress, ActionSubmitWork, domain.RoleMentor, apperr.KindForbidden},
		{domain.StatusInProgress, ActionSubmitRevision, domain.RoleStudent, apperr.KindForbidden},
		{domain.StatusClientReview, ActionClientApprove, domain.RoleMentor, apperr.KindForbidden},
		{domain.StatusCompleted, ActionConfirmPayment, domain.RoleClient, apperr.KindForbidden},
		{domain.StatusMentorApproved, ActionAdvance, domain.RoleAdmin, apperr.KindIllegalTransition},
		{domain.StatusClientReview, ActionClientApprove, domain.RoleClient, ""},
		{domain.StatusUnderMentorReview, ActionMentorApprove, domain.RoleAdmin, ""},
	}
	for _, c := range cases {
		err := Can(c.status, c.action, c.role)
		if got := apperr.KindOf(err); got != c.kind {
			t.Errorf("%s/%s/%s: expected %q, got %q (%v)", c.status, c.action, c.role, c.kind, got, err)
		}
	}
}

func TestCancelOnlyBeforeStudentAssigned(t *testing.T) {
	for _, s := range cancellable {
		if err := Can(s, ActionCancel, domain.RoleClient); err != nil {
			t.Errorf("cancel from %s: %v", s, err)
		}
	}
	for _, s := range []domain.ProjectStatus{domain.StatusStudentAssigned, domain.StatusInProgress, domain.StatusClientReview, domain.StatusCompleted} {
		if !errors.Is(Can(s, ActionCancel, domain.RoleAdmin), apperr.ErrIllegalTransition) {
			t.Errorf("expected cancel from %s to be illegal", s)
		}
	}
}

func TestDisputeWindow(t *testing.T) {
	for _, s := range []domain.ProjectStatus{domain.StatusDraft, domain.StatusPublished, domain.StatusClaimed, domain.StatusPaid, domain.StatusCancelled, domain.StatusDisputed} {
		if Disputable(s) {
			t.Errorf("dispute should not be open from %s", s)
		}
	}
	for _, s := range disputable {
		if !Disputable(s) {
			t.Errorf("dispute should be open from %s", s)
		}
	}
}

func TestDisputeReinstateRestoresStatus(t *testing.T) {
	p := &domain.Project{Status: domain.StatusUnderMentorReview}
	if _, err := Transition(p, ActionDispute, domain.RoleClient); err != nil {
		t.Fatal(err)
	}
	if p.Status != domain.StatusDisputed || p.PreDisputeStatus != domain.StatusUnderMentorReview {
		t.Fatalf("unexpected dispute state %+v", p)
	}
	if _, err := Transition(p, ActionSubmitWork, domain.RoleStudent); !errors.Is(err, apperr.ErrIllegalTransition) {
		t.Fatalf("expected work paused during dispute, got %v", err)
	}
	step, err := Transition(p, ActionResolveReinstate, domain.RoleAdmin)
	if err != nil {
		t.Fatal(err)
	}
	if step.To != domain.StatusUnderMentorReview || p.PreDisputeStatus != "" {
		t.Fatalf("unexpected reinstate result %+v %+v", step, p)
	}
}

func TestDisputeAfterCompletion(t *testing.T) {
	p := &domain.Project{Status: domain.StatusCompleted}
	if _, err := Transition(p, ActionDispute, domain.RoleClient); err != nil {
		t.Fatalf("completed projects are open to dispute until paid: %v", err)
	}
	if _, err := Transition(p, ActionConfirmPayment, domain.RoleAdmin); !errors.Is(err, apperr.ErrIllegalTransition) {
		t.Fatalf("payment cannot be confirmed while disputed, got %v", err)
	}
	step, err := Transition(p, ActionResolveReinstate, domain.RoleAdmin)
	if err != nil || step.To != domain.StatusCompleted {
		t.Fatalf("reinstate should return to completed: %+v %v", step, err)
	}
}

func TestRevisionRequestsLoopBackToWork(t *testing.T) {
	p := &domain.Project{Status: domain.StatusClientReview}
	if _, err := Transition(p, ActionClientRequestRevision, domain.RoleClient); err != nil {
		t.Fatal(err)
	}
	Advance(p)
	if p.Status != domain.StatusInProgress {
		t.Fatalf("expected in progress, got %s", p.Status)
	}
}

func TestReached(t *testing.T) {
	if !Reached(domain.StatusCompleted, domain.StatusMentorApproved) {
		t.Fatal("completed should be past mentor approval")
	}
	if !Reached(domain.StatusClientRevisionRequested, domain.StatusMentorApproved) {
		t.Fatal("client revision should be past mentor approval")
	}
	if Reached(domain.StatusInProgress, domain.StatusMentorApproved) {
		t.Fatal("in progress is before mentor approval")
	}
	if Reached(domain.StatusDisputed, domain.StatusDraft) {
		t.Fatal("disputed reaches no milestone")
	}
}

func TestRulesCoverTable(t *testing.T) {
	if got := len(Rules()); got != len(table) {
		t.Fatalf("expected %d rules, got %d", len(table), got)
	}
}
