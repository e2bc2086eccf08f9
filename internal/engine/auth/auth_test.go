package auth

import (
	"errors"
	"testing"

	"studioflow/internal/apperr"
	"studioflow/internal/domain"
	"studioflow/internal/engine/statemachine"
)

func TestOwnership(t *testing.T) {
	mentor, student := "m1", "s1"
	p := domain.Project{ID: "p1", ClientID: "c1", MentorID: &mentor, StudentID: &student}
	cases := []struct {
		actor  domain.Actor
		action statemachine.Action
		ok     bool
	}{
		{domain.Actor{ID: "c1", Role: domain.RoleClient}, statemachine.ActionClientApprove, true},
		{domain.Actor{ID: "c2", Role: domain.RoleClient}, statemachine.ActionClientApprove, false},
		{domain.Actor{ID: "m1", Role: domain.RoleMentor}, statemachine.ActionMentorApprove, true},
		{domain.Actor{ID: "m2", Role: domain.RoleMentor}, statemachine.ActionMentorApprove, false},
		{domain.Actor{ID: "s2", Role: domain.RoleStudent}, statemachine.ActionSubmitWork, false},
		{domain.Actor{ID: "anyone", Role: domain.RoleAdmin}, statemachine.ActionResolveRefund, true},
		{domain.Actor{ID: "", Role: domain.RoleAdmin}, statemachine.ActionResolveRefund, false},
	}
	for _, c := range cases {
		err := Check(p, c.actor, c.action)
		if c.ok && err != nil {
			t.Errorf("%+v %s: unexpected %v", c.actor, c.action, err)
		}
		if !c.ok && !errors.Is(err, apperr.ErrForbidden) {
			t.Errorf("%+v %s: expected forbidden, got %v", c.actor, c.action, err)
		}
	}
}

func TestUnassignedPickUp(t *testing.T) {
	p := domain.Project{ID: "p1", ClientID: "c1", Status: domain.StatusPublished}
	if err := Check(p, domain.Actor{ID: "s9", Role: domain.RoleStudent}, statemachine.ActionClaim); err != nil {
		t.Fatalf("any student may claim an open project: %v", err)
	}
	if err := Check(p, domain.Actor{ID: "m9", Role: domain.RoleMentor}, statemachine.ActionScope); err != nil {
		t.Fatalf("an unassigned project may be scoped by any mentor: %v", err)
	}
	if !CanView(p, domain.Actor{ID: "s9", Role: domain.RoleStudent}) {
		t.Fatal("published projects are visible to students")
	}
	if CanView(p, domain.Actor{ID: "c2", Role: domain.RoleClient}) {
		t.Fatal("other clients must not see the project")
	}
}
