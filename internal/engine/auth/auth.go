// Package auth enforces project ownership on top of the role table: a role
// may perform an action, but only the parties attached to the project may
// perform it on that project.
package auth

import (
	"studioflow/internal/apperr"
	"studioflow/internal/domain"
	"studioflow/internal/engine/statemachine"
)

// IsParty reports whether actor is attached to p in the role it acts as.
func IsParty(p domain.Project, actor domain.Actor) bool {
	switch actor.Role {
	case domain.RoleAdmin:
		return true
	case domain.RoleClient:
		return p.ClientID == actor.ID
	case domain.RoleMentor:
		return is(p.MentorID, actor.ID)
	case domain.RoleStudent:
		return is(p.StudentID, actor.ID)
	}
	return false
}

// CanView reports whether actor may read p.
func CanView(p domain.Project, actor domain.Actor) bool {
	if IsParty(p, actor) {
		return true
	}
	// open projects are visible to the roles that pick them up
	switch p.Status {
	case domain.StatusSubmitted, domain.StatusUnderReview:
		return actor.Role == domain.RoleMentor && p.MentorID == nil
	case domain.StatusPublished:
		return actor.Role == domain.RoleStudent
	}
	return false
}

// Check verifies that actor owns the part of p that action touches.
func Check(p domain.Project, actor domain.Actor, action statemachine.Action) error {
	if actor.ID == "" {
		return apperr.Forbidden("actor identity required")
	}
	if actor.Role == domain.RoleAdmin {
		return nil
	}
	switch actor.Role {
	case domain.RoleMentor:
		// an unassigned mentor takes the project by accepting or scoping it
		if (action == statemachine.ActionAccept || action == statemachine.ActionScope) && p.MentorID == nil {
			return nil
		}
	case domain.RoleStudent:
		if action == statemachine.ActionClaim && p.StudentID == nil {
			return nil
		}
	}
	if !IsParty(p, actor) {
		return apperr.WithMetadata(apperr.KindForbidden,
			actor.ID+" is not the "+string(actor.Role)+" of project "+p.ID,
			map[string]string{"actor": actor.ID, "role": string(actor.Role), "action": string(action)})
	}
	return nil
}

func is(v *string, id string) bool {
	return v != nil && *v == id
}
