package server

import (
	"encoding/json"

	"studioflow/internal/domain"
	"studioflow/internal/engine"
	"studioflow/internal/engine/statemachine"
)

type CreateProjectRequest struct {
	Title                 string             `json:"title" minLength:"1"`
	Description           string             `json:"description,omitempty"`
	Requirements          string             `json:"requirements,omitempty"`
	Type                  domain.ProjectType `json:"type,omitempty" enum:"custom,modification"`
	Category              string             `json:"category,omitempty"`
	Priority              domain.Priority    `json:"priority,omitempty" enum:"low,normal,high,urgent"`
	ClientFee             int64              `json:"client_fee" minimum:"0"`
	MentorFee             int64              `json:"mentor_fee" minimum:"0"`
	StudentFee            int64              `json:"student_fee" minimum:"0"`
	MaxRevisions          *int               `json:"max_revisions,omitempty" minimum:"0"`
	EstimatedDeliveryDays int                `json:"estimated_delivery_days,omitempty" minimum:"0"`
	ClientID              string             `json:"client_id,omitempty" doc:"Owner of the project; admins only"`
}

type ScopeRequest struct {
	Scope                 string  `json:"scope" minLength:"1"`
	MentorID              string  `json:"mentor_id,omitempty"`
	ClientFee             *int64  `json:"client_fee,omitempty"`
	MentorFee             *int64  `json:"mentor_fee,omitempty"`
	StudentFee            *int64  `json:"student_fee,omitempty"`
	MaxRevisions          *int    `json:"max_revisions,omitempty"`
	EstimatedDeliveryDays *int    `json:"estimated_delivery_days,omitempty"`
	MentorDeadline        *string `json:"mentor_deadline,omitempty" format:"date-time"`
	StudentDeadline       *string `json:"student_deadline,omitempty" format:"date-time"`
}

type FundRequest struct {
	Amount   int64  `json:"amount,omitempty" doc:"Minor units; defaults to the client fee"`
	Currency string `json:"currency,omitempty" doc:"ISO 4217 code; defaults to the configured currency"`
}

type StudentRequest struct {
	StudentID string `json:"student_id,omitempty"`
}

type SubmitIterationRequest struct {
	Notes string `json:"notes,omitempty"`
}

type ReviewRequest struct {
	IterationID string `json:"iteration_id,omitempty" doc:"Defaults to the iteration awaiting review"`
	Decision    string `json:"decision" enum:"approve,request_revision"`
	Notes       string `json:"notes,omitempty"`
}

type ReasonRequest struct {
	Reason string `json:"reason,omitempty"`
}

type ResolveRequest struct {
	Outcome string `json:"outcome" enum:"reinstate,refund"`
}

type GrantRevisionsRequest struct {
	Extra int `json:"extra" minimum:"1"`
}

type RuleResponse struct {
	Action string   `json:"action"`
	From   string   `json:"from"`
	To     string   `json:"to,omitempty"`
	Roles  []string `json:"roles"`
}

type EventResponse struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts" format:"date-time"`
	Type       string         `json:"type"`
	ProjectID  string         `json:"project_id,omitempty"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id,omitempty"`
	ActorID    string         `json:"actor_id"`
	Payload    map[string]any `json:"payload"`
}

type paginatedEvents struct {
	Items      []EventResponse `json:"items"`
	NextCursor string          `json:"next_cursor,omitempty"`
}

type WhoAmIResponse struct {
	ActorID string `json:"actor_id"`
	Role    string `json:"role"`
	Source  string `json:"source"`
}

type DevLoginRequest struct {
	ActorID string `json:"actor_id" minLength:"1"`
	Role    string `json:"role" enum:"client,mentor,student,admin"`
}

type DevLoginResponse struct {
	Token string `json:"token"`
}

type resultBody struct {
	Body engine.Result `json:"body"`
}

func eventResponse(e domain.Event) EventResponse {
	payload := map[string]any{}
	if e.Payload != "" {
		_ = json.Unmarshal([]byte(e.Payload), &payload)
	}
	return EventResponse{
		ID:         e.ID,
		TS:         e.TS,
		Type:       e.Type,
		ProjectID:  e.ProjectID,
		EntityKind: e.EntityKind,
		EntityID:   e.EntityID,
		ActorID:    e.ActorID,
		Payload:    payload,
	}
}

func ruleResponse(r statemachine.Rule) RuleResponse {
	roles := make([]string, 0, len(r.Roles))
	for _, role := range r.Roles {
		roles = append(roles, string(role))
	}
	return RuleResponse{Action: string(r.Action), From: string(r.From), To: string(r.To), Roles: roles}
}

func (r CreateProjectRequest) options() engine.ProjectCreateOptions {
	return engine.ProjectCreateOptions{
		Title:                 r.Title,
		Description:           r.Description,
		Requirements:          r.Requirements,
		Type:                  r.Type,
		Category:              r.Category,
		Priority:              r.Priority,
		ClientFee:             r.ClientFee,
		MentorFee:             r.MentorFee,
		StudentFee:            r.StudentFee,
		MaxRevisions:          r.MaxRevisions,
		EstimatedDeliveryDays: r.EstimatedDeliveryDays,
		ClientID:              r.ClientID,
	}
}

func (r ScopeRequest) options() engine.ScopeOptions {
	return engine.ScopeOptions{
		Scope:                 r.Scope,
		MentorID:              r.MentorID,
		ClientFee:             r.ClientFee,
		MentorFee:             r.MentorFee,
		StudentFee:            r.StudentFee,
		MaxRevisions:          r.MaxRevisions,
		EstimatedDeliveryDays: r.EstimatedDeliveryDays,
		MentorDeadline:        r.MentorDeadline,
		StudentDeadline:       r.StudentDeadline,
	}
}
