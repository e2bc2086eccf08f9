package domain

import "time"

// Role identifies the party an actor acts as.
type Role string

const (
	RoleClient  Role = "client"
	RoleMentor  Role = "mentor"
	RoleStudent Role = "student"
	RoleAdmin   Role = "admin"
)

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	switch r {
	case RoleClient, RoleMentor, RoleStudent, RoleAdmin:
		return true
	}
	return false
}

// Actor is the identity every workflow action is performed by.
type Actor struct {
	ID   string `json:"id"`
	Role Role   `json:"role" enum:"client,mentor,student,admin"`
}

type ProjectStatus string

const (
	StatusDraft                   ProjectStatus = "draft"
	StatusSubmitted               ProjectStatus = "submitted"
	StatusUnderReview             ProjectStatus = "under_review"
	StatusScoped                  ProjectStatus = "scoped"
	StatusPublished               ProjectStatus = "published"
	StatusClaimed                 ProjectStatus = "claimed"
	StatusStudentAssigned         ProjectStatus = "student_assigned"
	StatusInProgress              ProjectStatus = "in_progress"
	StatusUnderMentorReview       ProjectStatus = "under_mentor_review"
	StatusRevisionRequested       ProjectStatus = "revision_requested"
	StatusMentorApproved          ProjectStatus = "mentor_approved"
	StatusClientReview            ProjectStatus = "client_review"
	StatusClientRevisionRequested ProjectStatus = "client_revision_requested"
	StatusCompleted               ProjectStatus = "completed"
	StatusPaid                    ProjectStatus = "paid"
	StatusDisputed                ProjectStatus = "disputed"
	StatusCancelled               ProjectStatus = "cancelled"
)

// Terminal reports whether no further lifecycle transition may leave s.
func (s ProjectStatus) Terminal() bool {
	return s == StatusPaid || s == StatusCancelled
}

type ProjectType string

const (
	ProjectTypeCustom       ProjectType = "custom"
	ProjectTypeModification ProjectType = "modification"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Project is a commissioned design engagement. Amounts are minor currency units.
type Project struct {
	ID                    string        `json:"id"`
	Number                int64         `json:"number"`
	Title                 string        `json:"title"`
	Description           string        `json:"description,omitempty"`
	Requirements          string        `json:"requirements,omitempty"`
	Type                  ProjectType   `json:"type" enum:"custom,modification"`
	Category              string        `json:"category,omitempty"`
	Priority              Priority      `json:"priority" enum:"low,normal,high,urgent"`
	Scope                 string        `json:"scope,omitempty"`
	EstimatedDeliveryDays int           `json:"estimated_delivery_days,omitempty"`
	ClientFee             int64         `json:"client_fee"`
	MentorFee             int64         `json:"mentor_fee"`
	StudentFee            int64         `json:"student_fee"`
	MaxRevisions          int           `json:"max_revisions"`
	RevisionCount         int           `json:"revision_count"`
	MentorDeadline        *string       `json:"mentor_deadline,omitempty" format:"date-time"`
	StudentDeadline       *string       `json:"student_deadline,omitempty" format:"date-time"`
	ClientID              string        `json:"client_id"`
	MentorID              *string       `json:"mentor_id,omitempty"`
	StudentID             *string       `json:"student_id,omitempty"`
	Status                ProjectStatus `json:"status"`
	PreDisputeStatus      ProjectStatus `json:"pre_dispute_status,omitempty"`
	Version               int64         `json:"version"`
	CreatedAt             string        `json:"created_at" format:"date-time"`
	UpdatedAt             string        `json:"updated_at" format:"date-time"`
}

// Overdue lists which deadlines (mentor, student) have passed at now while the
// project is still open.
func (p Project) Overdue(now time.Time) []string {
	if p.Status.Terminal() || p.Status == StatusCompleted {
		return nil
	}
	var late []string
	if deadlinePassed(p.MentorDeadline, now) {
		late = append(late, "mentor")
	}
	if deadlinePassed(p.StudentDeadline, now) {
		late = append(late, "student")
	}
	return late
}

func deadlinePassed(deadline *string, now time.Time) bool {
	if deadline == nil || *deadline == "" {
		return false
	}
	ts, err := time.Parse(time.RFC3339, *deadline)
	if err != nil {
		return false
	}
	return now.After(ts)
}

type IterationStatus string

const (
	IterationSubmitted         IterationStatus = "submitted"
	IterationUnderReview       IterationStatus = "under_review"
	IterationApproved          IterationStatus = "approved"
	IterationRevisionRequested IterationStatus = "revision_requested"
	IterationSuperseded        IterationStatus = "superseded"
)

// Pending reports whether the iteration still awaits a review decision.
func (s IterationStatus) Pending() bool {
	return s == IterationSubmitted || s == IterationUnderReview
}

// ReviewStage names the party expected to review an iteration.
type ReviewStage string

const (
	StageMentor ReviewStage = "mentor"
	StageClient ReviewStage = "client"
)

// Iteration is one submitted unit of work within a project.
type Iteration struct {
	ID            string          `json:"id"`
	ProjectID     string          `json:"project_id"`
	Number        int             `json:"number"`
	SubmittedBy   string          `json:"submitted_by"`
	SubmitterRole Role            `json:"submitter_role"`
	Status        IterationStatus `json:"status" enum:"submitted,under_review,approved,revision_requested,superseded"`
	Notes         string          `json:"notes,omitempty"`
	ReviewStage   ReviewStage     `json:"review_stage,omitempty"`
	ForwardedFrom int             `json:"forwarded_from,omitempty"`
	ReviewerID    *string         `json:"reviewer_id,omitempty"`
	ReviewNotes   string          `json:"review_notes,omitempty"`
	ReviewedAt    *string         `json:"reviewed_at,omitempty" format:"date-time"`
	CreatedAt     string          `json:"created_at" format:"date-time"`
}

type PaymentStatus string

const (
	PaymentPending         PaymentStatus = "pending"
	PaymentEscrowed        PaymentStatus = "escrowed"
	PaymentMentorReleased  PaymentStatus = "mentor_released"
	PaymentStudentReleased PaymentStatus = "student_released"
	PaymentCompleted       PaymentStatus = "completed"
	PaymentDisputed        PaymentStatus = "disputed"
	PaymentRefunded        PaymentStatus = "refunded"
)

// Terminal reports whether the payment can no longer change.
func (s PaymentStatus) Terminal() bool {
	return s == PaymentCompleted || s == PaymentRefunded
}

// EscrowPayment is the funds held against a project's completion.
type EscrowPayment struct {
	ID               string        `json:"id"`
	ProjectID        string        `json:"project_id"`
	Amount           int64         `json:"amount"`
	Currency         string        `json:"currency"`
	Status           PaymentStatus `json:"status" enum:"pending,escrowed,mentor_released,student_released,completed,disputed,refunded"`
	PreDisputeStatus PaymentStatus `json:"pre_dispute_status,omitempty"`
	ChargeRef        string        `json:"charge_ref,omitempty"`
	RefundedAmount   int64         `json:"refunded_amount,omitempty"`
	DisputeReason    string        `json:"dispute_reason,omitempty"`
	CreatedAt        string        `json:"created_at" format:"date-time"`
	UpdatedAt        string        `json:"updated_at" format:"date-time"`
}

type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	ProjectID  string `json:"project_id,omitempty"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}
