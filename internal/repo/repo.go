package repo

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"studioflow/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var (
	ErrNotFound = errors.New("not found")
	// ErrVersionConflict reports that the project changed since it was loaded.
	ErrVersionConflict = errors.New("version conflict")
)

type scanner interface {
	Scan(dest ...any) error
}

const projectColumns = `id,number,title,COALESCE(description,''),COALESCE(requirements,''),type,COALESCE(category,''),priority,COALESCE(scope,''),
estimated_delivery_days,client_fee,mentor_fee,student_fee,max_revisions,revision_count,mentor_deadline,student_deadline,
client_id,mentor_id,student_id,status,COALESCE(pre_dispute_status,''),version,created_at,updated_at`

func scanProject(row scanner) (domain.Project, error) {
	var p domain.Project
	var mentorDeadline, studentDeadline, mentorID, studentID sql.NullString
	err := row.Scan(&p.ID, &p.Number, &p.Title, &p.Description, &p.Requirements, &p.Type, &p.Category, &p.Priority, &p.Scope,
		&p.EstimatedDeliveryDays, &p.ClientFee, &p.MentorFee, &p.StudentFee, &p.MaxRevisions, &p.RevisionCount,
		&mentorDeadline, &studentDeadline, &p.ClientID, &mentorID, &studentID, &p.Status, &p.PreDisputeStatus,
		&p.Version, &p.CreatedAt, &p.UpdatedAt)
	if err == sql.ErrNoRows {
		return p, ErrNotFound
	}
	if err != nil {
		return p, err
	}
	p.MentorDeadline = ptr(mentorDeadline)
	p.StudentDeadline = ptr(studentDeadline)
	p.MentorID = ptr(mentorID)
	p.StudentID = ptr(studentID)
	return p, nil
}

// InsertProject stores a new project and assigns its sequential number.
func (r Repo) InsertProject(ctx context.Context, tx *sql.Tx, p *domain.Project) error {
	if err := tx.QueryRowContext(ctx, `SELECT COALESCE(MAX(number),0)+1 FROM projects`).Scan(&p.Number); err != nil {
		return fmt.Errorf("next project number: %w", err)
	}
	if p.Version == 0 {
		p.Version = 1
	}
	_, err := tx.ExecContext(ctx, `INSERT INTO projects(id,number,title,description,requirements,type,category,priority,scope,
estimated_delivery_days,client_fee,mentor_fee,student_fee,max_revisions,revision_count,mentor_deadline,student_deadline,
client_id,mentor_id,student_id,status,pre_dispute_status,version,created_at,updated_at)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		p.ID, p.Number, p.Title, nullable(p.Description), nullable(p.Requirements), p.Type, nullable(p.Category), p.Priority, nullable(p.Scope),
		p.EstimatedDeliveryDays, p.ClientFee, p.MentorFee, p.StudentFee, p.MaxRevisions, p.RevisionCount,
		nullableStringPtr(p.MentorDeadline), nullableStringPtr(p.StudentDeadline),
		p.ClientID, nullableStringPtr(p.MentorID), nullableStringPtr(p.StudentID), p.Status, nullable(string(p.PreDisputeStatus)),
		p.Version, p.CreatedAt, p.UpdatedAt)
	return err
}

func (r Repo) GetProject(ctx context.Context, id string) (domain.Project, error) {
	return scanProject(r.DB.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE id=?`, id))
}

func (r Repo) GetProjectByNumber(ctx context.Context, number int64) (domain.Project, error) {
	return scanProject(r.DB.QueryRowContext(ctx, `SELECT `+projectColumns+` FROM projects WHERE number=?`, number))
}

type ProjectFilters struct {
	Status  string
	ActorID string
	Limit   int
}

// ListProjects returns projects newest first. ActorID matches any party.
func (r Repo) ListProjects(ctx context.Context, f ProjectFilters) ([]domain.Project, error) {
	clauses := []string{"1=1"}
	var args []any
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if f.ActorID != "" {
		clauses = append(clauses, "(client_id=? OR mentor_id=? OR student_id=?)")
		args = append(args, f.ActorID, f.ActorID, f.ActorID)
	}
	query := `SELECT ` + projectColumns + ` FROM projects WHERE ` + strings.Join(clauses, " AND ") + ` ORDER BY number DESC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Project
	for rows.Next() {
		p, err := scanProject(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, p)
	}
	return res, rows.Err()
}

const iterationColumns = `id,project_id,number,submitted_by,submitter_role,status,COALESCE(notes,''),COALESCE(review_stage,''),
forwarded_from,reviewer_id,COALESCE(review_notes,''),reviewed_at,created_at`

func scanIteration(row scanner) (domain.Iteration, error) {
	var it domain.Iteration
	var reviewer, reviewedAt sql.NullString
	err := row.Scan(&it.ID, &it.ProjectID, &it.Number, &it.SubmittedBy, &it.SubmitterRole, &it.Status, &it.Notes, &it.ReviewStage,
		&it.ForwardedFrom, &reviewer, &it.ReviewNotes, &reviewedAt, &it.CreatedAt)
	if err == sql.ErrNoRows {
		return it, ErrNotFound
	}
	if err != nil {
		return it, err
	}
	it.ReviewerID = ptr(reviewer)
	it.ReviewedAt = ptr(reviewedAt)
	return it, nil
}

// ListIterations returns a project's iterations ordered by number.
func (r Repo) ListIterations(ctx context.Context, projectID string) ([]domain.Iteration, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT `+iterationColumns+` FROM iterations WHERE project_id=? ORDER BY number ASC`, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Iteration
	for rows.Next() {
		it, err := scanIteration(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, it)
	}
	return res, rows.Err()
}

func upsertIteration(ctx context.Context, tx *sql.Tx, it domain.Iteration) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO iterations(id,project_id,number,submitted_by,submitter_role,status,notes,review_stage,
forwarded_from,reviewer_id,review_notes,reviewed_at,created_at) VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(id) DO UPDATE SET status=excluded.status, review_stage=excluded.review_stage, reviewer_id=excluded.reviewer_id,
review_notes=excluded.review_notes, reviewed_at=excluded.reviewed_at`,
		it.ID, it.ProjectID, it.Number, it.SubmittedBy, it.SubmitterRole, it.Status, nullable(it.Notes), nullable(string(it.ReviewStage)),
		it.ForwardedFrom, nullableStringPtr(it.ReviewerID), nullable(it.ReviewNotes), nullableStringPtr(it.ReviewedAt), it.CreatedAt)
	return err
}

// GetEscrow returns the escrow payment of a project.
func (r Repo) GetEscrow(ctx context.Context, projectID string) (domain.EscrowPayment, error) {
	var e domain.EscrowPayment
	err := r.DB.QueryRowContext(ctx, `SELECT id,project_id,amount,currency,status,COALESCE(pre_dispute_status,''),COALESCE(charge_ref,''),
refunded_amount,COALESCE(dispute_reason,''),created_at,updated_at FROM escrow_payments WHERE project_id=?`, projectID).
		Scan(&e.ID, &e.ProjectID, &e.Amount, &e.Currency, &e.Status, &e.PreDisputeStatus, &e.ChargeRef,
			&e.RefundedAmount, &e.DisputeReason, &e.CreatedAt, &e.UpdatedAt)
	if err == sql.ErrNoRows {
		return e, ErrNotFound
	}
	return e, err
}

func upsertEscrow(ctx context.Context, tx *sql.Tx, e domain.EscrowPayment) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO escrow_payments(id,project_id,amount,currency,status,pre_dispute_status,charge_ref,
refunded_amount,dispute_reason,created_at,updated_at) VALUES (?,?,?,?,?,?,?,?,?,?,?)
ON CONFLICT(project_id) DO UPDATE SET status=excluded.status, pre_dispute_status=excluded.pre_dispute_status,
charge_ref=excluded.charge_ref, refunded_amount=excluded.refunded_amount, dispute_reason=excluded.dispute_reason,
updated_at=excluded.updated_at`,
		e.ID, e.ProjectID, e.Amount, e.Currency, e.Status, nullable(string(e.PreDisputeStatus)), nullable(e.ChargeRef),
		e.RefundedAmount, nullable(e.DisputeReason), e.CreatedAt, e.UpdatedAt)
	return err
}

// Aggregate is everything an action reads and writes for one project.
type Aggregate struct {
	Project    domain.Project
	Iterations []domain.Iteration
	Escrow     *domain.EscrowPayment
}

// LoadAggregate reads a project with its iterations and escrow payment.
func (r Repo) LoadAggregate(ctx context.Context, projectID string) (Aggregate, error) {
	p, err := r.GetProject(ctx, projectID)
	if err != nil {
		return Aggregate{}, err
	}
	its, err := r.ListIterations(ctx, projectID)
	if err != nil {
		return Aggregate{}, fmt.Errorf("load iterations: %w", err)
	}
	agg := Aggregate{Project: p, Iterations: its}
	e, err := r.GetEscrow(ctx, projectID)
	switch {
	case err == nil:
		agg.Escrow = &e
	case !errors.Is(err, ErrNotFound):
		return Aggregate{}, fmt.Errorf("load escrow: %w", err)
	}
	return agg, nil
}

// SaveAggregate writes the project with a version check, then the changed
// iterations and the escrow payment. The project's Version is incremented
// on success; a stale version yields ErrVersionConflict.
func (r Repo) SaveAggregate(ctx context.Context, tx *sql.Tx, agg *Aggregate, changed []domain.Iteration) error {
	p := &agg.Project
	res, err := tx.ExecContext(ctx, `UPDATE projects SET title=?,description=?,requirements=?,category=?,priority=?,scope=?,
estimated_delivery_days=?,client_fee=?,mentor_fee=?,student_fee=?,max_revisions=?,revision_count=?,mentor_deadline=?,student_deadline=?,
mentor_id=?,student_id=?,status=?,pre_dispute_status=?,version=version+1,updated_at=? WHERE id=? AND version=?`,
		p.Title, nullable(p.Description), nullable(p.Requirements), nullable(p.Category), p.Priority, nullable(p.Scope),
		p.EstimatedDeliveryDays, p.ClientFee, p.MentorFee, p.StudentFee, p.MaxRevisions, p.RevisionCount,
		nullableStringPtr(p.MentorDeadline), nullableStringPtr(p.StudentDeadline),
		nullableStringPtr(p.MentorID), nullableStringPtr(p.StudentID), p.Status, nullable(string(p.PreDisputeStatus)), p.UpdatedAt,
		p.ID, p.Version)
	if err != nil {
		return fmt.Errorf("update project: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		var exists int
		if err := tx.QueryRowContext(ctx, `SELECT COUNT(*) FROM projects WHERE id=?`, p.ID).Scan(&exists); err != nil {
			return err
		}
		if exists == 0 {
			return ErrNotFound
		}
		return ErrVersionConflict
	}
	for _, it := range changed {
		if err := upsertIteration(ctx, tx, it); err != nil {
			return fmt.Errorf("save iteration %d: %w", it.Number, err)
		}
	}
	if agg.Escrow != nil {
		if err := upsertEscrow(ctx, tx, *agg.Escrow); err != nil {
			return fmt.Errorf("save escrow: %w", err)
		}
	}
	p.Version++
	return nil
}

// LatestEvents returns events newest first, starting below cursor when set.
func (r Repo) LatestEvents(ctx context.Context, limit int, cursor int64, projectID, evtType string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 50
	}
	clauses := []string{"1=1"}
	var args []any
	if projectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, projectID)
	}
	if evtType != "" {
		clauses = append(clauses, "type=?")
		args = append(args, evtType)
	}
	if cursor > 0 {
		clauses = append(clauses, "id<?")
		args = append(args, cursor)
	}
	query := fmt.Sprintf(`SELECT id,ts,type,COALESCE(project_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE %s ORDER BY id DESC LIMIT ?`,
		strings.Join(clauses, " AND "))
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

// EventsAfter returns events with IDs greater than the cursor in ascending order.
func (r Repo) EventsAfter(ctx context.Context, limit int, cursor int64, projectID string) ([]domain.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	clauses := []string{"id>?"}
	args := []any{cursor}
	if projectID != "" {
		clauses = append(clauses, "project_id=?")
		args = append(args, projectID)
	}
	query := fmt.Sprintf(`SELECT id,ts,type,COALESCE(project_id,''),entity_kind,COALESCE(entity_id,''),actor_id,payload_json FROM events WHERE %s ORDER BY id ASC LIMIT ?`,
		strings.Join(clauses, " AND "))
	args = append(args, limit)
	return r.queryEvents(ctx, query, args...)
}

func (r Repo) queryEvents(ctx context.Context, query string, args ...any) ([]domain.Event, error) {
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Event
	for rows.Next() {
		var e domain.Event
		var payload sql.NullString
		if err := rows.Scan(&e.ID, &e.TS, &e.Type, &e.ProjectID, &e.EntityKind, &e.EntityID, &e.ActorID, &payload); err != nil {
			return nil, err
		}
		if payload.Valid {
			e.Payload = payload.String
		}
		res = append(res, e)
	}
	return res, rows.Err()
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func nullableStringPtr(v *string) any {
	if v == nil || *v == "" {
		return nil
	}
	return *v
}

func ptr(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}
