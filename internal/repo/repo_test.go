package repo_test

import (
	"context"
	"errors"
	"testing"

	"studioflow/internal/db"
	"studioflow/internal/domain"
	"studioflow/internal/migrate"
	"studioflow/internal/repo"
)

func newRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(context.Background(), conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}
}

func insert(t *testing.T, r repo.Repo, id string) domain.Project {
	t.Helper()
	ctx := context.Background()
	p := domain.Project{
		ID:        id,
		Title:     "Poster",
		Type:      domain.ProjectTypeCustom,
		Priority:  domain.PriorityNormal,
		ClientID:  "client-1",
		Status:    domain.StatusDraft,
		CreatedAt: "2024-01-01T00:00:00Z",
		UpdatedAt: "2024-01-01T00:00:00Z",
	}
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer tx.Rollback()
	if err := r.InsertProject(ctx, tx, &p); err != nil {
		t.Fatalf("insert: %v", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
	return p
}

func save(r repo.Repo, agg *repo.Aggregate, changed []domain.Iteration) error {
	ctx := context.Background()
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := r.SaveAggregate(ctx, tx, agg, changed); err != nil {
		return err
	}
	return tx.Commit()
}

func TestProjectNumbers(t *testing.T) {
	r := newRepo(t)
	a := insert(t, r, "p-a")
	b := insert(t, r, "p-b")
	if a.Number != 1 || b.Number != 2 {
		t.Fatalf("expected sequential numbers, got %d %d", a.Number, b.Number)
	}
	got, err := r.GetProjectByNumber(context.Background(), 2)
	if err != nil || got.ID != "p-b" {
		t.Fatalf("lookup by number: %v %+v", err, got)
	}
	if _, err := r.GetProject(context.Background(), "missing"); !errors.Is(err, repo.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestSaveAggregateVersionCheck(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	insert(t, r, "p-1")
	first, err := r.LoadAggregate(ctx, "p-1")
	if err != nil {
		t.Fatal(err)
	}
	stale, err := r.LoadAggregate(ctx, "p-1")
	if err != nil {
		t.Fatal(err)
	}
	first.Project.Status = domain.StatusSubmitted
	if err := save(r, &first, nil); err != nil {
		t.Fatalf("save: %v", err)
	}
	if first.Project.Version != 2 {
		t.Fatalf("expected version 2, got %d", first.Project.Version)
	}
	stale.Project.Status = domain.StatusCancelled
	if err := save(r, &stale, nil); !errors.Is(err, repo.ErrVersionConflict) {
		t.Fatalf("expected version conflict, got %v", err)
	}
	got, _ := r.GetProject(ctx, "p-1")
	if got.Status != domain.StatusSubmitted {
		t.Fatalf("stale write leaked: %s", got.Status)
	}
}

func TestSinglePendingIterationEnforced(t *testing.T) {
	r := newRepo(t)
	ctx := context.Background()
	insert(t, r, "p-1")
	agg, err := r.LoadAggregate(ctx, "p-1")
	if err != nil {
		t.Fatal(err)
	}
	its := []domain.Iteration{
		{ID: "i-1", ProjectID: "p-1", Number: 1, SubmittedBy: "s", SubmitterRole: domain.RoleStudent, Status: domain.IterationUnderReview, CreatedAt: "2024-01-01T00:00:00Z"},
		{ID: "i-2", ProjectID: "p-1", Number: 2, SubmittedBy: "s", SubmitterRole: domain.RoleStudent, Status: domain.IterationSubmitted, CreatedAt: "2024-01-01T00:00:00Z"},
	}
	if err := save(r, &agg, its); err == nil {
		t.Fatal("expected the database to reject two pending iterations")
	}
	its[0].Status = domain.IterationApproved
	if err := save(r, &agg, its); err != nil {
		t.Fatalf("save: %v", err)
	}
	loaded, err := r.ListIterations(ctx, "p-1")
	if err != nil || len(loaded) != 2 || loaded[0].Number != 1 {
		t.Fatalf("unexpected iterations %v %+v", err, loaded)
	}
}
