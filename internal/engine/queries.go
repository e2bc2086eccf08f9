package engine

import (
	"context"
	"errors"

	"studioflow/internal/apperr"
	"studioflow/internal/domain"
	"studioflow/internal/engine/auth"
	"studioflow/internal/repo"
)

// ProjectView is a project with everything attached to it.
type ProjectView struct {
	Project    domain.Project        `json:"project"`
	Iterations []domain.Iteration    `json:"iterations"`
	Escrow     *domain.EscrowPayment `json:"escrow,omitempty"`
	Overdue    []string              `json:"overdue,omitempty"`
}

func (e Engine) load(ctx context.Context, actor domain.Actor, projectID string) (repo.Aggregate, error) {
	if err := validActor(actor); err != nil {
		return repo.Aggregate{}, err
	}
	agg, err := e.Repo.LoadAggregate(ctx, projectID)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return repo.Aggregate{}, apperr.NotFound("project", projectID)
		}
		return repo.Aggregate{}, err
	}
	if !auth.CanView(agg.Project, actor) {
		// invisible projects look absent
		return repo.Aggregate{}, apperr.NotFound("project", projectID)
	}
	return agg, nil
}

func (e Engine) GetProject(ctx context.Context, actor domain.Actor, projectID string) (ProjectView, error) {
	agg, err := e.load(ctx, actor, projectID)
	if err != nil {
		return ProjectView{}, err
	}
	its := agg.Iterations
	if its == nil {
		its = []domain.Iteration{}
	}
	return ProjectView{
		Project:    agg.Project,
		Iterations: its,
		Escrow:     agg.Escrow,
		Overdue:    agg.Project.Overdue(e.now()),
	}, nil
}

// GetProjectByNumber resolves a project by its short number.
func (e Engine) GetProjectByNumber(ctx context.Context, actor domain.Actor, number int64) (ProjectView, error) {
	p, err := e.Repo.GetProjectByNumber(ctx, number)
	if err != nil {
		if errors.Is(err, repo.ErrNotFound) {
			return ProjectView{}, apperr.New(apperr.KindNotFound, "project #%d not found", number)
		}
		return ProjectView{}, err
	}
	return e.GetProject(ctx, actor, p.ID)
}

type ListOptions struct {
	Status domain.ProjectStatus
	// Mine restricts the list to projects the actor is a party of.
	Mine  bool
	Limit int
}

// ListProjects returns the projects actor may see, newest first.
func (e Engine) ListProjects(ctx context.Context, actor domain.Actor, opts ListOptions) ([]domain.Project, error) {
	if err := validActor(actor); err != nil {
		return nil, err
	}
	f := repo.ProjectFilters{Status: string(opts.Status)}
	if opts.Mine && actor.Role != domain.RoleAdmin {
		f.ActorID = actor.ID
	}
	if actor.Role == domain.RoleAdmin {
		f.Limit = opts.Limit
	}
	all, err := e.Repo.ListProjects(ctx, f)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Project, 0, len(all))
	for _, p := range all {
		if opts.Mine && !auth.IsParty(p, actor) {
			continue
		}
		if !auth.CanView(p, actor) {
			continue
		}
		out = append(out, p)
		if opts.Limit > 0 && len(out) == opts.Limit {
			break
		}
	}
	return out, nil
}

func (e Engine) ListIterations(ctx context.Context, actor domain.Actor, projectID string) ([]domain.Iteration, error) {
	agg, err := e.load(ctx, actor, projectID)
	if err != nil {
		return nil, err
	}
	if agg.Iterations == nil {
		return []domain.Iteration{}, nil
	}
	return agg.Iterations, nil
}

// ProjectEvents returns a project's history newest first. Only parties see it.
func (e Engine) ProjectEvents(ctx context.Context, actor domain.Actor, projectID string, limit int, cursor int64, evtType string) ([]domain.Event, error) {
	agg, err := e.load(ctx, actor, projectID)
	if err != nil {
		return nil, err
	}
	if !auth.IsParty(agg.Project, actor) {
		return nil, apperr.Forbidden("%s is not a party of project %s", actor.ID, projectID)
	}
	return e.Repo.LatestEvents(ctx, limit, cursor, projectID, evtType)
}

// Feed returns every event after cursor in order. Admin only; it backs
// exports and sinks that replay history.
func (e Engine) Feed(ctx context.Context, actor domain.Actor, cursor int64, limit int) ([]domain.Event, error) {
	if err := validActor(actor); err != nil {
		return nil, err
	}
	if actor.Role != domain.RoleAdmin {
		return nil, apperr.Forbidden("only admins read the event feed")
	}
	return e.Repo.EventsAfter(ctx, limit, cursor, "")
}
