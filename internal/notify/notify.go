// Package notify delivers best-effort notifications about workflow events.
// Emitters never fail the action that produced the event.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"studioflow/internal/logging"
)

// Notification is one event addressed to the parties of a project.
type Notification struct {
	Type      string         `json:"type"`
	ProjectID string         `json:"project_id"`
	ActorID   string         `json:"actor_id"`
	TS        string         `json:"ts"`
	Payload   map[string]any `json:"payload,omitempty"`
}

type Emitter interface {
	Emit(ctx context.Context, n Notification)
}

// New builds a notification stamped at ts.
func New(ts time.Time, evtType, projectID, actorID string, payload map[string]any) Notification {
	return Notification{
		Type:      evtType,
		ProjectID: projectID,
		ActorID:   actorID,
		TS:        ts.UTC().Format(time.RFC3339),
		Payload:   payload,
	}
}

// Nop drops everything. Engines start with it until a sink is configured.
type Nop struct{}

func (Nop) Emit(context.Context, Notification) {}

// Log writes notifications to a structured logger.
type Log struct {
	Logger *slog.Logger
}

func (l Log) Emit(ctx context.Context, n Notification) {
	logger := l.Logger
	if logger == nil {
		logger = logging.Get()
	}
	logger.InfoContext(ctx, "notification", "type", n.Type, "project_id", n.ProjectID, "actor_id", n.ActorID)
}

// Multi fans a notification out to several emitters.
type Multi []Emitter

func (m Multi) Emit(ctx context.Context, n Notification) {
	for _, e := range m {
		if e != nil {
			e.Emit(ctx, n)
		}
	}
}

// Recorder keeps every notification in memory.
type Recorder struct {
	mu    sync.Mutex
	items []Notification
}

func (r *Recorder) Emit(_ context.Context, n Notification) {
	r.mu.Lock()
	r.items = append(r.items, n)
	r.mu.Unlock()
}

// Items returns a copy of the recorded notifications.
func (r *Recorder) Items() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.items...)
}

// Types lists the recorded notification types in order.
func (r *Recorder) Types() []string {
	items := r.Items()
	out := make([]string, len(items))
	for i, n := range items {
		out[i] = n.Type
	}
	return out
}
