package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"studioflow/internal/config"
	"studioflow/internal/logging"
)

func TestMultiAndRecorder(t *testing.T) {
	a, b := &Recorder{}, &Recorder{}
	m := Multi{a, nil, b, Log{Logger: logging.Discard()}}
	m.Emit(context.Background(), New(time.Now(), "project.created", "p1", "client-1", nil))
	if len(a.Items()) != 1 || len(b.Items()) != 1 {
		t.Fatalf("expected fan-out to both recorders")
	}
	if a.Types()[0] != "project.created" {
		t.Fatalf("unexpected type %v", a.Types())
	}
}

func TestNewStampsGivenTime(t *testing.T) {
	at := time.Date(2024, 3, 1, 12, 0, 0, 0, time.FixedZone("x", 3600))
	n := New(at, "escrow.refunded", "p1", "admin-1", map[string]any{"amount": 10})
	if n.TS != "2024-03-01T11:00:00Z" {
		t.Fatalf("expected UTC timestamp, got %s", n.TS)
	}
	if n.Type != "escrow.refunded" || n.ProjectID != "p1" || n.ActorID != "admin-1" {
		t.Fatalf("unexpected notification %+v", n)
	}
	Nop{}.Emit(context.Background(), n)
}

func TestWebhookDeliversFilteredEvents(t *testing.T) {
	var mu sync.Mutex
	var got []Notification
	var headers []http.Header
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var n Notification
		_ = json.NewDecoder(r.Body).Decode(&n)
		mu.Lock()
		got = append(got, n)
		headers = append(headers, r.Header.Clone())
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	disabled := false
	hooks := []config.WebhookConfig{
		{URL: srv.URL, Events: []string{"escrow.*", "iteration.reviewed"}, Secret: "s3cret"},
		{URL: srv.URL, Enabled: &disabled},
	}
	w := NewWebhook(hooks, config.NotificationsConfig{}, logging.Discard())
	ctx := context.Background()
	w.Emit(ctx, New(time.Now(), "project.created", "p1", "a", nil))
	w.Emit(ctx, New(time.Now(), "escrow.escrowed", "p1", "a", map[string]any{"amount": 100}))
	w.Emit(ctx, New(time.Now(), "iteration.reviewed", "p1", "a", nil))
	w.Close()
	w.Emit(ctx, New(time.Now(), "escrow.refunded", "p1", "a", nil))

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(got))
	}
	if got[0].Type != "escrow.escrowed" || got[1].Type != "iteration.reviewed" {
		t.Fatalf("unexpected deliveries %+v", got)
	}
	if headers[0].Get("X-Studioflow-Secret") != "s3cret" || headers[0].Get("X-Studioflow-Project") != "p1" {
		t.Fatalf("missing delivery headers %v", headers[0])
	}
}

func TestEventFilter(t *testing.T) {
	f := newEventFilter([]string{" project.* ", ""})
	if !f.match("project.submitted") || f.match("escrow.escrowed") {
		t.Fatal("prefix filter mismatch")
	}
	if !newEventFilter(nil).match("anything") {
		t.Fatal("empty filter should match all")
	}
}
