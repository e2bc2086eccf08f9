package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"studioflow/internal/config"
	"studioflow/internal/logging"
	"studioflow/internal/metrics"
)

const (
	defaultWebhookTimeout = 5 * time.Second
	defaultQueueSize      = 256
)

// Webhook posts notifications to the configured hooks from a background
// worker. Emit never blocks; a full queue drops the notification.
type Webhook struct {
	hooks   []config.WebhookConfig
	filters []eventFilter
	client  *http.Client
	limiter *rate.Limiter
	log     *slog.Logger
	queue   chan Notification
	seq     atomic.Int64

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewWebhook starts the delivery worker. Disabled hooks and hooks without a
// URL are ignored.
func NewWebhook(hooks []config.WebhookConfig, opts config.NotificationsConfig, logger *slog.Logger) *Webhook {
	if logger == nil {
		logger = logging.Get()
	}
	size := opts.QueueSize
	if size <= 0 {
		size = defaultQueueSize
	}
	limit := rate.Inf
	if opts.RatePerSecond > 0 {
		limit = rate.Limit(opts.RatePerSecond)
	}
	burst := opts.Burst
	if burst <= 0 {
		burst = 1
	}
	w := &Webhook{
		client:  &http.Client{Timeout: defaultWebhookTimeout},
		limiter: rate.NewLimiter(limit, burst),
		log:     logger,
		queue:   make(chan Notification, size),
		done:    make(chan struct{}),
	}
	for _, hook := range hooks {
		if hook.Enabled != nil && !*hook.Enabled {
			continue
		}
		if strings.TrimSpace(hook.URL) == "" {
			continue
		}
		w.hooks = append(w.hooks, hook)
		w.filters = append(w.filters, newEventFilter(hook.Events))
	}
	go w.run()
	return w
}

func (w *Webhook) Emit(_ context.Context, n Notification) {
	if len(w.hooks) == 0 {
		return
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.closed {
		return
	}
	select {
	case w.queue <- n:
	default:
		metrics.IncDroppedNotification("webhook")
		w.log.Warn("webhook: queue full, dropping notification", "type", n.Type, "project_id", n.ProjectID)
	}
}

// Close stops accepting notifications and waits for queued ones to be delivered.
func (w *Webhook) Close() {
	w.mu.Lock()
	if !w.closed {
		w.closed = true
		close(w.queue)
	}
	w.mu.Unlock()
	<-w.done
}

func (w *Webhook) run() {
	defer close(w.done)
	ctx := context.Background()
	for n := range w.queue {
		id := w.seq.Add(1)
		for i, hook := range w.hooks {
			if !w.filters[i].match(n.Type) {
				continue
			}
			if err := w.limiter.Wait(ctx); err != nil {
				metrics.IncDroppedNotification("webhook")
				continue
			}
			if err := w.post(ctx, hook, id, n); err != nil {
				metrics.IncDroppedNotification("webhook")
				w.log.Warn("webhook: deliver failed", "url", hook.URL, "type", n.Type, "error", err)
			}
		}
	}
}

func (w *Webhook) post(ctx context.Context, hook config.WebhookConfig, id int64, n Notification) error {
	data, err := json.Marshal(n)
	if err != nil {
		return err
	}
	client := w.client
	if hook.TimeoutSeconds > 0 {
		if timeout := time.Duration(hook.TimeoutSeconds) * time.Second; timeout != w.client.Timeout {
			client = &http.Client{Timeout: timeout}
		}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, hook.URL, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Studioflow-Event", n.Type)
	req.Header.Set("X-Studioflow-Delivery", fmt.Sprintf("%d", id))
	req.Header.Set("X-Studioflow-Project", n.ProjectID)
	if strings.TrimSpace(hook.Secret) != "" {
		req.Header.Set("X-Studioflow-Secret", hook.Secret)
	}
	res, err := client.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()
	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 4096))
		return fmt.Errorf("status %d: %s", res.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	if len(events) == 0 {
		return eventFilter{all: true}
	}
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		key := strings.TrimSpace(evt)
		if key == "" {
			continue
		}
		set[key] = struct{}{}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

// match accepts exact types and prefix wildcards such as "escrow.*".
func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	if _, ok := f.set[evt]; ok {
		return true
	}
	for key := range f.set {
		if strings.HasSuffix(key, ".*") && strings.HasPrefix(evt, strings.TrimSuffix(key, "*")) {
			return true
		}
	}
	return false
}
