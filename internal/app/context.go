// Package app assembles an engine from a workspace: database, config,
// payment gateway and notification sinks.
package app

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"studioflow/internal/config"
	"studioflow/internal/db"
	"studioflow/internal/engine"
	"studioflow/internal/gateway"
	"studioflow/internal/logging"
	"studioflow/internal/migrate"
	"studioflow/internal/notify"
)

type Options struct {
	Workspace string
	// Config overrides the workspace's studioflow.yml when set.
	Config *config.Config
	// Gateway overrides the gateway chosen by config.
	Gateway gateway.Gateway
	Logger  *slog.Logger
}

// App is an opened workspace. Close releases the database and drains
// pending webhook deliveries.
type App struct {
	Engine engine.Engine
	Config *config.Config
	DB     *sql.DB

	webhook *notify.Webhook
}

// Open loads config, opens and migrates the database and builds the engine.
func Open(ctx context.Context, opts Options) (*App, error) {
	log := opts.Logger
	if log == nil {
		log = logging.Get()
	}
	cfg := opts.Config
	if cfg == nil {
		loaded, err := config.LoadOptional(opts.Workspace)
		if err != nil {
			return nil, fmt.Errorf("load config: %w", err)
		}
		cfg = loaded
	}
	conn, err := db.Open(db.Config{Workspace: opts.Workspace})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := migrate.Migrate(ctx, conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	gw := opts.Gateway
	if gw == nil {
		gw, err = NewGateway(cfg)
		if err != nil {
			conn.Close()
			return nil, err
		}
	}

	e := engine.New(conn, cfg, gw)
	e.Log = log
	e.Ledger.Log = log
	a := &App{Config: cfg, DB: conn}
	sinks := notify.Multi{notify.Log{Logger: log}}
	if len(cfg.Webhooks) > 0 {
		a.webhook = notify.NewWebhook(cfg.Webhooks, cfg.Notifications, log)
		sinks = append(sinks, a.webhook)
	}
	e.Notify = sinks
	a.Engine = e
	return a, nil
}

// NewGateway builds the payment gateway named by cfg.
func NewGateway(cfg *config.Config) (gateway.Gateway, error) {
	switch cfg.Gateway.Mode {
	case config.GatewaySandbox, "":
		return gateway.NewSandbox(), nil
	case config.GatewayHTTP:
		c := gateway.NewHTTPClient(cfg.Gateway.BaseURL, cfg.Gateway.APIKey)
		c.Timeout = cfg.GatewayTimeout()
		return c, nil
	default:
		return nil, fmt.Errorf("unknown gateway mode %q", cfg.Gateway.Mode)
	}
}

func (a *App) Close() error {
	if a.webhook != nil {
		a.webhook.Close()
	}
	return a.DB.Close()
}
