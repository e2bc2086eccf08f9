package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	if cfg.Workflow.DefaultMaxRevisions != 3 || cfg.Workflow.DefaultCurrency != "USD" {
		t.Fatalf("unexpected defaults %+v", cfg.Workflow)
	}
	if cfg.Gateway.Mode != GatewaySandbox || cfg.GatewayRetries() != 1 {
		t.Fatalf("unexpected gateway defaults %+v", cfg.Gateway)
	}
}

func TestFromYAMLFillsDefaults(t *testing.T) {
	cfg, err := FromYAML([]byte("workflow:\n  default_currency: eur\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Workflow.DefaultCurrency != "EUR" || cfg.Workflow.Retry.Attempts != 3 || cfg.Gateway.Mode != GatewaySandbox {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.Server.Addr != ":8080" || cfg.Server.BasePath != "/v1" || cfg.Server.RequestsPerMinute != 0 {
		t.Fatalf("server defaults not applied: %+v", cfg.Server)
	}
}

func TestValidateRejects(t *testing.T) {
	cases := map[string]string{
		"http without url": "gateway:\n  mode: http\n",
		"unknown mode":     "gateway:\n  mode: carrier-pigeon\n",
		"bad currency":     "workflow:\n  default_currency: euro\n",
		"webhook url":      "webhooks:\n  - events: [project.created]\n",
		"negative retries": "gateway:\n  retries: -1\n",
		"relative base":    "server:\n  base_path: v1\n",
	}
	for name, doc := range cases {
		if _, err := FromYAML([]byte(doc)); err == nil {
			t.Errorf("%s: expected validation error", name)
		}
	}
}

func TestLoadOptional(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadOptional(dir)
	if err != nil || cfg == nil {
		t.Fatalf("expected default config, got %v %v", cfg, err)
	}
	if _, err := Load(dir); err == nil || !strings.Contains(err.Error(), "not found") {
		t.Fatalf("expected not found error, got %v", err)
	}
	doc := "workflow:\n  default_max_revisions: 5\nwebhooks:\n  - url: http://localhost/hook\n    events: [iteration.reviewed]\n"
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(doc), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err = Load(dir)
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Workflow.DefaultMaxRevisions != 5 || len(cfg.Webhooks) != 1 {
		t.Fatalf("unexpected config %+v", cfg)
	}
}
