package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleYAML = `
platforms:
  - id: "proxmox:pve01"
    kind: proxmox
    endpoint: "https://pve01.lab:8006"
    credentials_ref: "proxmox/pve01#token"
    default_node: "pve01"
ip_pools:
  - cidr: "10.101.0.0/24"
    range_start: "10.101.0.30"
    range_end: "10.101.0.40"
    gateway: "10.101.0.1"
`

func TestLoadAppliesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "glassdome.yaml")
	if err := os.WriteFile(path, []byte(sampleYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.Platforms) != 1 {
		t.Fatalf("expected 1 platform, got %d", len(cfg.Platforms))
	}
	if cfg.Orchestrator.MaxConcurrency.VM != 8 {
		t.Errorf("expected default vm concurrency 8, got %d", cfg.Orchestrator.MaxConcurrency.VM)
	}
	if cfg.Overseer.MassActionCap != 5 {
		t.Errorf("expected default mass action cap 5, got %d", cfg.Overseer.MassActionCap)
	}
	if !cfg.Platforms[0].VerifyTLSOrDefault() {
		t.Errorf("expected verify_tls to default true")
	}
}

func TestValidateRequiresAtLeastOnePlatform(t *testing.T) {
	cfg := (&Config{}).WithDefaults()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for empty platforms")
	}
}

func TestValidateRejectsDuplicatePlatformIDs(t *testing.T) {
	cfg := (&Config{Platforms: []PlatformConfig{
		{ID: "a", Kind: "proxmox"},
		{ID: "a", Kind: "proxmox"},
	}}).WithDefaults()
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for duplicate platform id")
	}
}
