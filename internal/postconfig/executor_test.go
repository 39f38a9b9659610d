package postconfig

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/ntounix-prog/glassdome/internal/domain"
	"github.com/ntounix-prog/glassdome/internal/errs"
)

func writeFakeBinary(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "fake-ansible-playbook")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755); err != nil {
		t.Fatalf("write fake binary: %v", err)
	}
	return path
}

func TestRunRejectsStepWithoutPlaybookRef(t *testing.T) {
	dir := t.TempDir()
	exec := &Executor{Binary: writeFakeBinary(t, dir, "exit 0\n"), WorkDir: dir}
	err := exec.Run(context.Background(), "vm-1", "10.0.0.5", []domain.PostConfigStep{{}})
	gerr, ok := errs.As(err)
	if !ok || gerr.Kind != errs.Validation {
		t.Fatalf("expected Validation error, got %v", err)
	}
}

func TestRunRejectsMissingHost(t *testing.T) {
	dir := t.TempDir()
	exec := &Executor{Binary: writeFakeBinary(t, dir, "exit 0\n"), WorkDir: dir}
	steps := []domain.PostConfigStep{{PlaybookRef: "harden.yml"}}
	err := exec.Run(context.Background(), "vm-1", "", steps)
	gerr, ok := errs.As(err)
	if !ok || gerr.Kind != errs.Validation {
		t.Fatalf("expected Validation error for missing host, got %v", err)
	}
}

func TestRunSucceedsAgainstFakeBinary(t *testing.T) {
	dir := t.TempDir()
	exec := &Executor{Binary: writeFakeBinary(t, dir, "exit 0\n"), WorkDir: dir}
	steps := []domain.PostConfigStep{{PlaybookRef: "harden.yml", Group: "web", Vars: map[string]string{"role": "victim"}}}
	if err := exec.Run(context.Background(), "vm-1", "10.0.0.5", steps); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestRunSurfacesPlaybookFailure(t *testing.T) {
	dir := t.TempDir()
	exec := &Executor{Binary: writeFakeBinary(t, dir, "echo boom >&2\nexit 1\n"), WorkDir: dir}
	steps := []domain.PostConfigStep{{PlaybookRef: "harden.yml"}}
	err := exec.Run(context.Background(), "vm-1", "10.0.0.5", steps)
	gerr, ok := errs.As(err)
	if !ok || gerr.Kind != errs.Permanent {
		t.Fatalf("expected Permanent error, got %v", err)
	}
}
