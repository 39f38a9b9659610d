package postconfig

import (
	"bytes"
	"context"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/ntounix-prog/glassdome/internal/domain"
	"github.com/ntounix-prog/glassdome/internal/errs"
	"github.com/ntounix-prog/glassdome/pkg/logger"
)

// Executor invokes an ansible-playbook-compatible binary once per
// PostConfigStep, against a freshly rendered single-host inventory.
type Executor struct {
	// Binary is the executable invoked for each step, default
	// "ansible-playbook".
	Binary string
	// WorkDir is where inventory files are written; defaults to os.TempDir().
	WorkDir string
	Log     *logger.Logger
}

// New builds an Executor with the teacher's default-logger convention
// (pkg/logger.New) when log is nil.
func New(log *logger.Logger) *Executor {
	if log == nil {
		log = logger.New(logger.LoggingConfig{Level: "info", Format: "text", Output: "stdout"})
	}
	return &Executor{Binary: "ansible-playbook", WorkDir: os.TempDir(), Log: log}
}

// Run executes every step against vmName/host in order, stopping at the
// first failing step (spec §4.3: PostConfig is itself a single task in the
// DAG — partial step failure fails the whole task, which the orchestrator's
// failure isolation then contains to this VM's subtree).
func (e *Executor) Run(ctx context.Context, vmName, host string, steps []domain.PostConfigStep) error {
	for _, step := range steps {
		if err := e.runStep(ctx, vmName, host, step); err != nil {
			return err
		}
	}
	return nil
}

func (e *Executor) runStep(ctx context.Context, vmName, host string, step domain.PostConfigStep) error {
	if step.PlaybookRef == "" {
		return errs.NewValidation("playbook_ref", "post-config step for %q has no playbook_ref", vmName)
	}

	inv, err := renderInventory(vmName, host, step)
	if err != nil {
		return err
	}

	invPath := filepath.Join(e.WorkDir, "glassdome-inventory-"+vmName+".yml")
	if err := os.WriteFile(invPath, inv, 0o600); err != nil {
		return errs.NewPermanent("write inventory for %q: %v", vmName, err)
	}
	defer os.Remove(invPath)

	cmd := exec.CommandContext(ctx, e.Binary, "-i", invPath, step.PlaybookRef)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if e.Log != nil {
		e.Log.WithField("vm", vmName).WithField("playbook", step.PlaybookRef).Info("running post-config step")
	}

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return errs.NewTransient(0, "post-config step %q for %q cancelled: %v", step.PlaybookRef, vmName, ctx.Err())
		}
		return errs.NewPermanent("post-config step %q for %q failed: %v: %s", step.PlaybookRef, vmName, err, stderr.String())
	}
	return nil
}
