// Command overseer-cli is the operator-facing entry point spec §6 names:
// overseer-cli status|vms|hosts|requests|deploy|destroy. Read commands open
// the Registry's persisted snapshots directly and rebuild the in-memory
// projection (internal/registry.Registry.Restore) without starting any
// platform adapter or loop; deploy/destroy instead build the full
// application stack (same wiring as cmd/overseer) and submit one Request
// through the real gating/execute path before exiting, so a standalone
// invocation gets the same gating decisions a running daemon would make.
//
// Grounded on the teacher's cmd/slctl/main.go manual `switch cmd` dispatch
// (no cobra, stdlib flag per subcommand) generalized from an HTTP API
// client to a direct Registry/Overseer client, since this module has no
// (out-of-scope) API layer process to call over HTTP.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/ntounix-prog/glassdome/internal/app/runtime"
	"github.com/ntounix-prog/glassdome/internal/config"
	"github.com/ntounix-prog/glassdome/internal/domain"
	"github.com/ntounix-prog/glassdome/internal/errs"
	"github.com/ntounix-prog/glassdome/internal/overseer"
	"github.com/ntounix-prog/glassdome/internal/registry"
	"github.com/ntounix-prog/glassdome/internal/registry/persistence"
)

// Exit codes (spec §6 overseer-cli contract).
const (
	exitOK                  = 0
	exitOther               = 1
	exitValidation          = 2
	exitDenied              = 3
	exitPlatformUnreachable = 4
	exitTimeout             = 5
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(exitValidation)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	configPath := os.Getenv("GLASSDOME_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}

	var err error
	code := exitOK
	switch os.Args[1] {
	case "status":
		err = runStatus(ctx, configPath)
	case "vms":
		err = runVMs(ctx, configPath, os.Args[2:])
	case "hosts":
		err = runHosts(ctx, configPath)
	case "requests":
		err = runRequests(ctx, configPath)
	case "deploy":
		code, err = runDeploy(ctx, configPath, os.Args[2:])
	case "destroy":
		code, err = runDestroy(ctx, configPath, os.Args[2:])
	case "help", "-h", "--help":
		printUsage()
		return
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n", os.Args[1])
		printUsage()
		os.Exit(exitValidation)
	}

	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		if code == exitOK {
			code = classifyExitCode(err)
		}
		os.Exit(code)
	}
	os.Exit(code)
}

func printUsage() {
	fmt.Println(`overseer-cli: query and act against a glassdome Overseer deployment

Usage:
  overseer-cli status
  overseer-cli vms [--lab <id>]
  overseer-cli hosts
  overseer-cli requests
  overseer-cli deploy <lab_spec_file.yaml> --platform <id>
  overseer-cli destroy <lab_id> [--force-production]

Environment:
  GLASSDOME_CONFIG   path to the configuration file (default "config.yaml")`)
}

func classifyExitCode(err error) int {
	switch errs.KindOf(err) {
	case errs.Validation:
		return exitValidation
	case errs.ResourceMissing:
		return exitValidation
	case errs.Transient:
		return exitPlatformUnreachable
	default:
		return exitOther
	}
}

// openReadOnlyRegistry restores the Registry's projection from persisted
// snapshots without opening the event log for append, so read commands
// never contend with a running daemon's writer.
func openReadOnlyRegistry(cfg *config.Config) (*registry.Registry, error) {
	store, err := persistence.Open(cfg.Registry.PersistencePath, cfg.Registry.PersistencePath+"/events.log")
	if err != nil {
		return nil, fmt.Errorf("open registry persistence: %w", err)
	}
	reg := registry.New(nil, store)
	if err := reg.Restore(context.Background()); err != nil {
		return nil, fmt.Errorf("restore registry: %w", err)
	}
	return reg, nil
}

func runStatus(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	reg, err := openReadOnlyRegistry(cfg)
	if err != nil {
		return err
	}
	h := reg.GetOverseerHealth()
	out := struct {
		CheckedAt         time.Time                  `json:"checked_at"`
		QueueDepth        int                        `json:"queue_depth"`
		MonitorElapsedMS  int64                      `json:"monitor_elapsed_ms"`
		SyncElapsedMS     int64                      `json:"sync_elapsed_ms"`
		HealthElapsedMS   int64                      `json:"health_elapsed_ms"`
		PlatformReachable map[domain.PlatformID]bool `json:"platform_reachable"`
	}{
		CheckedAt:         h.CheckedAt,
		QueueDepth:        h.QueueDepth,
		MonitorElapsedMS:  h.MonitorElapsed.Milliseconds(),
		SyncElapsedMS:     h.SyncElapsed.Milliseconds(),
		HealthElapsedMS:   h.HealthElapsed.Milliseconds(),
		PlatformReachable: h.PlatformReachable,
	}
	return printJSON(out)
}

func runVMs(ctx context.Context, configPath string, args []string) error {
	var labFilter string
	for i := 0; i < len(args); i++ {
		if args[i] == "--lab" && i+1 < len(args) {
			labFilter = args[i+1]
			i++
		}
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	reg, err := openReadOnlyRegistry(cfg)
	if err != nil {
		return err
	}
	vms := reg.ListVMs(func(v domain.VMRecord) bool {
		return labFilter == "" || v.OwnerLab == labFilter
	})
	return printJSON(vms)
}

func runHosts(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	reg, err := openReadOnlyRegistry(cfg)
	if err != nil {
		return err
	}
	snap := reg.PlatformHealthSnapshot()
	return printJSON(snap)
}

func runRequests(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	reg, err := openReadOnlyRegistry(cfg)
	if err != nil {
		return err
	}
	reqs := reg.ListRequests(nil)
	return printJSON(reqs)
}

func loadLabSpec(path string) (domain.LabSpec, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return domain.LabSpec{}, errs.NewValidation("lab_spec_file", "read %q: %v", path, err)
	}
	var spec domain.LabSpec
	if err := yaml.Unmarshal(body, &spec); err != nil {
		return domain.LabSpec{}, errs.NewValidation("lab_spec_file", "parse %q: %v", path, err)
	}
	return spec, nil
}

func runDeploy(ctx context.Context, configPath string, args []string) (int, error) {
	if len(args) < 1 {
		return exitValidation, errors.New("deploy requires a lab spec file path")
	}
	specPath := args[0]
	var platformID string
	for i := 1; i < len(args); i++ {
		if args[i] == "--platform" && i+1 < len(args) {
			platformID = args[i+1]
			i++
		}
	}
	if platformID == "" {
		return exitValidation, errors.New("deploy requires --platform <id>")
	}

	spec, err := loadLabSpec(specPath)
	if err != nil {
		return exitValidation, err
	}

	app, err := runtime.NewApplication(ctx, configPath)
	if err != nil {
		return exitOther, err
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := app.Start(runCtx); err != nil {
		return exitOther, err
	}
	defer app.Shutdown(context.Background()) //nolint:errcheck

	params, err := overseer.EncodeDeploySpec(spec, domain.PlatformID(platformID))
	if err != nil {
		return exitValidation, err
	}
	req := domain.Request{
		Kind:          domain.RequestDeployLab,
		TargetRef:     spec.Name,
		Parameters:    params,
		Requester:     "overseer-cli",
		RequesterRole: domain.RoleOperator,
	}
	return submitAndWait(ctx, app, req)
}

func runDestroy(ctx context.Context, configPath string, args []string) (int, error) {
	if len(args) < 1 {
		return exitValidation, errors.New("destroy requires a lab id")
	}
	labID := args[0]
	force := false
	for _, a := range args[1:] {
		if a == "--force-production" {
			force = true
		}
	}

	app, err := runtime.NewApplication(ctx, configPath)
	if err != nil {
		return exitOther, err
	}
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	if err := app.Start(runCtx); err != nil {
		return exitOther, err
	}
	defer app.Shutdown(context.Background()) //nolint:errcheck

	req := domain.Request{
		Kind:            domain.RequestDestroyLab,
		TargetRef:       labID,
		ForceProduction: force,
		Requester:       "overseer-cli",
		RequesterRole:   domain.RoleAdmin,
	}
	return submitAndWait(ctx, app, req)
}

// submitAndWait submits req through the running Overseer and polls the
// Registry until it reaches a terminal ApprovalState or a 60s deadline.
func submitAndWait(ctx context.Context, app *runtime.Application, req domain.Request) (int, error) {
	saved, err := app.Overseer().Submit(ctx, req)
	if err != nil {
		return exitOther, err
	}
	if saved.ApprovalState == domain.ApprovalDenied {
		return exitDenied, fmt.Errorf("denied: %s (rule %s)", saved.DenialReason, saved.DenialRule)
	}

	deadline := time.Now().Add(60 * time.Second)
	for time.Now().Before(deadline) {
		if cur, ok := app.Registry().GetRequest(saved.RequestID); ok && cur.ApprovalState.Terminal() {
			if cur.ApprovalState == domain.ApprovalFailed {
				return exitOther, fmt.Errorf("request failed: %s", cur.DenialReason)
			}
			return printJSONCode(cur)
		}
		select {
		case <-ctx.Done():
			return exitOther, ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
	return exitTimeout, fmt.Errorf("request %s did not reach a terminal state within 60s", saved.RequestID)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printJSONCode(v any) (int, error) {
	if err := printJSON(v); err != nil {
		return exitOther, err
	}
	return exitOK, nil
}
