// Package runtime is the composition root: it reads configuration, resolves
// secrets, builds one Platform Adapter per configured platform, and wires
// the Registry, polling agents, drift detector, IP pool manager, post-config
// executor, Lab Orchestrator and Overseer Entity into a single
// internal/app/system.Manager-governed process.
//
// Grounded on the teacher's internal/app/runtime/application.go
// NewApplication/Run/Shutdown shape: a constructor that can fail loudly
// before anything starts, a Run that blocks until its context is cancelled,
// and a Shutdown that unwinds everything NewApplication built.
package runtime

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/ntounix-prog/glassdome/internal/app/system"
	"github.com/ntounix-prog/glassdome/internal/config"
	"github.com/ntounix-prog/glassdome/internal/domain"
	"github.com/ntounix-prog/glassdome/internal/ippool"
	"github.com/ntounix-prog/glassdome/internal/lab"
	"github.com/ntounix-prog/glassdome/internal/overseer"
	"github.com/ntounix-prog/glassdome/internal/overseer/gating"
	"github.com/ntounix-prog/glassdome/internal/overseer/knowledge"
	"github.com/ntounix-prog/glassdome/internal/platform/awsec2"
	"github.com/ntounix-prog/glassdome/internal/platform/azurevm"
	"github.com/ntounix-prog/glassdome/internal/platform/gcpvm"
	"github.com/ntounix-prog/glassdome/internal/platform/proxmox"
	"github.com/ntounix-prog/glassdome/internal/platform/vsphere"
	"github.com/ntounix-prog/glassdome/internal/platformcap"
	"github.com/ntounix-prog/glassdome/internal/postconfig"
	"github.com/ntounix-prog/glassdome/internal/registry"
	"github.com/ntounix-prog/glassdome/internal/registry/drift"
	"github.com/ntounix-prog/glassdome/internal/registry/eventbus"
	"github.com/ntounix-prog/glassdome/internal/registry/persistence"
	"github.com/ntounix-prog/glassdome/internal/registry/pollingagent"
	"github.com/ntounix-prog/glassdome/internal/secretsctx"
	"github.com/ntounix-prog/glassdome/pkg/logger"
)

// Application owns every long-lived component of a glassdome process and
// drives them through one system.Manager.
type Application struct {
	cfg *config.Config
	log *logger.Logger

	reg       *registry.Registry
	store     *persistence.Store
	overseer  *overseer.Overseer
	labFacade *lab.Facade
	manager   *system.Manager
}

// NewApplication loads cfg from path, resolves secrets, and wires every
// component, registering each in the order its dependents need it started.
func NewApplication(ctx context.Context, configPath string) (*Application, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	log := logger.New(logger.LoggingConfig{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: cfg.Logging.Output,
	})

	secrets, err := secretsctx.Load(ctx, cfg.SecretsConfig())
	if err != nil {
		return nil, fmt.Errorf("load secrets: %w", err)
	}

	platforms, err := buildPlatforms(ctx, cfg.Platforms, secrets, log)
	if err != nil {
		return nil, fmt.Errorf("build platform adapters: %w", err)
	}

	store, err := persistence.Open(cfg.Registry.PersistencePath, cfg.Registry.PersistencePath+"/events.log")
	if err != nil {
		return nil, fmt.Errorf("open registry persistence: %w", err)
	}

	bus, err := buildEventBus(cfg.Registry, log)
	if err != nil {
		store.Close() //nolint:errcheck
		return nil, fmt.Errorf("build event bus: %w", err)
	}

	reg := registry.New(bus, store)
	driftDetector := drift.New(reg)

	manager := system.NewManager()

	syncers := make([]overseer.Syncer, 0, len(platforms))
	for id, cap := range platforms {
		agent := pollingagent.New(cap, reg, driftDetector, pollingagent.DefaultTiers, log)
		manager.Register(agent)
		syncers = append(syncers, agent)
		log.WithField("platform", id).Info("registered polling agent")
	}

	pools, err := buildIPPools(cfg.IPPools)
	if err != nil {
		return nil, fmt.Errorf("build ip pools: %w", err)
	}

	pc := postconfig.New(log)
	labFacade := lab.New(reg, platforms, pools, pc, cfg.Orchestrator.MaxConcurrency.VM, log)

	idx := knowledge.New()

	ov := overseer.New(reg, labFacade, platforms, pc, idx, syncers, overseer.Policy{
		Gating: gating.Policy{
			MinRole:          domain.RoleOperator,
			MassActionCap:    cfg.Overseer.MassActionCap,
			FreshnessHorizon: cfg.Overseer.FreshnessHorizon,
		},
		AutoRemediate:      true,
		ExecuteConcurrency: cfg.Orchestrator.MaxConcurrency.VM,
	}, overseer.Intervals{
		Monitor: cfg.Overseer.LoopIntervals.Monitor,
		Sync:    cfg.Overseer.LoopIntervals.Sync,
		Health:  cfg.Overseer.LoopIntervals.Health,
	}, cfg.Overseer.SessionPath, log)
	manager.Register(ov)

	return &Application{
		cfg:       cfg,
		log:       log,
		reg:       reg,
		store:     store,
		overseer:  ov,
		labFacade: labFacade,
		manager:   manager,
	}, nil
}

// Start starts every registered component and returns once they are all
// running, without blocking on ctx. Callers that only need the Overseer
// available to Submit a single Request (overseer-cli's deploy/destroy) use
// this directly; Run builds on it for the long-lived daemon.
func (a *Application) Start(ctx context.Context) error {
	return a.manager.Start(ctx)
}

// Run starts every registered component and blocks until ctx is cancelled.
func (a *Application) Run(ctx context.Context) error {
	if err := a.Start(ctx); err != nil {
		return err
	}
	a.log.Info("glassdome overseer started")
	<-ctx.Done()
	return nil
}

// Shutdown stops every component in reverse start order and closes the
// registry's persistence handle.
func (a *Application) Shutdown(ctx context.Context) error {
	err := a.manager.Stop(ctx)
	if closeErr := a.store.Close(); closeErr != nil && err == nil {
		err = fmt.Errorf("close registry persistence: %w", closeErr)
	}
	return err
}

// Overseer exposes the running Overseer for an in-process CLI surface (e.g.
// an embedded admin endpoint); cmd/overseer-cli instead talks to the
// Registry's persisted state directly, since it runs as a separate process.
func (a *Application) Overseer() *overseer.Overseer { return a.overseer }

// Registry exposes the running Registry for the same reason.
func (a *Application) Registry() *registry.Registry { return a.reg }

func buildEventBus(cfg config.RegistryConfig, log *logger.Logger) (eventbus.Bus, error) {
	switch cfg.EventBusKind {
	case "", "in-memory":
		return eventbus.NewMemoryBus(1024), nil
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		return eventbus.NewRedisBus(client), nil
	default:
		return nil, fmt.Errorf("unknown registry.event_bus_kind %q", cfg.EventBusKind)
	}
}

func buildIPPools(cfgs []config.IPPoolConfig) (*ippool.Manager, error) {
	pools := make([]ippool.Config, 0, len(cfgs))
	for _, c := range cfgs {
		pools = append(pools, ippool.Config{
			CIDR: c.CIDR, RangeStart: c.RangeStart, RangeEnd: c.RangeEnd,
			Gateway: c.Gateway, DNS: c.DNS,
		})
	}
	return ippool.NewManager(pools)
}

// secretField composes the reference secretsctx.Context.Get resolves: for
// the Vault backend this is a "path#field" reference; for the env backend
// it is used verbatim as the variable name, so an env-backed deployment
// names its variables exactly "<credentials_ref>#<field>".
func secretField(ref, field string) string { return ref + "#" + field }

// buildPlatforms constructs one platformcap.Capability per configured
// platform, branching on PlatformConfig.Kind (spec §4.1's five
// PlatformKinds), each wrapped in its own rate limiter so one platform's
// throttling never starves another's.
func buildPlatforms(ctx context.Context, cfgs []config.PlatformConfig, secrets *secretsctx.Context, log *logger.Logger) (map[domain.PlatformID]platformcap.Capability, error) {
	out := make(map[domain.PlatformID]platformcap.Capability, len(cfgs))
	for _, pc := range cfgs {
		id := domain.PlatformID(pc.ID)
		limiter := platformcap.NewRateLimiter(5, 10)

		var (
			cap platformcap.Capability
			err error
		)
		switch domain.PlatformKind(pc.Kind) {
		case domain.PlatformProxmox:
			tokenID, e1 := secrets.Get(ctx, secretField(pc.CredentialsRef, "token_id"))
			tokenSecret, e2 := secrets.Get(ctx, secretField(pc.CredentialsRef, "token_secret"))
			if err = firstErr(e1, e2); err == nil {
				cap, err = proxmox.New(proxmox.Config{
					ID: id, Endpoint: pc.Endpoint, TokenID: tokenID, TokenSecret: tokenSecret,
					DefaultNode: pc.DefaultNode, DefaultStorage: pc.DefaultStorage, VerifyTLS: pc.VerifyTLSOrDefault(),
				}, limiter, log)
			}

		case domain.PlatformESXi:
			user, e1 := secrets.Get(ctx, secretField(pc.CredentialsRef, "user"))
			pass, e2 := secrets.Get(ctx, secretField(pc.CredentialsRef, "password"))
			if err = firstErr(e1, e2); err == nil {
				cap, err = vsphere.New(ctx, vsphere.Config{
					ID: id, Endpoint: pc.Endpoint, User: user, Password: pass,
					Datacenter: pc.DefaultNode, Datastore: pc.DefaultDatastore, VerifyTLS: pc.VerifyTLSOrDefault(),
				}, limiter, log)
			}

		case domain.PlatformAWS:
			accessKey, e1 := secrets.Get(ctx, secretField(pc.CredentialsRef, "access_key_id"))
			secretKey, e2 := secrets.Get(ctx, secretField(pc.CredentialsRef, "secret_access_key"))
			if err = firstErr(e1, e2); err == nil {
				cap, err = awsec2.New(ctx, awsec2.Config{
					ID: id, Region: pc.DefaultRegion, AccessKeyID: accessKey, SecretAccessKey: secretKey,
				}, limiter, log)
			}

		case domain.PlatformAzure:
			clientID, e1 := secrets.Get(ctx, secretField(pc.CredentialsRef, "client_id"))
			clientSecret, e2 := secrets.Get(ctx, secretField(pc.CredentialsRef, "client_secret"))
			tenantID, e3 := secrets.Get(ctx, secretField(pc.CredentialsRef, "tenant_id"))
			subID, e4 := secrets.Get(ctx, secretField(pc.CredentialsRef, "subscription_id"))
			if err = firstErr(e1, e2, e3, e4); err == nil {
				cap, err = azurevm.New(azurevm.Config{
					ID: id, SubscriptionID: subID, TenantID: tenantID, ClientID: clientID, ClientSecret: clientSecret,
					ResourceGroup: pc.DefaultNode, Location: pc.DefaultRegion,
				}, limiter, log)
			}

		case domain.PlatformGCP:
			credsJSON, e1 := secrets.Get(ctx, secretField(pc.CredentialsRef, "credentials_json"))
			if err = e1; err == nil {
				cap, err = gcpvm.New(ctx, gcpvm.Config{
					ID: id, ProjectID: pc.DefaultNode, Zone: pc.DefaultRegion, CredentialsJSON: []byte(credsJSON),
				}, limiter, log)
			}

		default:
			return nil, fmt.Errorf("platform %q: unknown kind %q", pc.ID, pc.Kind)
		}

		if err != nil {
			return nil, fmt.Errorf("platform %q: %w", pc.ID, err)
		}
		out[id] = cap
	}
	return out, nil
}

func firstErr(errs ...error) error {
	for _, e := range errs {
		if e != nil {
			return e
		}
	}
	return nil
}
