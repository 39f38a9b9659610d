// Package overseer implements the Overseer Entity from spec §4.5: the
// process-wide autonomous supervisor that gates every incoming Request,
// drives the Lab Orchestrator and Platform Adapters once a Request is
// approved, and keeps the Registry's projection current between polling-
// agent cycles. It is not an API; the (out-of-scope) API layer calls
// Submit, everything else runs as four concurrent loops this package owns.
//
// Grounded on the teacher's automation.Scheduler Start/Stop/tick shape,
// same as internal/registry/pollingagent, replicated across monitor, sync
// and health (interval-ticked) plus execute (queue-driven), under one
// supervisor that restarts a panicking loop with backoff, per spec §9
// Design Notes.
package overseer

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ntounix-prog/glassdome/internal/domain"
	"github.com/ntounix-prog/glassdome/internal/overseer/gating"
	"github.com/ntounix-prog/glassdome/internal/overseer/knowledge"
	"github.com/ntounix-prog/glassdome/internal/platformcap"
	"github.com/ntounix-prog/glassdome/internal/postconfig"
	"github.com/ntounix-prog/glassdome/internal/registry"
	"github.com/ntounix-prog/glassdome/pkg/logger"
	"github.com/ntounix-prog/glassdome/pkg/metrics"
)

// Dispatcher is the narrow slice of internal/lab.Facade the Execute loop
// needs: deploy and destroy a whole lab. *lab.Facade satisfies this
// structurally.
type Dispatcher interface {
	DeployLab(ctx context.Context, spec domain.LabSpec, platformID domain.PlatformID) (domain.LabRecord, error)
	DestroyLab(ctx context.Context, labID string) (domain.LabRecord, error)
}

// Syncer is the narrow slice of internal/registry/pollingagent.Agent the
// Sync loop fans out to. *pollingagent.Agent satisfies this structurally.
type Syncer interface {
	PlatformID() domain.PlatformID
	SyncNow(ctx context.Context)
}

// Intervals holds the three ticked loops' cadences (spec §4.5, spec §6
// overseer.loop_intervals.*). Execute has no interval: it blocks on the
// approved-request queue instead.
type Intervals struct {
	Monitor time.Duration
	Sync    time.Duration
	Health  time.Duration
}

// DefaultIntervals matches spec §4.5's named cadence.
var DefaultIntervals = Intervals{
	Monitor: 30 * time.Second,
	Sync:    60 * time.Second,
	Health:  300 * time.Second,
}

// Policy bundles the tunables Submit's gating pass and Monitor's
// auto-remediation decision need, beyond gating.Policy itself (spec §6
// overseer.* options).
type Policy struct {
	Gating             gating.Policy
	AutoRemediate      bool
	ExecuteConcurrency int
	StaleIPThreshold   time.Duration // spec §8 scenario 5: "primary_ip=∅ for > threshold"
}

// Overseer is the resident supervisor spec §4.5 describes. Construct one
// per process with New, register it with an internal/app/system.Manager
// (it satisfies system.Service), and call Submit for every incoming
// Request.
type Overseer struct {
	reg        *registry.Registry
	dispatcher Dispatcher
	platforms  map[domain.PlatformID]platformcap.Capability
	postconfig *postconfig.Executor
	knowledge  *knowledge.Index
	syncers    []Syncer
	policy     Policy
	intervals  Intervals

	sessionPath string
	log         *logger.Logger

	locks keyedMutex

	mu      sync.Mutex
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool

	queueMu sync.Mutex
	queue   []string // pending+executing request ids, FIFO, persisted verbatim
	queueCh chan string

	statsMu sync.Mutex
	stats   Stats

	elapsedMu sync.Mutex
	elapsed   map[string]time.Duration // last tick duration per named loop
}

// Stats is the session-persisted counters surfaced by overseer-cli status.
type Stats struct {
	StartedAt       time.Time
	RequestsHandled int
	RequestsDenied  int
	RequestsFailed  int
}

// New builds an Overseer. platforms and pc may be nil for deployments that
// only ever gate/deploy/destroy through dispatcher (e.g. unit tests); they
// are required for the Monitor loop's IP-rediscovery remediation path.
func New(
	reg *registry.Registry,
	dispatcher Dispatcher,
	platforms map[domain.PlatformID]platformcap.Capability,
	pc *postconfig.Executor,
	idx *knowledge.Index,
	syncers []Syncer,
	policy Policy,
	intervals Intervals,
	sessionPath string,
	log *logger.Logger,
) *Overseer {
	if log == nil {
		log = logger.NewDefault("overseer")
	}
	if policy.ExecuteConcurrency <= 0 {
		policy.ExecuteConcurrency = 4
	}
	if policy.StaleIPThreshold <= 0 {
		policy.StaleIPThreshold = 2 * time.Minute
	}
	if intervals.Monitor <= 0 && intervals.Sync <= 0 && intervals.Health <= 0 {
		intervals = DefaultIntervals
	}
	return &Overseer{
		reg:         reg,
		dispatcher:  dispatcher,
		platforms:   platforms,
		postconfig:  pc,
		knowledge:   idx,
		syncers:     syncers,
		policy:      policy,
		intervals:   intervals,
		sessionPath: sessionPath,
		log:         log,
		queueCh:     make(chan string, 1024),
		locks:       newKeyedMutex(),
		elapsed:     make(map[string]time.Duration),
	}
}

// lastElapsed returns the most recent recorded tick duration for a named
// loop (monitor/sync/health), for the Health loop's self-check entity.
func (o *Overseer) lastElapsed(name string) time.Duration {
	o.elapsedMu.Lock()
	defer o.elapsedMu.Unlock()
	return o.elapsed[name]
}

func (o *Overseer) recordElapsed(name string, d time.Duration) {
	o.elapsedMu.Lock()
	o.elapsed[name] = d
	o.elapsedMu.Unlock()
}

// Name satisfies system.Service.
func (o *Overseer) Name() string { return "overseer" }

// Start rehydrates persisted session state, re-enqueues any Requests still
// approved-but-not-completed, and launches the four loops (spec §4.5, §9
// "Overseer state... rehydrated on startup").
func (o *Overseer) Start(ctx context.Context) error {
	o.mu.Lock()
	if o.running {
		o.mu.Unlock()
		return nil
	}
	runCtx, cancel := context.WithCancel(ctx)
	o.cancel = cancel
	o.running = true
	o.mu.Unlock()

	if err := o.loadSession(); err != nil {
		o.log.WithError(err).Warn("overseer: failed to load persisted session, starting clean")
	}
	if o.stats.StartedAt.IsZero() {
		o.stats.StartedAt = time.Now().UTC()
	}
	for _, id := range o.queueSnapshot() {
		o.queueCh <- id
	}

	o.wg.Add(3 + o.policy.ExecuteConcurrency)
	go o.runTicked(runCtx, "monitor", o.intervals.Monitor, o.tickMonitor)
	go o.runTicked(runCtx, "sync", o.intervals.Sync, o.tickSync)
	go o.runTicked(runCtx, "health", o.intervals.Health, o.tickHealth)
	for i := 0; i < o.policy.ExecuteConcurrency; i++ {
		go o.runExecuteWorker(runCtx)
	}

	o.log.Info("overseer started")
	return nil
}

// Stop cancels every loop and worker, waits for them to return, and
// persists final session state.
func (o *Overseer) Stop(ctx context.Context) error {
	o.mu.Lock()
	if !o.running {
		o.mu.Unlock()
		return nil
	}
	cancel := o.cancel
	o.running = false
	o.mu.Unlock()

	if cancel != nil {
		cancel()
	}

	done := make(chan struct{})
	go func() { o.wg.Wait(); close(done) }()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := o.saveSession(); err != nil {
		o.log.WithError(err).Warn("overseer: failed to persist session on stop")
	}
	return nil
}

// runTicked runs tick on interval until ctx is cancelled, restarting with
// backoff if tick panics (spec §9: "A supervisor restarts any loop that
// panics, with a back-off"). Grounded on pollingagent.Agent.loop, extended
// with panic recovery since these ticks call out to operator-supplied
// remediation and dispatch logic pollingagent's never do.
func (o *Overseer) runTicked(ctx context.Context, name string, interval time.Duration, tick func(context.Context)) {
	defer o.wg.Done()
	backoff := time.Second
	for ctx.Err() == nil {
		if o.tickedLifetime(ctx, name, interval, tick) {
			return
		}
		o.log.WithField("loop", name).Warn("overseer loop panicked, restarting after backoff")
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return
		}
		if backoff < 30*time.Second {
			backoff *= 2
		}
	}
}

// tickedLifetime runs one ticker lifetime, returning true on clean
// cancellation and false if tick panicked (caller restarts).
func (o *Overseer) tickedLifetime(ctx context.Context, name string, interval time.Duration, tick func(context.Context)) (cleanExit bool) {
	defer func() {
		if r := recover(); r != nil {
			o.log.WithField("loop", name).WithField("panic", r).Error("overseer loop tick panicked")
			cleanExit = false
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return true
		case <-ticker.C:
			start := time.Now()
			tick(ctx)
			d := time.Since(start)
			o.recordElapsed(name, d)
			metrics.OverseerLoopElapsed.WithLabelValues(name).Set(d.Seconds())
		}
	}
}

// keyedMutex serializes operations per resource key (spec §5: "Overseer
// Request queue:... per-resource serialization keyed on the request's
// target"), while letting distinct targets execute concurrently.
type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

func newKeyedMutex() keyedMutex {
	return keyedMutex{locks: make(map[string]*sync.Mutex)}
}

func (k *keyedMutex) lock(key string) func() {
	k.mu.Lock()
	l, ok := k.locks[key]
	if !ok {
		l = &sync.Mutex{}
		k.locks[key] = l
	}
	k.mu.Unlock()

	l.Lock()
	return l.Unlock
}

func newRequestID() string { return uuid.NewString() }

var timeNow = func() time.Time { return time.Now().UTC() }
