package overseer

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/ntounix-prog/glassdome/internal/errs"
)

// sessionFile is the on-disk shape of the Overseer's persisted session:
// the pending/executing request queue and running counters (spec §4.5
// "Overseer state (request queue, session stats, subscriptions) is
// persisted on every transition and rehydrated on startup"; spec §6
// "The Overseer persists its queue and session file adjacent to [the
// Registry persistence] directory").
type sessionFile struct {
	Queue []string `json:"queue"`
	Stats Stats    `json:"stats"`
}

// loadSession reads sessionPath if present, populating the queue and
// stats. A missing file is not an error: a fresh process has nothing to
// rehydrate.
func (o *Overseer) loadSession() error {
	if o.sessionPath == "" {
		return nil
	}
	body, err := os.ReadFile(o.sessionPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errs.NewPermanent("read overseer session %q: %v", o.sessionPath, err)
	}

	var sf sessionFile
	if err := json.Unmarshal(body, &sf); err != nil {
		return errs.NewPermanent("decode overseer session %q: %v", o.sessionPath, err)
	}

	o.queueMu.Lock()
	o.queue = sf.Queue
	o.queueMu.Unlock()

	o.statsMu.Lock()
	o.stats = sf.Stats
	o.statsMu.Unlock()
	return nil
}

// saveSession writes the current queue and stats atomically (write-to-temp
// then rename, same idiom as internal/registry/persistence.Store).
func (o *Overseer) saveSession() error {
	if o.sessionPath == "" {
		return nil
	}
	sf := sessionFile{
		Queue: o.queueSnapshot(),
		Stats: o.Stats(),
	}
	body, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return errs.NewPermanent("marshal overseer session: %v", err)
	}
	if err := os.MkdirAll(filepath.Dir(o.sessionPath), 0o755); err != nil {
		return errs.NewPermanent("create overseer session directory: %v", err)
	}
	tmp := o.sessionPath + ".tmp"
	if err := os.WriteFile(tmp, body, 0o644); err != nil {
		return errs.NewPermanent("write overseer session temp file: %v", err)
	}
	return os.Rename(tmp, o.sessionPath)
}

// persistSessionBestEffort saves session state on every Request
// transition, per spec §4.5; a failure here is logged, not fatal, since
// the in-memory queue and the Registry's own Request records remain the
// authoritative state for a running process.
func (o *Overseer) persistSessionBestEffort() {
	if err := o.saveSession(); err != nil {
		o.log.WithError(err).Warn("overseer: failed to persist session")
	}
}
