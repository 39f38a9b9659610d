package registry

import (
	"encoding/json"

	"github.com/ntounix-prog/glassdome/internal/errs"
	"github.com/ntounix-prog/glassdome/internal/registry/persistence"
)

// loadSnapshots unmarshals every persisted snapshot of kind into dest,
// keyed by the id persistence.Store embeds in the snapshot filename.
func loadSnapshots[T any](store *persistence.Store, kind string, dest *map[string]T) error {
	raw, err := store.LoadSnapshots(kind)
	if err != nil {
		return err
	}
	if *dest == nil {
		*dest = make(map[string]T, len(raw))
	}
	for id, body := range raw {
		var rec T
		if err := json.Unmarshal(body, &rec); err != nil {
			return errs.NewPermanent("decode %s snapshot %q: %v", kind, id, err)
		}
		(*dest)[id] = rec
	}
	return nil
}
