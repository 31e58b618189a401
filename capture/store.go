package capture

import (
	"github.com/hazyhaar/pagesnap/capture/internal/store"
)

type (
	// Store persists capture history, settings overrides and the denylist.
	Store = store.Store
	// Record is one row of capture history.
	Record = store.Capture
)

// OpenStore opens (or creates) the SQLite database at path.
func OpenStore(path string) (*Store, error) {
	return store.Open(path)
}
