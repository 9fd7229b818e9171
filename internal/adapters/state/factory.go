package state

import (
	"path/filepath"
	"strings"
)

// NewStore opens the run store at the specified path, normalizing the
// extension to .db (e.g., ".apm/state/runs.db").
func NewStore(path string, opts ...SQLiteStoreOption) (*SQLiteStore, error) {
	if !strings.HasSuffix(path, ".db") {
		path = strings.TrimSuffix(path, filepath.Ext(path)) + ".db"
	}
	return NewSQLiteStore(path, opts...)
}
