// CLAUDE:SUMMARY SQLite persistence for pagesnap: capture history, JSON settings overrides and the endless-feed denylist.
// Package store provides the SQLite persistence layer for pagesnap.
package store

import (
	"database/sql"

	"github.com/hazyhaar/pagesnap/dbopen"
)

// Store is the pagesnap database handle.
type Store struct {
	DB *sql.DB
}

// Open opens (or creates) the database at path and applies the schema.
func Open(path string, opts ...dbopen.Option) (*Store, error) {
	allOpts := append([]dbopen.Option{
		dbopen.WithMkdirAll(),
		dbopen.WithSchema(Schema),
	}, opts...)

	db, err := dbopen.Open(path, allOpts...)
	if err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.DB.Close()
}
