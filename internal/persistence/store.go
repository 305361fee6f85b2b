package persistence

import "database/sql"

// Store is one user's database: sessions, conversations, async tasks,
// containers, and the intelligence layer's persisted state.
type Store struct {
	db *sql.DB
}

// NewStore wraps db, which must already have UserMigrations applied.
func NewStore(db *sql.DB) *Store { return &Store{db: db} }
