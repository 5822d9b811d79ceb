package store

import (
	"context"
	"sync"
)

// MemoryStore is an implementation of UserStore backed by a map plus an
// insertion-ordered slice of ids.  It is safe for concurrent use and
// intended primarily for unit tests and development.  Data is not
// persisted beyond the lifetime of the process.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]*Record
	order []string
}

// NewMemoryStore constructs an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[string]*Record),
	}
}

// Insert stores a copy of rec.  This method is safe for concurrent use.
func (s *MemoryStore) Insert(ctx context.Context, rec *Record) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r := prepare(rec)
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.users[r.ID]; ok {
		return nil, ErrDuplicateID
	}
	s.users[r.ID] = r
	s.order = append(s.order, r.ID)
	return r.Clone(), nil
}

// Get retrieves a user by id.  It returns (nil, nil) if the user does not
// exist.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.users[id].Clone(), nil
}

// List returns a cursor over a snapshot of the ids present when List was
// called, in insertion order.  Inserts made while the cursor is open are
// not observed.
func (s *MemoryStore) List(ctx context.Context) (Cursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	ids := make([]string, len(s.order))
	copy(ids, s.order)
	s.mu.RUnlock()
	return &memoryCursor{store: s, ids: ids, pos: -1}, nil
}

// Len reports the number of stored users.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

type memoryCursor struct {
	store  *MemoryStore
	ids    []string
	pos    int
	cur    *Record
	err    error
	closed bool
}

func (c *memoryCursor) Next(ctx context.Context) bool {
	if c.closed || c.err != nil {
		return false
	}
	if err := ctx.Err(); err != nil {
		c.err = err
		return false
	}
	c.pos++
	if c.pos >= len(c.ids) {
		c.cur = nil
		return false
	}
	c.store.mu.RLock()
	c.cur = c.store.users[c.ids[c.pos]].Clone()
	c.store.mu.RUnlock()
	return true
}

func (c *memoryCursor) Record() *Record { return c.cur }

func (c *memoryCursor) Err() error { return c.err }

func (c *memoryCursor) Close() error {
	c.closed = true
	c.ids = nil
	c.cur = nil
	return nil
}
