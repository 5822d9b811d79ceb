package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"
)

// ErrDuplicateID is returned by Insert when a record with the same ID
// already exists.
var ErrDuplicateID = errors.New("store: duplicate user id")

// Record is a user as persisted by a UserStore.
type Record struct {
	ID           string
	Email        string
	DateOfBirth  time.Time
	PasswordHash string
	Metadata     *structpb.Struct
	CreatedAt    time.Time
}

// Clone returns a deep copy so callers cannot alias store internals.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	if r.Metadata != nil {
		c.Metadata = proto.Clone(r.Metadata).(*structpb.Struct)
	}
	return &c
}

// UserStore defines an interface for persisting and retrieving users.
//
// Implementations may use different backends (in-memory for tests, Redis
// or PostgreSQL for production).  The gRPC service depends on this
// abstraction rather than a concrete data store.
//
// All methods accept a context for cancellation and deadlines.  All
// implementations are safe for concurrent reads and inserts.
type UserStore interface {
	// Get returns the user identified by id, or (nil, nil) if the user
	// does not exist.
	Get(ctx context.Context, id string) (*Record, error)
	// List opens a cursor over every stored user.  The order is stable
	// for the lifetime of the cursor; callers must Close it.
	List(ctx context.Context) (Cursor, error)
	// Insert persists rec and returns the stored copy.  If rec.ID is empty
	// a new UUID is assigned.
	Insert(ctx context.Context, rec *Record) (*Record, error)
}

// Cursor iterates over stored users.  Records are fetched lazily, so a
// consumer that stops early never causes the remaining records to be read.
//
//	cur, err := s.List(ctx)
//	defer cur.Close()
//	for cur.Next(ctx) {
//		use(cur.Record())
//	}
//	return cur.Err()
type Cursor interface {
	// Next advances to the next record.  It returns false when the cursor
	// is exhausted, ctx is done or an error occurred.
	Next(ctx context.Context) bool
	// Record returns the current record.
	Record() *Record
	// Err returns the error that stopped iteration, if any.
	Err() error
	// Close releases resources held by the cursor.  It is safe to call
	// more than once.
	Close() error
}

// prepare fills server-assigned fields of a record about to be inserted.
func prepare(rec *Record) *Record {
	c := rec.Clone()
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.Metadata == nil {
		c.Metadata = &structpb.Struct{Fields: map[string]*structpb.Value{}}
	}
	return c
}
