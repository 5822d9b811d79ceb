package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/afoley587/coding-challenges-2025/grpc-user-service/internal/codec"
	"github.com/afoley587/coding-challenges-2025/grpc-user-service/internal/store"
)

// SeedUser is one entry of a seed file.  Password is plain text; only its
// bcrypt hash reaches the store.  Metadata is either a JSON object or a
// string holding one.
type SeedUser struct {
	ID          string          `json:"id" validate:"required,uuid"`
	Email       string          `json:"email" validate:"required"`
	DateOfBirth string          `json:"dateOfBirth" validate:"required"`
	Password    string          `json:"password" validate:"required"`
	Metadata    json.RawMessage `json:"metadata"`
}

// Seeder loads users from a JSON array into a UserStore.
type Seeder struct {
	store    store.UserStore
	logger   *zap.Logger
	validate *validator.Validate
	hash     func(password string) (string, error)
	now      func() time.Time
}

func NewSeeder(s store.UserStore, logger *zap.Logger) *Seeder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Seeder{
		store:    s,
		logger:   logger,
		validate: newValidator(),
		hash:     hashPassword,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// SeedFile seeds the users listed in the file at path.
func (s *Seeder) SeedFile(ctx context.Context, path string) (int, error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, fmt.Errorf("open seed file: %w", err)
	}
	defer f.Close()
	return s.Seed(ctx, f)
}

// Seed inserts every user of the JSON array read from r under the id it
// carries.  Users whose id is already stored are skipped, so seeding a
// persistent store again on restart is harmless.  The first invalid entry
// or failed insert stops the run.  Seed returns the number of users
// inserted.
func (s *Seeder) Seed(ctx context.Context, r io.Reader) (int, error) {
	var users []SeedUser
	if err := json.NewDecoder(r).Decode(&users); err != nil {
		return 0, fmt.Errorf("decode seed users: %w", err)
	}

	inserted := 0
	for i, u := range users {
		rec, err := s.record(u)
		if err != nil {
			return inserted, fmt.Errorf("seed user %d: %w", i, err)
		}
		if _, err := s.store.Insert(ctx, rec); err != nil {
			if errors.Is(err, store.ErrDuplicateID) {
				s.logger.Debug("seed user already present", zap.String("user_id", rec.ID))
				continue
			}
			return inserted, fmt.Errorf("seed user %s: %w", rec.ID, err)
		}
		inserted++
	}
	s.logger.Info("seeded users", zap.Int("inserted", inserted), zap.Int("skipped", len(users)-inserted))
	return inserted, nil
}

func (s *Seeder) record(u SeedUser) (*store.Record, error) {
	if err := s.validate.Struct(u); err != nil {
		return nil, err
	}
	if len(u.Password) > maxPasswordBytes {
		return nil, fmt.Errorf("password must be at most %d bytes", maxPasswordBytes)
	}
	dob, err := parseDateOfBirth(u.DateOfBirth)
	if err != nil {
		return nil, fmt.Errorf("dateOfBirth %q: %w", u.DateOfBirth, err)
	}
	meta, err := seedMetadata(u.Metadata)
	if err != nil {
		return nil, err
	}
	hash, err := s.hash(u.Password)
	if err != nil {
		return nil, err
	}
	return &store.Record{
		ID:           u.ID,
		Email:        u.Email,
		DateOfBirth:  dob,
		PasswordHash: hash,
		Metadata:     meta,
		CreatedAt:    s.now(),
	}, nil
}

func seedMetadata(raw json.RawMessage) (*structpb.Struct, error) {
	raw = bytes.TrimSpace(raw)
	switch {
	case len(raw) == 0 || bytes.Equal(raw, []byte("null")):
		return codec.DecodeStruct(nil)
	case raw[0] == '"':
		var encoded string
		if err := json.Unmarshal(raw, &encoded); err != nil {
			return nil, fmt.Errorf("metadata: %w", err)
		}
		return codec.DecodeStruct([]byte(encoded))
	default:
		return codec.DecodeStruct(raw)
	}
}
