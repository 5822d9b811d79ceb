package server

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"google.golang.org/grpc/status"

	"github.com/afoley587/coding-challenges-2025/grpc-user-service/internal/codec"
	"github.com/afoley587/coding-challenges-2025/grpc-user-service/internal/rpcerr"
	"github.com/afoley587/coding-challenges-2025/grpc-user-service/internal/store"
	pb "github.com/afoley587/coding-challenges-2025/grpc-user-service/proto"
)

// maxPasswordBytes is the longest input bcrypt accepts.
const maxPasswordBytes = 72

// dateOfBirthLayout renders timestamps the way JavaScript's toISOString
// does, with millisecond precision in UTC.
const dateOfBirthLayout = "2006-01-02T15:04:05.000Z07:00"

var dateOfBirthInputs = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02",
}

// userService implements pb.UserServiceServer by delegating persistence
// to a UserStore.  It contains no storage logic of its own and assumes
// authentication already happened in the interceptor chain.
type userService struct {
	pb.UnimplementedUserServiceServer
	store    store.UserStore
	logger   *zap.Logger
	validate *validator.Validate
	newID    func() string
	hash     func(password string) (string, error)
	now      func() time.Time
}

func newUserService(s store.UserStore, logger *zap.Logger) *userService {
	return &userService{
		store:    s,
		logger:   logger,
		validate: newValidator(),
		newID:    uuid.NewString,
		hash:     hashPassword,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// newValidator reports fields under their json names so validation
// messages use the names callers send.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func hashPassword(password string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(h), nil
}

// GetUser returns a single user identified by id.  The id must be a UUID;
// an unknown id yields NOT_FOUND.
func (s *userService) GetUser(ctx context.Context, req *pb.GetUserRequest) (*pb.User, error) {
	id := req.GetId()
	if id == "" {
		return nil, rpcerr.Validation(rpcerr.CodeInvalidID, "id is required")
	}
	if _, err := uuid.Parse(id); err != nil {
		return nil, rpcerr.Validation(rpcerr.CodeInvalidID, "id %q is not a valid identifier", id)
	}

	rec, err := s.store.Get(ctx, id)
	if err != nil {
		return nil, storeError(ctx, fmt.Errorf("get user %s: %w", id, err))
	}
	if rec == nil {
		return nil, rpcerr.NotFound(rpcerr.CodeUserNotFound, "user %s not found", id)
	}
	return toWire(rec)
}

// ListUsers streams every stored user.  The next record is only read
// from the store after the previous message was accepted by the stream,
// and iteration stops as soon as the caller goes away.
func (s *userService) ListUsers(_ *pb.ListUsersRequest, stream pb.UserService_ListUsersServer) error {
	ctx := stream.Context()

	cur, err := s.store.List(ctx)
	if err != nil {
		return storeError(ctx, fmt.Errorf("list users: %w", err))
	}
	defer cur.Close()

	sent := 0
	for cur.Next(ctx) {
		u, err := toWire(cur.Record())
		if err != nil {
			return err
		}
		if err := stream.Send(u); err != nil {
			s.logger.Debug("list users aborted", zap.Int("sent", sent), zap.Error(err))
			return err
		}
		sent++
	}
	if err := cur.Err(); err != nil {
		return storeError(ctx, fmt.Errorf("list users: %w", err))
	}
	return nil
}

type createUserInput struct {
	Email       string `json:"email" validate:"required"`
	DateOfBirth string `json:"dateOfBirth" validate:"required"`
	Password    string `json:"password" validate:"required"`
}

var requiredFieldCodes = map[string]string{
	"email":       rpcerr.CodeMissingEmail,
	"dateOfBirth": rpcerr.CodeInvalidDateOfBirth,
	"password":    rpcerr.CodeMissingPassword,
}

// CreateUser validates the request, stores a new user under a freshly
// generated id and returns it.  The password is stored as a bcrypt hash
// and never returned.
func (s *userService) CreateUser(ctx context.Context, req *pb.CreateUserRequest) (*pb.User, error) {
	in := createUserInput{
		Email:       req.GetEmail(),
		DateOfBirth: req.GetDateOfBirth(),
		Password:    req.GetPassword(),
	}
	if err := s.validate.Struct(in); err != nil {
		var fieldErrs validator.ValidationErrors
		if errors.As(err, &fieldErrs) && len(fieldErrs) > 0 {
			f := fieldErrs[0]
			return nil, rpcerr.Validation(requiredFieldCodes[f.Field()], "%s is required", f.Field())
		}
		return nil, rpcerr.Internal(err)
	}
	if len(in.Password) > maxPasswordBytes {
		return nil, rpcerr.Validation(rpcerr.CodeInvalidPassword, "password must be at most %d bytes", maxPasswordBytes)
	}

	dob, err := parseDateOfBirth(in.DateOfBirth)
	if err != nil {
		return nil, rpcerr.Validation(rpcerr.CodeInvalidDateOfBirth, "dateOfBirth %q is not an ISO-8601 timestamp", in.DateOfBirth)
	}

	meta, err := codec.DecodeStruct(req.GetMetadata())
	if err != nil {
		return nil, err
	}

	hash, err := s.hash(in.Password)
	if err != nil {
		return nil, rpcerr.Internal(err)
	}

	rec, err := s.store.Insert(ctx, &store.Record{
		ID:           s.newID(),
		Email:        in.Email,
		DateOfBirth:  dob,
		PasswordHash: hash,
		Metadata:     meta,
		CreatedAt:    s.now(),
	})
	if err != nil {
		return nil, storeError(ctx, fmt.Errorf("insert user: %w", err))
	}
	s.logger.Info("user created", zap.String("user_id", rec.ID))
	return toWire(rec)
}

func parseDateOfBirth(v string) (time.Time, error) {
	var lastErr error
	for _, layout := range dateOfBirthInputs {
		t, err := time.Parse(layout, v)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

// toWire converts a stored record into the message sent to callers.
func toWire(rec *store.Record) (*pb.User, error) {
	meta, err := codec.EncodeStruct(rec.Metadata)
	if err != nil {
		return nil, rpcerr.Internal(fmt.Errorf("encode metadata of user %s: %w", rec.ID, err))
	}
	return &pb.User{
		Id:          rec.ID,
		Email:       rec.Email,
		DateOfBirth: rec.DateOfBirth.UTC().Format(dateOfBirthLayout),
		Metadata:    meta,
	}, nil
}

// storeError reports a failed store call.  A call that failed because the
// caller went away keeps its context status; anything else is INTERNAL.
func storeError(ctx context.Context, err error) error {
	if ctxErr := ctx.Err(); ctxErr != nil {
		return status.FromContextError(ctxErr).Err()
	}
	return rpcerr.Internal(err)
}
