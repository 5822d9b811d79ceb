package server

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/afoley587/coding-challenges-2025/grpc-user-service/internal/rpcerr"
	"github.com/afoley587/coding-challenges-2025/grpc-user-service/internal/store"
	pb "github.com/afoley587/coding-challenges-2025/grpc-user-service/proto"
)

func TestParseDateOfBirth(t *testing.T) {
	tests := []struct {
		in   string
		want time.Time
	}{
		{"2000-01-01T00:00:00.000Z", time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"2000-01-01T02:00:00+02:00", time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"1985-07-04T12:30:00", time.Date(1985, 7, 4, 12, 30, 0, 0, time.UTC)},
		{"1985-07-04", time.Date(1985, 7, 4, 0, 0, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		got, err := parseDateOfBirth(tt.in)
		require.NoError(t, err, tt.in)
		assert.True(t, tt.want.Equal(got), "%s: got %v", tt.in, got)
		assert.Equal(t, time.UTC, got.Location())
	}

	for _, bad := range []string{"1/1/2000", "yesterday", "2000-13-01"} {
		_, err := parseDateOfBirth(bad)
		assert.Error(t, err, bad)
	}
}

func TestCreateUserStoresHashNotPassword(t *testing.T) {
	ms := store.NewMemoryStore()
	svc := newUserService(ms, zap.NewNop())
	svc.newID = func() string { return "3c2b6a1e-8d3f-4b0a-9a51-0d6a6c1f2e3d" }

	u, err := svc.CreateUser(context.Background(), &pb.CreateUserRequest{
		Email:       "hash@example.com",
		DateOfBirth: "2000-01-01",
		Password:    "s3crE+1",
	})
	require.NoError(t, err)
	assert.Equal(t, "3c2b6a1e-8d3f-4b0a-9a51-0d6a6c1f2e3d", u.GetId())

	rec, err := ms.Get(context.Background(), u.GetId())
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.NotEqual(t, "s3crE+1", rec.PasswordHash)
	assert.NoError(t, bcrypt.CompareHashAndPassword([]byte(rec.PasswordHash), []byte("s3crE+1")))
	assert.NotContains(t, string(u.GetMetadata()), "s3crE+1")
}

func TestCreateUserHashFailureIsInternal(t *testing.T) {
	svc := newUserService(store.NewMemoryStore(), zap.NewNop())
	svc.hash = func(string) (string, error) { return "", errors.New("no entropy") }

	_, err := svc.CreateUser(context.Background(), &pb.CreateUserRequest{
		Email: "e@example.com", DateOfBirth: "2000-01-01", Password: "pw",
	})
	e, ok := rpcerr.As(err)
	require.True(t, ok)
	assert.Equal(t, rpcerr.KindInternal, e.Kind)
}

func TestCreateUserReportsFirstMissingField(t *testing.T) {
	svc := newUserService(store.NewMemoryStore(), zap.NewNop())

	tests := []struct {
		req      *pb.CreateUserRequest
		wantCode string
		wantMsg  string
	}{
		{&pb.CreateUserRequest{}, rpcerr.CodeMissingEmail, "email is required"},
		{&pb.CreateUserRequest{Email: "a@example.com"}, rpcerr.CodeInvalidDateOfBirth, "dateOfBirth is required"},
		{&pb.CreateUserRequest{Email: "a@example.com", DateOfBirth: "2000-01-01"}, rpcerr.CodeMissingPassword, "password is required"},
	}
	for _, tt := range tests {
		_, err := svc.CreateUser(context.Background(), tt.req)
		e, ok := rpcerr.As(err)
		require.True(t, ok)
		assert.Equal(t, rpcerr.KindValidation, e.Kind)
		assert.Equal(t, tt.wantCode, e.Code)
		assert.Equal(t, tt.wantMsg, e.Message)
	}
}

func TestGetUserCancelledContext(t *testing.T) {
	svc := newUserService(store.NewMemoryStore(), zap.NewNop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := svc.GetUser(ctx, &pb.GetUserRequest{Id: "3c2b6a1e-8d3f-4b0a-9a51-0d6a6c1f2e3d"})
	_, isRPCErr := rpcerr.As(err)
	assert.False(t, isRPCErr, "cancellation must not be reported as an internal error")
	assert.Error(t, err)
}

func TestToWireOmitsPassword(t *testing.T) {
	u, err := toWire(&store.Record{
		ID:           "id",
		Email:        "w@example.com",
		DateOfBirth:  time.Date(2001, 2, 3, 4, 5, 6, 7_000_000, time.FixedZone("X", 3600)),
		PasswordHash: "$2a$10$secret",
	})
	require.NoError(t, err)
	assert.Equal(t, "2001-02-03T03:05:06.007Z", u.GetDateOfBirth())
	assert.JSONEq(t, "{}", string(u.GetMetadata()))
}
