package auth_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/afoley587/coding-challenges-2025/grpc-user-service/internal/auth"
	"github.com/afoley587/coding-challenges-2025/grpc-user-service/internal/rpcerr"
)

const validKey = "654321"

func TestCandidateKey(t *testing.T) {
	tests := []struct {
		name   string
		md     metadata.MD
		want   string
		wantOK bool
	}{
		{"direct field", metadata.Pairs("apikey", "k1"), "k1", true},
		{"authorization header", metadata.Pairs("authorization", "apikey k2"), "k2", true},
		{"header names are case-insensitive", metadata.Pairs("Authorization", "apikey k3"), "k3", true},
		{"direct field wins", metadata.Pairs("apikey", "direct", "authorization", "apikey header"), "direct", true},
		{"wrong scheme", metadata.Pairs("authorization", "Bearer k4"), "", false},
		{"scheme is case-sensitive", metadata.Pairs("authorization", "APIKEY k5"), "", false},
		{"scheme without space", metadata.Pairs("authorization", "apikey"), "", false},
		{"key is not trimmed", metadata.Pairs("authorization", "apikey  k6 "), " k6 ", true},
		{"empty direct field", metadata.Pairs("apikey", ""), "", true},
		{"no metadata", nil, "", false},
		{"unrelated metadata", metadata.Pairs("x-request-id", "abc"), "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := auth.CandidateKey(tt.md)
			assert.Equal(t, tt.wantOK, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestKeySetContains(t *testing.T) {
	ks := auth.NewKeySet(validKey, "", "other")
	assert.Equal(t, 2, ks.Len())
	assert.True(t, ks.Contains(validKey))
	assert.True(t, ks.Contains("other"))
	assert.False(t, ks.Contains("654322"))
	assert.False(t, ks.Contains(" 654321"))
	assert.False(t, ks.Contains("65432"))
	assert.False(t, ks.Contains(""))

	assert.False(t, auth.NewKeySet().Contains(""))
}

func incoming(md metadata.MD) context.Context {
	return metadata.NewIncomingContext(context.Background(), md)
}

func assertDenied(t *testing.T, err error) {
	t.Helper()
	require.Error(t, err)
	st, ok := status.FromError(err)
	require.True(t, ok)
	assert.Equal(t, codes.Unauthenticated, st.Code())
	assert.Equal(t, "Not Authorized", st.Message())
	kind, code, ok := rpcerr.FromStatus(st)
	require.True(t, ok)
	assert.Equal(t, rpcerr.KindAuth, kind)
	assert.Equal(t, rpcerr.CodeInvalidAPIKey, code)
}

func TestAuthenticateBothShapesAgree(t *testing.T) {
	a := auth.New(auth.NewKeySet(validKey))
	for _, key := range []string{validKey, "654322", "", "654321 "} {
		direct := a.Authenticate(incoming(metadata.Pairs("apikey", key)))
		header := a.Authenticate(incoming(metadata.Pairs("authorization", "apikey "+key)))
		assert.Equal(t, direct == nil, header == nil, "key %q", key)
	}
}

func TestAuthenticate(t *testing.T) {
	a := auth.New(auth.NewKeySet(validKey))

	require.NoError(t, a.Authenticate(incoming(metadata.Pairs("apikey", validKey))))
	require.NoError(t, a.Authenticate(incoming(metadata.Pairs("authorization", "apikey "+validKey))))

	assertDenied(t, a.Authenticate(incoming(metadata.Pairs("apikey", "654322"))))
	assertDenied(t, a.Authenticate(incoming(metadata.Pairs("authorization", "apikey 654322"))))
	assertDenied(t, a.Authenticate(context.Background()))
}

func TestRejectionIsLoggedWithoutKey(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	a := auth.New(auth.NewKeySet(validKey), auth.WithLogger(zap.New(core)))

	_ = a.Authenticate(incoming(metadata.Pairs("apikey", "secret-guess")))
	_ = a.Authenticate(context.Background())

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "invalid_key", entries[0].ContextMap()["reason"])
	assert.Equal(t, "missing_key", entries[1].ContextMap()["reason"])
	for _, e := range entries {
		for _, v := range e.ContextMap() {
			assert.NotEqual(t, "secret-guess", v)
		}
	}
}

func TestUnaryInterceptorSkipsHandlerOnDeny(t *testing.T) {
	a := auth.New(auth.NewKeySet(validKey))
	intercept := a.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/user.UserService/GetUser"}

	called := false
	handler := func(ctx context.Context, req any) (any, error) {
		called = true
		return "ok", nil
	}

	_, err := intercept(incoming(metadata.Pairs("apikey", "nope")), nil, info, handler)
	assertDenied(t, err)
	assert.False(t, called)

	resp, err := intercept(incoming(metadata.Pairs("apikey", validKey)), nil, info, handler)
	require.NoError(t, err)
	assert.Equal(t, "ok", resp)
	assert.True(t, called)
}

type fakeStream struct {
	grpc.ServerStream
	ctx context.Context
}

func (f *fakeStream) Context() context.Context { return f.ctx }

func TestStreamInterceptorSkipsHandlerOnDeny(t *testing.T) {
	a := auth.New(auth.NewKeySet(validKey))
	intercept := a.StreamServerInterceptor()
	info := &grpc.StreamServerInfo{FullMethod: "/user.UserService/ListUsers", IsServerStream: true}

	called := false
	handler := func(srv any, ss grpc.ServerStream) error {
		called = true
		return nil
	}

	err := intercept(nil, &fakeStream{ctx: context.Background()}, info, handler)
	assertDenied(t, err)
	assert.False(t, called)

	err = intercept(nil, &fakeStream{ctx: incoming(metadata.Pairs("authorization", "apikey "+validKey))}, info, handler)
	require.NoError(t, err)
	assert.True(t, called)
}

func TestWithoutAuthExemptsMethods(t *testing.T) {
	a := auth.New(auth.NewKeySet(validKey), auth.WithoutAuth("/grpc.health.v1.Health/"))
	intercept := a.UnaryServerInterceptor()
	handler := func(ctx context.Context, req any) (any, error) { return "ok", nil }

	_, err := intercept(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/grpc.health.v1.Health/Check"}, handler)
	require.NoError(t, err)

	_, err = intercept(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/user.UserService/GetUser"}, handler)
	assertDenied(t, err)
}
