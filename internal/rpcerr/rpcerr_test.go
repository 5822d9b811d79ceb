package rpcerr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestKindsMapToCodes(t *testing.T) {
	tests := []struct {
		err  *Error
		code codes.Code
	}{
		{Unauthenticated(), codes.Unauthenticated},
		{Validation(CodeInvalidID, "bad id %q", "x"), codes.InvalidArgument},
		{NotFound(CodeUserNotFound, "missing"), codes.NotFound},
		{Internal(errors.New("disk on fire")), codes.Internal},
	}
	for _, tt := range tests {
		st, ok := status.FromError(tt.err)
		require.True(t, ok)
		assert.Equal(t, tt.code, st.Code(), tt.err.Error())
	}
}

func TestUnauthenticatedShape(t *testing.T) {
	e := Unauthenticated()
	st := e.GRPCStatus()
	assert.Equal(t, codes.Unauthenticated, st.Code())
	assert.Equal(t, "Not Authorized", st.Message())

	kind, code, ok := FromStatus(st)
	require.True(t, ok)
	assert.Equal(t, KindAuth, kind)
	assert.Equal(t, CodeInvalidAPIKey, code)

	md := e.Trailer()
	assert.Equal(t, []string{"AUTH"}, md.Get("type"))
	assert.Equal(t, []string{"INVALID_APIKEY"}, md.Get("code"))
}

func TestInternalHidesCause(t *testing.T) {
	cause := errors.New("connection refused")
	e := Internal(cause)
	assert.Equal(t, "internal error", e.GRPCStatus().Message())
	assert.ErrorIs(t, e, cause)
	assert.Contains(t, e.Error(), "connection refused")
}

func TestAsUnwraps(t *testing.T) {
	wrapped := fmt.Errorf("handler: %w", NotFound(CodeUserNotFound, "gone"))
	e, ok := As(wrapped)
	require.True(t, ok)
	assert.Equal(t, KindNotFound, e.Kind)

	_, ok = As(errors.New("plain"))
	assert.False(t, ok)

	_, _, ok = FromStatus(status.New(codes.Unknown, "no details"))
	assert.False(t, ok)
}
