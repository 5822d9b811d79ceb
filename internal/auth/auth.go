// Package auth gates every RPC on a valid API key.  A key is accepted in
// one of two call metadata shapes:
//
//	apikey: <key>
//	authorization: apikey <key>
//
// Both shapes go through the same validation path.  Every rejection is
// reported with the same error so callers cannot tell a missing key from
// a wrong one.
package auth

import (
	"context"
	"crypto/subtle"
	"strings"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"

	"github.com/afoley587/coding-challenges-2025/grpc-user-service/internal/rpcerr"
)

const (
	// APIKeyHeader is the metadata field carrying the key directly.
	APIKeyHeader = "apikey"
	// AuthorizationHeader carries the key after the "apikey " scheme.
	AuthorizationHeader = "authorization"
	// Scheme prefixes the key inside the authorization header.
	Scheme = "apikey "
)

// CandidateKey extracts the key offered by the caller.  The direct field
// wins over the authorization header.  The returned key is not trimmed or
// otherwise normalized.
func CandidateKey(md metadata.MD) (string, bool) {
	if vals := md.Get(APIKeyHeader); len(vals) > 0 {
		return vals[0], true
	}
	if vals := md.Get(AuthorizationHeader); len(vals) > 0 {
		if key, ok := strings.CutPrefix(vals[0], Scheme); ok {
			return key, true
		}
	}
	return "", false
}

// KeySet is an immutable set of accepted keys.
type KeySet struct {
	keys [][]byte
}

// NewKeySet builds a set from keys.  Empty strings are ignored, so an
// empty set rejects every call.
func NewKeySet(keys ...string) KeySet {
	ks := KeySet{keys: make([][]byte, 0, len(keys))}
	for _, k := range keys {
		if k == "" {
			continue
		}
		ks.keys = append(ks.keys, []byte(k))
	}
	return ks
}

// Len returns the number of accepted keys.
func (ks KeySet) Len() int { return len(ks.keys) }

// Contains reports whether key exactly equals a configured key.  Every
// configured key is compared in constant time, whatever the outcome.
func (ks KeySet) Contains(key string) bool {
	candidate := []byte(key)
	found := 0
	for _, k := range ks.keys {
		found |= subtle.ConstantTimeCompare(candidate, k)
	}
	return found == 1
}

// Authenticator decides whether a call may proceed.
type Authenticator struct {
	keys   KeySet
	logger *zap.Logger
	// skip lists full method names that bypass authentication.
	skip map[string]struct{}
}

// Option configures an Authenticator.
type Option func(*Authenticator)

// WithLogger logs rejected calls on l.
func WithLogger(l *zap.Logger) Option {
	return func(a *Authenticator) { a.logger = l }
}

// WithoutAuth exempts the given full method names (or service prefixes
// ending in "/") from authentication.
func WithoutAuth(methods ...string) Option {
	return func(a *Authenticator) {
		for _, m := range methods {
			a.skip[m] = struct{}{}
		}
	}
}

// New returns an Authenticator accepting the keys in ks.
func New(ks KeySet, opts ...Option) *Authenticator {
	a := &Authenticator{keys: ks, logger: zap.NewNop(), skip: map[string]struct{}{}}
	for _, o := range opts {
		o(a)
	}
	return a
}

// Authenticate returns nil when the incoming metadata of ctx carries an
// accepted key and the AUTH error otherwise.
func (a *Authenticator) Authenticate(ctx context.Context) error {
	md, _ := metadata.FromIncomingContext(ctx)
	key, ok := CandidateKey(md)
	if !ok {
		a.reject(ctx, "missing_key")
		return rpcerr.Unauthenticated()
	}
	if !a.keys.Contains(key) {
		a.reject(ctx, "invalid_key")
		return rpcerr.Unauthenticated()
	}
	return nil
}

func (a *Authenticator) reject(ctx context.Context, reason string) {
	method, _ := grpc.Method(ctx)
	a.logger.Warn("authentication failed",
		zap.String("reason", reason),
		zap.String("method", method),
	)
}

func (a *Authenticator) exempt(fullMethod string) bool {
	if _, ok := a.skip[fullMethod]; ok {
		return true
	}
	if i := strings.LastIndex(fullMethod, "/"); i > 0 {
		_, ok := a.skip[fullMethod[:i+1]]
		return ok
	}
	return false
}

// UnaryServerInterceptor authenticates unary calls.  The handler only runs
// once authentication succeeded.
func (a *Authenticator) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if !a.exempt(info.FullMethod) {
			if err := a.Authenticate(ctx); err != nil {
				return nil, err
			}
		}
		return handler(ctx, req)
	}
}

// StreamServerInterceptor authenticates streaming calls before the handler
// sends or receives anything.
func (a *Authenticator) StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if !a.exempt(info.FullMethod) {
			if err := a.Authenticate(ss.Context()); err != nil {
				return err
			}
		}
		return handler(srv, ss)
	}
}
