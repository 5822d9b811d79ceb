package client

import (
	"context"
	"errors"
	"fmt"
	"io"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/afoley587/coding-challenges-2025/grpc-user-service/internal/codec"
	pb "github.com/afoley587/coding-challenges-2025/grpc-user-service/proto"
)

// User is a user as seen by a caller, with metadata already decoded.
type User struct {
	ID          string         `json:"id"`
	Email       string         `json:"email"`
	DateOfBirth string         `json:"dateOfBirth"`
	Metadata    map[string]any `json:"metadata"`
}

// FromWire decodes the metadata of a wire user.
func FromWire(u *pb.User) (*User, error) {
	meta, err := codec.DecodeStruct(u.GetMetadata())
	if err != nil {
		return nil, fmt.Errorf("decode metadata of user %s: %w", u.GetId(), err)
	}
	return &User{
		ID:          u.GetId(),
		Email:       u.GetEmail(),
		DateOfBirth: u.GetDateOfBirth(),
		Metadata:    meta.AsMap(),
	}, nil
}

// NewUser holds the fields of a user to create.
type NewUser struct {
	Email       string
	DateOfBirth string
	Password    string
	Metadata    map[string]any
}

// GetUser fetches a user by id.  It returns (nil, nil) when the server
// reports that the user does not exist.
func (c *GRPCClient) GetUser(ctx context.Context, id string) (*User, error) {
	u, err := c.api.GetUser(ctx, &pb.GetUserRequest{Id: id})
	if status.Code(err) == codes.NotFound {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return FromWire(u)
}

// ListUsers streams every user to fn.  Returning an error from fn stops
// the stream and cancels the call on the server.
func (c *GRPCClient) ListUsers(ctx context.Context, fn func(*User) error) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	stream, err := c.api.ListUsers(ctx, &pb.ListUsersRequest{})
	if err != nil {
		return err
	}
	for {
		u, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		user, err := FromWire(u)
		if err != nil {
			return err
		}
		if err := fn(user); err != nil {
			return err
		}
	}
}

// CreateUser creates a user and returns it as stored by the server.
func (c *GRPCClient) CreateUser(ctx context.Context, nu NewUser) (*User, error) {
	req := &pb.CreateUserRequest{
		Email:       nu.Email,
		DateOfBirth: nu.DateOfBirth,
		Password:    nu.Password,
	}
	if nu.Metadata != nil {
		s, err := codec.FromMap(nu.Metadata)
		if err != nil {
			return nil, err
		}
		if req.Metadata, err = codec.EncodeStruct(s); err != nil {
			return nil, err
		}
	}
	u, err := c.api.CreateUser(ctx, req)
	if err != nil {
		return nil, err
	}
	return FromWire(u)
}
