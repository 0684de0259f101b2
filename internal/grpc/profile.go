// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Gatekeep Contributors

package grpc

import (
	"context"

	"github.com/samber/oops"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/gatekeep/gatekeep/internal/auth"
)

// Profile service names. The service uses well-known protobuf types, so it
// needs no generated stubs.
const (
	ProfileServiceName       = "gatekeep.v1.ProfileService"
	GetProfileFullMethodName = "/" + ProfileServiceName + "/GetProfile"
)

// ProfileDetails is the account view returned by GetProfile.
type ProfileDetails struct {
	UserID   string
	FullName string
	Email    string
}

type profileServer interface {
	GetProfile(ctx context.Context, in *emptypb.Empty) (*structpb.Struct, error)
}

var profileServiceDesc = grpc.ServiceDesc{
	ServiceName: ProfileServiceName,
	HandlerType: (*profileServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "GetProfile", Handler: getProfileHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "gatekeep/v1/profile",
}

func getProfileHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(emptypb.Empty)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(profileServer).GetProfile(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: GetProfileFullMethodName}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(profileServer).GetProfile(ctx, req.(*emptypb.Empty))
	}
	return interceptor(ctx, in, info, handler)
}

// profileService answers for the account the auth interceptor resolved.
type profileService struct{}

func (profileService) GetProfile(ctx context.Context, _ *emptypb.Empty) (*structpb.Struct, error) {
	account, ok := AccountFromContext(ctx)
	if !ok {
		return nil, status.Error(codes.Unauthenticated, auth.MsgMissingCredential)
	}
	p := account.Profile()
	out, err := structpb.NewStruct(map[string]any{
		"userId":   p.ID.String(),
		"fullName": p.FullName,
		"email":    p.Email,
	})
	if err != nil {
		return nil, status.Error(codes.Internal, auth.MsgInternal)
	}
	return out, nil
}

// Profile fetches the caller's account. The client must carry a bearer credential.
func (c *Client) Profile(ctx context.Context) (*ProfileDetails, error) {
	out := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, GetProfileFullMethodName, &emptypb.Empty{}, out); err != nil {
		return nil, oops.Code("GRPC_PROFILE_FAILED").Wrap(err)
	}
	fields := out.GetFields()
	return &ProfileDetails{
		UserID:   fields["userId"].GetStringValue(),
		FullName: fields["fullName"].GetStringValue(),
		Email:    fields["email"].GetStringValue(),
	}, nil
}
