package grpc

import (
	"context"
	"errors"

	"github.com/dmitrijs2005/tubeauth/internal/server/models"
	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

// IdentityServiceName is the fully qualified gRPC service name.
const IdentityServiceName = "tubeauth.identity.v1.IdentityService"

const verifyAccessTokenMethod = "/" + IdentityServiceName + "/VerifyAccessToken"

// IdentityServer lets sibling services resolve an access token to the
// account it names. Messages are protobuf well-known types: the request is
// the token as a StringValue, the response a Struct with the fields id,
// username, email and fullName.
type IdentityServer interface {
	VerifyAccessToken(ctx context.Context, req *wrapperspb.StringValue) (*structpb.Struct, error)
}

var identityServiceDesc = grpc.ServiceDesc{
	ServiceName: IdentityServiceName,
	HandlerType: (*IdentityServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "VerifyAccessToken", Handler: verifyAccessTokenHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "tubeauth/identity/v1/identity.proto",
}

// RegisterIdentityServer registers srv on s.
func RegisterIdentityServer(s grpc.ServiceRegistrar, srv IdentityServer) {
	s.RegisterService(&identityServiceDesc, srv)
}

func verifyAccessTokenHandler(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	in := new(wrapperspb.StringValue)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(IdentityServer).VerifyAccessToken(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: verifyAccessTokenMethod}
	handler := func(ctx context.Context, req any) (any, error) {
		return srv.(IdentityServer).VerifyAccessToken(ctx, req.(*wrapperspb.StringValue))
	}
	return interceptor(ctx, in, info, handler)
}

// IdentityClient calls IdentityService.
type IdentityClient struct {
	cc grpc.ClientConnInterface
}

func NewIdentityClient(cc grpc.ClientConnInterface) *IdentityClient {
	return &IdentityClient{cc: cc}
}

// VerifyAccessToken returns the identity behind token. An empty token makes
// the server fall back to the access_token metadata entry.
func (c *IdentityClient) VerifyAccessToken(ctx context.Context, token string, opts ...grpc.CallOption) (models.Identity, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, verifyAccessTokenMethod, wrapperspb.String(token), out, opts...); err != nil {
		return models.Identity{}, err
	}
	return identityFromStruct(out)
}

func identityToStruct(id models.Identity) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"id":       id.ID,
		"username": id.Username,
		"email":    id.Email,
		"fullName": id.FullName,
	})
}

func identityFromStruct(s *structpb.Struct) (models.Identity, error) {
	f := s.GetFields()
	id := models.Identity{
		ID:       f["id"].GetStringValue(),
		Username: f["username"].GetStringValue(),
		Email:    f["email"].GetStringValue(),
		FullName: f["fullName"].GetStringValue(),
	}
	if id.ID == "" {
		return models.Identity{}, errors.New("identity response has no id")
	}
	return id, nil
}
