package grpc

import (
	"context"

	"github.com/rs/zerolog"
	ggrpc "google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"atelier/internal/logging"
	"atelier/internal/profiles"
)

const (
	profileServiceName   = "atelier.profiles.v1.ProfileDirectory"
	lookupProfilesMethod = "/" + profileServiceName + "/LookupProfiles"
)

// ProfileDirectoryServer is the server API of the directory service.
type ProfileDirectoryServer interface {
	LookupProfiles(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// ProfileServer exposes a profiles.Directory over gRPC.
type ProfileServer struct {
	directory profiles.Directory
	logger    zerolog.Logger
}

// NewProfileServer constructs the server.
func NewProfileServer(directory profiles.Directory) *ProfileServer {
	return &ProfileServer{directory: directory, logger: logging.NewPackageLogger("grpc")}
}

// LookupProfiles implements ProfileDirectoryServer.
func (s *ProfileServer) LookupProfiles(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ids, err := decodeLookupRequest(req)
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	found, err := s.directory.LookupProfiles(ctx, ids)
	if err != nil {
		s.logger.Error().Err(err).Int("ids", len(ids)).Msg("profile lookup failed")
		return nil, status.Error(codes.Unavailable, "profile lookup failed")
	}
	resp, err := encodeLookupResponse(found)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return resp, nil
}

// RegisterProfileDirectoryServer registers srv on s.
func RegisterProfileDirectoryServer(s ggrpc.ServiceRegistrar, srv ProfileDirectoryServer) {
	s.RegisterService(&profileDirectoryServiceDesc, srv)
}

func lookupProfilesHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor ggrpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ProfileDirectoryServer).LookupProfiles(ctx, in)
	}
	info := &ggrpc.UnaryServerInfo{Server: srv, FullMethod: lookupProfilesMethod}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ProfileDirectoryServer).LookupProfiles(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

var profileDirectoryServiceDesc = ggrpc.ServiceDesc{
	ServiceName: profileServiceName,
	HandlerType: (*ProfileDirectoryServer)(nil),
	Methods: []ggrpc.MethodDesc{
		{MethodName: "LookupProfiles", Handler: lookupProfilesHandler},
	},
	Streams:  []ggrpc.StreamDesc{},
	Metadata: "atelier/profiles/v1/directory.proto",
}
