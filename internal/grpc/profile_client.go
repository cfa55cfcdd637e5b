package grpc

import (
	"context"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	ggrpc "google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"atelier/internal/models"
	"atelier/internal/profiles"
)

// ProfileClient wraps the remote profile directory.
type ProfileClient struct {
	conn ggrpc.ClientConnInterface
}

// NewProfileClient constructs the wrapper.
func NewProfileClient(conn ggrpc.ClientConnInterface) *ProfileClient {
	return &ProfileClient{conn: conn}
}

// DialProfileDirectory opens a traced client connection to addr.
func DialProfileDirectory(addr string, opts ...ggrpc.DialOption) (*ggrpc.ClientConn, error) {
	opts = append([]ggrpc.DialOption{
		ggrpc.WithTransportCredentials(insecure.NewCredentials()),
		ggrpc.WithStatsHandler(otelgrpc.NewClientHandler()),
	}, opts...)
	return ggrpc.NewClient(addr, opts...)
}

// LookupProfiles implements profiles.Directory.
func (c *ProfileClient) LookupProfiles(ctx context.Context, ids []string) (map[string]models.Profile, error) {
	ids = profiles.UniqueIDs(ids)
	if len(ids) == 0 {
		return map[string]models.Profile{}, nil
	}
	req, err := encodeLookupRequest(ids)
	if err != nil {
		return nil, err
	}
	resp := new(structpb.Struct)
	if err := c.conn.Invoke(ctx, lookupProfilesMethod, req, resp); err != nil {
		return nil, err
	}
	return decodeLookupResponse(resp), nil
}

var _ profiles.Directory = (*ProfileClient)(nil)
