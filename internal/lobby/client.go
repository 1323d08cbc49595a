package lobby

import (
	"context"
	"fmt"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/cory-johannsen/mansion/internal/online"
	"github.com/cory-johannsen/mansion/internal/online/wire"
)

// Client is a typed client of the lobby service. Errors carrying a lobby
// status code are converted back to the package sentinels.
type Client struct {
	cc grpc.ClientConnInterface
}

// NewClient creates a Client over cc.
func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func (c *Client) invoke(ctx context.Context, method string, req *structpb.Struct) (*structpb.Struct, error) {
	resp := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, method, req, resp); err != nil {
		return nil, FromStatus(err)
	}
	return resp, nil
}

// Create registers a session and returns its advert and owner token.
func (c *Client) Create(ctx context.Context, req CreateRequest) (wire.Advert, string, error) {
	settings, err := structpb.NewStruct(wire.SettingsMap(req.Settings))
	if err != nil {
		return wire.Advert{}, "", fmt.Errorf("encoding settings: %w", err)
	}
	resp, err := c.invoke(ctx, MethodCreate, &structpb.Struct{Fields: map[string]*structpb.Value{
		"name":     structpb.NewStringValue(req.Name),
		"owner":    structpb.NewStringValue(req.OwnerName),
		"address":  structpb.NewStringValue(req.Address),
		"settings": structpb.NewStructValue(settings),
	}})
	if err != nil {
		return wire.Advert{}, "", err
	}
	a, err := wire.DecodeAdvert(resp.GetFields()["session"].GetStructValue())
	if err != nil {
		return wire.Advert{}, "", err
	}
	return a, resp.GetFields()["owner_token"].GetStringValue(), nil
}

// Find lists sessions matching the query.
func (c *Client) Find(ctx context.Context, q online.SearchQuery) ([]wire.Advert, error) {
	resp, err := c.invoke(ctx, MethodFind, &structpb.Struct{Fields: map[string]*structpb.Value{
		"lan":      structpb.NewBoolValue(q.LANOnly),
		"presence": structpb.NewBoolValue(q.Presence),
		"limit":    structpb.NewNumberValue(float64(q.MaxResults)),
	}})
	if err != nil {
		return nil, err
	}
	values := resp.GetFields()["sessions"].GetListValue().GetValues()
	adverts := make([]wire.Advert, 0, len(values))
	for _, v := range values {
		a, err := wire.DecodeAdvert(v.GetStructValue())
		if err != nil {
			return nil, err
		}
		adverts = append(adverts, a)
	}
	return adverts, nil
}

// Join reserves a slot and returns the session with its connect address.
func (c *Client) Join(ctx context.Context, sessionID string) (wire.Advert, error) {
	resp, err := c.invoke(ctx, MethodJoin, &structpb.Struct{Fields: map[string]*structpb.Value{
		"session_id": structpb.NewStringValue(sessionID),
	}})
	if err != nil {
		return wire.Advert{}, err
	}
	return wire.DecodeAdvert(resp.GetFields()["session"].GetStructValue())
}

// Leave gives back the slot reserved by Join.
func (c *Client) Leave(ctx context.Context, sessionID string) (wire.Advert, error) {
	resp, err := c.invoke(ctx, MethodLeave, &structpb.Struct{Fields: map[string]*structpb.Value{
		"session_id": structpb.NewStringValue(sessionID),
	}})
	if err != nil {
		return wire.Advert{}, err
	}
	return wire.DecodeAdvert(resp.GetFields()["session"].GetStructValue())
}

// Destroy removes a session owned by token.
func (c *Client) Destroy(ctx context.Context, sessionID, token string) error {
	_, err := c.invoke(ctx, MethodDestroy, &structpb.Struct{Fields: map[string]*structpb.Value{
		"session_id":  structpb.NewStringValue(sessionID),
		"owner_token": structpb.NewStringValue(token),
	}})
	return err
}
