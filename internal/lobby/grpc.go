package lobby

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/cory-johannsen/mansion/internal/online/wire"
)

// ServiceName is the fully qualified gRPC service name.
const ServiceName = "mansion.lobby.v1.Lobby"

// Full method names.
const (
	MethodCreate  = "/" + ServiceName + "/Create"
	MethodFind    = "/" + ServiceName + "/Find"
	MethodJoin    = "/" + ServiceName + "/Join"
	MethodLeave   = "/" + ServiceName + "/Leave"
	MethodDestroy = "/" + ServiceName + "/Destroy"
)

// LobbyServer is the server API of the lobby service. Requests and responses
// are protobuf Structs.
type LobbyServer interface {
	Create(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Find(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Join(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Leave(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
	Destroy(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error)
}

// ServiceDesc describes the lobby service for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*LobbyServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("Create", LobbyServer.Create),
		unary("Find", LobbyServer.Find),
		unary("Join", LobbyServer.Join),
		unary("Leave", LobbyServer.Leave),
		unary("Destroy", LobbyServer.Destroy),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "mansion/lobby/v1/lobby.proto",
}

func unary(method string, call func(LobbyServer, context.Context, *structpb.Struct) (*structpb.Struct, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(LobbyServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + ServiceName + "/" + method}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(LobbyServer), ctx, req.(*structpb.Struct))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}

// Register registers srv with s.
func Register(s grpc.ServiceRegistrar, srv LobbyServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// LoggingInterceptor logs every unary call with its status code and latency.
func LoggingInterceptor(logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Debug("rpc",
			zap.String("method", info.FullMethod),
			zap.Stringer("code", status.Code(err)),
			zap.Duration("elapsed", time.Since(start)),
		)
		return resp, err
	}
}

// Server adapts a Service to LobbyServer.
type Server struct {
	svc    *Service
	logger *zap.Logger
}

// NewServer creates a Server.
//
// Precondition: svc and logger must be non-nil.
func NewServer(svc *Service, logger *zap.Logger) *Server {
	return &Server{svc: svc, logger: logger.With(zap.String("component", "lobby_grpc"))}
}

// Create registers a session.
// Request: name, owner, address, settings. Response: session, owner_token.
func (s *Server) Create(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := req.GetFields()
	settings, err := wire.SettingsFrom(f["settings"].GetStructValue())
	if err != nil {
		return nil, s.status("create", fmt.Errorf("%w: settings: %w", ErrInvalidArgument, err))
	}
	r, token, err := s.svc.Create(ctx, CreateRequest{
		Name:      f["name"].GetStringValue(),
		OwnerName: f["owner"].GetStringValue(),
		Address:   f["address"].GetStringValue(),
		Settings:  settings,
	})
	if err != nil {
		return nil, s.status("create", err)
	}
	session, err := wire.EncodeAdvert(r.Advert())
	if err != nil {
		return nil, s.status("create", err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"session":     structpb.NewStructValue(session),
		"owner_token": structpb.NewStringValue(token),
	}}, nil
}

// Find lists sessions.
// Request: lan, presence, limit. Response: sessions.
func (s *Server) Find(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := req.GetFields()
	limit, err := wire.Int(f["limit"])
	if err != nil {
		return nil, s.status("find", fmt.Errorf("%w: limit: %w", ErrInvalidArgument, err))
	}
	records, err := s.svc.Find(ctx, Filter{
		LAN:          f["lan"].GetBoolValue(),
		PresenceOnly: f["presence"].GetBoolValue(),
		Limit:        limit,
	})
	if err != nil {
		return nil, s.status("find", err)
	}
	values := make([]*structpb.Value, 0, len(records))
	for _, r := range records {
		st, err := wire.EncodeAdvert(r.Advert())
		if err != nil {
			return nil, s.status("find", err)
		}
		values = append(values, structpb.NewStructValue(st))
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"sessions": structpb.NewListValue(&structpb.ListValue{Values: values}),
	}}, nil
}

// Join reserves a slot.
// Request: session_id. Response: session.
func (s *Server) Join(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	r, err := s.svc.Join(ctx, req.GetFields()["session_id"].GetStringValue())
	if err != nil {
		return nil, s.status("join", err)
	}
	session, err := wire.EncodeAdvert(r.Advert())
	if err != nil {
		return nil, s.status("join", err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"session": structpb.NewStructValue(session),
	}}, nil
}

// Leave releases a slot.
// Request: session_id. Response: session.
func (s *Server) Leave(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	r, err := s.svc.Leave(ctx, req.GetFields()["session_id"].GetStringValue())
	if err != nil {
		return nil, s.status("leave", err)
	}
	session, err := wire.EncodeAdvert(r.Advert())
	if err != nil {
		return nil, s.status("leave", err)
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{
		"session": structpb.NewStructValue(session),
	}}, nil
}

// Destroy removes a session.
// Request: session_id, owner_token. Response: empty.
func (s *Server) Destroy(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	f := req.GetFields()
	if err := s.svc.Destroy(ctx, f["session_id"].GetStringValue(), f["owner_token"].GetStringValue()); err != nil {
		return nil, s.status("destroy", err)
	}
	return &structpb.Struct{}, nil
}

func (s *Server) status(op string, err error) error {
	code := Code(err)
	if code == codes.Internal {
		s.logger.Error("lobby request failed", zap.String("op", op), zap.Error(err))
	} else {
		s.logger.Debug("lobby request rejected", zap.String("op", op), zap.Stringer("code", code), zap.Error(err))
	}
	return status.Error(code, err.Error())
}

// Code maps a lobby error to its gRPC status code.
func Code(err error) codes.Code {
	switch {
	case err == nil:
		return codes.OK
	case errors.Is(err, ErrInvalidArgument):
		return codes.InvalidArgument
	case errors.Is(err, ErrNotFound):
		return codes.NotFound
	case errors.Is(err, ErrExists):
		return codes.AlreadyExists
	case errors.Is(err, ErrFull):
		return codes.ResourceExhausted
	case errors.Is(err, ErrPermissionDenied):
		return codes.PermissionDenied
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	default:
		return codes.Internal
	}
}

// FromStatus converts a gRPC error back into the matching lobby sentinel.
// Errors without a lobby mapping are returned unchanged.
func FromStatus(err error) error {
	st, ok := status.FromError(err)
	if !ok || err == nil {
		return err
	}
	var sentinel error
	switch st.Code() {
	case codes.InvalidArgument:
		sentinel = ErrInvalidArgument
	case codes.NotFound:
		sentinel = ErrNotFound
	case codes.AlreadyExists:
		sentinel = ErrExists
	case codes.ResourceExhausted:
		sentinel = ErrFull
	case codes.PermissionDenied:
		sentinel = ErrPermissionDenied
	default:
		return err
	}
	return fmt.Errorf("%w: %s", sentinel, st.Message())
}
