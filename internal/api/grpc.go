package api

import (
	"context"
	"encoding/json"

	"studiobook/internal/models"
	"studiobook/internal/service"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/wrapperspb"
)

const studioServiceName = "studiobook.v1.StudioService"

// StudioServer is the gRPC surface of the booking engine. Messages are
// well-known types so clients need no generated stubs.
type StudioServer interface {
	GenerateLessons(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CreateBookings(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CancelBooking(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetUserBookingsForLesson(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetByIdForBooking(context.Context, *wrapperspb.Int64Value) (*structpb.Struct, error)
	GetRemainingCapacity(context.Context, *wrapperspb.Int64Value) (*wrapperspb.Int64Value, error)
}

var studioServiceDesc = grpc.ServiceDesc{
	ServiceName: studioServiceName,
	HandlerType: (*StudioServer)(nil),
	Methods: []grpc.MethodDesc{
		unary("GenerateLessons", StudioServer.GenerateLessons),
		unary("CreateBookings", StudioServer.CreateBookings),
		unary("CancelBooking", StudioServer.CancelBooking),
		unary("GetUserBookingsForLesson", StudioServer.GetUserBookingsForLesson),
		unary("GetByIdForBooking", StudioServer.GetByIdForBooking),
		unary("GetRemainingCapacity", StudioServer.GetRemainingCapacity),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "studiobook/v1/studio.proto",
}

// RegisterStudioServer registers srv on s.
func RegisterStudioServer(s grpc.ServiceRegistrar, srv StudioServer) {
	s.RegisterService(&studioServiceDesc, srv)
}

func unary[Req any, Resp any](name string, call func(StudioServer, context.Context, *Req) (Resp, error)) grpc.MethodDesc {
	fullMethod := "/" + studioServiceName + "/" + name
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(StudioServer)
			if interceptor == nil {
				return call(s, ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
			return interceptor(ctx, in, info, func(ctx context.Context, req any) (any, error) {
				return call(s, ctx, req.(*Req))
			})
		},
	}
}

// StudioClient calls a StudioServer over conn.
type StudioClient struct {
	cc grpc.ClientConnInterface
}

func NewStudioClient(cc grpc.ClientConnInterface) *StudioClient {
	return &StudioClient{cc: cc}
}

func (c *StudioClient) GenerateLessons(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	return out, c.cc.Invoke(ctx, "/"+studioServiceName+"/GenerateLessons", in, out, opts...)
}

func (c *StudioClient) CreateBookings(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	return out, c.cc.Invoke(ctx, "/"+studioServiceName+"/CreateBookings", in, out, opts...)
}

func (c *StudioClient) CancelBooking(ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	return out, c.cc.Invoke(ctx, "/"+studioServiceName+"/CancelBooking", in, out, opts...)
}

func (c *StudioClient) GetUserBookingsForLesson(
	ctx context.Context, in *structpb.Struct, opts ...grpc.CallOption,
) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	return out, c.cc.Invoke(ctx, "/"+studioServiceName+"/GetUserBookingsForLesson", in, out, opts...)
}

func (c *StudioClient) GetByIdForBooking(
	ctx context.Context, in *wrapperspb.Int64Value, opts ...grpc.CallOption,
) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	return out, c.cc.Invoke(ctx, "/"+studioServiceName+"/GetByIdForBooking", in, out, opts...)
}

func (c *StudioClient) GetRemainingCapacity(
	ctx context.Context, in *wrapperspb.Int64Value, opts ...grpc.CallOption,
) (*wrapperspb.Int64Value, error) {
	out := new(wrapperspb.Int64Value)
	return out, c.cc.Invoke(ctx, "/"+studioServiceName+"/GetRemainingCapacity", in, out, opts...)
}

// StudioService adapts the booking services to StudioServer.
type StudioService struct {
	bookings  *service.BookingService
	lessons   *service.LessonService
	schedules *service.ScheduleService
	validate  *requestValidator
}

func NewStudioService(svc Services) *StudioService {
	return &StudioService{
		bookings:  svc.Bookings,
		lessons:   svc.Lessons,
		schedules: svc.Schedules,
		validate:  newRequestValidator(),
	}
}

type grpcBookingsRequest struct {
	LessonID int64 `json:"lesson_id" validate:"required,gt=0"`
	createBookingsRequest
}

type grpcCancelRequest struct {
	BookingID int64 `json:"booking_id" validate:"required,gt=0"`
}

type grpcUserBookingsRequest struct {
	LessonID int64 `json:"lesson_id" validate:"required,gt=0"`
	UserID   int64 `json:"user_id" validate:"omitempty,gt=0"`
}

func (s *StudioService) GenerateLessons(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req generateRequest
	if err := s.decode(in, &req); err != nil {
		return nil, err
	}
	genReq, err := req.toModel()
	if err != nil {
		return nil, grpcError(err)
	}
	res, err := s.schedules.Generate(ctx, genReq)
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(res)
}

func (s *StudioService) CreateBookings(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req grpcBookingsRequest
	if err := s.decode(in, &req); err != nil {
		return nil, err
	}
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	userID, err := targetUser(p, req.UserID)
	if err != nil {
		return nil, grpcError(err)
	}
	bookings, err := bookPlaces(ctx, s.bookings, req.LessonID, userID, req.Quantity, models.BookingStatus(req.Status))
	if err != nil {
		return nil, grpcError(err)
	}
	ids := make([]int64, len(bookings))
	for i := range bookings {
		ids[i] = bookings[i].ID
	}
	return toStruct(map[string]any{"booking_ids": ids, "bookings": bookings})
}

func (s *StudioService) CancelBooking(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req grpcCancelRequest
	if err := s.decode(in, &req); err != nil {
		return nil, err
	}
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	booking, err := s.bookings.CancelBooking(ctx, req.BookingID, p.Actor)
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(booking)
}

func (s *StudioService) GetUserBookingsForLesson(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req grpcUserBookingsRequest
	if err := s.decode(in, &req); err != nil {
		return nil, err
	}
	p, err := principal(ctx)
	if err != nil {
		return nil, err
	}
	userID, err := targetUser(p, req.UserID)
	if err != nil {
		return nil, grpcError(err)
	}
	bookings, err := s.bookings.GetUserBookingsForLesson(ctx, req.LessonID, userID)
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(bookingsResponse{Bookings: bookings})
}

func (s *StudioService) GetByIdForBooking(ctx context.Context, in *wrapperspb.Int64Value) (*structpb.Struct, error) {
	if in.GetValue() <= 0 {
		return nil, status.Error(codes.InvalidArgument, "lesson id is required")
	}
	d, err := s.lessons.GetByIDForBooking(ctx, in.GetValue())
	if err != nil {
		return nil, grpcError(err)
	}
	return toStruct(d)
}

func (s *StudioService) GetRemainingCapacity(ctx context.Context, in *wrapperspb.Int64Value) (*wrapperspb.Int64Value, error) {
	if in.GetValue() <= 0 {
		return nil, status.Error(codes.InvalidArgument, "lesson id is required")
	}
	remaining, err := s.bookings.GetRemainingCapacity(ctx, in.GetValue())
	if err != nil {
		return nil, grpcError(err)
	}
	return wrapperspb.Int64(int64(remaining)), nil
}

func (s *StudioService) decode(in *structpb.Struct, v any) error {
	raw, err := in.MarshalJSON()
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return status.Error(codes.InvalidArgument, "malformed request: "+err.Error())
	}
	if err := s.validate.Validate(v); err != nil {
		return grpcError(err)
	}
	return nil
}

func principal(ctx context.Context) (Principal, error) {
	p, ok := PrincipalFrom(ctx)
	if !ok {
		return Principal{}, status.Error(codes.Unauthenticated, errUnauthenticated.Error())
	}
	return p, nil
}

func toStruct(v any) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	out := &structpb.Struct{}
	if err := out.UnmarshalJSON(raw); err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}
