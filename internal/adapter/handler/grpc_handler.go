package handler

import (
	"context"
	"strconv"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/rl1809/marketplace/internal/core/domain"
	"github.com/rl1809/marketplace/internal/core/service"
)

const (
	checkoutServiceName = "marketplace.v1.Checkout"
	userIDMetadataKey   = "x-user-id"
)

type CheckoutRequest struct {
	IdempotencyKey string `json:"idempotency_key,omitempty"`
}

type OrderRequest struct {
	OrderID string `json:"order_id"`
}

type GetCartRequest struct{}

type CheckoutServer interface {
	Checkout(context.Context, *CheckoutRequest) (*service.CheckoutResult, error)
	CancelOrder(context.Context, *OrderRequest) (*domain.Order, error)
	CompleteOrder(context.Context, *OrderRequest) (*service.CompletionResult, error)
	GetCart(context.Context, *GetCartRequest) (*domain.Cart, error)
}

type GRPCHandler struct {
	carts    *service.CartService
	checkout *service.CheckoutService
	engine   *service.AssignmentEngine
	logger   *zap.Logger
}

func NewGRPCHandler(carts *service.CartService, checkout *service.CheckoutService, engine *service.AssignmentEngine, logger *zap.Logger) *GRPCHandler {
	return &GRPCHandler{carts: carts, checkout: checkout, engine: engine, logger: logger}
}

func (h *GRPCHandler) Checkout(ctx context.Context, req *CheckoutRequest) (*service.CheckoutResult, error) {
	userID, err := callerFromMetadata(ctx)
	if err != nil {
		return nil, err
	}
	res, err := h.checkout.Checkout(ctx, userID, req.IdempotencyKey)
	if err != nil {
		return nil, h.toStatus(err)
	}
	return res, nil
}

func (h *GRPCHandler) CancelOrder(ctx context.Context, req *OrderRequest) (*domain.Order, error) {
	if _, err := callerFromMetadata(ctx); err != nil {
		return nil, err
	}
	order, err := h.engine.Cancel(ctx, req.OrderID)
	if err != nil {
		return nil, h.toStatus(err)
	}
	return &order, nil
}

func (h *GRPCHandler) CompleteOrder(ctx context.Context, req *OrderRequest) (*service.CompletionResult, error) {
	if _, err := callerFromMetadata(ctx); err != nil {
		return nil, err
	}
	res, err := h.engine.Complete(ctx, req.OrderID)
	if err != nil {
		return nil, h.toStatus(err)
	}
	return res, nil
}

func (h *GRPCHandler) GetCart(ctx context.Context, _ *GetCartRequest) (*domain.Cart, error) {
	userID, err := callerFromMetadata(ctx)
	if err != nil {
		return nil, err
	}
	cart, err := h.carts.View(ctx, userID)
	if err != nil {
		return nil, h.toStatus(err)
	}
	return &cart, nil
}

func callerFromMetadata(ctx context.Context) (int64, error) {
	md, _ := metadata.FromIncomingContext(ctx)
	vals := md.Get(userIDMetadataKey)
	if len(vals) == 0 {
		return 0, status.Error(codes.Unauthenticated, "missing "+userIDMetadataKey)
	}
	id, err := strconv.ParseInt(vals[0], 10, 64)
	if err != nil || id <= 0 {
		return 0, status.Error(codes.Unauthenticated, "invalid "+userIDMetadataKey)
	}
	return id, nil
}

func (h *GRPCHandler) toStatus(err error) error {
	kind := domain.KindOf(err)
	code := grpcCode(kind)
	if code == codes.Internal {
		h.logger.Error("rpc failed", zap.Stringer("kind", kind), zap.Error(err))
	}
	return status.Error(code, domain.PublicMessage(err))
}

func grpcCode(kind domain.ErrorKind) codes.Code {
	switch kind {
	case domain.KindInvalidQuantity:
		return codes.InvalidArgument
	case domain.KindInsufficientFunds, domain.KindNoPaymentMethod, domain.KindEmptyCart,
		domain.KindUnavailable, domain.KindInvalidTransition:
		return codes.FailedPrecondition
	case domain.KindNotFound:
		return codes.NotFound
	case domain.KindConcurrencyConflict:
		return codes.Aborted
	case domain.KindDuplicateRequest:
		return codes.AlreadyExists
	case domain.KindForbidden:
		return codes.PermissionDenied
	case domain.KindCheckoutAborted, domain.KindInternal:
		return codes.Internal
	}
	return codes.Internal
}

func RegisterCheckoutServer(s grpc.ServiceRegistrar, srv CheckoutServer) {
	s.RegisterService(&checkoutServiceDesc, srv)
}

var checkoutServiceDesc = grpc.ServiceDesc{
	ServiceName: checkoutServiceName,
	HandlerType: (*CheckoutServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Checkout", Handler: checkoutHandler},
		{MethodName: "CancelOrder", Handler: cancelOrderHandler},
		{MethodName: "CompleteOrder", Handler: completeOrderHandler},
		{MethodName: "GetCart", Handler: getCartHandler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "marketplace/v1/checkout.proto",
}

func checkoutHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(CheckoutRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CheckoutServer).Checkout(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + checkoutServiceName + "/Checkout"}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CheckoutServer).Checkout(ctx, req.(*CheckoutRequest))
	})
}

func cancelOrderHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(OrderRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CheckoutServer).CancelOrder(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + checkoutServiceName + "/CancelOrder"}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CheckoutServer).CancelOrder(ctx, req.(*OrderRequest))
	})
}

func completeOrderHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(OrderRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CheckoutServer).CompleteOrder(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + checkoutServiceName + "/CompleteOrder"}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CheckoutServer).CompleteOrder(ctx, req.(*OrderRequest))
	})
}

func getCartHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(GetCartRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(CheckoutServer).GetCart(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/" + checkoutServiceName + "/GetCart"}
	return interceptor(ctx, in, info, func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(CheckoutServer).GetCart(ctx, req.(*GetCartRequest))
	})
}

// CheckoutClient calls the checkout service over a connection that carries
// the JSON codec.
type CheckoutClient struct {
	cc grpc.ClientConnInterface
}

func NewCheckoutClient(cc grpc.ClientConnInterface) *CheckoutClient {
	return &CheckoutClient{cc: cc}
}

// WithUserID attaches the caller identity to outgoing calls.
func WithUserID(ctx context.Context, userID int64) context.Context {
	return metadata.AppendToOutgoingContext(ctx, userIDMetadataKey, strconv.FormatInt(userID, 10))
}

func (c *CheckoutClient) invoke(ctx context.Context, method string, in, out interface{}, opts ...grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(JSONCodecName)}, opts...)
	return c.cc.Invoke(ctx, "/"+checkoutServiceName+"/"+method, in, out, opts...)
}

func (c *CheckoutClient) Checkout(ctx context.Context, in *CheckoutRequest, opts ...grpc.CallOption) (*service.CheckoutResult, error) {
	out := new(service.CheckoutResult)
	if err := c.invoke(ctx, "Checkout", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CheckoutClient) CancelOrder(ctx context.Context, in *OrderRequest, opts ...grpc.CallOption) (*domain.Order, error) {
	out := new(domain.Order)
	if err := c.invoke(ctx, "CancelOrder", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CheckoutClient) CompleteOrder(ctx context.Context, in *OrderRequest, opts ...grpc.CallOption) (*service.CompletionResult, error) {
	out := new(service.CompletionResult)
	if err := c.invoke(ctx, "CompleteOrder", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *CheckoutClient) GetCart(ctx context.Context, in *GetCartRequest, opts ...grpc.CallOption) (*domain.Cart, error) {
	out := new(domain.Cart)
	if err := c.invoke(ctx, "GetCart", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
