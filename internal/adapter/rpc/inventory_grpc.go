package rpc

import (
	"context"

	"google.golang.org/grpc"
)

const (
	ServiceName = "inventory.Inventory"

	CheckAndDeductMethod = "/inventory.Inventory/CheckAndDeduct"
	CheckAndAddMethod    = "/inventory.Inventory/CheckAndAdd"
	ReleaseMethod        = "/inventory.Inventory/Release"
	GetStockMethod       = "/inventory.Inventory/GetStock"
)

type InventoryServer interface {
	CheckAndDeduct(context.Context, *DeductRequest) (*StockResponse, error)
	CheckAndAdd(context.Context, *AddRequest) (*StockResponse, error)
	Release(context.Context, *ReleaseRequest) (*StockResponse, error)
	GetStock(context.Context, *GetStockRequest) (*GetStockResponse, error)
}

func RegisterInventoryServer(s grpc.ServiceRegistrar, srv InventoryServer) {
	s.RegisterService(&InventoryServiceDesc, srv)
}

var InventoryServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*InventoryServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "CheckAndDeduct",
			Handler: unaryHandler(CheckAndDeductMethod, func(s InventoryServer, ctx context.Context, in *DeductRequest) (*StockResponse, error) {
				return s.CheckAndDeduct(ctx, in)
			}),
		},
		{
			MethodName: "CheckAndAdd",
			Handler: unaryHandler(CheckAndAddMethod, func(s InventoryServer, ctx context.Context, in *AddRequest) (*StockResponse, error) {
				return s.CheckAndAdd(ctx, in)
			}),
		},
		{
			MethodName: "Release",
			Handler: unaryHandler(ReleaseMethod, func(s InventoryServer, ctx context.Context, in *ReleaseRequest) (*StockResponse, error) {
				return s.Release(ctx, in)
			}),
		},
		{
			MethodName: "GetStock",
			Handler: unaryHandler(GetStockMethod, func(s InventoryServer, ctx context.Context, in *GetStockRequest) (*GetStockResponse, error) {
				return s.GetStock(ctx, in)
			}),
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "inventory",
}

func unaryHandler[Req, Resp any](fullMethod string, call func(InventoryServer, context.Context, *Req) (*Resp, error)) func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
	return func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
		in := new(Req)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(InventoryServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{Server: srv, FullMethod: fullMethod}
		handler := func(ctx context.Context, req any) (any, error) {
			return call(srv.(InventoryServer), ctx, req.(*Req))
		}
		return interceptor(ctx, in, info, handler)
	}
}

// InventoryClient calls the inventory service with the JSON codec.
type InventoryClient struct {
	cc grpc.ClientConnInterface
}

func NewInventoryClient(cc grpc.ClientConnInterface) *InventoryClient {
	return &InventoryClient{cc: cc}
}

func (c *InventoryClient) CheckAndDeduct(ctx context.Context, in *DeductRequest, opts ...grpc.CallOption) (*StockResponse, error) {
	out := new(StockResponse)
	if err := c.invoke(ctx, CheckAndDeductMethod, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *InventoryClient) CheckAndAdd(ctx context.Context, in *AddRequest, opts ...grpc.CallOption) (*StockResponse, error) {
	out := new(StockResponse)
	if err := c.invoke(ctx, CheckAndAddMethod, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *InventoryClient) Release(ctx context.Context, in *ReleaseRequest, opts ...grpc.CallOption) (*StockResponse, error) {
	out := new(StockResponse)
	if err := c.invoke(ctx, ReleaseMethod, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *InventoryClient) GetStock(ctx context.Context, in *GetStockRequest, opts ...grpc.CallOption) (*GetStockResponse, error) {
	out := new(GetStockResponse)
	if err := c.invoke(ctx, GetStockMethod, in, out, opts); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *InventoryClient) invoke(ctx context.Context, method string, in, out any, opts []grpc.CallOption) error {
	opts = append([]grpc.CallOption{grpc.CallContentSubtype(CodecName)}, opts...)
	return c.cc.Invoke(ctx, method, in, out, opts...)
}
