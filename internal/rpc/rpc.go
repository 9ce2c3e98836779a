// Package rpc is the wire contract between the sync engine and its backend:
// the fieldsync.v1.SyncBackend gRPC service. Messages travel as
// google.protobuf.Struct, so the contract is defined by the Go types below
// and their JSON field names rather than by generated code.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

const ServiceName = "fieldsync.v1.SyncBackend"

const (
	MethodPushCreate  = "PushCreate"
	MethodPushUpdate  = "PushUpdate"
	MethodPushDelete  = "PushDelete"
	MethodPullChanges = "PullChanges"
	MethodGetRecord   = "GetRecord"
	MethodPing        = "Ping"
)

// FullMethod returns the gRPC method path, e.g. "/fieldsync.v1.SyncBackend/Ping".
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// Mutation is one pushed change. MutationID is the idempotency key: a
// backend that already applied it answers with the stored result.
type Mutation struct {
	MutationID  string          `json:"mutation_id"`
	Type        string          `json:"type"`
	ID          string          `json:"id"`
	BaseVersion int64           `json:"base_version"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// Record is the backend's canonical copy of an entity.
type Record struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Data      json.RawMessage `json:"data,omitempty"`
	Version   int64           `json:"version"`
	UpdatedAt time.Time       `json:"updated_at"`
	Deleted   bool            `json:"deleted"`
}

type PullRequest struct {
	Type   string `json:"type"`
	Cursor string `json:"cursor"`
	Limit  int    `json:"limit"`
}

type PullResponse struct {
	Records    []Record `json:"records"`
	NextCursor string   `json:"next_cursor"`
	HasMore    bool     `json:"has_more"`
}

type GetRequest struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type Empty struct{}

type PingResponse struct {
	Status string `json:"status"`
}

// ToStruct encodes v through its JSON form.
func ToStruct(v any) (*structpb.Struct, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return structpb.NewStruct(m)
}

// FromStruct decodes s into v through its JSON form.
func FromStruct(s *structpb.Struct, v any) error {
	b, err := json.Marshal(s.AsMap())
	if err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	if err := json.Unmarshal(b, v); err != nil {
		return fmt.Errorf("decode message: %w", err)
	}
	return nil
}

// SyncBackendServer is implemented by backends serving the contract.
type SyncBackendServer interface {
	PushCreate(ctx context.Context, m Mutation) (Record, error)
	PushUpdate(ctx context.Context, m Mutation) (Record, error)
	PushDelete(ctx context.Context, m Mutation) (Empty, error)
	PullChanges(ctx context.Context, req PullRequest) (PullResponse, error)
	GetRecord(ctx context.Context, req GetRequest) (Record, error)
	Ping(ctx context.Context, req Empty) (PingResponse, error)
}

func unary[Req, Resp any](method string, call func(SyncBackendServer, context.Context, Req) (Resp, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: method,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			invoke := func(ctx context.Context, req any) (any, error) {
				var r Req
				if err := FromStruct(req.(*structpb.Struct), &r); err != nil {
					return nil, status.Error(codes.InvalidArgument, err.Error())
				}
				resp, err := call(srv.(SyncBackendServer), ctx, r)
				if err != nil {
					return nil, err
				}
				return ToStruct(resp)
			}
			if interceptor == nil {
				return invoke(ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(method)}
			return interceptor(ctx, in, info, invoke)
		},
	}
}

// ServiceDesc describes fieldsync.v1.SyncBackend for grpc.Server.RegisterService.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*SyncBackendServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodPushCreate, SyncBackendServer.PushCreate),
		unary(MethodPushUpdate, SyncBackendServer.PushUpdate),
		unary(MethodPushDelete, SyncBackendServer.PushDelete),
		unary(MethodPullChanges, SyncBackendServer.PullChanges),
		unary(MethodGetRecord, SyncBackendServer.GetRecord),
		unary(MethodPing, SyncBackendServer.Ping),
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "fieldsync/v1/sync.proto",
}

func RegisterSyncBackendServer(s grpc.ServiceRegistrar, srv SyncBackendServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// Client calls fieldsync.v1.SyncBackend over cc.
type Client struct {
	cc grpc.ClientConnInterface
}

func NewClient(cc grpc.ClientConnInterface) *Client {
	return &Client{cc: cc}
}

func invoke[Req, Resp any](ctx context.Context, cc grpc.ClientConnInterface, method string, req Req, opts ...grpc.CallOption) (Resp, error) {
	var resp Resp
	in, err := ToStruct(req)
	if err != nil {
		return resp, err
	}
	out := new(structpb.Struct)
	if err := cc.Invoke(ctx, FullMethod(method), in, out, opts...); err != nil {
		return resp, err
	}
	err = FromStruct(out, &resp)
	return resp, err
}

func (c *Client) PushCreate(ctx context.Context, m Mutation, opts ...grpc.CallOption) (Record, error) {
	return invoke[Mutation, Record](ctx, c.cc, MethodPushCreate, m, opts...)
}

func (c *Client) PushUpdate(ctx context.Context, m Mutation, opts ...grpc.CallOption) (Record, error) {
	return invoke[Mutation, Record](ctx, c.cc, MethodPushUpdate, m, opts...)
}

func (c *Client) PushDelete(ctx context.Context, m Mutation, opts ...grpc.CallOption) error {
	_, err := invoke[Mutation, Empty](ctx, c.cc, MethodPushDelete, m, opts...)
	return err
}

func (c *Client) PullChanges(ctx context.Context, req PullRequest, opts ...grpc.CallOption) (PullResponse, error) {
	return invoke[PullRequest, PullResponse](ctx, c.cc, MethodPullChanges, req, opts...)
}

func (c *Client) GetRecord(ctx context.Context, req GetRequest, opts ...grpc.CallOption) (Record, error) {
	return invoke[GetRequest, Record](ctx, c.cc, MethodGetRecord, req, opts...)
}

func (c *Client) Ping(ctx context.Context, opts ...grpc.CallOption) (PingResponse, error) {
	return invoke[Empty, PingResponse](ctx, c.cc, MethodPing, Empty{}, opts...)
}
